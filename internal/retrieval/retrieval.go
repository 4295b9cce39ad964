// Package retrieval finds knowledge base facts relevant to a user question.
//
// Retrieval is best-effort: any failure along the way (embedding, store,
// empty index) degrades to an empty result so the turn can proceed on
// conversation history alone.
package retrieval

import (
	"context"
	"log/slog"

	"github.com/leadpilot/leadpilot/internal/models"
)

// Defaults for retrieval bounds.
const (
	// DefaultMaxFacts caps the number of facts returned per query.
	DefaultMaxFacts = 5
	// DefaultMinScore filters out weakly related chunks.
	DefaultMinScore = 0.30
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher runs a tenant-scoped similarity search.
type Searcher interface {
	SearchChunks(tenantID int64, embedding []float64, limit int, minScore float64) ([]models.RetrievedFact, error)
}

// Opts holds configuration options for the retriever.
type Opts struct {
	MaxFacts int
	MinScore float64
}

// Option configures retrieval Opts.
type Option func(*Opts)

// WithMaxFacts caps the number of returned facts.
func WithMaxFacts(n int) Option {
	return func(o *Opts) { o.MaxFacts = n }
}

// WithMinScore sets the minimum similarity score.
func WithMinScore(s float64) Option {
	return func(o *Opts) { o.MinScore = s }
}

// Retriever embeds a question and searches the tenant's knowledge base.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	maxFacts int
	minScore float64
}

// NewRetriever creates a retriever over the given embedder and searcher.
func NewRetriever(embedder Embedder, searcher Searcher, opts ...Option) *Retriever {
	cfg := Opts{MaxFacts: DefaultMaxFacts, MinScore: DefaultMinScore}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = DefaultMaxFacts
	}
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		maxFacts: cfg.MaxFacts,
		minScore: cfg.MinScore,
	}
}

// Retrieve returns up to MaxFacts facts relevant to the question, ordered by
// descending similarity. It never returns an error: failures are logged and
// yield an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, tenantID int64, question string) []models.RetrievedFact {
	if question == "" {
		return nil
	}
	embedding, err := r.embedder.Embed(ctx, question)
	if err != nil {
		slog.Warn("Retriever.Retrieve: embedding failed, proceeding without facts", "error", err, "tenantID", tenantID)
		return nil
	}
	facts, err := r.searcher.SearchChunks(tenantID, embedding, r.maxFacts, r.minScore)
	if err != nil {
		slog.Warn("Retriever.Retrieve: search failed, proceeding without facts", "error", err, "tenantID", tenantID)
		return nil
	}
	slog.Debug("Retriever.Retrieve succeeded", "tenantID", tenantID, "facts", len(facts))
	return facts
}
