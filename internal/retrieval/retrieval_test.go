package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/store"
)

type mockEmbedder struct {
	vector []float64
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	m.calls++
	return m.vector, m.err
}

func TestRetrieveReturnsRankedFacts(t *testing.T) {
	st := store.NewInMemoryStore()
	st.AddChunk(models.KnowledgeChunk{TenantID: 1, Content: "exact", Embedding: []float64{1, 0}})
	st.AddChunk(models.KnowledgeChunk{TenantID: 1, Content: "close", Embedding: []float64{0.9, 0.1}})
	st.AddChunk(models.KnowledgeChunk{TenantID: 1, Content: "unrelated", Embedding: []float64{0, 1}})

	r := NewRetriever(&mockEmbedder{vector: []float64{1, 0}}, st)
	facts := r.Retrieve(context.Background(), 1, "what is bankruptcy?")
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].Content != "exact" {
		t.Errorf("expected best match first, got %q", facts[0].Content)
	}
	if facts[0].Score < facts[1].Score {
		t.Error("facts not ordered by descending score")
	}
}

func TestRetrieveCapsResults(t *testing.T) {
	st := store.NewInMemoryStore()
	for i := 0; i < 10; i++ {
		st.AddChunk(models.KnowledgeChunk{TenantID: 1, Content: "chunk", Embedding: []float64{1, 0}})
	}
	r := NewRetriever(&mockEmbedder{vector: []float64{1, 0}}, st, WithMaxFacts(3))
	facts := r.Retrieve(context.Background(), 1, "q")
	if len(facts) != 3 {
		t.Errorf("expected 3 facts, got %d", len(facts))
	}
}

func TestRetrieveEmbedderFailureYieldsEmpty(t *testing.T) {
	st := store.NewInMemoryStore()
	st.AddChunk(models.KnowledgeChunk{TenantID: 1, Content: "chunk", Embedding: []float64{1, 0}})

	r := NewRetriever(&mockEmbedder{err: errors.New("endpoint down")}, st)
	facts := r.Retrieve(context.Background(), 1, "q")
	if facts != nil {
		t.Errorf("expected nil facts on embedder failure, got %v", facts)
	}
}

type failingSearcher struct{}

func (failingSearcher) SearchChunks(tenantID int64, embedding []float64, limit int, minScore float64) ([]models.RetrievedFact, error) {
	return nil, errors.New("db down")
}

func TestRetrieveSearchFailureYieldsEmpty(t *testing.T) {
	r := NewRetriever(&mockEmbedder{vector: []float64{1, 0}}, failingSearcher{})
	facts := r.Retrieve(context.Background(), 1, "q")
	if facts != nil {
		t.Errorf("expected nil facts on search failure, got %v", facts)
	}
}

func TestRetrieveEmptyQuestionSkipsEmbedding(t *testing.T) {
	emb := &mockEmbedder{vector: []float64{1, 0}}
	r := NewRetriever(emb, store.NewInMemoryStore())
	if facts := r.Retrieve(context.Background(), 1, ""); facts != nil {
		t.Errorf("expected nil for empty question, got %v", facts)
	}
	if emb.calls != 0 {
		t.Errorf("embedder must not be called for empty question, got %d calls", emb.calls)
	}
}
