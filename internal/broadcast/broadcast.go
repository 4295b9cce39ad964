// Package broadcast fans one admin-authored message out to every user of a
// tenant who has left a lead. Sends are rate limited and failures are counted
// per recipient; one bad chat ID never aborts the run.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leadpilot/leadpilot/internal/events"
	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/store"
	"golang.org/x/time/rate"
)

// Constants for broadcast executor configuration
const (
	// DefaultMessagesPerSecond caps the outbound send rate per run.
	DefaultMessagesPerSecond = 10
	// DefaultRunTimeout bounds one detached broadcast run.
	DefaultRunTimeout = 30 * time.Minute
)

// Opts holds configuration options for the broadcast executor.
type Opts struct {
	MessagesPerSecond float64
	RunTimeout        time.Duration
}

// Option defines a configuration option for the broadcast executor.
type Option func(*Opts)

// WithMessagesPerSecond overrides the outbound send rate.
func WithMessagesPerSecond(n float64) Option {
	return func(o *Opts) {
		o.MessagesPerSecond = n
	}
}

// WithRunTimeout overrides the per-run deadline.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.RunTimeout = d
	}
}

// Executor resolves recipients and delivers broadcast jobs.
type Executor struct {
	store      store.Store
	publisher  events.Publisher
	perSecond  float64
	runTimeout time.Duration
}

// NewExecutor creates a broadcast executor over the given store.
func NewExecutor(st store.Store, publisher events.Publisher, opts ...Option) *Executor {
	cfg := Opts{
		MessagesPerSecond: DefaultMessagesPerSecond,
		RunTimeout:        DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Executor{
		store:      st,
		publisher:  publisher,
		perSecond:  cfg.MessagesPerSecond,
		runTimeout: cfg.RunTimeout,
	}
}

// Start validates the job and launches its delivery in the background. The
// run is detached from the caller's context so an admin disconnect cannot
// abort a broadcast mid-flight. Returns the assigned job ID.
func (e *Executor) Start(job models.BroadcastJob, transport messaging.Service) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.runTimeout)
		defer cancel()
		summary, err := e.Execute(ctx, job, transport)
		if err != nil {
			slog.Error("Broadcast run failed", "job_id", job.ID, "tenant_id", job.TenantID, "error", err)
			return
		}
		e.finish(ctx, job, transport, summary)
	}()

	slog.Info("Broadcast started", "job_id", job.ID, "tenant_id", job.TenantID, "has_media", job.Media != nil)
	return job.ID, nil
}

// Execute delivers the job to every recipient sequentially under the rate
// limit and returns the delivery summary. Sent plus Failed always equals
// Recipients.
func (e *Executor) Execute(ctx context.Context, job models.BroadcastJob, transport messaging.Service) (models.BroadcastSummary, error) {
	summary := models.BroadcastSummary{JobID: job.ID, TenantID: job.TenantID}

	recipients, err := e.store.LeadRecipients(job.TenantID)
	if err != nil {
		return summary, fmt.Errorf("failed to resolve broadcast recipients: %w", err)
	}
	summary.Recipients = len(recipients)

	limiter := rate.NewLimiter(rate.Limit(e.perSecond), 1)
	for _, recipient := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			// Deadline hit; the rest of the list counts as failed.
			summary.Failed = summary.Recipients - summary.Sent
			slog.Error("Broadcast run interrupted", "job_id", job.ID, "error", err, "sent", summary.Sent)
			return summary, nil
		}
		if err := e.sendOne(ctx, job, transport, recipient); err != nil {
			summary.Failed++
			slog.Warn("Broadcast send failed", "job_id", job.ID, "to", recipient, "error", err)
			continue
		}
		summary.Sent++
	}

	slog.Info("Broadcast delivered", "job_id", job.ID, "tenant_id", job.TenantID,
		"recipients", summary.Recipients, "sent", summary.Sent, "failed", summary.Failed)
	return summary, nil
}

func (e *Executor) sendOne(ctx context.Context, job models.BroadcastJob, transport messaging.Service, recipient string) error {
	to, err := transport.ValidateAndCanonicalizeRecipient(recipient)
	if err != nil {
		return err
	}
	if job.Media != nil {
		return transport.SendMedia(ctx, to, *job.Media, job.Body)
	}
	return transport.SendMessage(ctx, to, job.Body)
}

// finish reports the summary to the admin chat and publishes the
// broadcast.finished event. Both are best effort.
func (e *Executor) finish(ctx context.Context, job models.BroadcastJob, transport messaging.Service, summary models.BroadcastSummary) {
	if job.AdminChatID != "" {
		if err := transport.SendMessage(ctx, job.AdminChatID, SummaryText(summary)); err != nil {
			slog.Warn("Broadcast summary delivery failed", "job_id", job.ID, "admin", job.AdminChatID, "error", err)
		}
	}
	err := e.publisher.BroadcastFinished(ctx, events.BroadcastFinishedEvent{
		JobID:      summary.JobID,
		TenantID:   summary.TenantID,
		Recipients: summary.Recipients,
		Sent:       summary.Sent,
		Failed:     summary.Failed,
		FinishedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("Broadcast event publish failed", "job_id", job.ID, "error", err)
	}
}

// SummaryText renders the admin-facing completion report.
func SummaryText(summary models.BroadcastSummary) string {
	return fmt.Sprintf("Broadcast finished.\nRecipients: %d\nDelivered: %d\nFailed: %d",
		summary.Recipients, summary.Sent, summary.Failed)
}
