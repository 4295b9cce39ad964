// Package store provides storage backends for LeadPilot.
//
// It defines the Store interface over tenants, users, messages, leads,
// knowledge chunks and flow states, with PostgreSQL, SQLite and in-memory
// implementations. Every query is scoped by tenant ID.
package store

import (
	"strings"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
)

// Default bounds for store queries.
const (
	// DefaultHistoryLimit is the number of recent messages returned when no
	// limit is given.
	DefaultHistoryLimit = 4
	// DefaultSearchLimit is the number of knowledge chunks returned when no
	// limit is given.
	DefaultSearchLimit = 5
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// Tenants
	ListTenants() ([]models.Tenant, error)
	UpdateTenantSystemPrompt(tenantID int64, prompt string) error
	// UpdateTenantQuizSchema replaces the stored schema; a nil schema clears it.
	UpdateTenantQuizSchema(tenantID int64, schema models.QuizSchema) error

	// Users
	GetUser(tenantID int64, externalID string) (*models.User, error)
	SaveUser(u models.User) error
	SetUserCategory(tenantID int64, externalID, category string) error
	// SaveQuizResults records the answers and sets the completion timestamp.
	// A save for an already-completed cycle is a no-op.
	SaveQuizResults(tenantID int64, externalID string, results []models.QuizResult) error
	ClearQuizResults(tenantID int64, externalID string) error

	// Messages
	AddMessage(m models.Message) error
	// RecentMessages returns up to limit most recent messages in ascending
	// created-at order (most recent last).
	RecentMessages(tenantID int64, userID string, limit int) ([]models.Message, error)

	// Leads
	AddLead(l models.Lead) error
	ListLeads(tenantID int64, from, to *time.Time) ([]models.Lead, error)
	// LeadRecipients returns the distinct external IDs of users with at least
	// one lead under the tenant.
	LeadRecipients(tenantID int64) ([]string, error)

	// Knowledge
	SearchChunks(tenantID int64, embedding []float64, limit int, minScore float64) ([]models.RetrievedFact, error)

	// Flow state
	SaveFlowState(state models.FlowState) error
	GetFlowState(tenantID int64, userID string, flowType models.FlowType) (*models.FlowState, error)
	DeleteFlowState(tenantID int64, userID string, flowType models.FlowType) error

	// Analytics
	Analytics(tenantID int64) (*models.AnalyticsReport, error)

	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures store Opts.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}
