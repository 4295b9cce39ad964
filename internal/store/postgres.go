// Package store provides storage backends for LeadPilot.
//
// This file implements the PostgreSQL-backed store. Knowledge chunk search
// uses the pgvector extension; everything else is plain SQL.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/leadpilot/leadpilot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}

// ListTenants returns every configured tenant.
func (s *PostgresStore) ListTenants() ([]models.Tenant, error) {
	rows, err := s.db.Query(`SELECT id, name, bot_token, transport, manager_contact, system_prompt,
		quiz_schema, form_enabled, lead_magnet_file_id, sheet_id, created_at FROM tenants ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()
	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			slog.Error("PostgresStore ListTenants scan failed", "error", err)
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListTenants rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	slog.Debug("PostgresStore ListTenants succeeded", "count", len(tenants))
	return tenants, nil
}

// UpdateTenantSystemPrompt persists a new system prompt for the tenant.
func (s *PostgresStore) UpdateTenantSystemPrompt(tenantID int64, prompt string) error {
	res, err := s.db.Exec(`UPDATE tenants SET system_prompt = $1 WHERE id = $2`, prompt, tenantID)
	if err != nil {
		slog.Error("PostgresStore UpdateTenantSystemPrompt failed", "error", err, "tenantID", tenantID)
		return fmt.Errorf("failed to update system prompt for tenant %d: %w", tenantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUnknownTenant
	}
	slog.Debug("PostgresStore UpdateTenantSystemPrompt succeeded", "tenantID", tenantID)
	return nil
}

// UpdateTenantQuizSchema persists a new quiz schema; nil clears it.
func (s *PostgresStore) UpdateTenantQuizSchema(tenantID int64, schema models.QuizSchema) error {
	encoded, err := marshalQuizSchema(schema)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE tenants SET quiz_schema = $1 WHERE id = $2`, nilIfEmpty(encoded), tenantID)
	if err != nil {
		slog.Error("PostgresStore UpdateTenantQuizSchema failed", "error", err, "tenantID", tenantID)
		return fmt.Errorf("failed to update quiz schema for tenant %d: %w", tenantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUnknownTenant
	}
	slog.Debug("PostgresStore UpdateTenantQuizSchema succeeded", "tenantID", tenantID, "questions", len(schema))
	return nil
}

// GetUser retrieves a user by tenant and external ID. Returns nil when absent.
func (s *PostgresStore) GetUser(tenantID int64, externalID string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT tenant_id, external_id, username, first_name, utm_source, category,
		quiz_results, quiz_completed_at, created_at FROM users WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, externalID)
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetUser not found", "tenantID", tenantID, "externalID", externalID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return nil, err
	}
	return u, nil
}

// SaveUser inserts or updates the user's profile fields. Quiz columns are
// managed by SaveQuizResults and ClearQuizResults, not here.
func (s *PostgresStore) SaveUser(u models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO users (tenant_id, external_id, username, first_name, utm_source, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, external_id)
		DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name`,
		u.TenantID, u.ExternalID, nilIfEmpty(u.Username), nilIfEmpty(u.FirstName),
		nilIfEmpty(u.UTMSource), nilIfEmpty(u.Category), u.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "tenantID", u.TenantID, "externalID", u.ExternalID)
		return fmt.Errorf("failed to save user %s: %w", u.ExternalID, err)
	}
	slog.Debug("PostgresStore SaveUser succeeded", "tenantID", u.TenantID, "externalID", u.ExternalID)
	return nil
}

// SetUserCategory records the classified category for a user.
func (s *PostgresStore) SetUserCategory(tenantID int64, externalID, category string) error {
	_, err := s.db.Exec(`UPDATE users SET category = $1 WHERE tenant_id = $2 AND external_id = $3`,
		category, tenantID, externalID)
	if err != nil {
		slog.Error("PostgresStore SetUserCategory failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return fmt.Errorf("failed to set category for user %s: %w", externalID, err)
	}
	slog.Debug("PostgresStore SetUserCategory succeeded", "tenantID", tenantID, "externalID", externalID, "category", category)
	return nil
}

// SaveQuizResults records quiz answers and sets the completion timestamp. The
// WHERE clause keeps the first completion: a second save is a no-op until
// ClearQuizResults runs.
func (s *PostgresStore) SaveQuizResults(tenantID int64, externalID string, results []models.QuizResult) error {
	encoded, err := marshalQuizResults(results)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE users SET quiz_results = $1, quiz_completed_at = NOW()
		WHERE tenant_id = $2 AND external_id = $3 AND quiz_completed_at IS NULL`,
		nilIfEmpty(encoded), tenantID, externalID)
	if err != nil {
		slog.Error("PostgresStore SaveQuizResults failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return fmt.Errorf("failed to save quiz results for user %s: %w", externalID, err)
	}
	slog.Debug("PostgresStore SaveQuizResults succeeded", "tenantID", tenantID, "externalID", externalID, "answers", len(results))
	return nil
}

// ClearQuizResults wipes the quiz record so the user may take it again.
func (s *PostgresStore) ClearQuizResults(tenantID int64, externalID string) error {
	_, err := s.db.Exec(`UPDATE users SET quiz_results = NULL, quiz_completed_at = NULL
		WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID)
	if err != nil {
		slog.Error("PostgresStore ClearQuizResults failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return fmt.Errorf("failed to clear quiz results for user %s: %w", externalID, err)
	}
	slog.Debug("PostgresStore ClearQuizResults succeeded", "tenantID", tenantID, "externalID", externalID)
	return nil
}

// AddMessage appends one conversation message.
func (s *PostgresStore) AddMessage(m models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO messages (tenant_id, user_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`, m.TenantID, m.UserID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "tenantID", m.TenantID, "userID", m.UserID)
		return fmt.Errorf("failed to insert message for %s: %w", m.UserID, err)
	}
	slog.Debug("PostgresStore AddMessage succeeded", "tenantID", m.TenantID, "userID", m.UserID, "role", m.Role)
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *PostgresStore) RecentMessages(tenantID int64, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.Query(`SELECT id, tenant_id, user_id, role, content, created_at FROM (
			SELECT id, tenant_id, user_id, role, content, created_at FROM messages
			WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at DESC, id DESC LIMIT $3
		) recent ORDER BY created_at ASC, id ASC`, tenantID, userID, limit)
	if err != nil {
		slog.Error("PostgresStore RecentMessages query failed", "error", err, "tenantID", tenantID, "userID", userID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("PostgresStore RecentMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore RecentMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("PostgresStore RecentMessages succeeded", "tenantID", tenantID, "userID", userID, "count", len(msgs))
	return msgs, nil
}

// AddLead stores one captured lead.
func (s *PostgresStore) AddLead(l models.Lead) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO leads (tenant_id, user_id, name, debt_amount, income_source, region, utm_source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.TenantID, l.UserID, l.Name, nilIfEmpty(l.DebtAmount), nilIfEmpty(l.IncomeSource),
		nilIfEmpty(l.Region), nilIfEmpty(l.UTMSource), l.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddLead failed", "error", err, "tenantID", l.TenantID, "userID", l.UserID)
		return fmt.Errorf("failed to insert lead for %s: %w", l.UserID, err)
	}
	slog.Debug("PostgresStore AddLead succeeded", "tenantID", l.TenantID, "userID", l.UserID)
	return nil
}

// ListLeads returns the tenant's leads, optionally bounded by creation time.
func (s *PostgresStore) ListLeads(tenantID int64, from, to *time.Time) ([]models.Lead, error) {
	query := `SELECT id, tenant_id, user_id, name, debt_amount, income_source, region, utm_source, created_at
		FROM leads WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if from != nil {
		args = append(args, *from)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if to != nil {
		args = append(args, *to)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListLeads query failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			slog.Error("PostgresStore ListLeads scan failed", "error", err)
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListLeads rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	slog.Debug("PostgresStore ListLeads succeeded", "tenantID", tenantID, "count", len(leads))
	return leads, nil
}

// LeadRecipients returns distinct user IDs that have submitted a lead.
func (s *PostgresStore) LeadRecipients(tenantID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM leads WHERE tenant_id = $1 ORDER BY user_id`, tenantID)
	if err != nil {
		slog.Error("PostgresStore LeadRecipients query failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query lead recipients: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("PostgresStore LeadRecipients scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan recipient row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore LeadRecipients rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate recipient rows: %w", err)
	}
	slog.Debug("PostgresStore LeadRecipients succeeded", "tenantID", tenantID, "count", len(ids))
	return ids, nil
}

// SearchChunks runs a pgvector cosine search over the tenant's knowledge base.
func (s *PostgresStore) SearchChunks(tenantID int64, embedding []float64, limit int, minScore float64) ([]models.RetrievedFact, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	vec := encodeVector(embedding)
	rows, err := s.db.Query(`SELECT content, 1 - (embedding <=> $1::vector) AS score
		FROM knowledge_chunks
		WHERE tenant_id = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector LIMIT $4`, vec, tenantID, minScore, limit)
	if err != nil {
		slog.Error("PostgresStore SearchChunks query failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query knowledge chunks: %w", err)
	}
	defer rows.Close()
	var facts []models.RetrievedFact
	for rows.Next() {
		var f models.RetrievedFact
		if err := rows.Scan(&f.Content, &f.Score); err != nil {
			slog.Error("PostgresStore SearchChunks scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore SearchChunks rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}
	slog.Debug("PostgresStore SearchChunks succeeded", "tenantID", tenantID, "count", len(facts))
	return facts, nil
}

// SaveFlowState stores or updates flow state for a user.
func (s *PostgresStore) SaveFlowState(state models.FlowState) error {
	query := `
		INSERT INTO flow_states (tenant_id, user_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, user_id, flow_type)
		DO UPDATE SET
			current_state = EXCLUDED.current_state,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at`

	var stateDataJSON []byte
	var err error
	if len(state.StateData) > 0 {
		stateDataJSON, err = json.Marshal(state.StateData)
		if err != nil {
			slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "userID", state.UserID)
			return err
		}
	}

	_, err = s.db.Exec(query, state.TenantID, state.UserID, state.FlowType, state.CurrentState,
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "tenantID", state.TenantID, "userID", state.UserID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("PostgresStore SaveFlowState succeeded", "tenantID", state.TenantID, "userID", state.UserID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a user. Returns nil when absent.
func (s *PostgresStore) GetFlowState(tenantID int64, userID string, flowType models.FlowType) (*models.FlowState, error) {
	query := `SELECT tenant_id, user_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE tenant_id = $1 AND user_id = $2 AND flow_type = $3`

	var state models.FlowState
	var stateDataJSON sql.NullString

	err := s.db.QueryRow(query, tenantID, userID, flowType).Scan(
		&state.TenantID, &state.UserID, &state.FlowType, &state.CurrentState,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetFlowState not found", "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return nil, err
	}

	if stateDataJSON.Valid && stateDataJSON.String != "" {
		state.StateData = make(map[string]string)
		if err := json.Unmarshal([]byte(stateDataJSON.String), &state.StateData); err != nil {
			slog.Error("PostgresStore GetFlowState JSON unmarshal failed", "error", err, "userID", userID)
			state.StateData = make(map[string]string)
		}
	}

	slog.Debug("PostgresStore GetFlowState found", "tenantID", tenantID, "userID", userID, "flowType", flowType, "state", state.CurrentState)
	return &state, nil
}

// DeleteFlowState removes flow state for a user.
func (s *PostgresStore) DeleteFlowState(tenantID int64, userID string, flowType models.FlowType) error {
	query := `DELETE FROM flow_states WHERE tenant_id = $1 AND user_id = $2 AND flow_type = $3`

	_, err := s.db.Exec(query, tenantID, userID, flowType)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return err
	}
	slog.Debug("PostgresStore DeleteFlowState succeeded", "tenantID", tenantID, "userID", userID, "flowType", flowType)
	return nil
}

// Analytics aggregates the tenant's lead and user numbers.
func (s *PostgresStore) Analytics(tenantID int64) (*models.AnalyticsReport, error) {
	report := &models.AnalyticsReport{TenantID: tenantID, GeneratedAt: time.Now()}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM leads WHERE tenant_id = $1`, tenantID).Scan(&report.TotalLeads); err != nil {
		slog.Error("PostgresStore Analytics lead count failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to count leads: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID).Scan(&report.TotalUsers); err != nil {
		slog.Error("PostgresStore Analytics user count failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	var err error
	report.LeadsBySource, err = s.bucketQuery(`SELECT COALESCE(utm_source, 'unknown'), COUNT(*)
		FROM leads WHERE tenant_id = $1 GROUP BY 1 ORDER BY 2 DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	report.LeadsByRegion, err = s.bucketQuery(`SELECT COALESCE(region, 'unknown'), COUNT(*)
		FROM leads WHERE tenant_id = $1 GROUP BY 1 ORDER BY 2 DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	report.LeadsByWeekday, err = s.bucketQuery(`SELECT TRIM(TO_CHAR(created_at, 'Day')), COUNT(*)
		FROM leads WHERE tenant_id = $1 GROUP BY 1, EXTRACT(DOW FROM created_at) ORDER BY EXTRACT(DOW FROM created_at)`, tenantID)
	if err != nil {
		return nil, err
	}
	report.UsersByCategory, err = s.bucketQuery(`SELECT COALESCE(category, 'unclassified'), COUNT(*)
		FROM users WHERE tenant_id = $1 GROUP BY 1 ORDER BY 2 DESC`, tenantID)
	if err != nil {
		return nil, err
	}

	slog.Debug("PostgresStore Analytics succeeded", "tenantID", tenantID, "leads", report.TotalLeads, "users", report.TotalUsers)
	return report, nil
}

func (s *PostgresStore) bucketQuery(query string, tenantID int64) ([]models.AnalyticsBucket, error) {
	rows, err := s.db.Query(query, tenantID)
	if err != nil {
		slog.Error("PostgresStore bucketQuery failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to run analytics query: %w", err)
	}
	defer rows.Close()
	var buckets []models.AnalyticsBucket
	for rows.Next() {
		var b models.AnalyticsBucket
		if err := rows.Scan(&b.Name, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan analytics row: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analytics rows: %w", err)
	}
	return buckets, nil
}
