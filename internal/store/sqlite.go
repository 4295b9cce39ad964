// Package store provides storage backends for LeadPilot.
//
// This file implements the SQLite-backed store. Embeddings are stored as JSON
// text and similarity is computed in-process, so small deployments need no
// extension.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	_ "embed"

	"github.com/leadpilot/leadpilot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// ListTenants returns every configured tenant.
func (s *SQLiteStore) ListTenants() ([]models.Tenant, error) {
	rows, err := s.db.Query(`SELECT id, name, bot_token, transport, manager_contact, system_prompt,
		quiz_schema, form_enabled, lead_magnet_file_id, sheet_id, created_at FROM tenants ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()
	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			slog.Error("SQLiteStore ListTenants scan failed", "error", err)
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListTenants rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	slog.Debug("SQLiteStore ListTenants succeeded", "count", len(tenants))
	return tenants, nil
}

// UpdateTenantSystemPrompt persists a new system prompt for the tenant.
func (s *SQLiteStore) UpdateTenantSystemPrompt(tenantID int64, prompt string) error {
	res, err := s.db.Exec(`UPDATE tenants SET system_prompt = ? WHERE id = ?`, prompt, tenantID)
	if err != nil {
		slog.Error("SQLiteStore UpdateTenantSystemPrompt failed", "error", err, "tenantID", tenantID)
		return fmt.Errorf("failed to update system prompt for tenant %d: %w", tenantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUnknownTenant
	}
	slog.Debug("SQLiteStore UpdateTenantSystemPrompt succeeded", "tenantID", tenantID)
	return nil
}

// UpdateTenantQuizSchema persists a new quiz schema; nil clears it.
func (s *SQLiteStore) UpdateTenantQuizSchema(tenantID int64, schema models.QuizSchema) error {
	encoded, err := marshalQuizSchema(schema)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE tenants SET quiz_schema = ? WHERE id = ?`, nilIfEmpty(encoded), tenantID)
	if err != nil {
		slog.Error("SQLiteStore UpdateTenantQuizSchema failed", "error", err, "tenantID", tenantID)
		return fmt.Errorf("failed to update quiz schema for tenant %d: %w", tenantID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUnknownTenant
	}
	slog.Debug("SQLiteStore UpdateTenantQuizSchema succeeded", "tenantID", tenantID, "questions", len(schema))
	return nil
}

// GetUser retrieves a user by tenant and external ID. Returns nil when absent.
func (s *SQLiteStore) GetUser(tenantID int64, externalID string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT tenant_id, external_id, username, first_name, utm_source, category,
		quiz_results, quiz_completed_at, created_at FROM users WHERE tenant_id = ? AND external_id = ?`,
		tenantID, externalID)
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetUser not found", "tenantID", tenantID, "externalID", externalID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return nil, err
	}
	return u, nil
}

// SaveUser inserts or updates the user's profile fields.
func (s *SQLiteStore) SaveUser(u models.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO users (tenant_id, external_id, username, first_name, utm_source, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, external_id)
		DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name`,
		u.TenantID, u.ExternalID, nilIfEmpty(u.Username), nilIfEmpty(u.FirstName),
		nilIfEmpty(u.UTMSource), nilIfEmpty(u.Category), u.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "tenantID", u.TenantID, "externalID", u.ExternalID)
		return fmt.Errorf("failed to save user %s: %w", u.ExternalID, err)
	}
	slog.Debug("SQLiteStore SaveUser succeeded", "tenantID", u.TenantID, "externalID", u.ExternalID)
	return nil
}

// SetUserCategory records the classified category for a user.
func (s *SQLiteStore) SetUserCategory(tenantID int64, externalID, category string) error {
	_, err := s.db.Exec(`UPDATE users SET category = ? WHERE tenant_id = ? AND external_id = ?`,
		category, tenantID, externalID)
	if err != nil {
		slog.Error("SQLiteStore SetUserCategory failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return fmt.Errorf("failed to set category for user %s: %w", externalID, err)
	}
	slog.Debug("SQLiteStore SetUserCategory succeeded", "tenantID", tenantID, "externalID", externalID, "category", category)
	return nil
}

// SaveQuizResults records quiz answers and sets the completion timestamp once.
func (s *SQLiteStore) SaveQuizResults(tenantID int64, externalID string, results []models.QuizResult) error {
	encoded, err := marshalQuizResults(results)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE users SET quiz_results = ?, quiz_completed_at = ?
		WHERE tenant_id = ? AND external_id = ? AND quiz_completed_at IS NULL`,
		nilIfEmpty(encoded), time.Now(), tenantID, externalID)
	if err != nil {
		slog.Error("SQLiteStore SaveQuizResults failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return fmt.Errorf("failed to save quiz results for user %s: %w", externalID, err)
	}
	slog.Debug("SQLiteStore SaveQuizResults succeeded", "tenantID", tenantID, "externalID", externalID, "answers", len(results))
	return nil
}

// ClearQuizResults wipes the quiz record so the user may take it again.
func (s *SQLiteStore) ClearQuizResults(tenantID int64, externalID string) error {
	_, err := s.db.Exec(`UPDATE users SET quiz_results = NULL, quiz_completed_at = NULL
		WHERE tenant_id = ? AND external_id = ?`, tenantID, externalID)
	if err != nil {
		slog.Error("SQLiteStore ClearQuizResults failed", "error", err, "tenantID", tenantID, "externalID", externalID)
		return fmt.Errorf("failed to clear quiz results for user %s: %w", externalID, err)
	}
	slog.Debug("SQLiteStore ClearQuizResults succeeded", "tenantID", tenantID, "externalID", externalID)
	return nil
}

// AddMessage appends one conversation message.
func (s *SQLiteStore) AddMessage(m models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO messages (tenant_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`, m.TenantID, m.UserID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "tenantID", m.TenantID, "userID", m.UserID)
		return fmt.Errorf("failed to insert message for %s: %w", m.UserID, err)
	}
	slog.Debug("SQLiteStore AddMessage succeeded", "tenantID", m.TenantID, "userID", m.UserID, "role", m.Role)
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) RecentMessages(tenantID int64, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.Query(`SELECT id, tenant_id, user_id, role, content, created_at FROM (
			SELECT id, tenant_id, user_id, role, content, created_at FROM messages
			WHERE tenant_id = ? AND user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`, tenantID, userID, limit)
	if err != nil {
		slog.Error("SQLiteStore RecentMessages query failed", "error", err, "tenantID", tenantID, "userID", userID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			slog.Error("SQLiteStore RecentMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore RecentMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore RecentMessages succeeded", "tenantID", tenantID, "userID", userID, "count", len(msgs))
	return msgs, nil
}

// AddLead stores one captured lead.
func (s *SQLiteStore) AddLead(l models.Lead) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO leads (tenant_id, user_id, name, debt_amount, income_source, region, utm_source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.TenantID, l.UserID, l.Name, nilIfEmpty(l.DebtAmount), nilIfEmpty(l.IncomeSource),
		nilIfEmpty(l.Region), nilIfEmpty(l.UTMSource), l.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddLead failed", "error", err, "tenantID", l.TenantID, "userID", l.UserID)
		return fmt.Errorf("failed to insert lead for %s: %w", l.UserID, err)
	}
	slog.Debug("SQLiteStore AddLead succeeded", "tenantID", l.TenantID, "userID", l.UserID)
	return nil
}

// ListLeads returns the tenant's leads, optionally bounded by creation time.
func (s *SQLiteStore) ListLeads(tenantID int64, from, to *time.Time) ([]models.Lead, error) {
	query := `SELECT id, tenant_id, user_id, name, debt_amount, income_source, region, utm_source, created_at
		FROM leads WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if from != nil {
		query += " AND created_at >= ?"
		args = append(args, *from)
	}
	if to != nil {
		query += " AND created_at < ?"
		args = append(args, *to)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListLeads query failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	var leads []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			slog.Error("SQLiteStore ListLeads scan failed", "error", err)
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListLeads rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	slog.Debug("SQLiteStore ListLeads succeeded", "tenantID", tenantID, "count", len(leads))
	return leads, nil
}

// LeadRecipients returns distinct user IDs that have submitted a lead.
func (s *SQLiteStore) LeadRecipients(tenantID int64) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT user_id FROM leads WHERE tenant_id = ? ORDER BY user_id`, tenantID)
	if err != nil {
		slog.Error("SQLiteStore LeadRecipients query failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query lead recipients: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			slog.Error("SQLiteStore LeadRecipients scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan recipient row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore LeadRecipients rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate recipient rows: %w", err)
	}
	slog.Debug("SQLiteStore LeadRecipients succeeded", "tenantID", tenantID, "count", len(ids))
	return ids, nil
}

// SearchChunks loads the tenant's chunks and ranks them by cosine similarity
// computed in-process.
func (s *SQLiteStore) SearchChunks(tenantID int64, embedding []float64, limit int, minScore float64) ([]models.RetrievedFact, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	rows, err := s.db.Query(`SELECT content, embedding FROM knowledge_chunks
		WHERE tenant_id = ? AND embedding IS NOT NULL`, tenantID)
	if err != nil {
		slog.Error("SQLiteStore SearchChunks query failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to query knowledge chunks: %w", err)
	}
	defer rows.Close()
	var facts []models.RetrievedFact
	for rows.Next() {
		var content, embeddingJSON string
		if err := rows.Scan(&content, &embeddingJSON); err != nil {
			slog.Error("SQLiteStore SearchChunks scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		vec, err := decodeEmbedding(embeddingJSON)
		if err != nil {
			slog.Warn("SQLiteStore SearchChunks skipping chunk with bad embedding", "error", err, "tenantID", tenantID)
			continue
		}
		score := cosineSimilarity(embedding, vec)
		if score >= minScore {
			facts = append(facts, models.RetrievedFact{Content: content, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore SearchChunks rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate chunk rows: %w", err)
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].Score > facts[j].Score })
	if len(facts) > limit {
		facts = facts[:limit]
	}
	slog.Debug("SQLiteStore SearchChunks succeeded", "tenantID", tenantID, "count", len(facts))
	return facts, nil
}

// SaveFlowState stores or updates flow state for a user.
func (s *SQLiteStore) SaveFlowState(state models.FlowState) error {
	query := `
		INSERT OR REPLACE INTO flow_states (tenant_id, user_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var stateDataJSON string
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "userID", state.UserID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(query, state.TenantID, state.UserID, state.FlowType, state.CurrentState,
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "tenantID", state.TenantID, "userID", state.UserID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "tenantID", state.TenantID, "userID", state.UserID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a user. Returns nil when absent.
func (s *SQLiteStore) GetFlowState(tenantID int64, userID string, flowType models.FlowType) (*models.FlowState, error) {
	query := `SELECT tenant_id, user_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE tenant_id = ? AND user_id = ? AND flow_type = ?`

	var state models.FlowState
	var stateDataJSON string

	err := s.db.QueryRow(query, tenantID, userID, flowType).Scan(
		&state.TenantID, &state.UserID, &state.FlowType, &state.CurrentState,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFlowState not found", "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return nil, err
	}

	if stateDataJSON != "" {
		state.StateData = make(map[string]string)
		if err := json.Unmarshal([]byte(stateDataJSON), &state.StateData); err != nil {
			slog.Error("SQLiteStore GetFlowState JSON unmarshal failed", "error", err, "userID", userID)
			state.StateData = make(map[string]string)
		}
	}

	slog.Debug("SQLiteStore GetFlowState found", "tenantID", tenantID, "userID", userID, "flowType", flowType, "state", state.CurrentState)
	return &state, nil
}

// DeleteFlowState removes flow state for a user.
func (s *SQLiteStore) DeleteFlowState(tenantID int64, userID string, flowType models.FlowType) error {
	query := `DELETE FROM flow_states WHERE tenant_id = ? AND user_id = ? AND flow_type = ?`

	_, err := s.db.Exec(query, tenantID, userID, flowType)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return err
	}
	slog.Debug("SQLiteStore DeleteFlowState succeeded", "tenantID", tenantID, "userID", userID, "flowType", flowType)
	return nil
}

// Analytics aggregates the tenant's lead and user numbers.
func (s *SQLiteStore) Analytics(tenantID int64) (*models.AnalyticsReport, error) {
	report := &models.AnalyticsReport{TenantID: tenantID, GeneratedAt: time.Now()}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM leads WHERE tenant_id = ?`, tenantID).Scan(&report.TotalLeads); err != nil {
		slog.Error("SQLiteStore Analytics lead count failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to count leads: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM users WHERE tenant_id = ?`, tenantID).Scan(&report.TotalUsers); err != nil {
		slog.Error("SQLiteStore Analytics user count failed", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	var err error
	report.LeadsBySource, err = s.bucketQuery(`SELECT COALESCE(utm_source, 'unknown'), COUNT(*)
		FROM leads WHERE tenant_id = ? GROUP BY 1 ORDER BY 2 DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	report.LeadsByRegion, err = s.bucketQuery(`SELECT COALESCE(region, 'unknown'), COUNT(*)
		FROM leads WHERE tenant_id = ? GROUP BY 1 ORDER BY 2 DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	weekdays, err := s.bucketQuery(`SELECT strftime('%w', created_at), COUNT(*)
		FROM leads WHERE tenant_id = ? GROUP BY 1 ORDER BY 1`, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range weekdays {
		if dow, err := strconv.Atoi(weekdays[i].Name); err == nil && dow >= 0 && dow <= 6 {
			weekdays[i].Name = time.Weekday(dow).String()
		}
	}
	report.LeadsByWeekday = weekdays
	report.UsersByCategory, err = s.bucketQuery(`SELECT COALESCE(category, 'unclassified'), COUNT(*)
		FROM users WHERE tenant_id = ? GROUP BY 1 ORDER BY 2 DESC`, tenantID)
	if err != nil {
		return nil, err
	}

	slog.Debug("SQLiteStore Analytics succeeded", "tenantID", tenantID, "leads", report.TotalLeads, "users", report.TotalUsers)
	return report, nil
}

func (s *SQLiteStore) bucketQuery(query string, tenantID int64) ([]models.AnalyticsBucket, error) {
	rows, err := s.db.Query(query, tenantID)
	if err != nil {
		slog.Error("SQLiteStore bucketQuery failed", "error", err, "tenantID", tenantID)
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
