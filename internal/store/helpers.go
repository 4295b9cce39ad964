package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/leadpilot/leadpilot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// encodeVector renders an embedding as a pgvector literal, e.g. [0.1,0.2].
func encodeVector(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// cosineSimilarity computes the cosine similarity of two vectors. Mismatched
// lengths or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// marshalQuizSchema encodes a schema for storage; nil encodes as empty.
func marshalQuizSchema(schema models.QuizSchema) (string, error) {
	if len(schema) == 0 {
		return "", nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal quiz schema: %w", err)
	}
	return string(data), nil
}

// unmarshalQuizSchema decodes a stored schema; empty decodes as nil.
func unmarshalQuizSchema(data string) (models.QuizSchema, error) {
	if data == "" {
		return nil, nil
	}
	var schema models.QuizSchema
	if err := json.Unmarshal([]byte(data), &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quiz schema: %w", err)
	}
	return schema, nil
}

// marshalQuizResults encodes recorded answers for storage.
func marshalQuizResults(results []models.QuizResult) (string, error) {
	if len(results) == 0 {
		return "", nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("failed to marshal quiz results: %w", err)
	}
	return string(data), nil
}

// unmarshalQuizResults decodes stored answers; empty decodes as nil.
func unmarshalQuizResults(data string) ([]models.QuizResult, error) {
	if data == "" {
		return nil, nil
	}
	var results []models.QuizResult
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quiz results: %w", err)
	}
	return results, nil
}

// scanTenant scans a Tenant from sql.Rows.
func scanTenant(rows *sql.Rows) (models.Tenant, error) {
	var t models.Tenant
	var managerContact, systemPrompt, quizSchema, leadMagnetID, sheetID sql.NullString
	err := rows.Scan(
		&t.ID, &t.Name, &t.BotToken, &t.Transport, &managerContact, &systemPrompt,
		&quizSchema, &t.FormEnabled, &leadMagnetID, &sheetID, &t.CreatedAt,
	)
	if err != nil {
		return t, fmt.Errorf("scan tenant failed: %w", err)
	}
	t.ManagerContact = managerContact.String
	t.SystemPrompt = systemPrompt.String
	t.LeadMagnetID = leadMagnetID.String
	t.SheetID = sheetID.String
	if quizSchema.Valid {
		t.QuizSchema, err = unmarshalQuizSchema(quizSchema.String)
		if err != nil {
			return t, err
		}
	}
	return t, nil
}

// scanUserRow scans a User from a single sql.Row.
func scanUserRow(row *sql.Row) (*models.User, error) {
	var u models.User
	var username, firstName, utmSource, category, quizResults sql.NullString
	var quizCompletedAt sql.NullTime
	err := row.Scan(
		&u.TenantID, &u.ExternalID, &username, &firstName, &utmSource, &category,
		&quizResults, &quizCompletedAt, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.UTMSource = utmSource.String
	u.Category = category.String
	if quizCompletedAt.Valid {
		u.QuizCompletedAt = &quizCompletedAt.Time
	}
	if quizResults.Valid {
		u.QuizResults, err = unmarshalQuizResults(quizResults.String)
		if err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// scanLead scans a Lead from sql.Rows.
func scanLead(rows *sql.Rows) (models.Lead, error) {
	var l models.Lead
	var debtAmount, incomeSource, region, utmSource sql.NullString
	err := rows.Scan(
		&l.ID, &l.TenantID, &l.UserID, &l.Name, &debtAmount, &incomeSource,
		&region, &utmSource, &l.CreatedAt,
	)
	if err != nil {
		return l, fmt.Errorf("scan lead failed: %w", err)
	}
	l.DebtAmount = debtAmount.String
	l.IncomeSource = incomeSource.String
	l.Region = region.String
	l.UTMSource = utmSource.String
	return l, nil
}

// decodeEmbedding parses a stored JSON embedding column.
func decodeEmbedding(data string) ([]float64, error) {
	if data == "" {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("failed to decode embedding: %w", err)
	}
	return v, nil
}
