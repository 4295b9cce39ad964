// Package models defines the core data structures for LeadPilot.
//
// It includes tenants, users, messages, leads, knowledge chunks and broadcast
// jobs, which are shared across modules. Every persisted entity is scoped by
// its tenant ID; no read path may cross tenants.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Validation constants for input validation
const (
	// MaxBroadcastBodyLength defines the maximum allowed length for a broadcast message body
	MaxBroadcastBodyLength = 4096
	// MaxSystemPromptLength defines the maximum allowed length for a tenant system prompt
	MaxSystemPromptLength = 16384
)

// Error variables for better error handling and testability
var (
	ErrUnknownTenant        = errors.New("unknown tenant")
	ErrEmptyInput           = errors.New("input cannot be empty")
	ErrUnauthorized         = errors.New("sender is not the tenant manager")
	ErrQuizCompleted        = errors.New("quiz already completed for this user")
	ErrQuizUnavailable      = errors.New("no quiz schema configured for this tenant")
	ErrNoActiveFlow         = errors.New("no active flow state for this user")
	ErrEmptyBroadcastBody   = errors.New("broadcast message body cannot be empty")
	ErrBroadcastBodyTooLong = errors.New("broadcast message body exceeds maximum length")
	ErrSystemPromptTooLong  = errors.New("system prompt exceeds maximum length")
)

// TransportKind identifies the messaging transport a tenant is served on.
type TransportKind string

const (
	// TransportTelegram serves the tenant through the Telegram Bot API.
	TransportTelegram TransportKind = "telegram"
	// TransportWhatsApp serves the tenant through a linked WhatsApp device.
	TransportWhatsApp TransportKind = "whatsapp"
	// TransportTwilio serves the tenant through the Twilio WhatsApp API.
	TransportTwilio TransportKind = "twilio"
)

// Tenant is one configured bot identity sharing the platform. Tenant rows are
// read-only during a run except for admin hot-updates of the system prompt and
// quiz schema, which go through the registry.
type Tenant struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	BotToken       string        `json:"bot_token"`
	Transport      TransportKind `json:"transport"`
	ManagerContact string        `json:"manager_contact"` // external chat ID of the managing admin
	SystemPrompt   string        `json:"system_prompt"`
	QuizSchema     QuizSchema    `json:"quiz_schema,omitempty"`
	FormEnabled    bool          `json:"form_enabled"`
	LeadMagnetID   string        `json:"lead_magnet_file_id,omitempty"`
	SheetID        string        `json:"sheet_id,omitempty"` // Google Sheet for lead exports
	CreatedAt      time.Time     `json:"created_at"`
}

// HasQuiz reports whether the tenant currently offers a quiz.
func (t *Tenant) HasQuiz() bool {
	return len(t.QuizSchema) > 0
}

// IsManager reports whether the given external chat ID is the tenant's manager.
func (t *Tenant) IsManager(externalID string) bool {
	return t.ManagerContact != "" && t.ManagerContact == externalID
}

// User is one conversation participant, identified by (tenant, external ID).
// The same external identity is independent across tenants.
type User struct {
	TenantID        int64        `json:"tenant_id"`
	ExternalID      string       `json:"external_id"`
	Username        string       `json:"username,omitempty"`
	FirstName       string       `json:"first_name,omitempty"`
	UTMSource       string       `json:"utm_source,omitempty"`
	Category        string       `json:"category,omitempty"` // assigned once by classification
	QuizResults     []QuizResult `json:"quiz_results,omitempty"`
	QuizCompletedAt *time.Time   `json:"quiz_completed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// QuizDone reports whether the user has a completed quiz cycle on record.
func (u *User) QuizDone() bool {
	return u.QuizCompletedAt != nil
}

// MessageRole tags who authored a stored conversation message.
type MessageRole string

const (
	// RoleUser marks a message written by the participant.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a message produced by the assistant.
	RoleAssistant MessageRole = "assistant"
)

// Message is one stored conversation turn. Append-only.
type Message struct {
	ID        int64       `json:"id"`
	TenantID  int64       `json:"tenant_id"`
	UserID    string      `json:"user_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// Lead is a captured prospective-customer submission. Created exactly once per
// completed lead form and immutable afterwards.
type Lead struct {
	ID           int64     `json:"id"`
	TenantID     int64     `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	DebtAmount   string    `json:"debt_amount"`
	IncomeSource string    `json:"income_source"`
	Region       string    `json:"region"`
	UTMSource    string    `json:"utm_source,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// KnowledgeChunk is one retrievable fragment of a tenant's knowledge base.
// Chunks are written by an external ingestion process and read-only here.
type KnowledgeChunk struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// RetrievedFact is one similarity-search hit, ordered by descending score.
type RetrievedFact struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// MediaKind identifies the attachment type of a broadcast message.
type MediaKind string

const (
	// MediaPhoto is an image attachment referenced by transport file ID.
	MediaPhoto MediaKind = "photo"
	// MediaDocument is a document attachment referenced by transport file ID.
	MediaDocument MediaKind = "document"
)

// Media references an uploaded attachment by its transport file ID.
type Media struct {
	Kind   MediaKind `json:"kind"`
	FileID string    `json:"file_id"`
}

// BroadcastStatus tracks the lifecycle of a broadcast job.
type BroadcastStatus string

const (
	// BroadcastPending means the job is created but not yet running.
	BroadcastPending BroadcastStatus = "pending"
	// BroadcastRunning means deliveries are in progress.
	BroadcastRunning BroadcastStatus = "running"
	// BroadcastDone means the job ran to completion.
	BroadcastDone BroadcastStatus = "done"
)

// BroadcastJob is an admin-initiated bulk delivery run. Transient: it exists
// for the duration of the run plus its summary.
type BroadcastJob struct {
	ID          string          `json:"id"`
	TenantID    int64           `json:"tenant_id"`
	Body        string          `json:"body"`
	Media       *Media          `json:"media,omitempty"`
	AdminChatID string          `json:"admin_chat_id"`
	Status      BroadcastStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Validate checks the broadcast job payload before the run is scheduled.
func (j *BroadcastJob) Validate() error {
	if j.Body == "" {
		return ErrEmptyBroadcastBody
	}
	if len(j.Body) > MaxBroadcastBodyLength {
		return ErrBroadcastBodyTooLong
	}
	return nil
}

// BroadcastSummary reports the outcome of a finished broadcast run.
// Sent + Failed always equals Recipients.
type BroadcastSummary struct {
	JobID      string `json:"job_id"`
	TenantID   int64  `json:"tenant_id"`
	Recipients int    `json:"recipients"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// QuizAnswer is one selectable option of a quiz question.
type QuizAnswer struct {
	Text string `json:"text"`
}

// QuizQuestion is one quiz step with its fixed answer options.
type QuizQuestion struct {
	Question string       `json:"question"`
	Answers  []QuizAnswer `json:"answers"`
}

// QuizSchema is the ordered list of questions a tenant's quiz presents.
type QuizSchema []QuizQuestion

// QuizResult is one recorded answer. Results keep question order, so the full
// slice is an ordered mapping of question text to chosen answer text.
type QuizResult struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ParseQuizSchema decodes and structurally validates an uploaded quiz schema.
// Validation reports the first offending field precisely so the admin can fix
// the upload; the previously stored schema is never touched on rejection.
func ParseQuizSchema(data []byte) (QuizSchema, error) {
	var schema QuizSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

// Validate performs structural validation on a quiz schema.
func (s QuizSchema) Validate() error {
	if len(s) == 0 {
		return errors.New("schema must contain at least one question")
	}
	for i, q := range s {
		if q.Question == "" {
			return fmt.Errorf("question %d: missing or empty %q field", i+1, "question")
		}
		if len(q.Answers) == 0 {
			return fmt.Errorf("question %d: missing or empty %q field", i+1, "answers")
		}
		for j, a := range q.Answers {
			if a.Text == "" {
				return fmt.Errorf("question %d, answer %d: missing or empty %q field", i+1, j+1, "text")
			}
		}
	}
	return nil
}

// AnalyticsBucket is one aggregated analytics row, e.g. leads per region.
type AnalyticsBucket struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AnalyticsReport aggregates the per-tenant numbers behind the /stats command.
type AnalyticsReport struct {
	TenantID        int64             `json:"tenant_id"`
	TotalLeads      int               `json:"total_leads"`
	TotalUsers      int               `json:"total_users"`
	LeadsBySource   []AnalyticsBucket `json:"leads_by_source"`
	LeadsByRegion   []AnalyticsBucket `json:"leads_by_region"`
	LeadsByWeekday  []AnalyticsBucket `json:"leads_by_weekday"`
	UsersByCategory []AnalyticsBucket `json:"users_by_category"`
	GeneratedAt     time.Time         `json:"generated_at"`
}
