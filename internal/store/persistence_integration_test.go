package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
)

// newTestSQLiteStore opens a SQLite store on a temp file and cleans it up.
func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "leadpilot_store_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(tempDir, "test.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedTenant inserts a tenant row directly; tenants are provisioned out of
// band in production.
func seedTenant(t *testing.T, s *SQLiteStore, tenant models.Tenant) {
	t.Helper()
	schema, err := marshalQuizSchema(tenant.QuizSchema)
	if err != nil {
		t.Fatalf("marshal quiz schema failed: %v", err)
	}
	_, err = s.db.Exec(`INSERT INTO tenants (id, name, bot_token, transport, manager_contact, system_prompt, quiz_schema, form_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant.ID, tenant.Name, tenant.BotToken, string(models.TransportTelegram),
		nilIfEmpty(tenant.ManagerContact), nilIfEmpty(tenant.SystemPrompt), nilIfEmpty(schema), tenant.FormEnabled)
	if err != nil {
		t.Fatalf("seed tenant failed: %v", err)
	}
}

func TestSQLiteTenantRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedTenant(t, s, models.Tenant{
		ID: 1, Name: "acme", BotToken: "tok1", ManagerContact: "999",
		SystemPrompt: "be helpful", FormEnabled: true,
		QuizSchema: models.QuizSchema{{Question: "Q?", Answers: []models.QuizAnswer{{Text: "A"}}}},
	})

	tenants, err := s.ListTenants()
	if err != nil {
		t.Fatalf("ListTenants failed: %v", err)
	}
	if len(tenants) != 1 {
		t.Fatalf("expected 1 tenant, got %d", len(tenants))
	}
	got := tenants[0]
	if got.BotToken != "tok1" || got.SystemPrompt != "be helpful" || !got.FormEnabled {
		t.Errorf("unexpected tenant: %+v", got)
	}
	if !got.HasQuiz() || got.QuizSchema[0].Question != "Q?" {
		t.Errorf("quiz schema did not survive round trip: %+v", got.QuizSchema)
	}

	if err := s.UpdateTenantSystemPrompt(1, "be brief"); err != nil {
		t.Fatalf("UpdateTenantSystemPrompt failed: %v", err)
	}
	if err := s.UpdateTenantQuizSchema(1, nil); err != nil {
		t.Fatalf("UpdateTenantQuizSchema clear failed: %v", err)
	}
	tenants, _ = s.ListTenants()
	if tenants[0].SystemPrompt != "be brief" {
		t.Errorf("system prompt not updated: %q", tenants[0].SystemPrompt)
	}
	if tenants[0].HasQuiz() {
		t.Error("expected quiz schema cleared")
	}

	if err := s.UpdateTenantSystemPrompt(404, "x"); err != models.ErrUnknownTenant {
		t.Errorf("expected ErrUnknownTenant for missing tenant, got %v", err)
	}
}

func TestSQLiteUserAndQuizLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedTenant(t, s, models.Tenant{ID: 1, Name: "acme", BotToken: "tok1"})

	u, err := s.GetUser(1, "42")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if u != nil {
		t.Fatal("expected nil for unknown user")
	}

	if err := s.SaveUser(models.User{TenantID: 1, ExternalID: "42", FirstName: "Ivan", UTMSource: "vk"}); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	if err := s.SetUserCategory(1, "42", "debtor"); err != nil {
		t.Fatalf("SetUserCategory failed: %v", err)
	}

	results := []models.QuizResult{{Question: "How much debt?", Answer: "Over 300k"}}
	if err := s.SaveQuizResults(1, "42", results); err != nil {
		t.Fatalf("SaveQuizResults failed: %v", err)
	}
	// Second save is a no-op for a completed cycle.
	if err := s.SaveQuizResults(1, "42", []models.QuizResult{{Question: "X", Answer: "Y"}}); err != nil {
		t.Fatalf("second SaveQuizResults failed: %v", err)
	}

	u, err = s.GetUser(1, "42")
	if err != nil || u == nil {
		t.Fatalf("GetUser after save failed: %v", err)
	}
	if u.Category != "debtor" || u.UTMSource != "vk" {
		t.Errorf("unexpected user fields: %+v", u)
	}
	if u.QuizCompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if len(u.QuizResults) != 1 || u.QuizResults[0].Answer != "Over 300k" {
		t.Errorf("expected first results kept, got %+v", u.QuizResults)
	}

	if err := s.ClearQuizResults(1, "42"); err != nil {
		t.Fatalf("ClearQuizResults failed: %v", err)
	}
	u, _ = s.GetUser(1, "42")
	if u.QuizCompletedAt != nil || u.QuizResults != nil {
		t.Errorf("expected cleared quiz record, got %+v", u)
	}
}

func TestSQLiteMessagesAndLeads(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedTenant(t, s, models.Tenant{ID: 1, Name: "acme", BotToken: "tok1"})

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 6; i++ {
		err := s.AddMessage(models.Message{
			TenantID: 1, UserID: "42", Role: models.RoleUser,
			Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}
	msgs, err := s.RecentMessages(1, "42", 4)
	if err != nil {
		t.Fatalf("RecentMessages failed: %v", err)
	}
	if len(msgs) != 4 || msgs[0].Content != "c" || msgs[3].Content != "f" {
		t.Errorf("unexpected window: %+v", msgs)
	}

	lead := models.Lead{TenantID: 1, UserID: "42", Name: "Ivan", DebtAmount: "500000", Region: "Moscow", UTMSource: "vk"}
	if err := s.AddLead(lead); err != nil {
		t.Fatalf("AddLead failed: %v", err)
	}
	if err := s.AddLead(models.Lead{TenantID: 1, UserID: "43", Name: "Olga"}); err != nil {
		t.Fatalf("AddLead failed: %v", err)
	}

	leads, err := s.ListLeads(1, nil, nil)
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("expected 2 leads, got %d", len(leads))
	}
	if leads[0].Name != "Ivan" || leads[0].Region != "Moscow" {
		t.Errorf("unexpected lead: %+v", leads[0])
	}

	ids, err := s.LeadRecipients(1)
	if err != nil {
		t.Fatalf("LeadRecipients failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 recipients, got %v", ids)
	}

	report, err := s.Analytics(1)
	if err != nil {
		t.Fatalf("Analytics failed: %v", err)
	}
	if report.TotalLeads != 2 {
		t.Errorf("expected 2 leads in analytics, got %d", report.TotalLeads)
	}
}

func TestSQLiteFlowStatePersistence(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedTenant(t, s, models.Tenant{ID: 1, Name: "acme", BotToken: "tok1"})

	now := time.Now().UTC()
	state := models.FlowState{
		TenantID: 1, UserID: "42", FlowType: models.FlowTypeQuiz,
		CurrentState: models.StateQuizQuestion,
		StateData:    map[string]string{string(models.DataKeyQuizIndex): "2"},
		CreatedAt:    now, UpdatedAt: now,
	}
	if err := s.SaveFlowState(state); err != nil {
		t.Fatalf("SaveFlowState failed: %v", err)
	}

	got, err := s.GetFlowState(1, "42", models.FlowTypeQuiz)
	if err != nil {
		t.Fatalf("GetFlowState failed: %v", err)
	}
	if got == nil || got.CurrentState != models.StateQuizQuestion {
		t.Fatalf("unexpected state: %+v", got)
	}
	if got.StateData[string(models.DataKeyQuizIndex)] != "2" {
		t.Errorf("state data did not survive: %+v", got.StateData)
	}

	// Overwrite wins.
	state.StateData[string(models.DataKeyQuizIndex)] = "3"
	state.UpdatedAt = now.Add(time.Second)
	if err := s.SaveFlowState(state); err != nil {
		t.Fatalf("second SaveFlowState failed: %v", err)
	}
	got, _ = s.GetFlowState(1, "42", models.FlowTypeQuiz)
	if got.StateData[string(models.DataKeyQuizIndex)] != "3" {
		t.Errorf("expected overwrite, got %+v", got.StateData)
	}

	if err := s.DeleteFlowState(1, "42", models.FlowTypeQuiz); err != nil {
		t.Fatalf("DeleteFlowState failed: %v", err)
	}
	gone, _ := s.GetFlowState(1, "42", models.FlowTypeQuiz)
	if gone != nil {
		t.Error("expected nil after delete")
	}
}

func TestSQLiteSearchChunks(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedTenant(t, s, models.Tenant{ID: 1, Name: "acme", BotToken: "tok1"})

	insert := func(tenantID int64, content, embedding string) {
		t.Helper()
		if _, err := s.db.Exec(`INSERT INTO knowledge_chunks (tenant_id, content, embedding) VALUES (?, ?, ?)`,
			tenantID, content, embedding); err != nil {
			t.Fatalf("insert chunk failed: %v", err)
		}
	}
	insert(1, "close match", "[1,0,0]")
	insert(1, "far away", "[0,1,0]")
	insert(2, "other tenant", "[1,0,0]")

	facts, err := s.SearchChunks(1, []float64{1, 0, 0}, 5, 0.3)
	if err != nil {
		t.Fatalf("SearchChunks failed: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "close match" {
		t.Errorf("unexpected facts: %+v", facts)
	}
}

// TestPostgresStoreIntegration exercises the Postgres backend when a database
// is available; skipped otherwise.
func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}
	s, err := NewPostgresStore(WithPostgresDSN(dsn))
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	defer s.Close()

	if _, err := s.ListTenants(); err != nil {
		t.Fatalf("ListTenants failed: %v", err)
	}
}
