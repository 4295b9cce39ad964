package registry

import (
	"errors"
	"testing"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.AddTenant(models.Tenant{ID: 1, Name: "acme", BotToken: "tok1", SystemPrompt: "be helpful"})
	st.AddTenant(models.Tenant{ID: 2, Name: "globex", BotToken: "tok2"})
	r, err := New(st)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r, st
}

func TestResolve(t *testing.T) {
	r, _ := newTestRegistry(t)

	tenant, ok := r.Resolve("tok1")
	if !ok {
		t.Fatal("expected tok1 to resolve")
	}
	if tenant.ID != 1 || tenant.SystemPrompt != "be helpful" {
		t.Errorf("unexpected tenant: %+v", tenant)
	}

	if _, ok := r.Resolve("bogus"); ok {
		t.Error("expected unknown token to miss")
	}
}

func TestReloadPicksUpNewTenants(t *testing.T) {
	r, st := newTestRegistry(t)
	st.AddTenant(models.Tenant{ID: 3, Name: "initech", BotToken: "tok3"})

	if _, ok := r.Resolve("tok3"); ok {
		t.Fatal("new tenant must not resolve before reload")
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if _, ok := r.Resolve("tok3"); !ok {
		t.Error("expected tok3 after reload")
	}
	if len(r.All()) != 3 {
		t.Errorf("expected 3 tenants, got %d", len(r.All()))
	}
}

func TestUpdateSystemPrompt(t *testing.T) {
	r, st := newTestRegistry(t)

	if err := r.UpdateSystemPrompt(1, "be brief"); err != nil {
		t.Fatalf("UpdateSystemPrompt failed: %v", err)
	}
	tenant, _ := r.Resolve("tok1")
	if tenant.SystemPrompt != "be brief" {
		t.Errorf("snapshot not swapped: %q", tenant.SystemPrompt)
	}
	// The store was written too.
	tenants, _ := st.ListTenants()
	if tenants[0].SystemPrompt != "be brief" {
		t.Errorf("store not updated: %q", tenants[0].SystemPrompt)
	}

	if err := r.UpdateSystemPrompt(404, "x"); !errors.Is(err, models.ErrUnknownTenant) {
		t.Errorf("expected ErrUnknownTenant, got %v", err)
	}
}

func TestUpdateQuizSchemaRejectsInvalid(t *testing.T) {
	r, _ := newTestRegistry(t)

	bad := models.QuizSchema{{Question: "Q?"}} // no answers
	if err := r.UpdateQuizSchema(1, bad); err == nil {
		t.Fatal("expected validation error")
	}
	tenant, _ := r.Resolve("tok1")
	if tenant.HasQuiz() {
		t.Error("rejected schema must not reach the snapshot")
	}

	good := models.QuizSchema{{Question: "Q?", Answers: []models.QuizAnswer{{Text: "A"}}}}
	if err := r.UpdateQuizSchema(1, good); err != nil {
		t.Fatalf("UpdateQuizSchema failed: %v", err)
	}
	tenant, _ = r.Resolve("tok1")
	if !tenant.HasQuiz() {
		t.Error("expected schema in snapshot")
	}

	if err := r.ClearQuizSchema(1); err != nil {
		t.Fatalf("ClearQuizSchema failed: %v", err)
	}
	tenant, _ = r.Resolve("tok1")
	if tenant.HasQuiz() {
		t.Error("expected schema cleared")
	}
}
