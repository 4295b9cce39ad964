package broadcast

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leadpilot/leadpilot/internal/events"
	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/store"
)

func seedLeads(t *testing.T, st *store.InMemoryStore, tenantID int64, userIDs ...string) {
	t.Helper()
	for _, id := range userIDs {
		if err := st.AddLead(models.Lead{TenantID: tenantID, UserID: id, Name: "n"}); err != nil {
			t.Fatalf("AddLead failed: %v", err)
		}
	}
}

func TestExecuteCountsSentAndFailed(t *testing.T) {
	st := store.NewInMemoryStore()
	seedLeads(t, st, 1, "10", "20", "30")

	transport := messaging.NewMockService()
	transport.FailFor["20"] = errors.New("blocked the bot")

	exec := NewExecutor(st, nil, WithMessagesPerSecond(1000))
	summary, err := exec.Execute(context.Background(), models.BroadcastJob{
		ID: "job-1", TenantID: 1, Body: "hello everyone",
	}, transport)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if summary.Recipients != 3 || summary.Sent != 2 || summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Sent+summary.Failed != summary.Recipients {
		t.Errorf("sent+failed must equal recipients: %+v", summary)
	}
	if len(transport.Sent) != 2 {
		t.Errorf("expected 2 deliveries, got %d", len(transport.Sent))
	}
}

func TestExecuteScopesRecipientsByTenant(t *testing.T) {
	st := store.NewInMemoryStore()
	seedLeads(t, st, 1, "10")
	seedLeads(t, st, 2, "99")

	transport := messaging.NewMockService()
	exec := NewExecutor(st, nil, WithMessagesPerSecond(1000))
	summary, err := exec.Execute(context.Background(), models.BroadcastJob{
		ID: "job-2", TenantID: 1, Body: "tenant one only",
	}, transport)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if summary.Recipients != 1 {
		t.Errorf("expected 1 recipient, got %d", summary.Recipients)
	}
	if len(transport.MessagesTo("99")) != 0 {
		t.Error("broadcast leaked across tenants")
	}
}

func TestExecuteSendsMediaWithCaption(t *testing.T) {
	st := store.NewInMemoryStore()
	seedLeads(t, st, 1, "10")

	transport := messaging.NewMockService()
	exec := NewExecutor(st, nil, WithMessagesPerSecond(1000))
	media := &models.Media{Kind: models.MediaPhoto, FileID: "photo-9"}
	if _, err := exec.Execute(context.Background(), models.BroadcastJob{
		ID: "job-3", TenantID: 1, Body: "see photo", Media: media,
	}, transport); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(transport.Media) != 1 {
		t.Fatalf("expected 1 media send, got %d", len(transport.Media))
	}
	got := transport.Media[0]
	if got.Media.FileID != "photo-9" || got.Caption != "see photo" {
		t.Errorf("unexpected media send: %+v", got)
	}
}

func TestStartValidatesAndAssignsID(t *testing.T) {
	st := store.NewInMemoryStore()
	exec := NewExecutor(st, nil)

	if _, err := exec.Start(models.BroadcastJob{TenantID: 1}, messaging.NewMockService()); !errors.Is(err, models.ErrEmptyBroadcastBody) {
		t.Errorf("expected ErrEmptyBroadcastBody, got %v", err)
	}

	id, err := exec.Start(models.BroadcastJob{TenantID: 1, Body: "ok"}, messaging.NewMockService())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if id == "" {
		t.Error("expected an assigned job ID")
	}
}

func TestFinishReportsSummaryAndPublishes(t *testing.T) {
	st := store.NewInMemoryStore()
	publisher := &events.MockPublisher{}
	exec := NewExecutor(st, publisher)
	transport := messaging.NewMockService()

	job := models.BroadcastJob{ID: "job-4", TenantID: 1, Body: "b", AdminChatID: "777"}
	exec.finish(context.Background(), job, transport, models.BroadcastSummary{
		JobID: "job-4", TenantID: 1, Recipients: 5, Sent: 4, Failed: 1,
	})

	msgs := transport.MessagesTo("777")
	if len(msgs) != 1 {
		t.Fatalf("expected summary message to admin, got %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "Delivered: 4") || !strings.Contains(msgs[0].Body, "Failed: 1") {
		t.Errorf("summary text incomplete: %q", msgs[0].Body)
	}
	if len(publisher.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast.finished event, got %d", len(publisher.Broadcasts))
	}
	if publisher.Broadcasts[0].Sent != 4 || publisher.Broadcasts[0].Recipients != 5 {
		t.Errorf("unexpected event payload: %+v", publisher.Broadcasts[0])
	}
}

func TestFinishSwallowsPublishFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	publisher := &events.MockPublisher{Err: errors.New("broker down")}
	exec := NewExecutor(st, publisher)
	transport := messaging.NewMockService()

	// Must not panic or error; the failure is logged only.
	exec.finish(context.Background(), models.BroadcastJob{ID: "job-5", TenantID: 1, Body: "b"},
		transport, models.BroadcastSummary{JobID: "job-5", TenantID: 1})
}
