package flow

import (
	"strings"
	"testing"

	"github.com/leadpilot/leadpilot/internal/models"
)

func TestBroadcastWizardTextOnly(t *testing.T) {
	tenant := models.Tenant{ID: 1, ManagerContact: "999"}
	wizard := BroadcastWizard{}

	res := wizard.Start(tenant, "999")
	if res.Next == nil || res.Next.CurrentState != models.StateBroadcastBody {
		t.Fatalf("expected body state, got %+v", res.Next)
	}

	res = wizard.Advance(tenant, *res.Next, textInput("Big discount this week!"))
	if res.Next.CurrentState != models.StateBroadcastMedia {
		t.Fatalf("expected media state, got %s", res.Next.CurrentState)
	}

	res = wizard.Advance(tenant, *res.Next, models.InboundEvent{Text: "/skip", Command: "skip"})
	if res.Next.CurrentState != models.StateBroadcastConfirm {
		t.Fatalf("expected confirm state, got %s", res.Next.CurrentState)
	}
	preview := findEffect(t, res.Effects, EffectSendText)
	if preview == nil || !strings.Contains(preview.Text, "Big discount this week!") {
		t.Errorf("preview missing body: %+v", preview)
	}
	if len(preview.Options) != 3 {
		t.Errorf("expected Send/Edit/Cancel options, got %v", preview.Options)
	}

	res = wizard.Advance(tenant, *res.Next, callbackInput(BroadcastOptionSend))
	if res.Next != nil {
		t.Fatal("expected terminal state after send")
	}
	start := findEffect(t, res.Effects, EffectStartBroadcast)
	if start == nil {
		t.Fatal("expected start-broadcast effect")
	}
	job := start.Broadcast
	if job.Body != "Big discount this week!" || job.Media != nil {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.TenantID != 1 || job.AdminChatID != "999" {
		t.Errorf("job not scoped correctly: %+v", job)
	}
}

func TestBroadcastWizardWithPhoto(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	wizard := BroadcastWizard{}

	res := wizard.Start(tenant, "999")
	res = wizard.Advance(tenant, *res.Next, textInput("See the attached photo"))
	res = wizard.Advance(tenant, *res.Next, models.InboundEvent{
		Photo: &models.Media{Kind: models.MediaPhoto, FileID: "photo-1"},
	})
	if res.Next.CurrentState != models.StateBroadcastConfirm {
		t.Fatalf("expected confirm state, got %s", res.Next.CurrentState)
	}

	res = wizard.Advance(tenant, *res.Next, callbackInput(BroadcastOptionSend))
	start := findEffect(t, res.Effects, EffectStartBroadcast)
	if start == nil {
		t.Fatal("expected start-broadcast effect")
	}
	if start.Broadcast.Media == nil || start.Broadcast.Media.FileID != "photo-1" {
		t.Errorf("media lost: %+v", start.Broadcast.Media)
	}
}

func TestBroadcastWizardEditLoopsToBody(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	wizard := BroadcastWizard{}

	res := wizard.Start(tenant, "999")
	res = wizard.Advance(tenant, *res.Next, textInput("first draft"))
	res = wizard.Advance(tenant, *res.Next, models.InboundEvent{Command: "skip"})
	res = wizard.Advance(tenant, *res.Next, callbackInput(BroadcastOptionEdit))
	if res.Next == nil || res.Next.CurrentState != models.StateBroadcastBody {
		t.Fatal("edit must loop back to the body state")
	}

	res = wizard.Advance(tenant, *res.Next, textInput("second draft"))
	res = wizard.Advance(tenant, *res.Next, models.InboundEvent{Command: "skip"})
	res = wizard.Advance(tenant, *res.Next, callbackInput(BroadcastOptionSend))
	start := findEffect(t, res.Effects, EffectStartBroadcast)
	if start.Broadcast.Body != "second draft" {
		t.Errorf("expected the edited body, got %q", start.Broadcast.Body)
	}
}

func TestBroadcastWizardCancelAndValidation(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	wizard := BroadcastWizard{}

	// Empty body re-prompts.
	res := wizard.Start(tenant, "999")
	res = wizard.Advance(tenant, *res.Next, textInput(""))
	if res.Next == nil || res.Next.CurrentState != models.StateBroadcastBody {
		t.Error("empty body must not advance")
	}

	// Over-long body re-prompts.
	res = wizard.Advance(tenant, *res.Next, textInput(strings.Repeat("a", models.MaxBroadcastBodyLength+1)))
	if res.Next == nil || res.Next.CurrentState != models.StateBroadcastBody {
		t.Error("over-long body must not advance")
	}

	// Cancel at confirm discards the job.
	res = wizard.Advance(tenant, *res.Next, textInput("draft"))
	res = wizard.Advance(tenant, *res.Next, models.InboundEvent{Command: "skip"})
	res = wizard.Advance(tenant, *res.Next, callbackInput(BroadcastOptionCancel))
	if res.Next != nil {
		t.Error("cancel must terminate the wizard")
	}
	if findEffect(t, res.Effects, EffectStartBroadcast) != nil {
		t.Error("cancel must not start a broadcast")
	}
}

func TestBroadcastWizardUnknownMediaInputReprompts(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	wizard := BroadcastWizard{}

	res := wizard.Start(tenant, "999")
	res = wizard.Advance(tenant, *res.Next, textInput("body"))
	res = wizard.Advance(tenant, *res.Next, textInput("just text, no media"))
	if res.Next == nil || res.Next.CurrentState != models.StateBroadcastMedia {
		t.Error("plain text at media step must re-prompt")
	}
}
