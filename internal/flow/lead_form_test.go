package flow

import (
	"strings"
	"testing"

	"github.com/leadpilot/leadpilot/internal/models"
)

func textInput(text string) models.InboundEvent {
	return models.InboundEvent{Text: text}
}

func cancelInput() models.InboundEvent {
	return models.InboundEvent{Text: "/cancel", Command: "cancel"}
}

func findEffect(t *testing.T, effects []Effect, kind EffectKind) *Effect {
	t.Helper()
	for i := range effects {
		if effects[i].Kind == kind {
			return &effects[i]
		}
	}
	return nil
}

func TestLeadFormHappyPath(t *testing.T) {
	tenant := models.Tenant{ID: 1, ManagerContact: "999"}
	form := LeadForm{}

	res := form.Start(tenant, "42")
	if res.Next == nil || res.Next.CurrentState != models.StateLeadFormName {
		t.Fatalf("expected name state, got %+v", res.Next)
	}

	res = form.Advance(tenant, *res.Next, textInput("Ivan"))
	if res.Next.CurrentState != models.StateLeadFormDebt {
		t.Fatalf("expected debt state, got %s", res.Next.CurrentState)
	}
	res = form.Advance(tenant, *res.Next, textInput("500000"))
	if res.Next.CurrentState != models.StateLeadFormIncome {
		t.Fatalf("expected income state, got %s", res.Next.CurrentState)
	}
	res = form.Advance(tenant, *res.Next, textInput("salary"))
	if res.Next.CurrentState != models.StateLeadFormRegion {
		t.Fatalf("expected region state, got %s", res.Next.CurrentState)
	}

	res = form.Advance(tenant, *res.Next, textInput("Moscow"))
	if res.Next != nil {
		t.Fatal("expected terminal state after region")
	}
	leadEffect := findEffect(t, res.Effects, EffectSaveLead)
	if leadEffect == nil {
		t.Fatal("expected a save-lead effect")
	}
	lead := leadEffect.Lead
	if lead.Name != "Ivan" || lead.DebtAmount != "500000" || lead.IncomeSource != "salary" || lead.Region != "Moscow" {
		t.Errorf("unexpected lead: %+v", lead)
	}
	if lead.TenantID != 1 || lead.UserID != "42" {
		t.Errorf("lead not scoped to tenant/user: %+v", lead)
	}
	notify := findEffect(t, res.Effects, EffectNotifyManager)
	if notify == nil {
		t.Fatal("expected a manager notification")
	}
	if !strings.Contains(notify.Text, "Ivan") || !strings.Contains(notify.Text, "Moscow") {
		t.Errorf("notification missing lead details: %q", notify.Text)
	}
	if findEffect(t, res.Effects, EffectSendText) == nil {
		t.Error("expected a thank-you reply")
	}
}

func TestLeadFormCancelDiscardsEverything(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	form := LeadForm{}

	res := form.Start(tenant, "42")
	res = form.Advance(tenant, *res.Next, textInput("Ivan"))
	res = form.Advance(tenant, *res.Next, cancelInput())

	if res.Next != nil {
		t.Error("cancel must terminate the flow")
	}
	if findEffect(t, res.Effects, EffectSaveLead) != nil {
		t.Error("cancel must not save a lead")
	}
	if findEffect(t, res.Effects, EffectNotifyManager) != nil {
		t.Error("cancel must not notify the manager")
	}
}

func TestLeadFormEmptyInputReprompts(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	form := LeadForm{}

	res := form.Start(tenant, "42")
	res = form.Advance(tenant, *res.Next, textInput("   "))
	if res.Next == nil || res.Next.CurrentState != models.StateLeadFormName {
		t.Error("empty input must not advance")
	}
	if len(res.Effects) != 1 || res.Effects[0].Kind != EffectSendText {
		t.Error("expected a re-prompt effect")
	}
}

func TestLeadFormCommandInputReprompts(t *testing.T) {
	tenant := models.Tenant{ID: 1}
	form := LeadForm{}

	res := form.Start(tenant, "42")
	res = form.Advance(tenant, *res.Next, models.InboundEvent{Text: "/help", Command: "help"})

	if res.Next == nil || res.Next.CurrentState != models.StateLeadFormName {
		t.Error("a stray command must not advance the form")
	}
	if got := res.Next.StateData[string(models.DataKeyLeadName)]; got != "" {
		t.Errorf("command text must not be stored as an answer, got %q", got)
	}
	if len(res.Effects) != 1 || res.Effects[0].Text != leadFormReprompt {
		t.Errorf("expected a re-prompt, got %+v", res.Effects)
	}
}

func TestLeadFormLeadMagnetAttached(t *testing.T) {
	tenant := models.Tenant{ID: 1, LeadMagnetID: "file-123"}
	form := LeadForm{}

	res := form.Start(tenant, "42")
	for _, answer := range []string{"Ivan", "500000", "salary", "Moscow"} {
		res = form.Advance(tenant, *res.Next, textInput(answer))
	}
	media := findEffect(t, res.Effects, EffectSendMedia)
	if media == nil {
		t.Fatal("expected the lead magnet to be sent")
	}
	if media.Media.FileID != "file-123" || media.Media.Kind != models.MediaDocument {
		t.Errorf("unexpected media: %+v", media.Media)
	}
}
