package flow

import (
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/internal/models"
)

// Lead form copy.
const (
	leadFormAskName   = "Let's get a few details so a specialist can prepare your consultation. What is your name?"
	leadFormAskDebt   = "What is your approximate total debt?"
	leadFormAskIncome = "What is your main source of income?"
	leadFormAskRegion = "Which region do you live in?"
	leadFormThanks    = "Thank you! A specialist will contact you shortly."
	leadFormCancelled = "Okay, cancelled. You can just ask me a question instead."
	leadFormReprompt  = "Please type an answer, or /cancel to stop."
)

// LeadForm collects a prospective customer's details step by step.
type LeadForm struct{}

// Start begins the form for a user. The returned state must be saved and the
// effects performed by the caller.
func (LeadForm) Start(tenant models.Tenant, userID string) Result {
	return Result{
		Next: &models.FlowState{
			TenantID:     tenant.ID,
			UserID:       userID,
			FlowType:     models.FlowTypeLeadForm,
			CurrentState: models.StateLeadFormName,
			StateData:    map[string]string{},
		},
		Effects: []Effect{sendText(leadFormAskName)},
	}
}

// Advance applies one input to the form. Empty input re-prompts without
// advancing; /cancel discards the form from any state.
func (LeadForm) Advance(tenant models.Tenant, state models.FlowState, in models.InboundEvent) Result {
	if isCancel(in) {
		return Result{Effects: []Effect{sendText(leadFormCancelled)}}
	}
	// Slash commands are never form answers; re-prompt without advancing.
	if in.Command != "" {
		return Result{Next: &state, Effects: []Effect{sendText(leadFormReprompt)}}
	}
	answer := strings.TrimSpace(in.Text)
	if answer == "" {
		return Result{Next: &state, Effects: []Effect{sendText(leadFormReprompt)}}
	}

	switch state.CurrentState {
	case models.StateLeadFormName:
		state.StateData[string(models.DataKeyLeadName)] = answer
		state.CurrentState = models.StateLeadFormDebt
		return Result{Next: &state, Effects: []Effect{sendText(leadFormAskDebt)}}

	case models.StateLeadFormDebt:
		state.StateData[string(models.DataKeyLeadDebt)] = answer
		state.CurrentState = models.StateLeadFormIncome
		return Result{Next: &state, Effects: []Effect{sendText(leadFormAskIncome)}}

	case models.StateLeadFormIncome:
		state.StateData[string(models.DataKeyLeadIncome)] = answer
		state.CurrentState = models.StateLeadFormRegion
		return Result{Next: &state, Effects: []Effect{sendText(leadFormAskRegion)}}

	case models.StateLeadFormRegion:
		lead := models.Lead{
			TenantID:     tenant.ID,
			UserID:       state.UserID,
			Name:         state.StateData[string(models.DataKeyLeadName)],
			DebtAmount:   state.StateData[string(models.DataKeyLeadDebt)],
			IncomeSource: state.StateData[string(models.DataKeyLeadIncome)],
			Region:       answer,
		}
		effects := []Effect{
			{Kind: EffectSaveLead, Lead: &lead},
			{Kind: EffectNotifyManager, Text: leadSummary(lead)},
			sendText(leadFormThanks),
		}
		if tenant.LeadMagnetID != "" {
			effects = append(effects, Effect{
				Kind:  EffectSendMedia,
				Media: &models.Media{Kind: models.MediaDocument, FileID: tenant.LeadMagnetID},
			})
		}
		return Result{Effects: effects}

	default:
		// Unknown state, restart cleanly.
		return LeadForm{}.Start(tenant, state.UserID)
	}
}

// leadSummary formats the manager notification for a new lead.
func leadSummary(l models.Lead) string {
	return fmt.Sprintf("New lead!\nName: %s\nDebt: %s\nIncome: %s\nRegion: %s\nUser: %s",
		l.Name, l.DebtAmount, l.IncomeSource, l.Region, l.UserID)
}
