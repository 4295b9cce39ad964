package flow

import (
	"encoding/json"
	"fmt"

	"github.com/leadpilot/leadpilot/internal/models"
)

// Broadcast wizard copy and option labels.
const (
	broadcastAskBody   = "Send me the broadcast message text."
	broadcastAskMedia  = "Now send a photo or document to attach, or /skip to send text only."
	broadcastCancelled = "Broadcast cancelled."
	broadcastStarted   = "Broadcast started. I'll send you a summary when it finishes."
	broadcastBodyEmpty = "The message text cannot be empty. Send the text, or /cancel."
	broadcastTooLong   = "That message is too long. Send a shorter text, or /cancel."
	broadcastBadMedia  = "Send a photo or a document, /skip to attach nothing, or /cancel."

	// Confirmation options.
	BroadcastOptionSend   = "Send"
	BroadcastOptionEdit   = "Edit"
	BroadcastOptionCancel = "Cancel"
)

// BroadcastWizard walks the tenant's manager through composing a broadcast.
// The dispatcher verifies the manager identity before starting or advancing
// the wizard; a non-manager never reaches these transitions.
type BroadcastWizard struct{}

// Start begins the wizard for the manager.
func (BroadcastWizard) Start(tenant models.Tenant, userID string) Result {
	return Result{
		Next: &models.FlowState{
			TenantID:     tenant.ID,
			UserID:       userID,
			FlowType:     models.FlowTypeBroadcastWizard,
			CurrentState: models.StateBroadcastBody,
			StateData:    map[string]string{},
		},
		Effects: []Effect{sendText(broadcastAskBody)},
	}
}

// Advance applies one input to the wizard.
func (BroadcastWizard) Advance(tenant models.Tenant, state models.FlowState, in models.InboundEvent) Result {
	if isCancel(in) {
		return Result{Effects: []Effect{sendText(broadcastCancelled)}}
	}

	switch state.CurrentState {
	case models.StateBroadcastBody:
		body := in.Text
		if body == "" {
			return Result{Next: &state, Effects: []Effect{sendText(broadcastBodyEmpty)}}
		}
		if len(body) > models.MaxBroadcastBodyLength {
			return Result{Next: &state, Effects: []Effect{sendText(broadcastTooLong)}}
		}
		state.StateData[string(models.DataKeyBroadcastBody)] = body
		state.CurrentState = models.StateBroadcastMedia
		return Result{Next: &state, Effects: []Effect{sendText(broadcastAskMedia)}}

	case models.StateBroadcastMedia:
		switch {
		case in.Command == "skip":
			delete(state.StateData, string(models.DataKeyBroadcastMedia))
		case in.Photo != nil:
			state.StateData[string(models.DataKeyBroadcastMedia)] = encodeMedia(*in.Photo)
		case in.Document != nil:
			state.StateData[string(models.DataKeyBroadcastMedia)] = encodeMedia(*in.Document)
		default:
			return Result{Next: &state, Effects: []Effect{sendText(broadcastBadMedia)}}
		}
		state.CurrentState = models.StateBroadcastConfirm
		return Result{Next: &state, Effects: []Effect{previewEffect(state)}}

	case models.StateBroadcastConfirm:
		switch answerInput(in) {
		case BroadcastOptionSend:
			job := models.BroadcastJob{
				TenantID:    tenant.ID,
				Body:        state.StateData[string(models.DataKeyBroadcastBody)],
				Media:       decodeMedia(state.StateData[string(models.DataKeyBroadcastMedia)]),
				AdminChatID: state.UserID,
				Status:      models.BroadcastPending,
			}
			return Result{Effects: []Effect{
				{Kind: EffectStartBroadcast, Broadcast: &job},
				sendText(broadcastStarted),
			}}
		case BroadcastOptionEdit:
			state.CurrentState = models.StateBroadcastBody
			delete(state.StateData, string(models.DataKeyBroadcastMedia))
			return Result{Next: &state, Effects: []Effect{sendText(broadcastAskBody)}}
		case BroadcastOptionCancel:
			return Result{Effects: []Effect{sendText(broadcastCancelled)}}
		default:
			return Result{Next: &state, Effects: []Effect{previewEffect(state)}}
		}

	default:
		return BroadcastWizard{}.Start(tenant, state.UserID)
	}
}

// previewEffect shows the composed broadcast with the confirm options.
func previewEffect(state models.FlowState) Effect {
	text := fmt.Sprintf("Here is your broadcast:\n\n%s", state.StateData[string(models.DataKeyBroadcastBody)])
	if media := decodeMedia(state.StateData[string(models.DataKeyBroadcastMedia)]); media != nil {
		text += fmt.Sprintf("\n\n(with %s attached)", media.Kind)
	}
	return sendText(text, BroadcastOptionSend, BroadcastOptionEdit, BroadcastOptionCancel)
}

func encodeMedia(m models.Media) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeMedia(data string) *models.Media {
	if data == "" {
		return nil
	}
	var m models.Media
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil
	}
	return &m
}
