// Package flow implements the guided conversation flows: the lead form, the
// qualification quiz and the admin broadcast wizard.
//
// Each flow is a set of pure transition functions over (state, input) that
// return the next state and a list of effects. The caller persists the state
// through a StateManager and performs the effects; the transitions themselves
// touch nothing.
package flow

import (
	"regexp"
	"strings"

	"github.com/leadpilot/leadpilot/internal/models"
)

// EffectKind identifies what the caller must do after a transition.
type EffectKind string

const (
	// EffectSendText sends a text reply, optionally with inline options.
	EffectSendText EffectKind = "send_text"
	// EffectSendMedia sends an attachment by transport file ID.
	EffectSendMedia EffectKind = "send_media"
	// EffectSaveLead persists a captured lead.
	EffectSaveLead EffectKind = "save_lead"
	// EffectSaveQuizResults persists the completed quiz answers.
	EffectSaveQuizResults EffectKind = "save_quiz_results"
	// EffectNotifyManager sends a text to the tenant's manager contact.
	EffectNotifyManager EffectKind = "notify_manager"
	// EffectStartBroadcast launches a broadcast job.
	EffectStartBroadcast EffectKind = "start_broadcast"
)

// Effect is one action produced by a transition.
type Effect struct {
	Kind        EffectKind
	Text        string
	Options     []string // inline choices presented with the text
	Media       *models.Media
	Lead        *models.Lead
	QuizResults []models.QuizResult
	Broadcast   *models.BroadcastJob
}

// Result is the outcome of one transition. A nil Next means the flow ended
// and its state should be deleted.
type Result struct {
	Next    *models.FlowState
	Effects []Effect
}

// sendText is a shorthand for a text effect.
func sendText(text string, options ...string) Effect {
	return Effect{Kind: EffectSendText, Text: text, Options: options}
}

// isCancel reports whether the input aborts the active flow.
func isCancel(in models.InboundEvent) bool {
	return in.Command == "cancel"
}

// leadingNumbering matches "1.", "2/4." and similar prefixes on question
// text, which are presentation only and must not reach the stored record.
var leadingNumbering = regexp.MustCompile(`^\s*\d+\s*(?:/\s*\d+\s*)?[.)/]\s*`)

// stripNumbering removes a leading question number from recorded text.
func stripNumbering(question string) string {
	return strings.TrimSpace(leadingNumbering.ReplaceAllString(question, ""))
}

// answerInput extracts the user's chosen option: callback data when present,
// plain text otherwise.
func answerInput(in models.InboundEvent) string {
	if in.Callback != "" {
		return in.Callback
	}
	return strings.TrimSpace(in.Text)
}
