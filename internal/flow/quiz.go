package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/leadpilot/leadpilot/internal/models"
)

// Quiz copy.
const (
	quizThanks      = "Thanks, that's all the questions! I'll take your answers into account. Ask me anything."
	quizCancelled   = "Okay, quiz cancelled. You can take it later with /quiz."
	quizPickAnswer  = "Please pick one of the options below."
	quizUnavailable = "There is no quiz available right now."
)

// Quiz runs the tenant's single-choice qualification quiz.
type Quiz struct{}

// Start presents the first question. The caller gates re-entry: a user with a
// completed cycle never reaches Start.
func (Quiz) Start(tenant models.Tenant, userID string) Result {
	if !tenant.HasQuiz() {
		return Result{Effects: []Effect{sendText(quizUnavailable)}}
	}
	state := models.FlowState{
		TenantID:     tenant.ID,
		UserID:       userID,
		FlowType:     models.FlowTypeQuiz,
		CurrentState: models.StateQuizQuestion,
		StateData:    map[string]string{string(models.DataKeyQuizIndex): "0"},
	}
	return Result{
		Next:    &state,
		Effects: []Effect{questionEffect(tenant.QuizSchema, 0)},
	}
}

// Advance applies one answer. An answer that matches no option re-presents
// the question without advancing.
func (Quiz) Advance(tenant models.Tenant, state models.FlowState, in models.InboundEvent) Result {
	if isCancel(in) {
		return Result{Effects: []Effect{sendText(quizCancelled)}}
	}
	schema := tenant.QuizSchema
	if len(schema) == 0 {
		return Result{Effects: []Effect{sendText(quizUnavailable)}}
	}

	idx, err := strconv.Atoi(state.StateData[string(models.DataKeyQuizIndex)])
	if err != nil || idx < 0 || idx >= len(schema) {
		// Corrupt index, restart.
		return Quiz{}.Start(tenant, state.UserID)
	}

	answer := answerInput(in)
	question := schema[idx]
	if !matchesAnswer(question, answer) {
		return Result{Next: &state, Effects: []Effect{
			sendText(quizPickAnswer),
			questionEffect(schema, idx),
		}}
	}

	results := decodeResults(state.StateData[string(models.DataKeyQuizResults)])
	results = append(results, models.QuizResult{
		Question: stripNumbering(question.Question),
		Answer:   answer,
	})

	if idx == len(schema)-1 {
		return Result{Effects: []Effect{
			{Kind: EffectSaveQuizResults, QuizResults: results},
			{Kind: EffectNotifyManager, Text: quizSummary(state.UserID, results)},
			sendText(quizThanks),
		}}
	}

	state.StateData[string(models.DataKeyQuizIndex)] = strconv.Itoa(idx + 1)
	state.StateData[string(models.DataKeyQuizResults)] = encodeResults(results)
	return Result{Next: &state, Effects: []Effect{questionEffect(schema, idx + 1)}}
}

// questionEffect renders question i with its numbering and answer options.
func questionEffect(schema models.QuizSchema, i int) Effect {
	q := schema[i]
	options := make([]string, len(q.Answers))
	for j, a := range q.Answers {
		options[j] = a.Text
	}
	text := fmt.Sprintf("%d/%d. %s", i+1, len(schema), stripNumbering(q.Question))
	return sendText(text, options...)
}

// matchesAnswer reports whether the input equals one of the question's
// options.
func matchesAnswer(q models.QuizQuestion, answer string) bool {
	for _, a := range q.Answers {
		if a.Text == answer {
			return true
		}
	}
	return false
}

func quizSummary(userID string, results []models.QuizResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Quiz completed by user %s:", userID)
	for _, r := range results {
		fmt.Fprintf(&b, "\n- %s: %s", r.Question, r.Answer)
	}
	return b.String()
}

func encodeResults(results []models.QuizResult) string {
	data, err := json.Marshal(results)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeResults(data string) []models.QuizResult {
	if data == "" {
		return nil
	}
	var results []models.QuizResult
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		return nil
	}
	return results
}
