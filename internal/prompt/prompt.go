// Package prompt assembles chat completion requests and polices reply markup.
//
// Assembly is pure: given the tenant's system prompt, the user's recent
// history, completed quiz answers and retrieved facts, Build returns the
// ordered message list for the generation client.
package prompt

import (
	"fmt"
	"strings"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/openai/openai-go"
)

// DefaultHistoryWindow is the number of recent messages included per turn.
const DefaultHistoryWindow = 4

// factsPreamble frames retrieved facts as the primary evidence for the
// answer; prior dialogue is auxiliary context only.
const factsPreamble = "Use the following knowledge base excerpts as the primary source for your answer. Prefer them over anything said earlier in the conversation. If they do not cover the question, say what you know and offer to connect the user with a specialist."

// quizPreamble folds completed quiz answers into the session-level
// instructions.
const quizPreamble = "The user has completed the qualification quiz. Take their answers into account for the rest of the conversation:"

// Build returns the ordered role-tagged message list for one turn. History is
// expected most-recent-last; the caller applies the window.
func Build(systemPrompt string, history []models.Message, quizResults []models.QuizResult, facts []models.RetrievedFact, question string) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	if len(quizResults) > 0 {
		var b strings.Builder
		b.WriteString(quizPreamble)
		for _, r := range quizResults {
			fmt.Fprintf(&b, "\n- %s: %s", r.Question, r.Answer)
		}
		messages = append(messages, openai.SystemMessage(b.String()))
	}
	if len(facts) > 0 {
		var b strings.Builder
		b.WriteString(factsPreamble)
		for i, f := range facts {
			fmt.Fprintf(&b, "\n\n[%d] %s", i+1, f.Content)
		}
		messages = append(messages, openai.SystemMessage(b.String()))
	}
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(question))
	return messages
}

// Window returns the last n messages of history.
func Window(history []models.Message, n int) []models.Message {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
