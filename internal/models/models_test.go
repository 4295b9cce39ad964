package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseQuizSchemaValid(t *testing.T) {
	data := []byte(`[
		{"question": "How large is your debt?", "answers": [{"text": "Under 300k"}, {"text": "Over 300k"}]},
		{"question": "Do you own property?", "answers": [{"text": "Yes"}, {"text": "No"}]}
	]`)
	schema, err := ParseQuizSchema(data)
	if err != nil {
		t.Fatalf("ParseQuizSchema returned error for valid schema: %v", err)
	}
	if len(schema) != 2 {
		t.Errorf("expected 2 questions, got %d", len(schema))
	}
	if schema[0].Question != "How large is your debt?" {
		t.Errorf("unexpected first question: %q", schema[0].Question)
	}
	if len(schema[1].Answers) != 2 {
		t.Errorf("expected 2 answers on second question, got %d", len(schema[1].Answers))
	}
}

func TestParseQuizSchemaInvalidJSON(t *testing.T) {
	_, err := ParseQuizSchema([]byte(`{not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("expected invalid JSON error, got %v", err)
	}
}

func TestParseQuizSchemaFieldErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"empty array", `[]`, "at least one question"},
		{"missing question", `[{"answers": [{"text": "A"}]}]`, `question 1: missing or empty "question" field`},
		{"missing answers", `[{"question": "Q?"}]`, `question 1: missing or empty "answers" field`},
		{"empty answer text", `[{"question": "Q?", "answers": [{"text": "A"}, {"text": ""}]}]`, `question 1, answer 2: missing or empty "text" field`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseQuizSchema([]byte(tc.data))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected error containing %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestBroadcastJobValidate(t *testing.T) {
	job := BroadcastJob{Body: ""}
	if err := job.Validate(); !errors.Is(err, ErrEmptyBroadcastBody) {
		t.Errorf("expected ErrEmptyBroadcastBody, got %v", err)
	}

	job.Body = strings.Repeat("a", MaxBroadcastBodyLength+1)
	if err := job.Validate(); !errors.Is(err, ErrBroadcastBodyTooLong) {
		t.Errorf("expected ErrBroadcastBodyTooLong, got %v", err)
	}

	job.Body = "hello everyone"
	if err := job.Validate(); err != nil {
		t.Errorf("expected nil for valid body, got %v", err)
	}
}

func TestTenantHelpers(t *testing.T) {
	tenant := Tenant{ManagerContact: "100200300"}
	if tenant.HasQuiz() {
		t.Error("expected HasQuiz to be false without a schema")
	}
	tenant.QuizSchema = QuizSchema{{Question: "Q?", Answers: []QuizAnswer{{Text: "A"}}}}
	if !tenant.HasQuiz() {
		t.Error("expected HasQuiz to be true with a schema")
	}

	if !tenant.IsManager("100200300") {
		t.Error("expected manager contact to match")
	}
	if tenant.IsManager("999") {
		t.Error("expected non-manager to be rejected")
	}
	empty := Tenant{}
	if empty.IsManager("") {
		t.Error("tenant without manager contact must match nobody")
	}
}

func TestUserQuizDone(t *testing.T) {
	u := User{}
	if u.QuizDone() {
		t.Error("expected QuizDone false for fresh user")
	}
	now := time.Now()
	u.QuizCompletedAt = &now
	if !u.QuizDone() {
		t.Error("expected QuizDone true after completion timestamp set")
	}
}

func TestInboundEventIsCommand(t *testing.T) {
	e := InboundEvent{Text: "hello"}
	if e.IsCommand() {
		t.Error("plain text must not be a command")
	}
	e = InboundEvent{Text: "/start utm_vk", Command: "start", Args: "utm_vk"}
	if !e.IsCommand() {
		t.Error("expected command event")
	}
}
