package prompt

import (
	"strings"
	"testing"

	"github.com/leadpilot/leadpilot/internal/models"
)

func TestBuildOrdering(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "first question"},
		{Role: models.RoleAssistant, Content: "first answer"},
	}
	facts := []models.RetrievedFact{{Content: "fact one", Score: 0.9}}
	quiz := []models.QuizResult{{Question: "Debt size?", Answer: "Over 300k"}}

	messages := Build("you are a legal assistant", history, quiz, facts, "can I file?")

	// system prompt, quiz context, facts, 2 history turns, question
	if len(messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(messages))
	}
	if messages[0].OfSystem == nil {
		t.Error("expected system prompt first")
	}
	if messages[1].OfSystem == nil || !strings.Contains(messages[1].OfSystem.Content.OfString.Value, "Over 300k") {
		t.Error("expected quiz context as second system message")
	}
	if messages[2].OfSystem == nil || !strings.Contains(messages[2].OfSystem.Content.OfString.Value, "fact one") {
		t.Error("expected facts as third system message")
	}
	if messages[3].OfUser == nil || messages[4].OfAssistant == nil {
		t.Error("expected history to keep roles in order")
	}
	if messages[5].OfUser == nil {
		t.Error("expected the question last")
	}
}

func TestBuildWithoutOptionalParts(t *testing.T) {
	messages := Build("system", nil, nil, nil, "hello")
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	messages = Build("", nil, nil, nil, "hello")
	if len(messages) != 1 {
		t.Fatalf("expected 1 message without system prompt, got %d", len(messages))
	}
}

func TestWindow(t *testing.T) {
	var history []models.Message
	for i := 0; i < 10; i++ {
		history = append(history, models.Message{Content: string(rune('a' + i))})
	}
	w := Window(history, 4)
	if len(w) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(w))
	}
	if w[0].Content != "g" || w[3].Content != "j" {
		t.Errorf("unexpected window bounds: first=%q last=%q", w[0].Content, w[3].Content)
	}
	if got := Window(history[:2], 4); len(got) != 2 {
		t.Errorf("short history must pass through, got %d", len(got))
	}
	if got := Window(history, 0); len(got) != DefaultHistoryWindow {
		t.Errorf("zero limit must use default, got %d", len(got))
	}
}

func TestSanitizeKeepsAllowedTags(t *testing.T) {
	in := `<b>Bankruptcy</b> takes <i>6 months</i>. See <a href="https://example.com">details</a> or <code>art. 127</code> in <pre>text</pre> with <u>emphasis</u>.`
	out := Sanitize(in)
	for _, tag := range []string{"<b>", "</b>", "<i>", "</i>", `<a href="https://example.com">`, "</a>", "<code>", "</code>", "<pre>", "</pre>", "<u>", "</u>"} {
		if !strings.Contains(out, tag) {
			t.Errorf("expected %q to survive, output: %q", tag, out)
		}
	}
}

func TestSanitizeStripsDisallowedTags(t *testing.T) {
	in := `<div class="x"><script>alert(1)</script><h1>Title</h1><span>hi</span></div><b>ok</b>`
	out := Sanitize(in)
	for _, tag := range []string{"<div", "<script", "<h1", "<span", "</div>"} {
		if strings.Contains(out, tag) {
			t.Errorf("expected %q stripped, output: %q", tag, out)
		}
	}
	if !strings.Contains(out, "<b>ok</b>") {
		t.Errorf("allowed tag lost: %q", out)
	}
	// Inner text of stripped tags survives.
	if !strings.Contains(out, "Title") || !strings.Contains(out, "hi") {
		t.Errorf("inner text lost: %q", out)
	}
}

func TestSanitizeCollapsesBlankRuns(t *testing.T) {
	in := "para one\n\n\n\n\npara two\n\npara three"
	out := Sanitize(in)
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("blank runs not collapsed: %q", out)
	}
	if !strings.Contains(out, "para one\n\npara two") {
		t.Errorf("double newline should survive: %q", out)
	}
}

func TestSanitizeTrimsWhitespace(t *testing.T) {
	if got := Sanitize("  \n hello \n "); got != "hello" {
		t.Errorf("expected trimmed output, got %q", got)
	}
}
