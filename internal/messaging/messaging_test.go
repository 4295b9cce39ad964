package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/twilio"
)

func TestRenderOptions(t *testing.T) {
	got := renderOptions("Pick one:", []string{"Yes", "No"})
	want := "Pick one:\n\n1. Yes\n2. No"
	if got != want {
		t.Errorf("renderOptions = %q, want %q", got, want)
	}

	if got := renderOptions("No options", nil); got != "No options" {
		t.Errorf("expected body unchanged, got %q", got)
	}
}

func TestTelegramValidateRecipient(t *testing.T) {
	s := &TelegramService{}

	got, err := s.ValidateAndCanonicalizeRecipient(" 123456789 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "123456789" {
		t.Errorf("expected trimmed chat ID, got %q", got)
	}

	if _, err := s.ValidateAndCanonicalizeRecipient("not-a-number"); err == nil {
		t.Error("expected error for non-numeric chat ID")
	}
}

func TestWhatsAppValidateRecipient(t *testing.T) {
	s := NewWhatsAppService(nil)

	got, err := s.ValidateAndCanonicalizeRecipient("+1 (555) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "15551234567" {
		t.Errorf("expected digits only, got %q", got)
	}

	if _, err := s.ValidateAndCanonicalizeRecipient(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("123"); err == nil {
		t.Error("expected error for too-short number")
	}
	if _, err := s.ValidateAndCanonicalizeRecipient("abc"); err == nil {
		t.Error("expected error when no digits remain")
	}
}

func TestTwilioServiceSendCanonicalizes(t *testing.T) {
	mock := twilio.NewMockClient()
	s := NewTwilioService(mock)

	if err := s.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "+15551234567" {
		t.Errorf("expected canonical E.164 recipient, got %q", mock.SentMessages[0].To)
	}
}

func TestTwilioServiceSendOptionsRendersNumberedList(t *testing.T) {
	mock := twilio.NewMockClient()
	s := NewTwilioService(mock)

	err := s.SendOptions(context.Background(), "15551234567", "Confirm?", []string{"Send", "Edit", "Cancel"})
	if err != nil {
		t.Fatalf("SendOptions failed: %v", err)
	}
	body := mock.SentMessages[0].Body
	if !strings.Contains(body, "1. Send") || !strings.Contains(body, "3. Cancel") {
		t.Errorf("options not rendered as numbered list: %q", body)
	}
}

func TestTwilioServiceStoppedRejectsSends(t *testing.T) {
	s := NewTwilioService(twilio.NewMockClient())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.SendMessage(context.Background(), "15551234567", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	// Second stop is a no-op.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestTwilioWebhookEmitsEvent(t *testing.T) {
	s := NewTwilioService(twilio.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "hello there")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	select {
	case event := <-s.Events():
		if event.From != "15551234567" {
			t.Errorf("expected digits-only sender, got %q", event.From)
		}
		if event.Text != "hello there" {
			t.Errorf("unexpected text: %q", event.Text)
		}
	default:
		t.Fatal("expected an inbound event")
	}
}

func TestTwilioWebhookParsesCommands(t *testing.T) {
	s := NewTwilioService(twilio.NewMockClient())

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "/start promo_june")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.WebhookHandler(rec, req)

	event := <-s.Events()
	if event.Command != "start" || event.Args != "promo_june" {
		t.Errorf("command not parsed: %+v", event)
	}
}

func TestTwilioWebhookRejectsMissingFields(t *testing.T) {
	s := NewTwilioService(twilio.NewMockClient())

	form := url.Values{}
	form.Set("Body", "no sender")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	s.WebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMockServiceRecordsAndFails(t *testing.T) {
	m := NewMockService()
	m.FailFor["13"] = context.DeadlineExceeded

	if err := m.SendMessage(context.Background(), "42", "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if err := m.SendMessage(context.Background(), "13", "hi"); err == nil {
		t.Error("expected injected failure")
	}
	if err := m.SendMedia(context.Background(), "42", models.Media{Kind: models.MediaPhoto, FileID: "f"}, "cap"); err != nil {
		t.Fatalf("SendMedia failed: %v", err)
	}

	if last := m.LastMessage(); last == nil || last.To != "42" {
		t.Errorf("unexpected last message: %+v", last)
	}
	if got := m.MessagesTo("42"); len(got) != 1 {
		t.Errorf("expected 1 message to 42, got %d", len(got))
	}
	if len(m.Media) != 1 {
		t.Errorf("expected 1 media send, got %d", len(m.Media))
	}
}
