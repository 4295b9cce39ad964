package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/twilio"
)

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through the Twilio webhook rather than a live connection.
type TwilioService struct {
	client  twilio.Sender
	events  chan models.InboundEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService around the given sender.
func NewTwilioService(client twilio.Sender) *TwilioService {
	return &TwilioService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio (inbound traffic arrives via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.events)
	}()

	return nil
}

// Events returns the inbound event channel.
func (s *TwilioService) Events() <-chan models.InboundEvent {
	return s.events
}

// SendMessage sends a message via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, "+"+canonicalTo, body)
}

// SendOptions sends the body with the options rendered as a numbered list,
// since Twilio's Go SDK does not support interactive buttons.
func (s *TwilioService) SendOptions(ctx context.Context, to string, body string, options []string) error {
	return s.SendMessage(ctx, to, renderOptions(body, options))
}

// SendMedia falls back to the caption text; Twilio cannot replay transport
// file IDs issued elsewhere.
func (s *TwilioService) SendMedia(ctx context.Context, to string, media models.Media, caption string) error {
	slog.Warn("TwilioService media attachments unsupported, sending caption only", "to", to, "kind", media.Kind)
	if caption == "" {
		return fmt.Errorf("media attachments are not supported on this transport")
	}
	return s.SendMessage(ctx, to, caption)
}

// DownloadFile is unsupported; Twilio inbound media is not ingested here.
func (s *TwilioService) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, fmt.Errorf("file download is not supported on this transport")
}

// WebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as InboundEvents.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := strings.TrimPrefix(r.FormValue("From"), "whatsapp:")
	body := r.FormValue("Body")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	event := models.InboundEvent{
		From: phoneNumberRegex.ReplaceAllString(from, ""),
		Text: body,
		Time: time.Now(),
	}
	if strings.HasPrefix(body, "/") {
		parts := strings.SplitN(strings.TrimPrefix(body, "/"), " ", 2)
		event.Command = parts[0]
		if len(parts) > 1 {
			event.Args = strings.TrimSpace(parts[1])
		}
	}

	s.safeEmit(event)

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmit pushes an event into the channel unless the service has stopped.
func (s *TwilioService) safeEmit(event models.InboundEvent) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "from", event.From)
		return
	}

	select {
	case s.events <- event:
		slog.Debug("TwilioService emitted inbound event", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService events channel blocked, dropping message", "from", event.From)
	}
}
