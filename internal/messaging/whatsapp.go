package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// phoneNumberRegex strips everything but digits from a recipient.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // Access to underlying client for event handling
	events   chan models.InboundEvent
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number. It removes all non-numeric characters and validates the
// result has at least 6 digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.events)
	return nil
}

// Events returns the inbound event channel.
func (s *WhatsAppService) Events() <-chan models.InboundEvent {
	return s.events
}

// SendMessage sends a text message to a WhatsApp recipient.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendOptions sends the body with the options rendered as a numbered list,
// since WhatsApp has no inline keyboards here. Users reply with the option text.
func (s *WhatsAppService) SendOptions(ctx context.Context, to string, body string, options []string) error {
	return s.SendMessage(ctx, to, renderOptions(body, options))
}

// SendMedia cannot replay transport file IDs over WhatsApp, so it falls back
// to the caption text when one is present.
func (s *WhatsAppService) SendMedia(ctx context.Context, to string, media models.Media, caption string) error {
	slog.Warn("WhatsAppService media attachments unsupported, sending caption only", "to", to, "kind", media.Kind)
	if caption == "" {
		return fmt.Errorf("media attachments are not supported on this transport")
	}
	return s.SendMessage(ctx, to, caption)
}

// DownloadFile is unsupported; WhatsApp inbound media is not ingested here.
func (s *WhatsAppService) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	return nil, fmt.Errorf("file download is not supported on this transport")
}

// handleEvents processes WhatsApp events and feeds them into the events channel
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if v, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(v)
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	select {
	case <-ctx.Done():
		slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
	case <-s.done:
	}
}

// handleIncomingMessage normalizes incoming text messages into InboundEvents
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	// Extract text content
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	event := models.InboundEvent{
		From: evt.Info.Sender.User,
		Text: messageText,
		Time: evt.Info.Timestamp,
	}
	if strings.HasPrefix(messageText, "/") {
		parts := strings.SplitN(strings.TrimPrefix(messageText, "/"), " ", 2)
		event.Command = parts[0]
		if len(parts) > 1 {
			event.Args = strings.TrimSpace(parts[1])
		}
	}

	select {
	case s.events <- event:
		slog.Debug("WhatsAppService incoming message forwarded", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping message", "from", event.From, "timeout", DefaultChannelTimeout)
	}
}
