// Package messaging abstracts the chat transports LeadPilot serves tenants
// on. Each tenant gets one Service instance bound to its own credentials.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
)

// ErrServiceStopped is returned when a send is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// Constants for transport channel configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and provides a channel of inbound events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// This allows each transport to implement its own recipient rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a formatted text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendOptions sends a text message with inline single-choice options.
	SendOptions(ctx context.Context, to string, body string, options []string) error

	// SendMedia sends an attachment referenced by transport file ID.
	SendMedia(ctx context.Context, to string, media models.Media, caption string) error

	// DownloadFile fetches an uploaded file's content by transport file ID.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// Start begins background processing (e.g., polling for updates).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Events returns a channel of normalized inbound events.
	Events() <-chan models.InboundEvent
}

// renderOptions appends a numbered option list to the body for transports
// without inline keyboards. Users reply with the option text itself.
func renderOptions(body string, options []string) string {
	if len(options) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, option := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, option)
	}
	return b.String()
}
