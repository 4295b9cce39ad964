package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/leadpilot/leadpilot/internal/models"
)

// MockService is an in-memory Service implementation for tests. It records
// every outbound call and lets tests inject failures per recipient.
type MockService struct {
	mu      sync.Mutex
	Sent    []MockMessage
	Media   []MockMedia
	FailFor map[string]error // recipient -> error returned on send
	Files   map[string][]byte
	events  chan models.InboundEvent
	stopped bool
}

// MockMessage is one recorded outbound text message.
type MockMessage struct {
	To      string
	Body    string
	Options []string
}

// MockMedia is one recorded outbound media message.
type MockMedia struct {
	To      string
	Media   models.Media
	Caption string
}

func NewMockService() *MockService {
	return &MockService{
		FailFor: make(map[string]error),
		Files:   make(map[string][]byte),
		events:  make(chan models.InboundEvent, DefaultChannelBufferSize),
	}
}

func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailFor[to]; err != nil {
		return err
	}
	m.Sent = append(m.Sent, MockMessage{To: to, Body: body})
	return nil
}

func (m *MockService) SendOptions(ctx context.Context, to string, body string, options []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailFor[to]; err != nil {
		return err
	}
	m.Sent = append(m.Sent, MockMessage{To: to, Body: body, Options: options})
	return nil
}

func (m *MockService) SendMedia(ctx context.Context, to string, media models.Media, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailFor[to]; err != nil {
		return err
	}
	m.Media = append(m.Media, MockMedia{To: to, Media: media, Caption: caption})
	return nil
}

func (m *MockService) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[fileID]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return data, nil
}

func (m *MockService) Start(ctx context.Context) error { return nil }

func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.events)
	}
	return nil
}

func (m *MockService) Events() <-chan models.InboundEvent {
	return m.events
}

// Emit feeds an inbound event to consumers, as if the transport received it.
func (m *MockService) Emit(event models.InboundEvent) {
	m.events <- event
}

// LastMessage returns the most recent recorded text message.
func (m *MockService) LastMessage() *MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return &m.Sent[len(m.Sent)-1]
}

// MessagesTo returns all recorded text messages for one recipient.
func (m *MockService) MessagesTo(to string) []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockMessage
	for _, msg := range m.Sent {
		if msg.To == to {
			out = append(out, msg)
		}
	}
	return out
}
