package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/leadpilot/leadpilot/internal/models"
)

// DefaultPollTimeout is the long-poll timeout in seconds.
const DefaultPollTimeout = 60

// TelegramService implements Service over the Telegram Bot API with one
// long-poll loop per instance. Replies go out with HTML formatting and fall
// back to plain text when Telegram rejects the markup.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	events chan models.InboundEvent
	done   chan struct{}
}

// NewTelegramService creates a service bound to one bot token.
func NewTelegramService(token string) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Error("TelegramService connection failed", "error", err)
		return nil, fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	slog.Info("TelegramService connected", "username", bot.Self.UserName)
	return &TelegramService{
		bot:    bot,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient requires a numeric Telegram chat ID.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if _, err := strconv.ParseInt(trimmed, 10, 64); err != nil {
		return "", fmt.Errorf("invalid Telegram chat ID %q: %w", recipient, err)
	}
	return trimmed, nil
}

// Start begins the long-poll loop.
func (s *TelegramService) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultPollTimeout
	updates := s.bot.GetUpdatesChan(u)

	go func() {
		slog.Debug("TelegramService update loop starting", "username", s.bot.Self.UserName)
		for {
			select {
			case <-ctx.Done():
				slog.Debug("TelegramService update loop stopping due to context cancellation")
				return
			case <-s.done:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				s.handleUpdate(update)
			}
		}
	}()
	return nil
}

// Stop stops the update loop and closes the event channel.
func (s *TelegramService) Stop() error {
	slog.Info("TelegramService Stop invoked")
	s.bot.StopReceivingUpdates()
	close(s.done)
	close(s.events)
	return nil
}

// Events returns the inbound event channel.
func (s *TelegramService) Events() <-chan models.InboundEvent {
	return s.events
}

// SendMessage sends HTML-formatted text, retrying as plain text when Telegram
// rejects the markup.
func (s *TelegramService) SendMessage(ctx context.Context, to string, body string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Telegram chat ID %q: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		slog.Warn("TelegramService HTML send rejected, retrying as plain text", "error", err, "to", to)
		plain := tgbotapi.NewMessage(chatID, body)
		if _, err := s.bot.Send(plain); err != nil {
			slog.Error("TelegramService SendMessage failed", "error", err, "to", to)
			return fmt.Errorf("failed to send message to %s: %w", to, err)
		}
	}
	slog.Debug("TelegramService message sent", "to", to, "body_length", len(body))
	return nil
}

// SendOptions sends text with an inline keyboard of single-choice options.
func (s *TelegramService) SendOptions(ctx context.Context, to string, body string, options []string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Telegram chat ID %q: %w", to, err)
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, option := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(option, option)))
	}
	msg := tgbotapi.NewMessage(chatID, body)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := s.bot.Send(msg); err != nil {
		slog.Error("TelegramService SendOptions failed", "error", err, "to", to)
		return fmt.Errorf("failed to send options to %s: %w", to, err)
	}
	slog.Debug("TelegramService options sent", "to", to, "options", len(options))
	return nil
}

// SendMedia sends a photo or document by file ID.
func (s *TelegramService) SendMedia(ctx context.Context, to string, media models.Media, caption string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid Telegram chat ID %q: %w", to, err)
	}
	var chattable tgbotapi.Chattable
	switch media.Kind {
	case models.MediaPhoto:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(media.FileID))
		photo.Caption = caption
		chattable = photo
	case models.MediaDocument:
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(media.FileID))
		doc.Caption = caption
		chattable = doc
	default:
		return fmt.Errorf("unsupported media kind %q", media.Kind)
	}
	if _, err := s.bot.Send(chattable); err != nil {
		slog.Error("TelegramService SendMedia failed", "error", err, "to", to, "kind", media.Kind)
		return fmt.Errorf("failed to send %s to %s: %w", media.Kind, to, err)
	}
	slog.Debug("TelegramService media sent", "to", to, "kind", media.Kind)
	return nil
}

// MaxDownloadSize bounds admin uploads; quiz schemas are small JSON files.
const MaxDownloadSize = 1 << 20

// DownloadFile fetches an uploaded file's content from Telegram's file API.
func (s *TelegramService) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := s.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build file request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download file %s: status %d", fileID, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", fileID, err)
	}
	return data, nil
}

// NormalizeUpdate converts one Telegram update into an InboundEvent. The
// second return is false for update kinds LeadPilot ignores.
func NormalizeUpdate(update tgbotapi.Update) (models.InboundEvent, bool) {
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		event := models.InboundEvent{
			From:     strconv.FormatInt(cq.Message.Chat.ID, 10),
			Callback: cq.Data,
			Time:     time.Now(),
		}
		if cq.From != nil {
			event.Username = cq.From.UserName
			event.FirstName = cq.From.FirstName
		}
		return event, true

	case update.Message != nil:
		m := update.Message
		event := models.InboundEvent{
			From: strconv.FormatInt(m.Chat.ID, 10),
			Text: m.Text,
			Time: m.Time(),
		}
		if m.From != nil {
			event.Username = m.From.UserName
			event.FirstName = m.From.FirstName
		}
		if m.IsCommand() {
			event.Command = m.Command()
			event.Args = m.CommandArguments()
		}
		if m.Document != nil {
			event.Document = &models.Media{Kind: models.MediaDocument, FileID: m.Document.FileID}
		}
		if len(m.Photo) > 0 {
			// The last size is the largest.
			event.Photo = &models.Media{Kind: models.MediaPhoto, FileID: m.Photo[len(m.Photo)-1].FileID}
		}
		return event, true

	default:
		return models.InboundEvent{}, false
	}
}

// handleUpdate acknowledges callbacks and forwards the normalized event.
func (s *TelegramService) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		// Acknowledge so the client stops its spinner.
		if _, err := s.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			slog.Warn("TelegramService callback ack failed", "error", err)
		}
	}

	event, ok := NormalizeUpdate(update)
	if !ok {
		return
	}

	select {
	case s.events <- event:
		slog.Debug("TelegramService event forwarded", "from", event.From, "command", event.Command)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService events channel blocked, dropping update", "from", event.From, "timeout", DefaultChannelTimeout)
	}
}
