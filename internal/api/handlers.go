package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/models"
)

// DefaultTurnTimeout bounds one webhook-delivered turn. The turn runs
// detached from the request so a slow generation cannot stall the ack.
const DefaultTurnTimeout = 2 * time.Minute

// webhookHandler accepts one Telegram update for the tenant whose bot token
// is in the path. Processing failures are logged but still acknowledged with
// 200, because Telegram retries any other status and a poison update would
// wedge the queue.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.webhookHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/webhook/")
	if token == "" || strings.Contains(token, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown webhook path"))
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode update", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	event, ok := messaging.NormalizeUpdate(update)
	if !ok {
		// Update kinds LeadPilot ignores are acknowledged and dropped.
		writeJSONResponse(w, http.StatusOK, models.Accepted())
		return
	}

	transport := s.transport(token)
	if transport == nil {
		slog.Warn("Server.webhookHandler: no transport registered for token", "from", event.From)
		writeJSONResponse(w, http.StatusOK, models.Accepted())
		return
	}

	// Acknowledge before the turn runs. Telegram redelivers the update if
	// the 200 is slow, and a redelivered update is a duplicate turn. The
	// request context dies with the ack, so the turn gets its own.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTurnTimeout)
		defer cancel()
		if err := s.dispatcher.HandleEvent(ctx, token, event, transport); err != nil {
			slog.Error("Server.webhookHandler: event handling failed", "error", err, "from", event.From)
		}
	}()
	writeJSONResponse(w, http.StatusOK, models.Accepted())
}

// healthHandler provides a health check endpoint for monitoring and load
// balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"tenants":   len(s.registry.All()),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}
