// Package registry holds the in-memory tenant snapshot.
//
// Tenants are loaded from the store at startup and resolved by bot token on
// every inbound event. The snapshot is read-mostly; admin hot-updates persist
// through the store first and then swap the snapshot entry, so in-flight turns
// keep the tenant value they already resolved.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/store"
)

// Registry resolves bot tokens to tenants.
type Registry struct {
	store store.Store

	mu      sync.RWMutex
	byToken map[string]models.Tenant
	byID    map[int64]models.Tenant
}

// New creates a registry and loads the initial snapshot from the store.
func New(st store.Store) (*Registry, error) {
	r := &Registry{
		store:   st,
		byToken: make(map[string]models.Tenant),
		byID:    make(map[int64]models.Tenant),
	}
	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	return r, nil
}

// Reload rebuilds the snapshot from the store. On failure the last-known-good
// snapshot stays in place.
func (r *Registry) Reload() error {
	tenants, err := r.store.ListTenants()
	if err != nil {
		slog.Error("Registry.Reload: listing tenants failed, keeping current snapshot", "error", err)
		return err
	}
	byToken := make(map[string]models.Tenant, len(tenants))
	byID := make(map[int64]models.Tenant, len(tenants))
	for _, t := range tenants {
		byToken[t.BotToken] = t
		byID[t.ID] = t
	}
	r.mu.Lock()
	r.byToken = byToken
	r.byID = byID
	r.mu.Unlock()
	slog.Info("Registry.Reload: tenant snapshot rebuilt", "tenants", len(tenants))
	return nil
}

// Resolve returns the tenant registered under the given bot token.
func (r *Registry) Resolve(botToken string) (models.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byToken[botToken]
	return t, ok
}

// Get returns the tenant with the given ID.
func (r *Registry) Get(tenantID int64) (models.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[tenantID]
	return t, ok
}

// All returns the current snapshot of tenants.
func (r *Registry) All() []models.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := make([]models.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		tenants = append(tenants, t)
	}
	return tenants
}

// UpdateSystemPrompt persists a new system prompt and swaps the snapshot
// entry. The store write happens first; a failed write leaves the snapshot
// untouched.
func (r *Registry) UpdateSystemPrompt(tenantID int64, prompt string) error {
	if len(prompt) > models.MaxSystemPromptLength {
		return models.ErrSystemPromptTooLong
	}
	if err := r.store.UpdateTenantSystemPrompt(tenantID, prompt); err != nil {
		slog.Error("Registry.UpdateSystemPrompt: store update failed", "error", err, "tenantID", tenantID)
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[tenantID]; ok {
		t.SystemPrompt = prompt
		r.byID[tenantID] = t
		r.byToken[t.BotToken] = t
	}
	slog.Info("Registry.UpdateSystemPrompt: system prompt updated", "tenantID", tenantID, "length", len(prompt))
	return nil
}

// UpdateQuizSchema persists a new quiz schema and swaps the snapshot entry.
func (r *Registry) UpdateQuizSchema(tenantID int64, schema models.QuizSchema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if err := r.store.UpdateTenantQuizSchema(tenantID, schema); err != nil {
		slog.Error("Registry.UpdateQuizSchema: store update failed", "error", err, "tenantID", tenantID)
		return err
	}
	r.swapQuizSchema(tenantID, schema)
	slog.Info("Registry.UpdateQuizSchema: quiz schema updated", "tenantID", tenantID, "questions", len(schema))
	return nil
}

// ClearQuizSchema removes the tenant's quiz schema.
func (r *Registry) ClearQuizSchema(tenantID int64) error {
	if err := r.store.UpdateTenantQuizSchema(tenantID, nil); err != nil {
		slog.Error("Registry.ClearQuizSchema: store update failed", "error", err, "tenantID", tenantID)
		return err
	}
	r.swapQuizSchema(tenantID, nil)
	slog.Info("Registry.ClearQuizSchema: quiz schema cleared", "tenantID", tenantID)
	return nil
}

func (r *Registry) swapQuizSchema(tenantID int64, schema models.QuizSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[tenantID]; ok {
		t.QuizSchema = schema
		r.byID[tenantID] = t
		r.byToken[t.BotToken] = t
	}
}
