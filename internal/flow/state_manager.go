// Package flow provides concrete implementations of state management.
package flow

import (
	"log/slog"
	"time"

	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/store"
)

// StateManager persists flow state between turns.
type StateManager interface {
	Get(tenantID int64, userID string, flowType models.FlowType) (*models.FlowState, error)
	Save(state models.FlowState) error
	Reset(tenantID int64, userID string, flowType models.FlowType) error
	// Active returns the flow state of whichever flow the user is currently
	// in, or nil when idle.
	Active(tenantID int64, userID string) (*models.FlowState, error)
}

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// Get retrieves the state for a user in a flow, or nil when absent.
func (sm *StoreBasedStateManager) Get(tenantID int64, userID string, flowType models.FlowType) (*models.FlowState, error) {
	state, err := sm.store.GetFlowState(tenantID, userID, flowType)
	if err != nil {
		slog.Error("StateManager Get error", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return nil, err
	}
	return state, nil
}

// Save stores the state, stamping timestamps when missing.
func (sm *StoreBasedStateManager) Save(state models.FlowState) error {
	now := time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	if err := sm.store.SaveFlowState(state); err != nil {
		slog.Error("StateManager Save error", "error", err, "tenantID", state.TenantID, "userID", state.UserID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("StateManager Save succeeded", "tenantID", state.TenantID, "userID", state.UserID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// Reset removes all state for a user in a flow.
func (sm *StoreBasedStateManager) Reset(tenantID int64, userID string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(tenantID, userID, flowType); err != nil {
		slog.Error("StateManager Reset error", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
		return err
	}
	slog.Info("StateManager Reset succeeded", "tenantID", tenantID, "userID", userID, "flowType", flowType)
	return nil
}

// Active returns the user's current flow state, checking each flow type in a
// fixed order. A user is in at most one flow at a time; the dispatcher resets
// the others before starting a new one.
func (sm *StoreBasedStateManager) Active(tenantID int64, userID string) (*models.FlowState, error) {
	for _, flowType := range []models.FlowType{models.FlowTypeLeadForm, models.FlowTypeQuiz, models.FlowTypeBroadcastWizard} {
		state, err := sm.store.GetFlowState(tenantID, userID, flowType)
		if err != nil {
			slog.Error("StateManager Active error", "error", err, "tenantID", tenantID, "userID", userID, "flowType", flowType)
			return nil, err
		}
		if state != nil {
			return state, nil
		}
	}
	return nil, nil
}
