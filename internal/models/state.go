// Package models defines state management structures for LeadPilot flows.
package models

import "time"

// FlowState represents the current position of a user in a flow. It is keyed
// by (tenant, user, flow type); saving overwrites any previous row for the
// same key.
type FlowState struct {
	TenantID     int64             `json:"tenant_id"`
	UserID       string            `json:"user_id"`
	FlowType     FlowType          `json:"flow_type"`
	CurrentState StateType         `json:"current_state"`
	StateData    map[string]string `json:"state_data,omitempty"` // Additional state-specific data
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
