// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific type of guided flow
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing state-specific data
type DataKey string

// Flow type constants.
const (
	FlowTypeLeadForm        FlowType = "lead_form"
	FlowTypeQuiz            FlowType = "quiz"
	FlowTypeBroadcastWizard FlowType = "broadcast_wizard"
)

// State constants for the lead form flow.
const (
	StateLeadFormName   StateType = "LEAD_FORM_NAME"
	StateLeadFormDebt   StateType = "LEAD_FORM_DEBT"
	StateLeadFormIncome StateType = "LEAD_FORM_INCOME"
	StateLeadFormRegion StateType = "LEAD_FORM_REGION"
)

// State constants for the quiz flow. The active question index lives in
// state data under DataKeyQuizIndex.
const (
	StateQuizQuestion StateType = "QUIZ_QUESTION"
)

// State constants for the broadcast wizard flow.
const (
	StateBroadcastBody    StateType = "BROADCAST_BODY"
	StateBroadcastMedia   StateType = "BROADCAST_MEDIA"
	StateBroadcastConfirm StateType = "BROADCAST_CONFIRM"
)

// Data key constants shared by the flows.
const (
	DataKeyLeadName       DataKey = "leadName"
	DataKeyLeadDebt       DataKey = "leadDebt"
	DataKeyLeadIncome     DataKey = "leadIncome"
	DataKeyQuizIndex      DataKey = "quizIndex"   // zero-based index of the question being asked
	DataKeyQuizResults    DataKey = "quizResults" // accumulated answers, JSON-encoded []QuizResult
	DataKeyBroadcastBody  DataKey = "broadcastBody"
	DataKeyBroadcastMedia DataKey = "broadcastMedia" // JSON-encoded Media, absent when skipped
)
