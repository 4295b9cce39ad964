// Package models defines the transport-neutral inbound event shape.
package models

import "time"

// InboundEvent is one normalized update delivered by a transport to the
// dispatcher. Exactly one of Text, CallbackData, Document or Photo carries the
// payload; Command and Args are filled when Text is a slash command.
type InboundEvent struct {
	From      string    `json:"from"` // external chat ID of the sender
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"first_name,omitempty"`
	Text      string    `json:"text,omitempty"`
	Command   string    `json:"command,omitempty"` // without the leading slash
	Args      string    `json:"args,omitempty"`    // raw text after the command
	Callback  string    `json:"callback,omitempty"`
	Document  *Media    `json:"document,omitempty"`
	Photo     *Media    `json:"photo,omitempty"`
	Time      time.Time `json:"time"`
}

// IsCommand reports whether the event is a slash command.
func (e *InboundEvent) IsCommand() bool {
	return e.Command != ""
}
