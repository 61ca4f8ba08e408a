// Package models defines persistence structures for conversation state.
package models

import "time"

// ConversationState is the durable record of one conversation's machine
// state. The transcript itself is stored separately as append-only rows.
type ConversationState struct {
	ConversationID string            `json:"conversation_id"`
	PatientID      string            `json:"patient_id"`
	CurrentPhase   Phase             `json:"current_phase"`
	StateData      map[string]string `json:"state_data,omitempty"` // phase-specific payload (pending slots, selection)
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// StoredMessage is one transcript row as persisted.
type StoredMessage struct {
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}
