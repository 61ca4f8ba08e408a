package flow

import (
	"context"

	"github.com/vita-care/vitacare/internal/models"
)

// StateManager persists conversation phase and transcript so a conversation
// can be inspected or resumed after a restart. Implementations must be safe
// for concurrent use.
type StateManager interface {
	// GetCurrentPhase returns the persisted phase for a conversation, or
	// models.PhaseIdle when no state has been saved yet.
	GetCurrentPhase(ctx context.Context, conversationID string) (models.Phase, error)

	// SetCurrentPhase saves the phase for a conversation, creating the
	// state row on first use.
	SetCurrentPhase(ctx context.Context, conversationID, patientID string, phase models.Phase) error

	// AppendMessage records one transcript turn.
	AppendMessage(ctx context.Context, msg models.StoredMessage) error

	// Messages returns the persisted transcript for a conversation in
	// append order.
	Messages(ctx context.Context, conversationID string) ([]models.StoredMessage, error)

	// ResetState removes all persisted state for a conversation.
	ResetState(ctx context.Context, conversationID string) error
}
