package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/store"
)

// StoreBasedStateManager implements StateManager using a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a new StateManager backed by a Store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st}
}

// GetCurrentPhase retrieves the persisted phase for a conversation.
func (sm *StoreBasedStateManager) GetCurrentPhase(ctx context.Context, conversationID string) (models.Phase, error) {
	slog.Debug("StateManager GetCurrentPhase", "conversationID", conversationID)

	state, err := sm.store.GetConversationState(conversationID)
	if err != nil {
		slog.Error("StateManager GetCurrentPhase error", "error", err, "conversationID", conversationID)
		return "", err
	}

	if state == nil {
		slog.Debug("StateManager GetCurrentPhase not found", "conversationID", conversationID)
		return models.PhaseIdle, nil
	}

	slog.Debug("StateManager GetCurrentPhase found", "conversationID", conversationID, "phase", state.CurrentPhase)
	return state.CurrentPhase, nil
}

// SetCurrentPhase updates the persisted phase for a conversation, creating
// the state record on first use.
func (sm *StoreBasedStateManager) SetCurrentPhase(ctx context.Context, conversationID, patientID string, phase models.Phase) error {
	slog.Debug("StateManager SetCurrentPhase", "conversationID", conversationID, "phase", phase)

	state, err := sm.store.GetConversationState(conversationID)
	if err != nil {
		slog.Error("StateManager SetCurrentPhase get error", "error", err, "conversationID", conversationID)
		return err
	}

	now := time.Now()
	if state == nil {
		state = &models.ConversationState{
			ConversationID: conversationID,
			PatientID:      patientID,
			CurrentPhase:   phase,
			StateData:      make(map[string]string),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	} else {
		state.CurrentPhase = phase
		state.UpdatedAt = now
	}

	err = sm.store.SaveConversationState(*state)
	if err != nil {
		slog.Error("StateManager SetCurrentPhase save error", "error", err, "conversationID", conversationID, "phase", phase)
		return err
	}

	slog.Debug("StateManager SetCurrentPhase succeeded", "conversationID", conversationID, "phase", phase)
	return nil
}

// AppendMessage records one transcript turn.
func (sm *StoreBasedStateManager) AppendMessage(ctx context.Context, msg models.StoredMessage) error {
	slog.Debug("StateManager AppendMessage", "conversationID", msg.ConversationID, "role", msg.Role)

	if err := sm.store.SaveMessage(msg); err != nil {
		slog.Error("StateManager AppendMessage error", "error", err, "conversationID", msg.ConversationID)
		return err
	}
	return nil
}

// Messages returns the persisted transcript for a conversation in append
// order.
func (sm *StoreBasedStateManager) Messages(ctx context.Context, conversationID string) ([]models.StoredMessage, error) {
	slog.Debug("StateManager Messages", "conversationID", conversationID)

	msgs, err := sm.store.GetMessages(conversationID)
	if err != nil {
		slog.Error("StateManager Messages error", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return msgs, nil
}

// ResetState removes all persisted state for a conversation.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, conversationID string) error {
	slog.Debug("StateManager ResetState", "conversationID", conversationID)

	if err := sm.store.DeleteConversationState(conversationID); err != nil {
		slog.Error("StateManager ResetState error", "error", err, "conversationID", conversationID)
		return err
	}

	slog.Debug("StateManager ResetState succeeded", "conversationID", conversationID)
	return nil
}
