package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vita-care/vitacare/internal/models"
)

// ConversationFactory builds the conversation for a contact the router has
// not seen before.
type ConversationFactory func(contact string) (*Conversation, error)

// Router maps relay contacts to their conversations and translates plain
// chat text into state machine operations: numeric replies pick a slot while
// one is offered, yes/no replies resolve a pending confirmation, and
// everything else is handled as free-text input.
type Router struct {
	mu      sync.Mutex
	convs   map[string]*Conversation
	factory ConversationFactory
}

// NewRouter creates a Router that builds conversations with the given factory.
func NewRouter(factory ConversationFactory) *Router {
	return &Router{
		convs:   make(map[string]*Conversation),
		factory: factory,
	}
}

// Conversation returns the conversation for a contact, creating it on first use.
func (r *Router) Conversation(contact string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.convs[contact]; ok {
		return conv, nil
	}
	conv, err := r.factory(contact)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation for contact %s: %w", contact, err)
	}
	r.convs[contact] = conv
	slog.Debug("Router created conversation", "contact", contact, "conversationID", conv.ID())
	return conv, nil
}

// HandleIncoming feeds one inbound relay message into the contact's
// conversation and returns the assistant turns to send back. Hint replies
// for uninterpretable input are returned without being recorded in the
// transcript, since they carry no conversation state.
func (r *Router) HandleIncoming(ctx context.Context, contact, text string) ([]models.ChatMessage, error) {
	conv, err := r.Conversation(contact)
	if err != nil {
		return nil, err
	}

	before := conv.TranscriptLen()
	trimmed := strings.TrimSpace(text)

	switch conv.Phase() {
	case models.PhaseShowingSlots:
		index, ok := parseSelection(trimmed)
		if !ok {
			return hintReply(fmt.Sprintf("Please reply with the number of the slot you'd like (1-%d).", conv.SlotCount())), nil
		}
		if err := conv.SelectSlot(ctx, index); err != nil {
			if err == ErrSlotIndexOutOfRange {
				return hintReply(fmt.Sprintf("That slot doesn't exist. Please reply with a number between 1 and %d.", conv.SlotCount())), nil
			}
			return nil, err
		}

	case models.PhaseConfirmingBooking:
		switch strings.ToLower(trimmed) {
		case "yes", "y", "confirm", "ok":
			if err := conv.Confirm(ctx); err != nil {
				return nil, err
			}
		case "no", "n", "cancel":
			if err := conv.Cancel(ctx); err != nil {
				return nil, err
			}
		default:
			return hintReply("Please reply \"yes\" to confirm the booking or \"no\" to cancel."), nil
		}

	case models.PhaseLoadingSlots, models.PhaseBooking:
		return hintReply("One moment, I'm still working on your last request..."), nil

	default:
		if err := conv.HandleInput(ctx, text); err != nil {
			if err == ErrConversationBusy {
				return hintReply("One moment, I'm still working on your last request..."), nil
			}
			return nil, err
		}
	}

	replies := conv.MessagesSince(before)
	return assistantOnly(replies), nil
}

// parseSelection interprets a reply as a one-based slot number.
func parseSelection(text string) (int, bool) {
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n - 1, true
}

func hintReply(content string) []models.ChatMessage {
	return []models.ChatMessage{{
		Role:      models.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
	}}
}

func assistantOnly(msgs []models.ChatMessage) []models.ChatMessage {
	out := msgs[:0:0]
	for _, m := range msgs {
		if m.Role == models.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}
