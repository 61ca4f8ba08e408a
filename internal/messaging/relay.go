package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vita-care/vitacare/internal/flow"
)

// ConversationRelay feeds inbound relay messages into the scheduling
// conversation router and sends the assistant's replies back over the
// messaging service. Register its Action as the ResponseHandler fallback so
// any patient can start a conversation by messaging the relay number.
type ConversationRelay struct {
	router *flow.Router
	svc    Service
}

// NewConversationRelay creates a relay for the given router and messaging service.
func NewConversationRelay(router *flow.Router, svc Service) *ConversationRelay {
	return &ConversationRelay{router: router, svc: svc}
}

// Action returns the ResponseAction that drives conversations from relay input.
func (r *ConversationRelay) Action() ResponseAction {
	return func(ctx context.Context, from, responseText string, timestamp int64) (bool, error) {
		replies, err := r.router.HandleIncoming(ctx, from, responseText)
		if err != nil {
			return false, fmt.Errorf("conversation routing failed: %w", err)
		}

		for _, msg := range replies {
			if err := r.svc.SendMessage(ctx, from, msg.Content); err != nil {
				slog.Error("ConversationRelay failed to send reply", "error", err, "to", from)
				return true, err
			}
		}

		slog.Debug("ConversationRelay handled message", "from", from, "replies", len(replies))
		return true, nil
	}
}
