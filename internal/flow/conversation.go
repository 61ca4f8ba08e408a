package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vita-care/vitacare/internal/models"
)

// Errors returned by conversation operations.
var (
	// ErrConversationBusy indicates an input arrived while an API call was
	// still in flight. The input is dropped without any state change.
	ErrConversationBusy = errors.New("conversation is busy with a pending operation")
	// ErrInvalidPhase indicates the operation is not legal in the current
	// phase, e.g. selecting a slot while no slot list is shown.
	ErrInvalidPhase = errors.New("operation not valid in current conversation phase")
	// ErrSlotIndexOutOfRange indicates a slot selection outside the
	// currently offered list.
	ErrSlotIndexOutOfRange = errors.New("slot index out of range")
)

// SchedulingClient is the slice of the agent API the conversation machine
// drives. *agent.Client satisfies it.
type SchedulingClient interface {
	SuggestSlots(ctx context.Context, userInput, patientID, token string) (*models.SuggestSlotsResponse, error)
	BookAppointment(ctx context.Context, patientID, doctorID, appointmentTime, uploadID, token string) (*models.BookingResponse, error)
}

// BookingObserver is notified after every successful booking, e.g. to
// persist a reminder record or trigger a notification.
type BookingObserver func(models.BookingRecord)

// Conversation is the five-phase scheduling state machine for a single
// patient session. All methods are safe for concurrent use; inputs that
// arrive while an API call is pending are rejected with ErrConversationBusy
// and leave the transcript untouched. The machine mutex is released while an
// agent call is in flight (the loading and booking phases keep every other
// mutation out), so reads like Phase and Snapshot stay responsive.
type Conversation struct {
	mu sync.Mutex

	id        string
	patientID string
	token     string

	client     SchedulingClient
	classifier IntentClassifier
	state      StateManager
	clock      func() time.Time
	observer   BookingObserver

	phase    models.Phase
	messages []models.ChatMessage
	slots    []models.AppointmentSlot
	selected *models.AppointmentSlot
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithClassifier overrides the default keyword intent classifier.
func WithClassifier(c IntentClassifier) ConversationOption {
	return func(conv *Conversation) { conv.classifier = c }
}

// WithStateManager enables phase and transcript persistence.
func WithStateManager(sm StateManager) ConversationOption {
	return func(conv *Conversation) { conv.state = sm }
}

// WithClock overrides the transcript timestamp source, used in tests.
func WithClock(clock func() time.Time) ConversationOption {
	return func(conv *Conversation) { conv.clock = clock }
}

// WithBookingObserver registers a callback invoked after each successful booking.
func WithBookingObserver(obs BookingObserver) ConversationOption {
	return func(conv *Conversation) { conv.observer = obs }
}

// WithGreeting seeds the transcript with the assistant greeting for the
// named patient before any input is handled.
func WithGreeting(patientName string) ConversationOption {
	return func(conv *Conversation) {
		conv.appendAssistant(fmt.Sprintf("Hi %s! I'm your scheduling assistant. I can help you book appointments with your doctors. Just tell me when you'd like to schedule an appointment, like \"I need to see my doctor tomorrow\" or \"Book an appointment next week\".", patientName), nil)
	}
}

// NewConversation creates an idle conversation for one patient session.
func NewConversation(id, patientID, token string, client SchedulingClient, opts ...ConversationOption) *Conversation {
	conv := &Conversation{
		id:         id,
		patientID:  patientID,
		token:      token,
		client:     client,
		classifier: NewKeywordClassifier(),
		clock:      time.Now,
		phase:      models.PhaseIdle,
	}
	for _, opt := range opts {
		opt(conv)
	}
	slog.Debug("Conversation created", "conversationID", id, "patientID", patientID)
	return conv
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// PatientID returns the patient the conversation belongs to.
func (c *Conversation) PatientID() string { return c.patientID }

// Phase returns the current phase.
func (c *Conversation) Phase() models.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SlotCount returns the number of slots currently offered.
func (c *Conversation) SlotCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// TranscriptLen returns the number of transcript turns.
func (c *Conversation) TranscriptLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// MessagesSince returns a copy of the transcript turns appended at or after
// index n.
func (c *Conversation) MessagesSince(n int) []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= len(c.messages) {
		return nil
	}
	out := make([]models.ChatMessage, len(c.messages)-n)
	copy(out, c.messages[n:])
	return out
}

// Snapshot returns the presentation view of the conversation. The returned
// value shares nothing with internal state.
func (c *Conversation) Snapshot() models.ConversationSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := models.ConversationSnapshot{
		ID:              c.id,
		Phase:           c.phase,
		Messages:        make([]models.ChatMessage, len(c.messages)),
		Slots:           make([]models.AppointmentSlot, len(c.slots)),
		AwaitingConfirm: c.phase == models.PhaseConfirmingBooking,
		AcceptingInput:  c.phase == models.PhaseIdle,
	}
	copy(snap.Messages, c.messages)
	copy(snap.Slots, c.slots)
	if c.selected != nil {
		sel := *c.selected
		snap.SelectedSlot = &sel
	}
	return snap
}

// HandleInput processes one free-text user turn. Non-scheduling input gets a
// canned redirect; scheduling input triggers the slot lookup and, when slots
// come back, moves the conversation to the slot-selection phase. Input is
// only accepted while idle.
func (c *Conversation) HandleInput(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ErrEmptyMessage
	}
	if len(text) > models.MaxMessageLength {
		return models.ErrMessageTooLong
	}

	c.mu.Lock()

	if c.phase != models.PhaseIdle {
		phase := c.phase
		c.mu.Unlock()
		slog.Debug("Conversation input dropped while busy", "conversationID", c.id, "phase", phase)
		return ErrConversationBusy
	}

	c.append(models.RoleUser, text, nil)

	if !c.classifier.IsSchedulingIntent(ctx, text) {
		c.appendAssistant("I'm primarily here to help you schedule appointments. If you'd like to book an appointment, just let me know when you're available!", nil)
		c.mu.Unlock()
		return nil
	}

	// A fresh scheduling request discards any slots left over from an
	// earlier round before the lookup starts.
	c.slots = nil
	c.setPhase(ctx, models.PhaseLoadingSlots)
	c.appendAssistant("Let me check available appointment slots for you...", nil)
	c.mu.Unlock()

	// The loading phase keeps every other mutation out, so the lock is not
	// held across the agent round trip and reads stay responsive.
	resp, err := c.client.SuggestSlots(ctx, text, c.patientID, c.token)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		slog.Error("Conversation slot lookup failed", "error", err, "conversationID", c.id)
		c.setPhase(ctx, models.PhaseIdle)
		c.appendAssistant(fmt.Sprintf("I encountered an error: %s. Please make sure you've uploaded a prescription and try again.", err.Error()), nil)
		return nil
	}

	if len(resp.Slots) > 0 {
		c.slots = resp.Slots
		c.setPhase(ctx, models.PhaseShowingSlots)
		c.appendAssistant(fmt.Sprintf("I found %d available slots. Please select one:", len(resp.Slots)), &messageExtras{slots: resp.Slots})
		return nil
	}

	c.setPhase(ctx, models.PhaseIdle)
	c.appendAssistant("Sorry, I couldn't find any available slots. This might be because you haven't uploaded a prescription yet. Please upload a prescription first to link with a doctor.", nil)
	return nil
}

// SelectSlot picks one of the offered slots by zero-based index and asks for
// confirmation. Only valid while slots are being shown.
func (c *Conversation) SelectSlot(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != models.PhaseShowingSlots {
		return ErrInvalidPhase
	}
	if index < 0 || index >= len(c.slots) {
		return ErrSlotIndexOutOfRange
	}

	slot := c.slots[index]
	c.selected = &slot
	c.setPhase(ctx, models.PhaseConfirmingBooking)

	dateStr, timeStr := formatSlotTime(slot)
	c.appendAssistant(fmt.Sprintf("You've selected an appointment with %s on %s at %s. Would you like to confirm this booking?", slot.DoctorName, dateStr, timeStr), &messageExtras{showConfirmation: true})
	return nil
}

// Confirm books the selected slot. Only valid while awaiting confirmation.
// Booking failures are surfaced in the transcript, not as returned errors;
// the conversation always ends back in the idle phase.
func (c *Conversation) Confirm(ctx context.Context) error {
	c.mu.Lock()

	if c.phase != models.PhaseConfirmingBooking || c.selected == nil {
		c.mu.Unlock()
		return ErrInvalidPhase
	}

	slot := *c.selected
	c.setPhase(ctx, models.PhaseBooking)
	c.appendAssistant("Booking your appointment...", nil)
	c.mu.Unlock()

	// As with the slot lookup, the booking phase fences off concurrent
	// mutations while the lock is released for the round trip.
	resp, err := c.client.BookAppointment(ctx, c.patientID, slot.DoctorID, slot.Datetime, "", c.token)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		slog.Error("Conversation booking failed", "error", err, "conversationID", c.id)
		c.selected = nil
		c.setPhase(ctx, models.PhaseIdle)
		c.appendAssistant(fmt.Sprintf("❌ Booking failed: %s. Please try again.", err.Error()), &messageExtras{bookingError: err.Error()})
		return nil
	}

	if resp.Success {
		record := models.BookingRecord{
			PatientID:       c.patientID,
			DoctorID:        slot.DoctorID,
			DoctorName:      slot.DoctorName,
			AppointmentTime: slotTimeOrNow(slot, c.clock),
			CreatedAt:       c.clock(),
		}
		if resp.Booking != nil {
			record.ScheduleID = resp.Booking.ScheduleID
		}
		if c.observer != nil {
			c.observer(record)
		}

		c.selected = nil
		c.slots = nil
		c.setPhase(ctx, models.PhaseIdle)
		c.appendAssistant(fmt.Sprintf("✅ Success! Your appointment with %s has been booked. You'll receive a confirmation notification shortly.", slot.DoctorName), &messageExtras{bookingSuccess: true})
		return nil
	}

	reason := resp.Error
	if reason == "" {
		reason = "Unknown error"
	}
	slog.Warn("Conversation booking rejected", "conversationID", c.id, "reason", reason)
	c.selected = nil
	c.setPhase(ctx, models.PhaseIdle)
	c.appendAssistant(fmt.Sprintf("❌ Booking failed: %s. Please try again or contact support.", reason), &messageExtras{bookingError: reason})
	return nil
}

// Cancel abandons the pending confirmation without any API call, discarding
// the offered slots along with the selection. Only valid while awaiting
// confirmation.
func (c *Conversation) Cancel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase != models.PhaseConfirmingBooking {
		return ErrInvalidPhase
	}

	c.selected = nil
	c.slots = nil
	c.setPhase(ctx, models.PhaseIdle)
	c.appendAssistant("Booking cancelled. Let me know if you'd like to try a different time!", nil)
	return nil
}

// Restore rehydrates the transcript from the configured state manager.
// Offered slots are not persisted, so a phase recorded mid-flow cannot be
// resumed; any persisted phase other than idle is reset to idle. A no-op
// without a state manager.
func (c *Conversation) Restore(ctx context.Context) error {
	if c.state == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.state.Messages(ctx, c.id)
	if err != nil {
		return fmt.Errorf("failed to restore transcript: %w", err)
	}
	if len(stored) > 0 {
		msgs := make([]models.ChatMessage, 0, len(stored))
		for _, m := range stored {
			msgs = append(msgs, models.ChatMessage{
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			})
		}
		c.messages = msgs
	}

	phase, err := c.state.GetCurrentPhase(ctx, c.id)
	if err != nil {
		return fmt.Errorf("failed to restore phase: %w", err)
	}
	c.phase = models.PhaseIdle
	if phase != models.PhaseIdle {
		slog.Debug("Conversation restored to idle from interrupted phase", "conversationID", c.id, "phase", phase)
		c.setPhase(ctx, models.PhaseIdle)
	}
	return nil
}

// Reset clears the conversation back to an empty idle transcript and removes
// any persisted state.
func (c *Conversation) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.phase = models.PhaseIdle
	c.messages = nil
	c.slots = nil
	c.selected = nil

	if c.state == nil {
		return nil
	}
	if err := c.state.ResetState(ctx, c.id); err != nil {
		return fmt.Errorf("failed to reset conversation state: %w", err)
	}
	return nil
}

// messageExtras carries the optional attachments of an assistant turn.
type messageExtras struct {
	slots            []models.AppointmentSlot
	showConfirmation bool
	bookingSuccess   bool
	bookingError     string
}

// setPhase updates the phase and persists it when a state manager is
// configured. Persistence failures are logged and otherwise ignored so the
// live conversation keeps working.
func (c *Conversation) setPhase(ctx context.Context, phase models.Phase) {
	c.phase = phase
	if c.state == nil {
		return
	}
	if err := c.state.SetCurrentPhase(ctx, c.id, c.patientID, phase); err != nil {
		slog.Error("Conversation failed to persist phase", "error", err, "conversationID", c.id, "phase", phase)
	}
}

func (c *Conversation) append(role models.Role, content string, extras *messageExtras) {
	msg := models.ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: c.clock(),
	}
	if extras != nil {
		msg.Slots = extras.slots
		msg.ShowConfirmation = extras.showConfirmation
		msg.BookingSuccess = extras.bookingSuccess
		msg.BookingError = extras.bookingError
	}
	c.messages = append(c.messages, msg)

	if c.state != nil {
		stored := models.StoredMessage{
			ConversationID: c.id,
			Role:           role,
			Content:        content,
			Timestamp:      msg.Timestamp,
		}
		if err := c.state.AppendMessage(context.Background(), stored); err != nil {
			slog.Error("Conversation failed to persist message", "error", err, "conversationID", c.id)
		}
	}
}

func (c *Conversation) appendAssistant(content string, extras *messageExtras) {
	c.append(models.RoleAssistant, content, extras)
}

// formatSlotTime renders a slot time as "Monday, January 2" / "3:04 PM" for
// the confirmation prompt. Unparseable datetimes fall back to the raw string.
func formatSlotTime(slot models.AppointmentSlot) (dateStr, timeStr string) {
	t, err := slot.Time()
	if err != nil {
		return slot.Datetime, slot.Datetime
	}
	return t.Format("Monday, January 2"), t.Format("3:04 PM")
}

func slotTimeOrNow(slot models.AppointmentSlot, clock func() time.Time) time.Time {
	t, err := slot.Time()
	if err != nil {
		return clock()
	}
	return t
}
