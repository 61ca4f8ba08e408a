package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/store"
)

// mockSchedulingClient implements SchedulingClient for tests.
type mockSchedulingClient struct {
	mu sync.Mutex

	suggestResp *models.SuggestSlotsResponse
	suggestErr  error
	bookResp    *models.BookingResponse
	bookErr     error

	suggestCalls int
	bookCalls    int

	// blockSuggest, when non-nil, is closed by the test to release an
	// in-flight SuggestSlots call.
	blockSuggest chan struct{}
	started      chan struct{}
}

func (m *mockSchedulingClient) SuggestSlots(ctx context.Context, userInput, patientID, token string) (*models.SuggestSlotsResponse, error) {
	m.mu.Lock()
	m.suggestCalls++
	block := m.blockSuggest
	started := m.started
	m.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	return m.suggestResp, m.suggestErr
}

func (m *mockSchedulingClient) BookAppointment(ctx context.Context, patientID, doctorID, appointmentTime, uploadID, token string) (*models.BookingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookCalls++
	return m.bookResp, m.bookErr
}

func testSlots() []models.AppointmentSlot {
	return []models.AppointmentSlot{
		{Datetime: "2026-09-02T09:00:00", DoctorName: "Dr. Chen", DoctorID: "d1"},
		{Datetime: "2026-09-02T14:30:00", DoctorName: "Dr. Patel", DoctorID: "d2"},
	}
}

func lastMessage(t *testing.T, conv *Conversation) models.ChatMessage {
	t.Helper()
	snap := conv.Snapshot()
	if len(snap.Messages) == 0 {
		t.Fatal("expected transcript to have messages")
	}
	return snap.Messages[len(snap.Messages)-1]
}

func TestConversationHappyPath(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
		bookResp: &models.BookingResponse{
			Success: true,
			Booking: &models.Booking{ScheduleID: "s1", Status: "confirmed"},
		},
	}
	var recorded []models.BookingRecord
	conv := NewConversation("c1", "p1", "tok", client,
		WithBookingObserver(func(r models.BookingRecord) { recorded = append(recorded, r) }))

	ctx := context.Background()
	if err := conv.HandleInput(ctx, "Book an appointment tomorrow"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if got := conv.Phase(); got != models.PhaseShowingSlots {
		t.Errorf("expected phase %s, got %s", models.PhaseShowingSlots, got)
	}
	msg := lastMessage(t, conv)
	if msg.Content != "I found 2 available slots. Please select one:" {
		t.Errorf("unexpected slot message: %q", msg.Content)
	}
	if len(msg.Slots) != 2 {
		t.Errorf("expected 2 slots attached, got %d", len(msg.Slots))
	}

	if err := conv.SelectSlot(ctx, 0); err != nil {
		t.Fatalf("SelectSlot failed: %v", err)
	}
	if got := conv.Phase(); got != models.PhaseConfirmingBooking {
		t.Errorf("expected phase %s, got %s", models.PhaseConfirmingBooking, got)
	}
	msg = lastMessage(t, conv)
	if !msg.ShowConfirmation {
		t.Error("expected confirmation prompt to set ShowConfirmation")
	}
	if !strings.Contains(msg.Content, "Dr. Chen") {
		t.Errorf("confirmation prompt should name the doctor: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "Wednesday, September 2") || !strings.Contains(msg.Content, "9:00 AM") {
		t.Errorf("confirmation prompt should carry the formatted date/time: %q", msg.Content)
	}

	if err := conv.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	snap := conv.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected phase %s after booking, got %s", models.PhaseIdle, snap.Phase)
	}
	if snap.SelectedSlot != nil {
		t.Error("expected selected slot to be cleared after booking")
	}
	if len(snap.Slots) != 0 {
		t.Errorf("expected slot list cleared after booking, got %d", len(snap.Slots))
	}
	msg = lastMessage(t, conv)
	if !msg.BookingSuccess {
		t.Error("expected final message to be flagged as booking success")
	}
	if !strings.HasPrefix(msg.Content, "✅ Success!") {
		t.Errorf("unexpected success message: %q", msg.Content)
	}
	if len(recorded) != 1 || recorded[0].ScheduleID != "s1" {
		t.Errorf("expected one recorded booking with schedule s1, got %+v", recorded)
	}
}

func TestConversationNoSlots(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: nil},
	}
	conv := NewConversation("c1", "p1", "tok", client)

	if err := conv.HandleInput(context.Background(), "schedule a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	snap := conv.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected phase %s, got %s", models.PhaseIdle, snap.Phase)
	}
	if len(snap.Slots) != 0 {
		t.Errorf("expected zero slots retained, got %d", len(snap.Slots))
	}
	msg := lastMessage(t, conv)
	if !strings.Contains(msg.Content, "couldn't find any available slots") || !strings.Contains(msg.Content, "upload a prescription") {
		t.Errorf("unexpected no-slots message: %q", msg.Content)
	}
}

func TestConversationBookingRejected(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
		bookResp:    &models.BookingResponse{Success: false, Error: "Slot no longer available"},
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	if err := conv.HandleInput(ctx, "book a doctor visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if err := conv.SelectSlot(ctx, 1); err != nil {
		t.Fatalf("SelectSlot failed: %v", err)
	}
	if err := conv.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	snap := conv.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected phase %s, got %s", models.PhaseIdle, snap.Phase)
	}
	if snap.SelectedSlot != nil {
		t.Error("expected selected slot cleared after rejection")
	}
	if len(snap.Slots) != 2 {
		t.Errorf("expected slot list retained after rejection, got %d", len(snap.Slots))
	}
	msg := lastMessage(t, conv)
	if msg.Content != "❌ Booking failed: Slot no longer available. Please try again or contact support." {
		t.Errorf("unexpected rejection message: %q", msg.Content)
	}
	if msg.BookingError != "Slot no longer available" {
		t.Errorf("unexpected BookingError: %q", msg.BookingError)
	}
}

func TestConversationBookingTransportFailure(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
		bookErr:     errors.New("connection refused"),
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if err := conv.SelectSlot(ctx, 0); err != nil {
		t.Fatalf("SelectSlot failed: %v", err)
	}
	if err := conv.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if got := conv.Phase(); got != models.PhaseIdle {
		t.Errorf("expected phase %s, got %s", models.PhaseIdle, got)
	}
	msg := lastMessage(t, conv)
	if msg.Content != "❌ Booking failed: connection refused. Please try again." {
		t.Errorf("unexpected failure message: %q", msg.Content)
	}
}

func TestConversationCancel(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if err := conv.SelectSlot(ctx, 0); err != nil {
		t.Fatalf("SelectSlot failed: %v", err)
	}

	callsBefore := client.bookCalls
	if err := conv.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if client.bookCalls != callsBefore {
		t.Error("cancel must not make any API call")
	}

	snap := conv.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected phase %s, got %s", models.PhaseIdle, snap.Phase)
	}
	if snap.SelectedSlot != nil {
		t.Error("expected selected slot cleared after cancel")
	}
	if len(snap.Slots) != 0 {
		t.Errorf("expected slot list discarded after cancel, got %d", len(snap.Slots))
	}
	msg := lastMessage(t, conv)
	if msg.Content != "Booking cancelled. Let me know if you'd like to try a different time!" {
		t.Errorf("unexpected cancel message: %q", msg.Content)
	}
}

func TestConversationCancelThenFailedLookupLeavesNoSlots(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if err := conv.SelectSlot(ctx, 0); err != nil {
		t.Fatalf("SelectSlot failed: %v", err)
	}
	if err := conv.Cancel(ctx); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := conv.SlotCount(); got != 0 {
		t.Fatalf("expected no slots after cancel, got %d", got)
	}

	// A follow-up request whose lookup fails must not surface the earlier
	// batch either.
	client.suggestResp = nil
	client.suggestErr = errors.New("network error")
	if err := conv.HandleInput(ctx, "book a visit next week"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	snap := conv.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected phase %s, got %s", models.PhaseIdle, snap.Phase)
	}
	if len(snap.Slots) != 0 {
		t.Errorf("expected no slots after failed lookup, got %d", len(snap.Slots))
	}
}

func TestConversationNewRequestDiscardsRetainedSlots(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
		bookResp:    &models.BookingResponse{Success: false, Error: "Slot no longer available"},
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	// A rejected booking retains the batch so the user can pick another time.
	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if err := conv.SelectSlot(ctx, 0); err != nil {
		t.Fatalf("SelectSlot failed: %v", err)
	}
	if err := conv.Confirm(ctx); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if got := conv.SlotCount(); got != 2 {
		t.Fatalf("expected retained slots after rejection, got %d", got)
	}

	// Starting over replaces the stale batch even when the new lookup fails.
	client.suggestResp = nil
	client.suggestErr = errors.New("network error")
	if err := conv.HandleInput(ctx, "book something else"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if got := conv.SlotCount(); got != 0 {
		t.Errorf("expected stale slots discarded on new request, got %d", got)
	}
}

func TestConversationSuggestError(t *testing.T) {
	client := &mockSchedulingClient{suggestErr: errors.New("network error")}
	conv := NewConversation("c1", "p1", "tok", client)

	if err := conv.HandleInput(context.Background(), "book an appointment"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if got := conv.Phase(); got != models.PhaseIdle {
		t.Errorf("expected recovery to phase %s, got %s", models.PhaseIdle, got)
	}
	msg := lastMessage(t, conv)
	if !strings.Contains(msg.Content, "I encountered an error: network error") {
		t.Errorf("unexpected error message: %q", msg.Content)
	}
}

func TestConversationNonSchedulingInput(t *testing.T) {
	client := &mockSchedulingClient{}
	conv := NewConversation("c1", "p1", "tok", client)

	if err := conv.HandleInput(context.Background(), "what's the weather like?"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if client.suggestCalls != 0 {
		t.Error("non-scheduling input must not trigger a slot lookup")
	}
	if got := conv.Phase(); got != models.PhaseIdle {
		t.Errorf("expected phase %s, got %s", models.PhaseIdle, got)
	}
	msg := lastMessage(t, conv)
	if !strings.Contains(msg.Content, "primarily here to help you schedule appointments") {
		t.Errorf("unexpected redirect message: %q", msg.Content)
	}
}

func TestConversationRejectsInputWhileBusy(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	client := &mockSchedulingClient{
		suggestResp:  &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
		blockSuggest: block,
		started:      started,
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- conv.HandleInput(ctx, "book a visit") }()
	<-started

	if err := conv.HandleInput(ctx, "another input"); !errors.Is(err, ErrConversationBusy) {
		t.Errorf("expected ErrConversationBusy, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}

	// The dropped input must not appear in the transcript.
	for _, m := range conv.Snapshot().Messages {
		if m.Content == "another input" {
			t.Error("busy-dropped input leaked into the transcript")
		}
	}
}

func TestConversationPhaseGuards(t *testing.T) {
	client := &mockSchedulingClient{}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	if err := conv.SelectSlot(ctx, 0); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("SelectSlot while idle: expected ErrInvalidPhase, got %v", err)
	}
	if err := conv.Confirm(ctx); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Confirm while idle: expected ErrInvalidPhase, got %v", err)
	}
	if err := conv.Cancel(ctx); !errors.Is(err, ErrInvalidPhase) {
		t.Errorf("Cancel while idle: expected ErrInvalidPhase, got %v", err)
	}
}

func TestConversationSlotIndexOutOfRange(t *testing.T) {
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if err := conv.SelectSlot(ctx, 5); !errors.Is(err, ErrSlotIndexOutOfRange) {
		t.Errorf("expected ErrSlotIndexOutOfRange, got %v", err)
	}
	if err := conv.SelectSlot(ctx, -1); !errors.Is(err, ErrSlotIndexOutOfRange) {
		t.Errorf("expected ErrSlotIndexOutOfRange for negative index, got %v", err)
	}
	// The list must still be selectable after a bad index.
	if err := conv.SelectSlot(ctx, 0); err != nil {
		t.Errorf("SelectSlot after out-of-range attempt failed: %v", err)
	}
}

func TestConversationInputValidation(t *testing.T) {
	conv := NewConversation("c1", "p1", "tok", &mockSchedulingClient{})
	ctx := context.Background()

	if err := conv.HandleInput(ctx, "   "); !errors.Is(err, models.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if err := conv.HandleInput(ctx, strings.Repeat("a", models.MaxMessageLength+1)); !errors.Is(err, models.ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
	if got := conv.TranscriptLen(); got != 0 {
		t.Errorf("invalid input must not touch the transcript, got %d turns", got)
	}
}

func TestConversationGreeting(t *testing.T) {
	conv := NewConversation("c1", "p1", "tok", &mockSchedulingClient{}, WithGreeting("Alex"))

	snap := conv.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("expected 1 greeting message, got %d", len(snap.Messages))
	}
	if !strings.HasPrefix(snap.Messages[0].Content, "Hi Alex!") {
		t.Errorf("unexpected greeting: %q", snap.Messages[0].Content)
	}
	if !snap.AcceptingInput {
		t.Error("expected a fresh conversation to accept input")
	}
}

func TestConversationTimestampsMonotonic(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
	}
	conv := NewConversation("c1", "p1", "tok", client, WithClock(clock))

	if err := conv.HandleInput(context.Background(), "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	msgs := conv.Snapshot().Messages
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Errorf("timestamps not monotonic at index %d", i)
		}
	}
}

func TestConversationReadsDoNotBlockDuringLookup(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	client := &mockSchedulingClient{
		suggestResp:  &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
		blockSuggest: block,
		started:      started,
	}
	conv := NewConversation("c1", "p1", "tok", client)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- conv.HandleInput(ctx, "book a visit") }()
	<-started

	// Snapshot must return while the lookup is still in flight.
	snapCh := make(chan models.ConversationSnapshot, 1)
	go func() { snapCh <- conv.Snapshot() }()
	select {
	case snap := <-snapCh:
		if snap.Phase != models.PhaseLoadingSlots {
			t.Errorf("expected phase %s during lookup, got %s", models.PhaseLoadingSlots, snap.Phase)
		}
		if snap.AcceptingInput {
			t.Error("conversation must not report itself as accepting input mid-lookup")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Snapshot blocked on an in-flight slot lookup")
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
}

func TestConversationRestore(t *testing.T) {
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
	}
	ctx := context.Background()

	conv := NewConversation("c1", "p1", "tok", client, WithStateManager(sm))
	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}
	if got := conv.Phase(); got != models.PhaseShowingSlots {
		t.Fatalf("expected phase %s, got %s", models.PhaseShowingSlots, got)
	}
	turns := conv.TranscriptLen()

	// A fresh instance with the same ID picks the transcript back up. The
	// offered slots did not survive, so the interrupted phase resets to idle.
	restored := NewConversation("c1", "p1", "tok", client, WithStateManager(sm))
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := restored.TranscriptLen(); got != turns {
		t.Errorf("expected %d restored turns, got %d", turns, got)
	}
	if got := restored.Phase(); got != models.PhaseIdle {
		t.Errorf("expected restored phase %s, got %s", models.PhaseIdle, got)
	}
	phase, err := sm.GetCurrentPhase(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCurrentPhase failed: %v", err)
	}
	if phase != models.PhaseIdle {
		t.Errorf("expected persisted phase reset to %s, got %s", models.PhaseIdle, phase)
	}

	// The restored conversation accepts input again.
	if err := restored.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput after restore failed: %v", err)
	}
	if got := restored.TranscriptLen(); got <= turns {
		t.Errorf("expected new turns appended after restore, got %d", got)
	}
}

func TestConversationRestoreWithoutStateManager(t *testing.T) {
	conv := NewConversation("c1", "p1", "tok", &mockSchedulingClient{})
	if err := conv.Restore(context.Background()); err != nil {
		t.Errorf("Restore without persistence should be a no-op, got %v", err)
	}
}

func TestConversationReset(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := NewStoreBasedStateManager(st)
	client := &mockSchedulingClient{
		suggestResp: &models.SuggestSlotsResponse{Success: true, Slots: testSlots()},
	}
	ctx := context.Background()

	conv := NewConversation("c1", "p1", "tok", client, WithStateManager(sm))
	if err := conv.HandleInput(ctx, "book a visit"); err != nil {
		t.Fatalf("HandleInput failed: %v", err)
	}

	if err := conv.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	snap := conv.Snapshot()
	if snap.Phase != models.PhaseIdle || len(snap.Messages) != 0 || len(snap.Slots) != 0 {
		t.Errorf("expected an empty idle conversation after reset, got %+v", snap)
	}

	msgs, err := sm.Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected persisted transcript removed, got %d messages", len(msgs))
	}
	state, err := st.GetConversationState("c1")
	if err != nil {
		t.Fatalf("GetConversationState failed: %v", err)
	}
	if state != nil {
		t.Error("expected persisted state removed after reset")
	}
}
