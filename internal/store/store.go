// Package store provides storage backends for VITA-Care.
//
// It includes an in-memory store for tests and single-process deployments,
// plus SQLite and PostgreSQL backends for persistent storage.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/vita-care/vitacare/internal/models"
)

// Store is the persistence surface shared by all backends. Implementations
// must be safe for concurrent use.
type Store interface {
	// Conversation state and transcripts.
	SaveConversationState(state models.ConversationState) error
	GetConversationState(conversationID string) (*models.ConversationState, error)
	DeleteConversationState(conversationID string) error
	SaveMessage(msg models.StoredMessage) error
	GetMessages(conversationID string) ([]models.StoredMessage, error)

	// Confirmed bookings, kept locally for the reminder cycle.
	SaveBooking(rec models.BookingRecord) error
	GetBookingsBetween(start, end time.Time) ([]models.BookingRecord, error)

	// Reminder dedup keys, one per booking per day.
	MarkReminderSent(key string, sentAt time.Time) error
	WasReminderSent(key string) (bool, error)

	// Relay delivery log.
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option configures store creation.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a map-backed Store for tests and ephemeral deployments.
type InMemoryStore struct {
	mu        sync.Mutex
	states    map[string]models.ConversationState
	messages  map[string][]models.StoredMessage
	bookings  map[string]models.BookingRecord
	reminders map[string]time.Time
	receipts  []models.Receipt
	responses []models.Response
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:    make(map[string]models.ConversationState),
		messages:  make(map[string][]models.StoredMessage),
		bookings:  make(map[string]models.BookingRecord),
		reminders: make(map[string]time.Time),
	}
}

// SaveConversationState stores or replaces the state for a conversation.
func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ConversationID] = state
	return nil
}

// GetConversationState returns the state for a conversation, or nil if none
// has been saved.
func (s *InMemoryStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[conversationID]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// DeleteConversationState removes the state and transcript of a conversation.
func (s *InMemoryStore) DeleteConversationState(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	delete(s.messages, conversationID)
	return nil
}

// SaveMessage appends one transcript row.
func (s *InMemoryStore) SaveMessage(msg models.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

// GetMessages returns the transcript of a conversation in insertion order.
func (s *InMemoryStore) GetMessages(conversationID string) ([]models.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	out := make([]models.StoredMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// SaveBooking stores or replaces a confirmed booking keyed by schedule ID.
func (s *InMemoryStore) SaveBooking(rec models.BookingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[rec.ScheduleID] = rec
	return nil
}

// GetBookingsBetween returns bookings with appointment times in [start, end),
// ordered by appointment time.
func (s *InMemoryStore) GetBookingsBetween(start, end time.Time) ([]models.BookingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BookingRecord
	for _, rec := range s.bookings {
		if !rec.AppointmentTime.Before(start) && rec.AppointmentTime.Before(end) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentTime.Before(out[j].AppointmentTime) })
	return out, nil
}

// MarkReminderSent records that the reminder identified by key went out.
func (s *InMemoryStore) MarkReminderSent(key string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[key] = sentAt
	return nil
}

// WasReminderSent reports whether the reminder identified by key went out.
func (s *InMemoryStore) WasReminderSent(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reminders[key]
	return ok, nil
}

// AddReceipt stores a delivery receipt.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// GetReceipts returns all stored receipts.
func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// AddResponse stores an incoming relay message.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetResponses returns all stored incoming relay messages.
func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Response, len(s.responses))
	copy(out, s.responses)
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
