// Package store provides storage backends for VITA-Care.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/vita-care/vitacare/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveConversationState stores or updates the state for a conversation.
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	query := `
		INSERT INTO conversation_states (conversation_id, patient_id, current_phase, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (conversation_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id,
			current_phase = EXCLUDED.current_phase,
			state_data = EXCLUDED.state_data,
			updated_at = EXCLUDED.updated_at`

	var stateDataJSON interface{}
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("PostgresStore SaveConversationState JSON marshal failed", "error", err, "conversationID", state.ConversationID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(query, state.ConversationID, state.PatientID, state.CurrentPhase,
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "conversationID", state.ConversationID)
		return err
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "conversationID", state.ConversationID, "phase", state.CurrentPhase)
	return nil
}

// GetConversationState retrieves the state for a conversation, or nil when
// no state has been saved.
func (s *PostgresStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	query := `SELECT conversation_id, patient_id, current_phase, state_data, created_at, updated_at
			  FROM conversation_states WHERE conversation_id = $1`

	var state models.ConversationState
	var stateDataJSON sql.NullString

	err := s.db.QueryRow(query, conversationID).Scan(
		&state.ConversationID, &state.PatientID, &state.CurrentPhase,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "conversationID", conversationID)
		return nil, err
	}

	if stateDataJSON.Valid && stateDataJSON.String != "" {
		state.StateData = make(map[string]string)
		if err := json.Unmarshal([]byte(stateDataJSON.String), &state.StateData); err != nil {
			slog.Error("PostgresStore GetConversationState JSON unmarshal failed", "error", err, "conversationID", conversationID)
			state.StateData = make(map[string]string)
		}
	}

	return &state, nil
}

// DeleteConversationState removes the state and transcript of a conversation.
func (s *PostgresStore) DeleteConversationState(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversation_states WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore DeleteConversationState failed", "error", err, "conversationID", conversationID)
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		slog.Error("PostgresStore DeleteConversationState message cleanup failed", "error", err, "conversationID", conversationID)
		return err
	}
	slog.Debug("PostgresStore DeleteConversationState succeeded", "conversationID", conversationID)
	return nil
}

// SaveMessage appends one transcript row.
func (s *PostgresStore) SaveMessage(msg models.StoredMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, time) VALUES ($1, $2, $3, $4)`,
		msg.ConversationID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	return nil
}

// GetMessages returns the transcript of a conversation in insertion order.
func (s *PostgresStore) GetMessages(conversationID string) ([]models.StoredMessage, error) {
	rows, err := s.db.Query(`SELECT conversation_id, role, content, time FROM messages WHERE conversation_id = $1 ORDER BY id`, conversationID)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		if err := rows.Scan(&m.ConversationID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			slog.Error("PostgresStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}

// SaveBooking stores or replaces a confirmed booking keyed by schedule ID.
func (s *PostgresStore) SaveBooking(rec models.BookingRecord) error {
	query := `
		INSERT INTO bookings (schedule_id, patient_id, doctor_id, doctor_name, appointment_time, contact, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (schedule_id) DO UPDATE SET
			appointment_time = EXCLUDED.appointment_time,
			contact = EXCLUDED.contact`

	_, err := s.db.Exec(query, rec.ScheduleID, rec.PatientID, rec.DoctorID, rec.DoctorName,
		rec.AppointmentTime, nilIfEmpty(rec.Contact), rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveBooking failed", "error", err, "scheduleID", rec.ScheduleID)
		return fmt.Errorf("failed to insert booking %s: %w", rec.ScheduleID, err)
	}
	slog.Debug("PostgresStore SaveBooking succeeded", "scheduleID", rec.ScheduleID)
	return nil
}

// GetBookingsBetween returns bookings with appointment times in [start, end),
// ordered by appointment time.
func (s *PostgresStore) GetBookingsBetween(start, end time.Time) ([]models.BookingRecord, error) {
	query := `SELECT schedule_id, patient_id, doctor_id, doctor_name, appointment_time, contact, created_at
			  FROM bookings WHERE appointment_time >= $1 AND appointment_time < $2 ORDER BY appointment_time`

	rows, err := s.db.Query(query, start, end)
	if err != nil {
		slog.Error("PostgresStore GetBookingsBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.BookingRecord
	for rows.Next() {
		rec, err := scanBooking(rows)
		if err != nil {
			slog.Error("PostgresStore GetBookingsBetween scan failed", "error", err)
			return nil, err
		}
		bookings = append(bookings, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetBookingsBetween rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate booking rows: %w", err)
	}
	return bookings, nil
}

// MarkReminderSent records that the reminder identified by key went out.
func (s *PostgresStore) MarkReminderSent(key string, sentAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO reminders_sent (reminder_key, sent_at) VALUES ($1, $2) ON CONFLICT (reminder_key) DO NOTHING`, key, sentAt)
	if err != nil {
		slog.Error("PostgresStore MarkReminderSent failed", "error", err, "key", key)
		return fmt.Errorf("failed to mark reminder %s: %w", key, err)
	}
	return nil
}

// WasReminderSent reports whether the reminder identified by key went out.
func (s *PostgresStore) WasReminderSent(key string) (bool, error) {
	var sentAt time.Time
	err := s.db.QueryRow(`SELECT sent_at FROM reminders_sent WHERE reminder_key = $1`, key).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore WasReminderSent failed", "error", err, "key", key)
		return false, err
	}
	return true, nil
}

// AddReceipt stores a delivery receipt.
func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("PostgresStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns all stored receipts.
func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("PostgresStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// AddResponse stores an incoming relay message.
func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

// GetResponses returns all stored incoming relay messages.
func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			slog.Error("PostgresStore GetResponses scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		responses = append(responses, r)
	}
	return responses, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
