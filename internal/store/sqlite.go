// Package store provides storage backends for VITA-Care.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/vita-care/vitacare/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; the containing
// directory is created when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveConversationState stores or updates the state for a conversation.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	query := `
		INSERT OR REPLACE INTO conversation_states (conversation_id, patient_id, current_phase, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	var stateDataJSON string
	if len(state.StateData) > 0 {
		jsonBytes, err := json.Marshal(state.StateData)
		if err != nil {
			slog.Error("SQLiteStore SaveConversationState JSON marshal failed", "error", err, "conversationID", state.ConversationID)
			return err
		}
		stateDataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(query, state.ConversationID, state.PatientID, state.CurrentPhase,
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "conversationID", state.ConversationID)
		return err
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "conversationID", state.ConversationID, "phase", state.CurrentPhase)
	return nil
}

// GetConversationState retrieves the state for a conversation, or nil when
// no state has been saved.
func (s *SQLiteStore) GetConversationState(conversationID string) (*models.ConversationState, error) {
	query := `SELECT conversation_id, patient_id, current_phase, state_data, created_at, updated_at
			  FROM conversation_states WHERE conversation_id = ?`

	var state models.ConversationState
	var stateDataJSON string

	err := s.db.QueryRow(query, conversationID).Scan(
		&state.ConversationID, &state.PatientID, &state.CurrentPhase,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "conversationID", conversationID)
		return nil, err
	}

	if stateDataJSON != "" {
		state.StateData = make(map[string]string)
		if err := json.Unmarshal([]byte(stateDataJSON), &state.StateData); err != nil {
			slog.Error("SQLiteStore GetConversationState JSON unmarshal failed", "error", err, "conversationID", conversationID)
			// Continue with empty map rather than failing
			state.StateData = make(map[string]string)
		}
	}

	return &state, nil
}

// DeleteConversationState removes the state and transcript of a conversation.
func (s *SQLiteStore) DeleteConversationState(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversation_states WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "conversationID", conversationID)
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		slog.Error("SQLiteStore DeleteConversationState message cleanup failed", "error", err, "conversationID", conversationID)
		return err
	}
	slog.Debug("SQLiteStore DeleteConversationState succeeded", "conversationID", conversationID)
	return nil
}

// SaveMessage appends one transcript row.
func (s *SQLiteStore) SaveMessage(msg models.StoredMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_id, role, content, time) VALUES (?, ?, ?, ?)`,
		msg.ConversationID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "conversationID", msg.ConversationID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	return nil
}

// GetMessages returns the transcript of a conversation in insertion order.
func (s *SQLiteStore) GetMessages(conversationID string) ([]models.StoredMessage, error) {
	rows, err := s.db.Query(`SELECT conversation_id, role, content, time FROM messages WHERE conversation_id = ? ORDER BY id`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.StoredMessage
	for rows.Next() {
		var m models.StoredMessage
		if err := rows.Scan(&m.ConversationID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			slog.Error("SQLiteStore GetMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetMessages rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	slog.Debug("SQLiteStore GetMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return msgs, nil
}

// SaveBooking stores or replaces a confirmed booking keyed by schedule ID.
func (s *SQLiteStore) SaveBooking(rec models.BookingRecord) error {
	query := `
		INSERT OR REPLACE INTO bookings (schedule_id, patient_id, doctor_id, doctor_name, appointment_time, contact, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, rec.ScheduleID, rec.PatientID, rec.DoctorID, rec.DoctorName,
		rec.AppointmentTime, nilIfEmpty(rec.Contact), rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveBooking failed", "error", err, "scheduleID", rec.ScheduleID)
		return fmt.Errorf("failed to insert booking %s: %w", rec.ScheduleID, err)
	}
	slog.Debug("SQLiteStore SaveBooking succeeded", "scheduleID", rec.ScheduleID)
	return nil
}

// GetBookingsBetween returns bookings with appointment times in [start, end),
// ordered by appointment time.
func (s *SQLiteStore) GetBookingsBetween(start, end time.Time) ([]models.BookingRecord, error) {
	query := `SELECT schedule_id, patient_id, doctor_id, doctor_name, appointment_time, contact, created_at
			  FROM bookings WHERE appointment_time >= ? AND appointment_time < ? ORDER BY appointment_time`

	rows, err := s.db.Query(query, start, end)
	if err != nil {
		slog.Error("SQLiteStore GetBookingsBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []models.BookingRecord
	for rows.Next() {
		rec, err := scanBooking(rows)
		if err != nil {
			slog.Error("SQLiteStore GetBookingsBetween scan failed", "error", err)
			return nil, err
		}
		bookings = append(bookings, rec)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetBookingsBetween rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate booking rows: %w", err)
	}
	slog.Debug("SQLiteStore GetBookingsBetween succeeded", "count", len(bookings))
	return bookings, nil
}

// MarkReminderSent records that the reminder identified by key went out.
func (s *SQLiteStore) MarkReminderSent(key string, sentAt time.Time) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO reminders_sent (reminder_key, sent_at) VALUES (?, ?)`, key, sentAt)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderSent failed", "error", err, "key", key)
		return fmt.Errorf("failed to mark reminder %s: %w", key, err)
	}
	return nil
}

// WasReminderSent reports whether the reminder identified by key went out.
func (s *SQLiteStore) WasReminderSent(key string) (bool, error) {
	var sentAt time.Time
	err := s.db.QueryRow(`SELECT sent_at FROM reminders_sent WHERE reminder_key = ?`, key).Scan(&sentAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore WasReminderSent failed", "error", err, "key", key)
		return false, err
	}
	return true, nil
}

// AddReceipt stores a delivery receipt.
func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	slog.Debug("SQLiteStore AddReceipt succeeded", "to", r.To, "status", r.Status)
	return nil
}

// GetReceipts returns all stored receipts.
func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			slog.Error("SQLiteStore GetReceipts scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore GetReceipts rows iteration failed", "error", err)
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// AddResponse stores an incoming relay message.
func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

// GetResponses returns all stored incoming relay messages.
func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT sender, body, time FROM responses`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.From, &r.Body, &r.Time); err != nil {
			slog.Error("SQLiteStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
