// Package models defines the core data structures for VITA-Care.
//
// It includes the conversation transcript types, appointment slot and booking
// records, and the wire contracts shared across modules.
package models

import (
	"errors"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn authored by the patient.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the scheduling assistant.
	RoleAssistant Role = "assistant"
)

// Phase identifies the conversation state machine's current phase.
type Phase string

const (
	// PhaseIdle accepts new user input.
	PhaseIdle Phase = "idle"
	// PhaseLoadingSlots means a suggest-slots request is in flight.
	PhaseLoadingSlots Phase = "loading_slots"
	// PhaseShowingSlots means slot candidates are displayed and awaiting selection.
	PhaseShowingSlots Phase = "showing_slots"
	// PhaseConfirmingBooking means a slot is selected and awaiting confirm or cancel.
	PhaseConfirmingBooking Phase = "confirming_booking"
	// PhaseBooking means a create-booking request is in flight.
	PhaseBooking Phase = "booking"
)

// IsValidPhase checks if the given phase is one of the five machine phases.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseIdle, PhaseLoadingSlots, PhaseShowingSlots, PhaseConfirmingBooking, PhaseBooking:
		return true
	default:
		return false
	}
}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum accepted length for a user message
	MaxMessageLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyMessage        = errors.New("message cannot be empty")
	ErrMessageTooLong      = errors.New("message exceeds maximum length")
	ErrEmptyPatientID      = errors.New("patient ID cannot be empty")
	ErrEmptyDoctorID       = errors.New("doctor ID cannot be empty")
	ErrEmptyScheduleID     = errors.New("schedule ID cannot be empty")
	ErrEmptyToken          = errors.New("bearer token cannot be empty")
	ErrInvalidSlotTime     = errors.New("slot datetime is not valid ISO-8601")
	ErrEmptyRecipient      = errors.New("recipient cannot be empty")
	ErrEmptyBody           = errors.New("message body cannot be empty")
	ErrEmptyConversationID = errors.New("conversation ID cannot be empty")
)

// AppointmentSlot is one bookable (doctor, time) pair offered by the
// scheduling service. The datetime is kept as the ISO-8601 string the service
// produced so it round-trips unmodified into the booking request.
type AppointmentSlot struct {
	Datetime   string `json:"datetime"`
	DoctorName string `json:"doctor_name"`
	DoctorID   string `json:"doctor_id"`
}

// Validate checks the slot carries the fields a booking request needs.
func (s *AppointmentSlot) Validate() error {
	if s.DoctorID == "" {
		return ErrEmptyDoctorID
	}
	if _, err := s.Time(); err != nil {
		return err
	}
	return nil
}

// Time parses the slot datetime. The scheduling service emits local
// timestamps without a zone designator, so both forms are accepted.
func (s *AppointmentSlot) Time() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s.Datetime); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s.Datetime)
	if err != nil {
		return time.Time{}, ErrInvalidSlotTime
	}
	return t, nil
}

// ChatMessage is one turn in the conversation transcript. Messages are
// append-only: they are never mutated or removed once appended.
type ChatMessage struct {
	Role             Role              `json:"role"`
	Content          string            `json:"content"`
	Timestamp        time.Time         `json:"timestamp"`
	Slots            []AppointmentSlot `json:"slots,omitempty"`
	ShowConfirmation bool              `json:"show_confirmation,omitempty"`
	BookingSuccess   bool              `json:"booking_success,omitempty"`
	BookingError     string            `json:"booking_error,omitempty"`
}

// Booking is the confirmation record returned by the scheduling service on a
// successful create-booking call.
type Booking struct {
	ScheduleID      string `json:"schedule_id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	AppointmentTime string `json:"appointment_time"`
	Status          string `json:"status"`
}

// BookingRecord is a confirmed booking held locally so the reminder cycle can
// notify the patient ahead of the appointment.
type BookingRecord struct {
	ScheduleID      string    `json:"schedule_id"`
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	DoctorName      string    `json:"doctor_name"`
	AppointmentTime time.Time `json:"appointment_time"`
	Contact         string    `json:"contact,omitempty"` // phone number for reminders
	CreatedAt       time.Time `json:"created_at"`
}

// MessageStatus represents the delivery status of an outbound notification.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records the delivery status of one outbound notification.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Response represents an incoming message from a relay participant.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
