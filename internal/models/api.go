// Package models defines wire contracts for the VITA-Care HTTP surfaces.
package models

// SuggestSlotsRequest is the payload sent to the scheduling service's
// suggest endpoint.
type SuggestSlotsRequest struct {
	UserInput string `json:"user_input"`
	PatientID string `json:"patient_id"`
}

// SuggestSlotsResponse is the scheduling service's reply to a suggest call.
// The slots array may be empty on success.
type SuggestSlotsResponse struct {
	Success bool              `json:"success"`
	Slots   []AppointmentSlot `json:"slots"`
	Message string            `json:"message"`
}

// BookingRequest is the payload sent to the scheduling service's
// create-booking endpoint.
type BookingRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	AppointmentTime string `json:"appointment_time"`
	UploadID        string `json:"upload_id,omitempty"`
}

// BookingResponse is the scheduling service's reply to a create-booking
// call. The service may report a logical failure (Success=false with Error
// populated) on an otherwise clean HTTP 2xx, distinct from a transport error.
type BookingResponse struct {
	Success bool     `json:"success"`
	Booking *Booking `json:"booking,omitempty"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Error   string   `json:"error,omitempty"`
}

// CancelBookingRequest is the payload sent to the scheduling service's
// cancel endpoint.
type CancelBookingRequest struct {
	ScheduleID string `json:"schedule_id"`
}

// CancelBookingResponse is the scheduling service's reply to a cancel call,
// symmetric to BookingResponse.
type CancelBookingResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// SendMessageRequest is the relay bridge payload for POST /send-message.
type SendMessageRequest struct {
	Contact string `json:"contact"`
	Message string `json:"message"`
}

// Validate checks the bridge payload names both a contact and a body.
func (r *SendMessageRequest) Validate() error {
	if r.Contact == "" {
		return ErrEmptyRecipient
	}
	if r.Message == "" {
		return ErrEmptyBody
	}
	return nil
}

// CreateConversationRequest is the payload for opening a conversation.
type CreateConversationRequest struct {
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`
}

// Validate checks the conversation request identifies the patient.
func (r *CreateConversationRequest) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatientID
	}
	return nil
}

// UserMessageRequest is the payload for submitting free-text input.
type UserMessageRequest struct {
	Message string `json:"message"`
}

// Validate applies the transcript input limits.
func (r *UserMessageRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// SelectSlotRequest is the payload for choosing one of the offered slots.
type SelectSlotRequest struct {
	SlotIndex int `json:"slot_index"`
}

// ConversationSnapshot is everything a renderer needs to reconstruct the
// conversation UI without further queries: the ordered transcript, the
// current phase, the pending slot list, and the confirmation affordance.
type ConversationSnapshot struct {
	ID              string            `json:"id"`
	Phase           Phase             `json:"phase"`
	Messages        []ChatMessage     `json:"messages"`
	Slots           []AppointmentSlot `json:"slots,omitempty"`
	SelectedSlot    *AppointmentSlot  `json:"selected_slot,omitempty"`
	AwaitingConfirm bool              `json:"awaiting_confirm"`
	AcceptingInput  bool              `json:"accepting_input"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and
// optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
