// Package agent provides the HTTP client for the external scheduling service.
//
// It translates the suggest/book/cancel operations into authenticated REST
// calls and normalizes transport and application-level failures into a single
// error contract. The client holds no session state and performs no retries,
// caching, or rate limiting: each call is a single best-effort round trip.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/vita-care/vitacare/internal/models"
)

// Constants for scheduling service client configuration
const (
	// DefaultRequestTimeout bounds each round trip when the caller's context
	// carries no earlier deadline.
	DefaultRequestTimeout = 30 * time.Second

	suggestSlotsPath  = "/api/agents/schedule/suggest"
	createBookingPath = "/api/agents/booking/create"
	cancelBookingPath = "/api/agents/booking/cancel"
	agentHealthPath   = "/api/agents/health"
)

// APIError carries the scheduling service's failure detail for a transport
// error or non-2xx response. Detail holds the server-supplied message when
// one was present; Error falls back to a generic per-operation message.
type APIError struct {
	StatusCode int    // zero when the request never produced a response
	Detail     string // server-supplied detail, may be empty
	Fallback   string // generic message for this operation
}

// Error returns the server detail if present, else the operation fallback.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Fallback
}

// Opts holds configuration options for the scheduling service client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option defines a configuration option for the scheduling service client.
type Option func(*Opts)

// WithBaseURL sets the scheduling service base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient sets a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client issues authenticated requests to the external scheduling service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a scheduling service client, applying any provided
// options. The base URL falls back to the AGENT_API_URL environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("AGENT_API_URL")
	}
	slog.Debug("Agent client config loaded", "baseURL_set", cfg.BaseURL != "", "timeout", cfg.Timeout)

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scheduling service base URL must be provided")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{baseURL: cfg.BaseURL, httpClient: httpClient, timeout: cfg.Timeout}, nil
}

// SuggestSlots posts free text and patient identity and returns the offered
// slot batch. The slots array may be empty on success.
func (c *Client) SuggestSlots(ctx context.Context, userInput, patientID, token string) (*models.SuggestSlotsResponse, error) {
	if userInput == "" {
		return nil, models.ErrEmptyMessage
	}
	if patientID == "" {
		return nil, models.ErrEmptyPatientID
	}

	slog.Debug("Agent SuggestSlots invoked", "patientID", patientID, "input_length", len(userInput))
	req := models.SuggestSlotsRequest{UserInput: userInput, PatientID: patientID}
	var resp models.SuggestSlotsResponse
	if err := c.post(ctx, suggestSlotsPath, token, req, &resp, "Failed to fetch appointment slots"); err != nil {
		slog.Error("Agent SuggestSlots failed", "error", err, "patientID", patientID)
		return nil, err
	}
	slog.Debug("Agent SuggestSlots succeeded", "patientID", patientID, "slot_count", len(resp.Slots))
	return &resp, nil
}

// BookAppointment posts the chosen slot. Callers must check the returned
// Success flag even on a nil error: the service reports logical failures
// (e.g. slot taken) with success=false and a populated Error field.
func (c *Client) BookAppointment(ctx context.Context, patientID, doctorID, appointmentTime, uploadID, token string) (*models.BookingResponse, error) {
	if patientID == "" {
		return nil, models.ErrEmptyPatientID
	}
	if doctorID == "" {
		return nil, models.ErrEmptyDoctorID
	}

	slog.Debug("Agent BookAppointment invoked", "patientID", patientID, "doctorID", doctorID, "appointmentTime", appointmentTime)
	req := models.BookingRequest{
		PatientID:       patientID,
		DoctorID:        doctorID,
		AppointmentTime: appointmentTime,
		UploadID:        uploadID,
	}
	var resp models.BookingResponse
	if err := c.post(ctx, createBookingPath, token, req, &resp, "Failed to book appointment"); err != nil {
		slog.Error("Agent BookAppointment failed", "error", err, "patientID", patientID, "doctorID", doctorID)
		return nil, err
	}
	slog.Debug("Agent BookAppointment completed", "patientID", patientID, "success", resp.Success)
	return &resp, nil
}

// CancelAppointment posts a cancellation for an existing booking. The
// contract is symmetric to BookAppointment: check Success on a nil error.
func (c *Client) CancelAppointment(ctx context.Context, scheduleID, token string) (*models.CancelBookingResponse, error) {
	if scheduleID == "" {
		return nil, models.ErrEmptyScheduleID
	}

	slog.Debug("Agent CancelAppointment invoked", "scheduleID", scheduleID)
	req := models.CancelBookingRequest{ScheduleID: scheduleID}
	var resp models.CancelBookingResponse
	if err := c.post(ctx, cancelBookingPath, token, req, &resp, "Failed to cancel appointment"); err != nil {
		slog.Error("Agent CancelAppointment failed", "error", err, "scheduleID", scheduleID)
		return nil, err
	}
	slog.Debug("Agent CancelAppointment completed", "scheduleID", scheduleID, "success", resp.Success)
	return &resp, nil
}

// Health checks the scheduling service's agent subsystem.
func (c *Client) Health(ctx context.Context, token string) (map[string]interface{}, error) {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+agentHealthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build health request: %w", err)
	}
	c.setHeaders(httpReq, token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{Fallback: "Agent system unavailable"}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: httpResp.StatusCode, Fallback: "Agent system unavailable"}
	}

	var health map[string]interface{}
	if err := json.NewDecoder(httpResp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health, nil
}

// post issues one authenticated JSON round trip and decodes the reply into
// out. Transport failures and non-2xx statuses become an *APIError carrying
// the server's detail string when one is present.
func (c *Client) post(ctx context.Context, path, token string, body, out interface{}, fallback string) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(httpReq, token)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Debug("Agent request transport failure", "path", path, "error", err)
		return &APIError{Fallback: fallback}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &APIError{
			StatusCode: httpResp.StatusCode,
			Detail:     decodeErrorDetail(httpResp.Body),
			Fallback:   fallback,
		}
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// setHeaders attaches the bearer token and content type to a request.
func (c *Client) setHeaders(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
}

// withDeadline applies the client timeout unless the context already carries
// an earlier deadline.
func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// decodeErrorDetail extracts the optional {"detail": "..."} body the
// scheduling service attaches to HTTP errors.
func decodeErrorDetail(r io.Reader) string {
	var errBody struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r).Decode(&errBody); err != nil {
		return ""
	}
	return errBody.Detail
}
