package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vita-care/vitacare/internal/models"
)

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Setenv("AGENT_API_URL", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when base URL not provided, got nil")
	}
}

func TestNewClient_BaseURLFromEnv(t *testing.T) {
	t.Setenv("AGENT_API_URL", "http://example.test")
	cli, err := NewClient()
	if err != nil {
		t.Fatalf("expected no error with env base URL, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}

func TestSuggestSlots_Success(t *testing.T) {
	var gotAuth string
	var gotReq models.SuggestSlotsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agents/schedule/suggest" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(models.SuggestSlotsResponse{
			Success: true,
			Slots: []models.AppointmentSlot{
				{Datetime: "2026-09-02T09:00:00", DoctorName: "Dr. Rao", DoctorID: "d-1"},
				{Datetime: "2026-09-02T11:00:00", DoctorName: "Dr. Rao", DoctorID: "d-1"},
			},
			Message: "Found 2 available slots",
		})
	}))
	defer srv.Close()

	cli, err := NewClient(WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	resp, err := cli.SuggestSlots(context.Background(), "book me tomorrow", "p-1", "tok-1")
	if err != nil {
		t.Fatalf("SuggestSlots error: %v", err)
	}
	if len(resp.Slots) != 2 {
		t.Errorf("expected 2 slots, got %d", len(resp.Slots))
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
	if gotReq.UserInput != "book me tomorrow" || gotReq.PatientID != "p-1" {
		t.Errorf("unexpected request payload: %+v", gotReq)
	}
}

func TestSuggestSlots_DetailPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Cannot schedule for another patient"})
	}))
	defer srv.Close()

	cli, _ := NewClient(WithBaseURL(srv.URL))
	_, err := cli.SuggestSlots(context.Background(), "tomorrow", "p-1", "tok")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Error() != "Cannot schedule for another patient" {
		t.Errorf("expected server detail, got %q", apiErr.Error())
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", apiErr.StatusCode)
	}
}

func TestSuggestSlots_FallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cli, _ := NewClient(WithBaseURL(srv.URL))
	_, err := cli.SuggestSlots(context.Background(), "tomorrow", "p-1", "tok")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Error() != "Failed to fetch appointment slots" {
		t.Errorf("expected generic fallback, got %q", apiErr.Error())
	}
}

func TestSuggestSlots_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	cli, _ := NewClient(WithBaseURL(srv.URL))
	_, err := cli.SuggestSlots(context.Background(), "tomorrow", "p-1", "tok")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError for transport failure, got %v", err)
	}
	if apiErr.StatusCode != 0 {
		t.Errorf("expected zero status for transport failure, got %d", apiErr.StatusCode)
	}
}

func TestSuggestSlots_InputValidation(t *testing.T) {
	cli, _ := NewClient(WithBaseURL("http://example.test"))
	if _, err := cli.SuggestSlots(context.Background(), "", "p-1", "tok"); err != models.ErrEmptyMessage {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := cli.SuggestSlots(context.Background(), "tomorrow", "", "tok"); err != models.ErrEmptyPatientID {
		t.Errorf("expected ErrEmptyPatientID, got %v", err)
	}
}

func TestBookAppointment_LogicalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 with success=false is a logical failure, not an error.
		json.NewEncoder(w).Encode(models.BookingResponse{
			Success: false,
			Status:  "failed",
			Error:   "Slot no longer available",
		})
	}))
	defer srv.Close()

	cli, _ := NewClient(WithBaseURL(srv.URL))
	resp, err := cli.BookAppointment(context.Background(), "p-1", "d-1", "2026-09-02T09:00:00", "", "tok")
	if err != nil {
		t.Fatalf("expected nil error for logical failure, got %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Error != "Slot no longer available" {
		t.Errorf("expected error detail, got %q", resp.Error)
	}
}

func TestBookAppointment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.BookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode booking request: %v", err)
		}
		if req.DoctorID != "d-1" || req.AppointmentTime != "2026-09-02T09:00:00" {
			t.Errorf("unexpected booking payload: %+v", req)
		}
		json.NewEncoder(w).Encode(models.BookingResponse{
			Success: true,
			Status:  "confirmed",
			Booking: &models.Booking{
				ScheduleID:      "s-9",
				PatientID:       req.PatientID,
				DoctorID:        req.DoctorID,
				AppointmentTime: req.AppointmentTime,
				Status:          "confirmed",
			},
			Message: "Appointment booked successfully",
		})
	}))
	defer srv.Close()

	cli, _ := NewClient(WithBaseURL(srv.URL))
	resp, err := cli.BookAppointment(context.Background(), "p-1", "d-1", "2026-09-02T09:00:00", "", "tok")
	if err != nil {
		t.Fatalf("BookAppointment error: %v", err)
	}
	if !resp.Success || resp.Booking == nil || resp.Booking.ScheduleID != "s-9" {
		t.Errorf("unexpected booking response: %+v", resp)
	}
}

func TestCancelAppointment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/agents/booking/cancel" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(models.CancelBookingResponse{
			Success: true,
			Message: "Appointment cancelled successfully",
			Status:  "cancelled",
		})
	}))
	defer srv.Close()

	cli, _ := NewClient(WithBaseURL(srv.URL))
	resp, err := cli.CancelAppointment(context.Background(), "s-9", "tok")
	if err != nil {
		t.Fatalf("CancelAppointment error: %v", err)
	}
	if !resp.Success || resp.Status != "cancelled" {
		t.Errorf("unexpected cancel response: %+v", resp)
	}

	if _, err := cli.CancelAppointment(context.Background(), "", "tok"); err != models.ErrEmptyScheduleID {
		t.Errorf("expected ErrEmptyScheduleID, got %v", err)
	}
}

func TestRequestCancellation(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	cli, _ := NewClient(WithBaseURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := cli.SuggestSlots(ctx, "tomorrow", "p-1", "tok")
		errCh <- err
	}()
	<-started
	cancel()
	if err := <-errCh; err == nil {
		t.Error("expected error after context cancellation, got nil")
	}
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hang until the client gives up.
		<-r.Context().Done()
	}))
	defer srv.Close()

	cli, err := NewClient(WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	start := time.Now()
	_, err = cli.SuggestSlots(context.Background(), "tomorrow", "p-1", "tok")
	if err == nil {
		t.Fatal("expected timeout error from hung server, got nil")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError for timed-out request, got %T", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("request took %v, timeout never fired", elapsed)
	}
}

type countingTransport struct {
	calls int
	next  http.RoundTripper
}

func (ct *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ct.calls++
	return ct.next.RoundTrip(req)
}

func TestWithHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.SuggestSlotsResponse{Success: true})
	}))
	defer srv.Close()

	transport := &countingTransport{next: http.DefaultTransport}
	cli, err := NewClient(WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Transport: transport}))
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}

	if _, err := cli.SuggestSlots(context.Background(), "tomorrow", "p-1", "tok"); err != nil {
		t.Fatalf("SuggestSlots error: %v", err)
	}
	if transport.calls != 1 {
		t.Errorf("expected the injected client to carry the request, got %d calls", transport.calls)
	}
}
