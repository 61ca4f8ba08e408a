package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/store"
)

type recordingSender struct {
	sent []string
	to   []string
	err  error
}

func (r *recordingSender) SendMessage(ctx context.Context, to string, body string) error {
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, to)
	r.sent = append(r.sent, body)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestReminderSendsForUpcomingBookings(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	st.SaveBooking(models.BookingRecord{
		ScheduleID:      "s1",
		PatientID:       "p1",
		DoctorName:      "Dr. Chen",
		AppointmentTime: now.Add(6 * time.Hour),
		Contact:         "+15551234567",
		CreatedAt:       now.Add(-time.Hour),
	})
	// Outside the lookahead window.
	st.SaveBooking(models.BookingRecord{
		ScheduleID:      "s2",
		PatientID:       "p1",
		DoctorName:      "Dr. Patel",
		AppointmentTime: now.Add(72 * time.Hour),
		Contact:         "+15551234567",
		CreatedAt:       now.Add(-time.Hour),
	})

	sender := &recordingSender{}
	r := NewReminder(st, sender, WithClock(fixedClock(now)))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "Dr. Chen") || !strings.Contains(sender.sent[0], "2:00 PM") {
		t.Errorf("unexpected reminder text: %q", sender.sent[0])
	}
	if sender.to[0] != "+15551234567" {
		t.Errorf("reminder sent to %q", sender.to[0])
	}
}

func TestReminderDedupWithinDay(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	st.SaveBooking(models.BookingRecord{
		ScheduleID:      "s1",
		DoctorName:      "Dr. Chen",
		AppointmentTime: now.Add(6 * time.Hour),
		Contact:         "+15551234567",
		CreatedAt:       now,
	})

	sender := &recordingSender{}
	r := NewReminder(st, sender, WithClock(fixedClock(now)))

	for i := 0; i < 3; i++ {
		if err := r.Run(context.Background()); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	if len(sender.sent) != 1 {
		t.Errorf("expected exactly 1 reminder across repeated cycles, got %d", len(sender.sent))
	}
}

func TestReminderSkipsBookingsWithoutContact(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	st.SaveBooking(models.BookingRecord{
		ScheduleID:      "s1",
		DoctorName:      "Dr. Chen",
		AppointmentTime: now.Add(2 * time.Hour),
		CreatedAt:       now,
	})

	sender := &recordingSender{}
	r := NewReminder(st, sender, WithClock(fixedClock(now)))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no reminders for contactless bookings, got %d", len(sender.sent))
	}
}

func TestReminderRetriesAfterSendFailure(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	st.SaveBooking(models.BookingRecord{
		ScheduleID:      "s1",
		DoctorName:      "Dr. Chen",
		AppointmentTime: now.Add(2 * time.Hour),
		Contact:         "+15551234567",
		CreatedAt:       now,
	})

	sender := &recordingSender{err: errors.New("relay down")}
	r := NewReminder(st, sender, WithClock(fixedClock(now)))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Failed send must not burn the dedup key.
	sender.err = nil
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected reminder to go out on retry, got %d sends", len(sender.sent))
	}
}

func TestReminderCustomLookahead(t *testing.T) {
	st := store.NewInMemoryStore()
	now := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	st.SaveBooking(models.BookingRecord{
		ScheduleID:      "s1",
		DoctorName:      "Dr. Chen",
		AppointmentTime: now.Add(36 * time.Hour),
		Contact:         "+15551234567",
		CreatedAt:       now,
	})

	sender := &recordingSender{}
	r := NewReminder(st, sender, WithClock(fixedClock(now)), WithLookahead(48*time.Hour))

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected reminder within widened window, got %d", len(sender.sent))
	}
}
