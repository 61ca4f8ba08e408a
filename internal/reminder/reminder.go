// Package reminder implements the appointment reminder cycle for VITA-Care.
//
// Each cycle reads upcoming bookings from the store and notifies the patient
// over the messaging relay at most once per booking per day.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/store"
	"github.com/vita-care/vitacare/internal/util"
)

// DefaultLookahead is how far ahead of the appointment a reminder goes out.
const DefaultLookahead = 24 * time.Hour

// Sender is the outbound messaging surface the reminder cycle needs.
// messaging.Service satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Reminder runs the periodic reminder cycle.
type Reminder struct {
	st        store.Store
	sender    Sender
	lookahead time.Duration
	clock     func() time.Time
}

// Option configures a Reminder.
type Option func(*Reminder)

// WithLookahead overrides the default reminder window.
func WithLookahead(d time.Duration) Option {
	return func(r *Reminder) { r.lookahead = d }
}

// WithClock overrides the time source, used in tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Reminder) { r.clock = clock }
}

// NewReminder creates a reminder cycle over the given store and sender.
func NewReminder(st store.Store, sender Sender, opts ...Option) *Reminder {
	r := &Reminder{
		st:        st,
		sender:    sender,
		lookahead: DefaultLookahead,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one reminder cycle. Bookings without a contact number are
// skipped; send failures are logged and retried on the next cycle because
// the dedup key is only written after a successful send.
func (r *Reminder) Run(ctx context.Context) error {
	now := r.clock()
	bookings, err := r.st.GetBookingsBetween(now, now.Add(r.lookahead))
	if err != nil {
		slog.Error("Reminder cycle failed to load bookings", "error", err)
		return fmt.Errorf("failed to load upcoming bookings: %w", err)
	}

	slog.Debug("Reminder cycle starting", "bookings", len(bookings), "lookahead", r.lookahead)

	for _, rec := range bookings {
		if rec.Contact == "" {
			slog.Debug("Reminder skipping booking without contact", "scheduleID", rec.ScheduleID)
			continue
		}

		key := util.GenerateReminderKey(rec.ScheduleID, now.Format("2006-01-02"))
		sent, err := r.st.WasReminderSent(key)
		if err != nil {
			slog.Error("Reminder dedup lookup failed", "error", err, "key", key)
			continue
		}
		if sent {
			continue
		}

		if err := r.sender.SendMessage(ctx, rec.Contact, reminderText(rec)); err != nil {
			slog.Error("Reminder send failed", "error", err, "scheduleID", rec.ScheduleID, "contact", rec.Contact)
			continue
		}

		if err := r.st.MarkReminderSent(key, now); err != nil {
			slog.Error("Reminder failed to record dedup key", "error", err, "key", key)
		}
		slog.Info("Reminder sent", "scheduleID", rec.ScheduleID, "contact", rec.Contact)
	}

	return nil
}

func reminderText(rec models.BookingRecord) string {
	return fmt.Sprintf("⏰ Reminder: you have an appointment with %s on %s at %s.",
		rec.DoctorName,
		rec.AppointmentTime.Format("Monday, January 2"),
		rec.AppointmentTime.Format("3:04 PM"))
}
