package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/vita-care/vitacare/internal/models"
)

// DetectDSNType reports the database driver a DSN refers to: "postgres" for
// PostgreSQL connection strings, "sqlite3" for SQLite file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanBooking scans a BookingRecord from sql.Rows.
func scanBooking(rows *sql.Rows) (models.BookingRecord, error) {
	var rec models.BookingRecord
	var contact sql.NullString
	err := rows.Scan(
		&rec.ScheduleID, &rec.PatientID, &rec.DoctorID, &rec.DoctorName,
		&rec.AppointmentTime, &contact, &rec.CreatedAt,
	)
	if err != nil {
		return rec, fmt.Errorf("scan booking failed: %w", err)
	}
	rec.Contact = contact.String
	return rec, nil
}
