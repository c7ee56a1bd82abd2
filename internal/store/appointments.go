package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// pgxDB is the subset of pgxpool.Pool the repository needs; pgxmock
// satisfies it in tests.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Appointment is a committed booking row.
type Appointment struct {
	ID              uuid.UUID
	Phone           string
	PatientName     string
	Contact         string
	AppointmentTime time.Time
	CalendarEventID *string
	CreatedAt       time.Time
}

// AppointmentRepository persists committed appointments.
type AppointmentRepository struct {
	db       pgxDB
	clientID string
}

// NewAppointmentRepository creates a repository backed by a pgx pool.
func NewAppointmentRepository(db pgxDB, clientID string) *AppointmentRepository {
	if db == nil {
		panic("store: pgx pool required")
	}
	return &AppointmentRepository{db: db, clientID: clientID}
}

// Create inserts an appointment row. eventID may be empty when the calendar
// event id is unknown (calendar creation raced a persistence failure on a
// retry path); it is stored as NULL in that case.
func (r *AppointmentRepository) Create(ctx context.Context, phone, patientName, contact string, startsAt time.Time, eventID string) (uuid.UUID, error) {
	id := uuid.New()

	var eventVal pgtype.Text
	if eventID != "" {
		eventVal = pgtype.Text{String: eventID, Valid: true}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, client_id, phone_number, patient_name, contact_info, appointment_time, google_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, id, r.clientID, phone, patientName, contact, startsAt, eventVal)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: insert appointment: %w", err)
	}
	return id, nil
}

// CountForPhone returns how many appointments the sender has booked.
func (r *AppointmentRepository) CountForPhone(ctx context.Context, phone string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE client_id = $1 AND phone_number = $2
	`, r.clientID, phone).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count appointments: %w", err)
	}
	return count, nil
}
