package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReserveSlotParams carries everything the store needs to commit one booking
// atomically: the slot identity, the patient, and the pre-computed fee.
type ReserveSlotParams struct {
	DoctorID         uuid.UUID
	ChamberID        uuid.UUID
	PatientID        uuid.UUID
	PatientName      string
	PatientPhone     string
	Date             time.Time
	StartAt          time.Time
	VisitType        VisitType
	ConsultationType ConsultationType
	Fee              int
}

// Repository contains all DB interactions needed by the booking engine and
// the queue orchestrator.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetChamberByID(ctx context.Context, id uuid.UUID) (*Chamber, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ReserveSlot runs the whole booking critical section in one serializable
	// transaction: non-blocking slot lock, occupancy re-check, serial
	// assignment by count, insert in REQUESTED. Fails with ErrSlotContended,
	// ErrSlotTaken or ErrTimeout.
	ReserveSlot(ctx context.Context, p ReserveSlotParams) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-set on status. The timestamp
	// column matching the target status is stamped only if still unset.
	// Returns ErrAppointmentNotFound when the appointment is missing or its
	// status no longer equals from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)

	// ListBookedStartTimes returns slot start times already occupied by a
	// non-cancelled appointment for the chamber day.
	ListBookedStartTimes(ctx context.Context, doctorID, chamberID uuid.UUID, date time.Time) ([]time.Time, error)

	// ListChamberDay returns the chamber's appointments for a date ordered by
	// serial number, cancelled ones excluded.
	ListChamberDay(ctx context.Context, chamberID uuid.UUID, date time.Time) ([]Appointment, error)

	// FindOverdueActive returns non-terminal appointments whose chamber has
	// been closed for longer than grace as of now.
	FindOverdueActive(ctx context.Context, grace time.Duration, now time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
