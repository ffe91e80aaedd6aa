package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/booking"
	"github.com/daktarbari/chamber-core/internal/queue"
)

type BookSlotRequest struct {
	DoctorID         string `json:"doctor_id"`
	ChamberID        string `json:"chamber_id"`
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name"`
	PatientPhone     string `json:"patient_phone"`
	Date             string `json:"date"`       // 2006-01-02
	StartTime        string `json:"start_time"` // 15:04
	VisitType        string `json:"visit_type"`
	ConsultationType string `json:"consultation_type"`
}

type UpdateStatusRequest struct {
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
	Status    string `json:"status"`
}

type AppointmentResponse struct {
	ID               uuid.UUID  `json:"id"`
	DoctorID         uuid.UUID  `json:"doctor_id"`
	ChamberID        uuid.UUID  `json:"chamber_id"`
	PatientID        uuid.UUID  `json:"patient_id"`
	Date             string     `json:"date"`
	StartTime        string     `json:"start_time"`
	SerialNumber     int        `json:"serial_number"`
	VisitType        string     `json:"visit_type"`
	ConsultationType string     `json:"consultation_type"`
	Status           string     `json:"status"`
	Fee              int        `json:"fee"`
	CreatedAt        time.Time  `json:"created_at"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	CheckedInAt      *time.Time `json:"checked_in_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:               a.ID,
		DoctorID:         a.DoctorID,
		ChamberID:        a.ChamberID,
		PatientID:        a.PatientID,
		Date:             a.Date.Format("2006-01-02"),
		StartTime:        a.StartAt.Format("15:04"),
		SerialNumber:     a.SerialNumber,
		VisitType:        string(a.VisitType),
		ConsultationType: string(a.ConsultationType),
		Status:           string(a.Status),
		Fee:              a.Fee,
		CreatedAt:        a.CreatedAt,
		ConfirmedAt:      a.ConfirmedAt,
		CheckedInAt:      a.CheckedInAt,
		StartedAt:        a.StartedAt,
		CompletedAt:      a.CompletedAt,
		CancelledAt:      a.CancelledAt,
	}
}

type SlotsResponse struct {
	Date  string         `json:"date"`
	Slots []booking.Slot `json:"slots"`
}

type QueueResponse struct {
	State   queue.State        `json:"state"`
	Waiting []queue.QueueEntry `json:"waiting"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
