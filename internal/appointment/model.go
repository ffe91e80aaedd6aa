package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusCheckedIn  Status = "CHECKED_IN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
	StatusNoShow     Status = "NO_SHOW"
)

// IsTerminal reports whether no further transition may leave the status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// IsWaiting reports whether the patient still holds a place in the day's queue
// ahead of being called in.
func (s Status) IsWaiting() bool {
	return s == StatusRequested || s == StatusConfirmed || s == StatusCheckedIn
}

type VisitType string

const (
	VisitNew         VisitType = "NEW"
	VisitFollowUp    VisitType = "FOLLOW_UP"
	VisitReportCheck VisitType = "REPORT_CHECK"
)

func (v VisitType) Valid() bool {
	switch v {
	case VisitNew, VisitFollowUp, VisitReportCheck:
		return true
	}
	return false
}

type ConsultationType string

const (
	ConsultChamber   ConsultationType = "CHAMBER"
	ConsultOnline    ConsultationType = "ONLINE"
	ConsultHomeVisit ConsultationType = "HOME_VISIT"
)

func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultChamber, ConsultOnline, ConsultHomeVisit:
		return true
	}
	return false
}

type ActorRole string

const (
	RoleDoctor  ActorRole = "doctor"
	RolePatient ActorRole = "patient"
)

type Doctor struct {
	ID                    uuid.UUID
	Name                  string
	Specialty             *string
	AcceptingAppointments bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Chamber is a doctor's practice location. Its schedule fields are read-only
// inputs to the booking engine: opening/closing time ("15:04"), slot length
// and the per-visit-type fee table.
type Chamber struct {
	ID                uuid.UUID
	DoctorID          uuid.UUID
	Name              string
	Address           *string
	Active            bool
	OpenTime          string
	CloseTime         string
	SlotMinutes       int
	NewFee            int
	FollowUpFee       *int
	ReportFee         *int
	AvgConsultMinutes *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FeeFor resolves the consultation fee for a visit type. Follow-up and report
// visits without an explicit fee fall back to fractions of the new-visit fee.
func (c *Chamber) FeeFor(v VisitType) int {
	switch v {
	case VisitFollowUp:
		if c.FollowUpFee != nil {
			return *c.FollowUpFee
		}
		return c.NewFee * 2 / 3
	case VisitReportCheck:
		if c.ReportFee != nil {
			return *c.ReportFee
		}
		return c.NewFee / 3
	default:
		return c.NewFee
	}
}

// ConsultMinutes is the average consultation length used for wait estimates,
// defaulting to the slot duration when no observed override is configured.
func (c *Chamber) ConsultMinutes() int {
	if c.AvgConsultMinutes != nil && *c.AvgConsultMinutes > 0 {
		return *c.AvgConsultMinutes
	}
	return c.SlotMinutes
}

type Appointment struct {
	ID               uuid.UUID
	DoctorID         uuid.UUID
	ChamberID        uuid.UUID
	PatientID        uuid.UUID
	PatientName      string
	PatientPhone     string
	Date             time.Time // calendar day, midnight UTC
	StartAt          time.Time // slot start on Date
	SerialNumber     int
	VisitType        VisitType
	ConsultationType ConsultationType
	Status           Status
	Fee              int
	CancelReason     *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ConfirmedAt      *time.Time
	CheckedInAt      *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CancelledAt      *time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// SlotKey identifies one bookable slot for locking and conflict checks.
func SlotKey(doctorID, chamberID uuid.UUID, date, startAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s",
		doctorID, chamberID, date.Format("2006-01-02"), startAt.Format("15:04"))
}

// DateOnly truncates t to its calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
