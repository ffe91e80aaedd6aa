// Package booking is the slot-booking engine: it validates a request, guards
// the slot with a fail-fast distributed lock, and commits the appointment
// with its serial number in one serializable transaction.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/config"
	redisclient "github.com/daktarbari/chamber-core/internal/redis"
)

const EventBookingCreated = "BOOKING_CREATED"

// QueueRefresher receives the committed appointment so the queue layer can
// refresh its derived state and fan out. Called after commit, never inside
// the booking transaction.
type QueueRefresher interface {
	BookingCreated(ctx context.Context, appt *appointment.Appointment)
}

type Service struct {
	repo   appointment.Repository
	locker redisclient.Locker
	queue  QueueRefresher
	cfg    config.Config
	now    func() time.Time
}

func NewService(repo appointment.Repository, locker redisclient.Locker, queue QueueRefresher, cfg config.Config) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		queue:  queue,
		cfg:    cfg,
		now:    time.Now,
	}
}

// BookSlotParams is one booking request from the API layer.
type BookSlotParams struct {
	DoctorID         uuid.UUID
	ChamberID        uuid.UUID
	PatientID        uuid.UUID
	PatientName      string
	PatientPhone     string
	Date             time.Time
	StartTime        string // "15:04"
	VisitType        appointment.VisitType
	ConsultationType appointment.ConsultationType
}

// BookSlot reserves the slot exactly once or fails with one of
// ErrValidation, ErrNotAvailable, ErrSlotTaken, ErrSlotContended, ErrTimeout.
// Conflicts are never retried here; re-offering slots is the caller's call.
func (s *Service) BookSlot(ctx context.Context, p BookSlotParams) (*appointment.Appointment, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}

	doctor, err := s.repo.GetDoctorByID(ctx, p.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.AcceptingAppointments {
		return nil, appointment.ErrNotAvailable
	}

	chamber, err := s.repo.GetChamberByID(ctx, p.ChamberID)
	if err != nil {
		return nil, fmt.Errorf("load chamber: %w", err)
	}
	if chamber.DoctorID != p.DoctorID {
		return nil, fmt.Errorf("%w: chamber does not belong to doctor", appointment.ErrValidation)
	}
	if !chamber.Active {
		return nil, appointment.ErrNotAvailable
	}

	date := appointment.DateOnly(p.Date)
	clock, err := parseClock(p.StartTime)
	if err != nil {
		return nil, err
	}
	startAt := date.Add(clock)

	grid, err := SlotGrid(chamber, date)
	if err != nil {
		return nil, err
	}
	if !onGrid(grid, startAt) {
		return nil, fmt.Errorf("%w: %s is not a slot of this chamber", appointment.ErrValidation, p.StartTime)
	}
	if startAt.Before(s.now().UTC().Add(s.cfg.SlotPastBuffer)) {
		return nil, appointment.ErrNotAvailable
	}

	reserve := appointment.ReserveSlotParams{
		DoctorID:         p.DoctorID,
		ChamberID:        p.ChamberID,
		PatientID:        p.PatientID,
		PatientName:      p.PatientName,
		PatientPhone:     p.PatientPhone,
		Date:             date,
		StartAt:          startAt,
		VisitType:        p.VisitType,
		ConsultationType: p.ConsultationType,
		Fee:              chamber.FeeFor(p.VisitType),
	}

	var created *appointment.Appointment

	key := appointment.SlotKey(p.DoctorID, p.ChamberID, date, startAt)
	err = s.locker.WithSlotLock(ctx, key, func(lockCtx context.Context) error {
		txCtx, cancel := context.WithTimeout(lockCtx, s.cfg.BookingTimeout)
		defer cancel()

		appt, err := s.repo.ReserveSlot(txCtx, reserve)
		if err != nil {
			return err
		}
		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, appointment.ErrSlotContended
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventBookingCreated, map[string]any{
		"doctor_id":     created.DoctorID.String(),
		"chamber_id":    created.ChamberID.String(),
		"date":          created.Date.Format("2006-01-02"),
		"start_time":    created.StartAt.Format("15:04"),
		"serial_number": created.SerialNumber,
		"fee":           created.Fee,
	})

	if s.queue != nil {
		s.queue.BookingCreated(ctx, created)
	}

	return created, nil
}

// AvailableSlots derives the full grid for a chamber day and marks slots
// unavailable when already occupied or, for today, already in the past
// relative to now plus the booking buffer.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, chamberID uuid.UUID, date time.Time) ([]Slot, error) {
	chamber, err := s.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return nil, fmt.Errorf("load chamber: %w", err)
	}
	if chamber.DoctorID != doctorID {
		return nil, fmt.Errorf("%w: chamber does not belong to doctor", appointment.ErrValidation)
	}

	day := appointment.DateOnly(date)
	grid, err := SlotGrid(chamber, day)
	if err != nil {
		return nil, err
	}

	booked, err := s.repo.ListBookedStartTimes(ctx, doctorID, chamberID, day)
	if err != nil {
		return nil, fmt.Errorf("list booked times: %w", err)
	}

	occupied := make(map[time.Time]struct{}, len(booked))
	for _, t := range booked {
		occupied[t.UTC()] = struct{}{}
	}

	cutoff := s.now().UTC().Add(s.cfg.SlotPastBuffer)

	slots := make([]Slot, 0, len(grid))
	for _, startAt := range grid {
		_, taken := occupied[startAt]
		slots = append(slots, Slot{
			StartAt:   startAt,
			Start:     startAt.Format("15:04"),
			Available: !taken && !startAt.Before(cutoff),
		})
	}

	return slots, nil
}

func validateParams(p BookSlotParams) error {
	switch {
	case p.DoctorID == uuid.Nil:
		return fmt.Errorf("%w: doctor id is required", appointment.ErrValidation)
	case p.ChamberID == uuid.Nil:
		return fmt.Errorf("%w: chamber id is required", appointment.ErrValidation)
	case p.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient id is required", appointment.ErrValidation)
	case p.PatientName == "":
		return fmt.Errorf("%w: patient name is required", appointment.ErrValidation)
	case p.Date.IsZero():
		return fmt.Errorf("%w: date is required", appointment.ErrValidation)
	case !p.VisitType.Valid():
		return fmt.Errorf("%w: unknown visit type %q", appointment.ErrValidation, p.VisitType)
	case !p.ConsultationType.Valid():
		return fmt.Errorf("%w: unknown consultation type %q", appointment.ErrValidation, p.ConsultationType)
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("booking: marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID
	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("booking: insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
