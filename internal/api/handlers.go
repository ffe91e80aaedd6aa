package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/booking"
	"github.com/daktarbari/chamber-core/internal/queue"
)

// BookingService is the slice of the booking engine the handlers need.
type BookingService interface {
	BookSlot(ctx context.Context, p booking.BookSlotParams) (*appointment.Appointment, error)
	AvailableSlots(ctx context.Context, doctorID, chamberID uuid.UUID, date time.Time) ([]booking.Slot, error)
}

// QueueService is the slice of the queue orchestrator the handlers need.
type QueueService interface {
	Transition(ctx context.Context, apptID, actorID uuid.UUID, role appointment.ActorRole, to appointment.Status, reason *string) (*appointment.Appointment, error)
	Snapshot(ctx context.Context, chamberID uuid.UUID, date time.Time) (queue.State, []queue.QueueEntry, error)
}

func bookSlotHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		chamberID, err := uuid.Parse(req.ChamberID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "chamber_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.BookSlot(r.Context(), booking.BookSlotParams{
			DoctorID:         doctorID,
			ChamberID:        chamberID,
			PatientID:        patientID,
			PatientName:      req.PatientName,
			PatientPhone:     req.PatientPhone,
			Date:             date,
			StartTime:        req.StartTime,
			VisitType:        appointment.VisitType(req.VisitType),
			ConsultationType: appointment.ConsultationType(req.ConsultationType),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func availableSlotsHandler(svc BookingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
			return
		}
		chamberID, err := uuid.Parse(chi.URLParam(r, "chamberID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "chamberID must be a valid UUID")
			return
		}
		date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date query param must be YYYY-MM-DD")
			return
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, chamberID, date)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			Date:  date.Format("2006-01-02"),
			Slots: slots,
		})
	}
}

func updateStatusHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actorID, err := uuid.Parse(req.ActorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor_id", "actor_id must be a valid UUID")
			return
		}
		role, ok := parseRole(req.ActorRole)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor_role", "actor_role must be doctor or patient")
			return
		}

		appt, err := svc.Transition(r.Context(), apptID, actorID, role, appointment.Status(req.Status), nil)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		q := r.URL.Query()
		actorID, err := uuid.Parse(q.Get("actor_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor_id", "actor_id query param must be a valid UUID")
			return
		}
		role, ok := parseRole(q.Get("actor_role"))
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_actor_role", "actor_role must be doctor or patient")
			return
		}

		var reason *string
		if v := q.Get("reason"); v != "" {
			reason = &v
		}

		appt, err := svc.Transition(r.Context(), apptID, actorID, role, appointment.StatusCancelled, reason)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func queueSnapshotHandler(svc QueueService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chamberID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_chamber_id", "id must be a valid UUID")
			return
		}

		date := appointment.DateOnly(time.Now())
		if v := r.URL.Query().Get("date"); v != "" {
			date, err = time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date query param must be YYYY-MM-DD")
				return
			}
		}

		state, waiting, err := svc.Snapshot(r.Context(), chamberID, date)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, QueueResponse{State: state, Waiting: waiting})
	}
}

func parseRole(s string) (appointment.ActorRole, bool) {
	switch appointment.ActorRole(s) {
	case appointment.RoleDoctor:
		return appointment.RoleDoctor, true
	case appointment.RolePatient:
		return appointment.RolePatient, true
	}
	return "", false
}

func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrChamberNotFound):
		writeError(w, http.StatusNotFound, "chamber_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotAvailable):
		writeError(w, http.StatusConflict, "not_available", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrSlotContended):
		writeError(w, http.StatusConflict, "slot_contended", "slot is being booked by another request, retry shortly")
	case errors.Is(err, appointment.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrTimeout):
		writeError(w, http.StatusServiceUnavailable, "timeout", err.Error())
	case errors.Is(err, appointment.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
