package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/live"
	"github.com/daktarbari/chamber-core/internal/notify"
)

// Notification event names handed to the dispatcher.
const (
	EventBookingCreated     = "booking.created"
	EventStatusChanged      = "appointment.status_changed"
	EventPatientCalled      = "queue.patient_called"
	EventDelayAnnounced     = "queue.delay_announced"
	EventConsultationClosed = "queue.consultation_completed"
)

// allowedNext is the status state machine's edge table. CANCELLED and NO_SHOW
// are reachable from every non-terminal state; consultation states advance
// one step at a time.
var allowedNext = map[appointment.Status]map[appointment.Status]bool{
	appointment.StatusRequested: {
		appointment.StatusConfirmed: true,
		appointment.StatusCancelled: true,
		appointment.StatusNoShow:    true,
	},
	appointment.StatusConfirmed: {
		appointment.StatusCheckedIn: true,
		appointment.StatusCancelled: true,
		appointment.StatusNoShow:    true,
	},
	appointment.StatusCheckedIn: {
		appointment.StatusInProgress: true,
		appointment.StatusCancelled:  true,
		appointment.StatusNoShow:     true,
	},
	appointment.StatusInProgress: {
		appointment.StatusCompleted: true,
		appointment.StatusCancelled: true,
		appointment.StatusNoShow:    true,
	},
	appointment.StatusCompleted: {},
	appointment.StatusCancelled: {},
	appointment.StatusNoShow:    {},
}

// Orchestrator is the single writer of QueueState. Every clinician or patient
// action flows through it: authority check, state-machine check, store
// compare-and-set, then refresh the derived state before publishing. It is
// never interleaved with the booking transaction.
type Orchestrator struct {
	repo       appointment.Repository
	states     *StateStore
	hub        live.Publisher
	dispatcher notify.Dispatcher
	lookahead  int
}

func NewOrchestrator(repo appointment.Repository, hub live.Publisher, dispatcher notify.Dispatcher, lookahead int) *Orchestrator {
	if lookahead < 0 {
		lookahead = 0
	}
	return &Orchestrator{
		repo:       repo,
		states:     NewStateStore(),
		hub:        hub,
		dispatcher: dispatcher,
		lookahead:  lookahead,
	}
}

// authorize enforces who may drive a transition: only the owning doctor
// advances consultation states; only the booking patient or the owning doctor
// cancels.
func authorize(appt *appointment.Appointment, actorID uuid.UUID, role appointment.ActorRole, to appointment.Status) error {
	if to == appointment.StatusCancelled {
		if role == appointment.RolePatient && actorID == appt.PatientID {
			return nil
		}
		if role == appointment.RoleDoctor && actorID == appt.DoctorID {
			return nil
		}
		return appointment.ErrUnauthorized
	}

	if role == appointment.RoleDoctor && actorID == appt.DoctorID {
		return nil
	}
	return appointment.ErrUnauthorized
}

// Transition drives one status change end to end.
func (o *Orchestrator) Transition(ctx context.Context, apptID, actorID uuid.UUID, role appointment.ActorRole, to appointment.Status, reason *string) (*appointment.Appointment, error) {
	appt, err := o.repo.GetAppointmentByID(ctx, apptID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := authorize(appt, actorID, role, to); err != nil {
		return nil, err
	}

	if !allowedNext[appt.Status][to] {
		return nil, appointment.ErrInvalidTransition
	}

	updated, err := o.repo.UpdateAppointmentStatus(ctx, apptID, appt.Status, to, reason)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			// Lost the compare-and-set race: the status moved under us.
			return nil, appointment.ErrInvalidTransition
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	o.logEvent(ctx, updated.ID, "STATUS_"+string(to), map[string]any{
		"from":     string(appt.Status),
		"to":       string(to),
		"actor_id": actorID.String(),
		"role":     string(role),
	})

	o.afterTransition(ctx, updated)

	return updated, nil
}

// CallPatient moves a checked-in appointment to IN_PROGRESS on behalf of the
// chamber's doctor.
func (o *Orchestrator) CallPatient(ctx context.Context, actorID, appointmentID uuid.UUID) error {
	_, err := o.Transition(ctx, appointmentID, actorID, appointment.RoleDoctor, appointment.StatusInProgress, nil)
	return err
}

// CompletePatient closes the running consultation.
func (o *Orchestrator) CompletePatient(ctx context.Context, actorID, appointmentID uuid.UUID) error {
	_, err := o.Transition(ctx, appointmentID, actorID, appointment.RoleDoctor, appointment.StatusCompleted, nil)
	return err
}

// afterTransition refreshes the derived state, then pushes the resulting
// events, in that order.
func (o *Orchestrator) afterTransition(ctx context.Context, appt *appointment.Appointment) {
	state, appts, err := o.rebuild(ctx, appt.ChamberID, appt.Date)
	if err != nil {
		log.Printf("queue: rebuild chamber=%s date=%s: %v", appt.ChamberID, appt.Date.Format("2006-01-02"), err)
		return
	}

	now := time.Now().UTC()
	chamberTopic := live.ChamberTopic(appt.ChamberID)
	apptTopic := live.AppointmentTopic(appt.ID)

	switch appt.Status {
	case appointment.StatusInProgress:
		o.hub.Publish(apptTopic, live.Event{
			Type:      live.EventYourTurn,
			Topic:     apptTopic,
			Message:   yourTurnMessage(),
			Timestamp: now,
			Data:      marshal(map[string]any{"serialNumber": appt.SerialNumber}),
		})
		o.notifyApproaching(state, appts, now)
		o.dispatch(ctx, EventPatientCalled, appt)

	case appointment.StatusCompleted:
		o.hub.Publish(apptTopic, live.Event{
			Type:      live.EventCompleted,
			Topic:     apptTopic,
			Message:   completedMessage(),
			Timestamp: now,
			Data:      marshal(map[string]any{"serialNumber": appt.SerialNumber}),
		})
		o.notifyApproaching(state, appts, now)
		o.dispatch(ctx, EventConsultationClosed, appt)

	default:
		o.dispatch(ctx, EventStatusChanged, appt)
	}

	o.hub.Publish(chamberTopic, o.statusEvent(chamberTopic, state, now))
	o.hub.Publish(live.ClinicianTopic(appt.DoctorID), o.statusEvent(live.ClinicianTopic(appt.DoctorID), state, now))
}

// notifyApproaching tells every waiting patient inside the look-ahead window
// that their turn is coming, separately from the generic chamber broadcast.
func (o *Orchestrator) notifyApproaching(state State, appts []appointment.Appointment, now time.Time) {
	for _, a := range appts {
		if !a.Status.IsWaiting() {
			continue
		}
		if a.SerialNumber <= state.CurrentSerial || a.SerialNumber > state.CurrentSerial+o.lookahead {
			continue
		}

		topic := live.AppointmentTopic(a.ID)
		ahead := a.SerialNumber - state.CurrentSerial - 1
		o.hub.Publish(topic, live.Event{
			Type:      live.EventApproaching,
			Topic:     topic,
			Message:   approachingMessage(ahead),
			Timestamp: now,
			Data: marshal(map[string]any{
				"serialNumber":  a.SerialNumber,
				"patientsAhead": ahead,
			}),
		})
	}
}

// BookingCreated is invoked by the booking engine after its transaction
// commits; it refreshes the chamber's state and pushes the new totals.
func (o *Orchestrator) BookingCreated(ctx context.Context, appt *appointment.Appointment) {
	state, _, err := o.rebuild(ctx, appt.ChamberID, appt.Date)
	if err != nil {
		log.Printf("queue: rebuild after booking %s: %v", appt.ID, err)
		return
	}

	now := time.Now().UTC()
	chamberTopic := live.ChamberTopic(appt.ChamberID)
	o.hub.Publish(chamberTopic, o.statusEvent(chamberTopic, state, now))
	o.dispatch(ctx, EventBookingCreated, appt)
}

// AnnounceDelay is a chamber-wide annotation from the doctor: it touches only
// the derived state, never individual appointment rows.
func (o *Orchestrator) AnnounceDelay(ctx context.Context, actorID, chamberID uuid.UUID, date time.Time, minutes int, message string) error {
	chamber, err := o.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return fmt.Errorf("load chamber: %w", err)
	}
	if chamber.DoctorID != actorID {
		return appointment.ErrUnauthorized
	}
	if minutes < 0 {
		return appointment.ErrValidation
	}

	now := time.Now().UTC()
	state := o.states.Apply(chamberID, date, func(st *State) {
		st.DelayMinutes = minutes
		if message != "" {
			st.DoctorMessage = message
		}
		st.LastUpdated = now
	})

	topic := live.ChamberTopic(chamberID)
	o.hub.Publish(topic, live.Event{
		Type:      live.EventDelay,
		Topic:     topic,
		Message:   delayMessage(minutes),
		Timestamp: now,
		Data:      marshal(state),
	})

	o.dispatcher.Dispatch(ctx, EventDelayAnnounced, map[string]any{
		"chamber_id":    chamberID.String(),
		"date":          date.Format("2006-01-02"),
		"delay_minutes": minutes,
		"message":       message,
	})

	return nil
}

// SendDoctorMessage updates the free-text note on the queue and broadcasts it
// to the chamber.
func (o *Orchestrator) SendDoctorMessage(ctx context.Context, actorID, chamberID uuid.UUID, date time.Time, text string) error {
	chamber, err := o.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return fmt.Errorf("load chamber: %w", err)
	}
	if chamber.DoctorID != actorID {
		return appointment.ErrUnauthorized
	}

	now := time.Now().UTC()
	state := o.states.Apply(chamberID, date, func(st *State) {
		st.DoctorMessage = text
		st.LastUpdated = now
	})

	topic := live.ChamberTopic(chamberID)
	o.hub.Publish(topic, live.Event{
		Type:      live.EventDoctorMessage,
		Topic:     topic,
		Message:   doctorNoteMessage(text),
		Timestamp: now,
		Data:      marshal(state),
	})

	return nil
}

// QueueEntry is one waiting appointment in a snapshot.
type QueueEntry struct {
	AppointmentID        uuid.UUID          `json:"appointmentId"`
	SerialNumber         int                `json:"serialNumber"`
	PatientName          string             `json:"patientName"`
	Status               appointment.Status `json:"status"`
	StartAt              time.Time          `json:"startAt"`
	EstimatedWaitMinutes int                `json:"estimatedWaitMinutes"`
}

// Snapshot returns the chamber day's state plus its ordered waiting list,
// rebuilding the state from the store.
func (o *Orchestrator) Snapshot(ctx context.Context, chamberID uuid.UUID, date time.Time) (State, []QueueEntry, error) {
	state, appts, err := o.rebuild(ctx, chamberID, date)
	if err != nil {
		return State{}, nil, err
	}

	chamber, err := o.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return State{}, nil, fmt.Errorf("load chamber: %w", err)
	}

	var waiting []QueueEntry
	for _, a := range appts {
		if !a.Status.IsWaiting() {
			continue
		}
		waiting = append(waiting, QueueEntry{
			AppointmentID:        a.ID,
			SerialNumber:         a.SerialNumber,
			PatientName:          a.PatientName,
			Status:               a.Status,
			StartAt:              a.StartAt,
			EstimatedWaitMinutes: WaitMinutes(a.SerialNumber, state.CurrentSerial, chamber.ConsultMinutes()),
		})
	}

	return state, waiting, nil
}

// ChamberSnapshot renders the queue as a single queue_status event, used as
// the fresh snapshot a client receives on joining the chamber topic.
func (o *Orchestrator) ChamberSnapshot(ctx context.Context, chamberID uuid.UUID, date time.Time) (live.Event, error) {
	state, waiting, err := o.Snapshot(ctx, chamberID, date)
	if err != nil {
		return live.Event{}, err
	}

	topic := live.ChamberTopic(chamberID)
	return live.Event{
		Type:      live.EventQueueStatus,
		Topic:     topic,
		Message:   queueStatusMessage(state.CurrentSerial, state.TotalInQueue),
		Timestamp: time.Now().UTC(),
		Data: marshal(map[string]any{
			"state":   state,
			"waiting": waiting,
		}),
	}, nil
}

// ExpireOverdue marks appointments NO_SHOW once their chamber has been closed
// past the grace period. Run periodically by the no-show worker.
func (o *Orchestrator) ExpireOverdue(ctx context.Context, grace time.Duration) error {
	overdue, err := o.repo.FindOverdueActive(ctx, grace, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("find overdue appointments: %w", err)
	}

	for _, appt := range overdue {
		updated, err := o.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, appointment.StatusNoShow, nil)
		if err != nil {
			if !errors.Is(err, appointment.ErrAppointmentNotFound) {
				log.Printf("queue: mark no-show %s: %v", appt.ID, err)
			}
			continue
		}
		o.logEvent(ctx, updated.ID, "STATUS_"+string(appointment.StatusNoShow), map[string]any{
			"from":   string(appt.Status),
			"to":     string(appointment.StatusNoShow),
			"reason": "worker",
		})
		o.dispatch(ctx, EventStatusChanged, updated)
	}

	return nil
}

// rebuild derives the chamber day's state from committed appointments. The
// doctor's delay annotation survives the rebuild; everything else is
// recomputed, so two rebuilds without intervening writes agree.
func (o *Orchestrator) rebuild(ctx context.Context, chamberID uuid.UUID, date time.Time) (State, []appointment.Appointment, error) {
	appts, err := o.repo.ListChamberDay(ctx, chamberID, date)
	if err != nil {
		return State{}, nil, fmt.Errorf("list chamber day: %w", err)
	}

	chamber, err := o.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return State{}, nil, fmt.Errorf("load chamber: %w", err)
	}

	current := 0
	total := 0
	nextWaiting := 0
	for _, a := range appts {
		switch {
		case a.Status == appointment.StatusInProgress || a.Status == appointment.StatusCompleted:
			if a.SerialNumber > current {
				current = a.SerialNumber
			}
		case a.Status.IsWaiting():
			total++
			if nextWaiting == 0 || a.SerialNumber < nextWaiting {
				nextWaiting = a.SerialNumber
			}
		}
	}

	wait := 0
	if nextWaiting > 0 {
		wait = WaitMinutes(nextWaiting, current, chamber.ConsultMinutes())
	}

	state := o.states.Apply(chamberID, date, func(st *State) {
		st.CurrentSerial = current
		st.TotalInQueue = total
		st.EstimatedWaitMinutes = wait
		st.LastUpdated = time.Now().UTC()
	})

	return state, appts, nil
}

func (o *Orchestrator) statusEvent(topic string, state State, now time.Time) live.Event {
	return live.Event{
		Type:      live.EventQueueStatus,
		Topic:     topic,
		Message:   queueStatusMessage(state.CurrentSerial, state.TotalInQueue),
		Timestamp: now,
		Data:      marshal(state),
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, event string, appt *appointment.Appointment) {
	o.dispatcher.Dispatch(ctx, event, map[string]any{
		"appointment_id": appt.ID.String(),
		"doctor_id":      appt.DoctorID.String(),
		"chamber_id":     appt.ChamberID.String(),
		"patient_id":     appt.PatientID.String(),
		"patient_phone":  appt.PatientPhone,
		"serial_number":  appt.SerialNumber,
		"status":         string(appt.Status),
		"date":           appt.Date.Format("2006-01-02"),
	})
}

func (o *Orchestrator) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("queue: marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID
	ev := appointment.EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := o.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("queue: insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("queue: marshal payload: %v", err)
		return nil
	}
	return data
}
