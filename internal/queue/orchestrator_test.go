package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/daktarbari/chamber-core/internal/appointment"
	"github.com/daktarbari/chamber-core/internal/live"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memRepo struct {
	mu      sync.Mutex
	chamber *appointment.Chamber
	appts   map[uuid.UUID]*appointment.Appointment
	events  []appointment.EventLog
	listErr error
}

func newMemRepo(chamber *appointment.Chamber) *memRepo {
	return &memRepo{
		chamber: chamber,
		appts:   make(map[uuid.UUID]*appointment.Appointment),
	}
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	return &appointment.Doctor{ID: id, AcceptingAppointments: true}, nil
}

func (r *memRepo) GetChamberByID(_ context.Context, id uuid.UUID) (*appointment.Chamber, error) {
	if r.chamber == nil || r.chamber.ID != id {
		return nil, appointment.ErrChamberNotFound
	}
	copied := *r.chamber
	return &copied, nil
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memRepo) ReserveSlot(_ context.Context, _ appointment.ReserveSlotParams) (*appointment.Appointment, error) {
	return nil, errors.New("not used in queue tests")
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status, reason *string) (*appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}

	now := time.Now()
	a.Status = to
	a.UpdatedAt = now
	if reason != nil {
		a.CancelReason = reason
	}
	switch to {
	case appointment.StatusConfirmed:
		if a.ConfirmedAt == nil {
			a.ConfirmedAt = &now
		}
	case appointment.StatusCheckedIn:
		if a.CheckedInAt == nil {
			a.CheckedInAt = &now
		}
	case appointment.StatusInProgress:
		if a.StartedAt == nil {
			a.StartedAt = &now
		}
	case appointment.StatusCompleted:
		if a.CompletedAt == nil {
			a.CompletedAt = &now
		}
	case appointment.StatusCancelled, appointment.StatusNoShow:
		if a.CancelledAt == nil {
			a.CancelledAt = &now
		}
	}

	copied := *a
	return &copied, nil
}

func (r *memRepo) ListBookedStartTimes(_ context.Context, _, _ uuid.UUID, _ time.Time) ([]time.Time, error) {
	return nil, nil
}

func (r *memRepo) ListChamberDay(_ context.Context, chamberID uuid.UUID, date time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.ChamberID == chamberID && a.Date.Equal(date) && a.Status != appointment.StatusCancelled {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out, nil
}

func (r *memRepo) FindOverdueActive(_ context.Context, _ time.Duration, _ time.Time) ([]appointment.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range r.appts {
		if a.Status.IsWaiting() {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type captureHub struct {
	mu     sync.Mutex
	events []live.Event
}

func (h *captureHub) Publish(topic string, event live.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	event.Topic = topic
	h.events = append(h.events, event)
}

func (h *captureHub) byType(eventType string) []live.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []live.Event
	for _, ev := range h.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *captureDispatcher) Dispatch(_ context.Context, event string, _ map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var testDay = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	orch     *Orchestrator
	repo     *memRepo
	hub      *captureHub
	disp     *captureDispatcher
	doctorID uuid.UUID
	chamber  *appointment.Chamber
}

func newFixture(t *testing.T, lookahead int) *fixture {
	t.Helper()

	doctorID := uuid.New()
	chamber := &appointment.Chamber{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		Active:      true,
		OpenTime:    "09:00",
		CloseTime:   "12:00",
		SlotMinutes: 15,
		NewFee:      900,
	}

	repo := newMemRepo(chamber)
	hub := &captureHub{}
	disp := &captureDispatcher{}

	return &fixture{
		orch:     NewOrchestrator(repo, hub, disp, lookahead),
		repo:     repo,
		hub:      hub,
		disp:     disp,
		doctorID: doctorID,
		chamber:  chamber,
	}
}

func (f *fixture) seedAppointment(serial int, status appointment.Status) *appointment.Appointment {
	a := &appointment.Appointment{
		ID:               uuid.New(),
		DoctorID:         f.doctorID,
		ChamberID:        f.chamber.ID,
		PatientID:        uuid.New(),
		PatientName:      "Patient",
		Date:             testDay,
		StartAt:          testDay.Add(9*time.Hour + time.Duration(serial-1)*15*time.Minute),
		SerialNumber:     serial,
		VisitType:        appointment.VisitNew,
		ConsultationType: appointment.ConsultChamber,
		Status:           status,
		Fee:              900,
		CreatedAt:        time.Now(),
	}
	f.repo.mu.Lock()
	f.repo.appts[a.ID] = a
	f.repo.mu.Unlock()
	return a
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

func TestTransition_FullLifecycle(t *testing.T) {
	f := newFixture(t, 3)
	appt := f.seedAppointment(1, appointment.StatusRequested)
	ctx := context.Background()

	steps := []appointment.Status{
		appointment.StatusConfirmed,
		appointment.StatusCheckedIn,
		appointment.StatusInProgress,
		appointment.StatusCompleted,
	}

	for _, next := range steps {
		updated, err := f.orch.Transition(ctx, appt.ID, f.doctorID, appointment.RoleDoctor, next, nil)
		if err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
		if updated.Status != next {
			t.Fatalf("status = %s, want %s", updated.Status, next)
		}
	}

	final, _ := f.repo.GetAppointmentByID(ctx, appt.ID)
	if final.ConfirmedAt == nil || final.CheckedInAt == nil || final.StartedAt == nil || final.CompletedAt == nil {
		t.Fatalf("expected every lifecycle timestamp stamped, got %+v", final)
	}

	// Terminal state stays terminal.
	_, err := f.orch.Transition(ctx, appt.ID, f.doctorID, appointment.RoleDoctor, appointment.StatusInProgress, nil)
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition reopening COMPLETED, got %v", err)
	}
}

func TestTransition_CannotSkipStates(t *testing.T) {
	f := newFixture(t, 3)
	appt := f.seedAppointment(1, appointment.StatusConfirmed)

	_, err := f.orch.Transition(context.Background(), appt.ID, f.doctorID, appointment.RoleDoctor, appointment.StatusCompleted, nil)
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for CONFIRMED->COMPLETED, got %v", err)
	}
}

func TestTransition_CancelCompletedRejected(t *testing.T) {
	f := newFixture(t, 3)
	appt := f.seedAppointment(1, appointment.StatusCompleted)

	_, err := f.orch.Transition(context.Background(), appt.ID, f.doctorID, appointment.RoleDoctor, appointment.StatusCancelled, nil)
	if !errors.Is(err, appointment.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransition_Authority(t *testing.T) {
	f := newFixture(t, 3)
	appt := f.seedAppointment(1, appointment.StatusRequested)
	ctx := context.Background()

	// A patient cannot advance consultation states, even their own.
	_, err := f.orch.Transition(ctx, appt.ID, appt.PatientID, appointment.RolePatient, appointment.StatusConfirmed, nil)
	if !errors.Is(err, appointment.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for patient advance, got %v", err)
	}

	// A stranger patient cannot cancel someone else's appointment.
	_, err = f.orch.Transition(ctx, appt.ID, uuid.New(), appointment.RolePatient, appointment.StatusCancelled, nil)
	if !errors.Is(err, appointment.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for stranger cancel, got %v", err)
	}

	// Another doctor cannot drive this chamber's queue.
	_, err = f.orch.Transition(ctx, appt.ID, uuid.New(), appointment.RoleDoctor, appointment.StatusConfirmed, nil)
	if !errors.Is(err, appointment.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign doctor, got %v", err)
	}

	// The booking patient may cancel.
	updated, err := f.orch.Transition(ctx, appt.ID, appt.PatientID, appointment.RolePatient, appointment.StatusCancelled, nil)
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if updated.Status != appointment.StatusCancelled || updated.CancelledAt == nil {
		t.Fatalf("expected CANCELLED with timestamp, got %+v", updated)
	}
}

// ---------------------------------------------------------------------------
// Queue state and broadcasts
// ---------------------------------------------------------------------------

func TestCallPatient_PublishesYourTurn(t *testing.T) {
	f := newFixture(t, 3)
	appt := f.seedAppointment(1, appointment.StatusCheckedIn)

	if err := f.orch.CallPatient(context.Background(), f.doctorID, appt.ID); err != nil {
		t.Fatalf("CallPatient: %v", err)
	}

	turns := f.hub.byType(live.EventYourTurn)
	if len(turns) != 1 {
		t.Fatalf("expected 1 your_turn event, got %d", len(turns))
	}
	if turns[0].Topic != live.AppointmentTopic(appt.ID) {
		t.Fatalf("your_turn on topic %s, want %s", turns[0].Topic, live.AppointmentTopic(appt.ID))
	}
	if turns[0].Message.En == "" || turns[0].Message.Bn == "" {
		t.Fatal("expected bilingual message on your_turn")
	}

	statuses := f.hub.byType(live.EventQueueStatus)
	if len(statuses) == 0 {
		t.Fatal("expected a queue_status broadcast after call-in")
	}
}

// Completing serial 3 with serial 5 waiting and a look-ahead of 3 sends
// serial 5 a turn_approaching push with one patient ahead.
func TestComplete_TurnApproachingWindow(t *testing.T) {
	f := newFixture(t, 3)

	f.seedAppointment(1, appointment.StatusCompleted)
	f.seedAppointment(2, appointment.StatusCompleted)
	current := f.seedAppointment(3, appointment.StatusInProgress)
	f.seedAppointment(4, appointment.StatusCheckedIn)
	serialFive := f.seedAppointment(5, appointment.StatusConfirmed)

	if err := f.orch.CompletePatient(context.Background(), f.doctorID, current.ID); err != nil {
		t.Fatalf("CompletePatient: %v", err)
	}

	approaching := f.hub.byType(live.EventApproaching)
	if len(approaching) != 2 {
		t.Fatalf("expected approaching pushes for serials 4 and 5, got %d", len(approaching))
	}

	var fiveEvent *live.Event
	for i := range approaching {
		if approaching[i].Topic == live.AppointmentTopic(serialFive.ID) {
			fiveEvent = &approaching[i]
		}
	}
	if fiveEvent == nil {
		t.Fatal("serial 5 did not receive a turn_approaching push")
	}

	var data struct {
		SerialNumber  int `json:"serialNumber"`
		PatientsAhead int `json:"patientsAhead"`
	}
	if err := json.Unmarshal(fiveEvent.Data, &data); err != nil {
		t.Fatalf("decode approaching data: %v", err)
	}
	if data.PatientsAhead != 1 {
		t.Fatalf("patientsAhead = %d, want 1", data.PatientsAhead)
	}
}

func TestComplete_OutsideLookaheadNotNotified(t *testing.T) {
	f := newFixture(t, 2)

	current := f.seedAppointment(1, appointment.StatusInProgress)
	f.seedAppointment(2, appointment.StatusCheckedIn)
	far := f.seedAppointment(4, appointment.StatusConfirmed)

	if err := f.orch.CompletePatient(context.Background(), f.doctorID, current.ID); err != nil {
		t.Fatalf("CompletePatient: %v", err)
	}

	for _, ev := range f.hub.byType(live.EventApproaching) {
		if ev.Topic == live.AppointmentTopic(far.ID) {
			t.Fatal("serial 4 is outside the look-ahead of 2 and should not be notified")
		}
	}
}

func TestSnapshot_RebuildIdempotent(t *testing.T) {
	f := newFixture(t, 3)

	f.seedAppointment(1, appointment.StatusCompleted)
	f.seedAppointment(2, appointment.StatusInProgress)
	f.seedAppointment(3, appointment.StatusCheckedIn)
	f.seedAppointment(4, appointment.StatusRequested)

	ctx := context.Background()
	first, waiting1, err := f.orch.Snapshot(ctx, f.chamber.ID, testDay)
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	second, waiting2, err := f.orch.Snapshot(ctx, f.chamber.ID, testDay)
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	if first.CurrentSerial != 2 || second.CurrentSerial != 2 {
		t.Fatalf("currentSerial = %d/%d, want 2", first.CurrentSerial, second.CurrentSerial)
	}
	if first.TotalInQueue != 2 || second.TotalInQueue != 2 {
		t.Fatalf("totalInQueue = %d/%d, want 2", first.TotalInQueue, second.TotalInQueue)
	}
	if len(waiting1) != len(waiting2) {
		t.Fatalf("waiting list changed between rebuilds: %d vs %d", len(waiting1), len(waiting2))
	}

	// Next waiting serial is 3, one behind the serial inside.
	if first.EstimatedWaitMinutes != 0 {
		t.Fatalf("estimated wait for head = %d, want 0", first.EstimatedWaitMinutes)
	}
}

func TestAnnounceDelay(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	// Only the chamber's doctor may announce.
	err := f.orch.AnnounceDelay(ctx, uuid.New(), f.chamber.ID, testDay, 30, "stuck in traffic")
	if !errors.Is(err, appointment.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := f.orch.AnnounceDelay(ctx, f.doctorID, f.chamber.ID, testDay, 30, "stuck in traffic"); err != nil {
		t.Fatalf("AnnounceDelay: %v", err)
	}

	state, ok := f.orch.states.Get(f.chamber.ID, testDay)
	if !ok {
		t.Fatal("expected state after delay announcement")
	}
	if state.DelayMinutes != 30 || state.DoctorMessage != "stuck in traffic" {
		t.Fatalf("state = %+v, want delay 30 with message", state)
	}

	delays := f.hub.byType(live.EventDelay)
	if len(delays) != 1 || delays[0].Topic != live.ChamberTopic(f.chamber.ID) {
		t.Fatalf("expected one chamber-wide delay broadcast, got %+v", delays)
	}
}

func TestBookingCreated_RefreshesAndNotifies(t *testing.T) {
	f := newFixture(t, 3)
	appt := f.seedAppointment(1, appointment.StatusRequested)

	f.orch.BookingCreated(context.Background(), appt)

	state, ok := f.orch.states.Get(f.chamber.ID, testDay)
	if !ok || state.TotalInQueue != 1 {
		t.Fatalf("expected totalInQueue 1 after booking, got %+v", state)
	}

	found := false
	f.disp.mu.Lock()
	for _, ev := range f.disp.events {
		if ev == EventBookingCreated {
			found = true
		}
	}
	f.disp.mu.Unlock()
	if !found {
		t.Fatal("expected booking.created dispatched to notification pipeline")
	}
}

func TestExpireOverdue_MarksNoShow(t *testing.T) {
	f := newFixture(t, 3)
	a := f.seedAppointment(1, appointment.StatusConfirmed)
	b := f.seedAppointment(2, appointment.StatusCompleted)

	if err := f.orch.ExpireOverdue(context.Background(), time.Hour); err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}

	ctx := context.Background()
	gotA, _ := f.repo.GetAppointmentByID(ctx, a.ID)
	if gotA.Status != appointment.StatusNoShow {
		t.Fatalf("expected NO_SHOW, got %s", gotA.Status)
	}
	gotB, _ := f.repo.GetAppointmentByID(ctx, b.ID)
	if gotB.Status != appointment.StatusCompleted {
		t.Fatalf("completed appointment must not be touched, got %s", gotB.Status)
	}
}

func TestSnapshot_StoreError(t *testing.T) {
	f := newFixture(t, 3)
	f.seedAppointment(1, appointment.StatusCheckedIn)
	f.repo.listErr = errors.New("connection reset")

	if _, _, err := f.orch.Snapshot(context.Background(), f.chamber.ID, testDay); err == nil {
		t.Fatal("expected error when the store is unreachable")
	}

	// A failed rebuild must not leave a half-built state behind.
	if _, ok := f.orch.states.Get(f.chamber.ID, testDay); ok {
		t.Fatal("expected no cached state after a failed rebuild")
	}
}

func TestChamberSnapshot_Event(t *testing.T) {
	f := newFixture(t, 3)
	f.seedAppointment(1, appointment.StatusInProgress)
	f.seedAppointment(2, appointment.StatusCheckedIn)

	ev, err := f.orch.ChamberSnapshot(context.Background(), f.chamber.ID, testDay)
	if err != nil {
		t.Fatalf("ChamberSnapshot: %v", err)
	}

	if ev.Type != live.EventQueueStatus {
		t.Fatalf("event type = %s, want %s", ev.Type, live.EventQueueStatus)
	}
	if ev.Topic != live.ChamberTopic(f.chamber.ID) {
		t.Fatalf("topic = %s, want chamber topic", ev.Topic)
	}

	var data struct {
		State   State        `json:"state"`
		Waiting []QueueEntry `json:"waiting"`
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode snapshot payload: %v", err)
	}
	if data.State.CurrentSerial != 1 || len(data.Waiting) != 1 {
		t.Fatalf("snapshot = %+v, want currentSerial 1 and one waiting", data)
	}
}
