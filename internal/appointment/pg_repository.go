package appointment

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const appointmentColumns = `
	id, doctor_id, chamber_id, patient_id, patient_name, patient_phone,
	date, start_at, serial_number, visit_type, consultation_type, status, fee,
	cancel_reason, created_at, updated_at,
	confirmed_at, checked_in_at, started_at, completed_at, cancelled_at`

// qualified prefixes every column in a comma-separated list with a table
// alias, for queries that join.
func qualified(cols, alias string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialty,
		&d.AcceptingAppointments,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

func scanChamber(row pgx.Row) (*Chamber, error) {
	var c Chamber

	err := row.Scan(
		&c.ID,
		&c.DoctorID,
		&c.Name,
		&c.Address,
		&c.Active,
		&c.OpenTime,
		&c.CloseTime,
		&c.SlotMinutes,
		&c.NewFee,
		&c.FollowUpFee,
		&c.ReportFee,
		&c.AvgConsultMinutes,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChamberNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.ChamberID,
		&a.PatientID,
		&a.PatientName,
		&a.PatientPhone,
		&a.Date,
		&a.StartAt,
		&a.SerialNumber,
		&a.VisitType,
		&a.ConsultationType,
		&a.Status,
		&a.Fee,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ConfirmedAt,
		&a.CheckedInAt,
		&a.StartedAt,
		&a.CompletedAt,
		&a.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

// slotLockID folds the slot key into the 64-bit keyspace of Postgres
// advisory locks.
func slotLockID(doctorID, chamberID uuid.UUID, date, startAt time.Time) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(SlotKey(doctorID, chamberID, date, startAt)))
	return int64(h.Sum64())
}

// serializationFailure matches the abort code Postgres raises when a
// serializable transaction conflicts with a concurrent one.
func serializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func mapReserveErr(err error) error {
	switch {
	case serializationFailure(err):
		return ErrSlotContended
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, accepting_appointments, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetChamberByID(ctx context.Context, id uuid.UUID) (*Chamber, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, name, address, active,
		       open_time, close_time, slot_minutes,
		       new_fee, followup_fee, report_fee, avg_consult_minutes,
		       created_at, updated_at
		FROM chambers
		WHERE id = $1
	`, id)
	return scanChamber(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ReserveSlot(ctx context.Context, p ReserveSlotParams) (*Appointment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("begin booking tx: %w", mapReserveErr(err))
	}
	defer tx.Rollback(ctx)

	// Non-blocking lock on the slot key. A held lock means another booking
	// transaction is mid-flight for the same slot; fail fast instead of
	// queueing behind it.
	var locked bool
	err = tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`,
		slotLockID(p.DoctorID, p.ChamberID, p.Date, p.StartAt)).Scan(&locked)
	if err != nil {
		return nil, fmt.Errorf("acquire slot tx lock: %w", mapReserveErr(err))
	}
	if !locked {
		return nil, ErrSlotContended
	}

	// Re-check occupancy inside the lock: two requests may both have seen the
	// slot free before either committed.
	var occupied bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND chamber_id = $2 AND date = $3 AND start_at = $4
			  AND status <> 'CANCELLED'
		)
	`, p.DoctorID, p.ChamberID, p.Date, p.StartAt).Scan(&occupied)
	if err != nil {
		return nil, fmt.Errorf("check slot occupancy: %w", mapReserveErr(err))
	}
	if occupied {
		return nil, ErrSlotTaken
	}

	// Serial is the day's non-cancelled count plus one, computed in the same
	// transaction as the insert so concurrent bookings cannot share one.
	var serial int
	err = tx.QueryRow(ctx, `
		SELECT count(*) + 1 FROM appointments
		WHERE doctor_id = $1 AND chamber_id = $2 AND date = $3
		  AND status <> 'CANCELLED'
	`, p.DoctorID, p.ChamberID, p.Date).Scan(&serial)
	if err != nil {
		return nil, fmt.Errorf("compute serial: %w", mapReserveErr(err))
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, doctor_id, chamber_id, patient_id, patient_name, patient_phone,
			date, start_at, serial_number, visit_type, consultation_type,
			status, fee, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'REQUESTED', $12, now(), now())
		RETURNING `+appointmentColumns+`
	`, uuid.New(), p.DoctorID, p.ChamberID, p.PatientID, p.PatientName, p.PatientPhone,
		p.Date, p.StartAt, serial, p.VisitType, p.ConsultationType, p.Fee)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", mapReserveErr(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit booking: %w", mapReserveErr(err))
	}

	return appt, nil
}

var stampColumn = map[Status]string{
	StatusConfirmed:  "confirmed_at",
	StatusCheckedIn:  "checked_in_at",
	StatusInProgress: "started_at",
	StatusCompleted:  "completed_at",
	StatusCancelled:  "cancelled_at",
	StatusNoShow:     "cancelled_at",
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	col, ok := stampColumn[to]
	if !ok {
		return nil, ErrInvalidTransition
	}

	// COALESCE keeps an already-set timestamp; each is stamped at most once.
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE appointments
		SET status = $2,
		    cancel_reason = COALESCE($4, cancel_reason),
		    %s = COALESCE(%s, now()),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns, col, col),
		id, to, from, reason)

	return scanAppointment(row)
}

func (r *PgRepository) ListBookedStartTimes(ctx context.Context, doctorID, chamberID uuid.UUID, date time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_at FROM appointments
		WHERE doctor_id = $1 AND chamber_id = $2 AND date = $3
		  AND status <> 'CANCELLED'
	`, doctorID, chamberID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	return result, rows.Err()
}

func (r *PgRepository) ListChamberDay(ctx context.Context, chamberID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE chamber_id = $1 AND date = $2
		  AND status <> 'CANCELLED'
		ORDER BY serial_number
	`, chamberID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) FindOverdueActive(ctx context.Context, grace time.Duration, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+qualified(appointmentColumns, "a")+`
		FROM appointments a
		JOIN chambers c ON c.id = a.chamber_id
		WHERE a.status IN ('REQUESTED', 'CONFIRMED', 'CHECKED_IN')
		  AND a.date::timestamp + c.close_time::interval
		      + make_interval(secs => $1) < $2
	`, grace.Seconds(), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
