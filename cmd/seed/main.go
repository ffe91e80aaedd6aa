package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daktarbari/chamber-core/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS doctors (
	id                     uuid PRIMARY KEY,
	name                   text NOT NULL,
	specialty              text,
	accepting_appointments boolean NOT NULL DEFAULT true,
	created_at             timestamptz NOT NULL DEFAULT now(),
	updated_at             timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chambers (
	id                  uuid PRIMARY KEY,
	doctor_id           uuid NOT NULL REFERENCES doctors(id),
	name                text NOT NULL,
	address             text,
	active              boolean NOT NULL DEFAULT true,
	open_time           text NOT NULL,
	close_time          text NOT NULL,
	slot_minutes        integer NOT NULL,
	new_fee             integer NOT NULL,
	followup_fee        integer,
	report_fee          integer,
	avg_consult_minutes integer,
	created_at          timestamptz NOT NULL DEFAULT now(),
	updated_at          timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS appointments (
	id                uuid PRIMARY KEY,
	doctor_id         uuid NOT NULL REFERENCES doctors(id),
	chamber_id        uuid NOT NULL REFERENCES chambers(id),
	patient_id        uuid NOT NULL,
	patient_name      text NOT NULL,
	patient_phone     text NOT NULL DEFAULT '',
	date              date NOT NULL,
	start_at          timestamptz NOT NULL,
	serial_number     integer NOT NULL,
	visit_type        text NOT NULL,
	consultation_type text NOT NULL,
	status            text NOT NULL,
	fee               integer NOT NULL,
	cancel_reason     text,
	created_at        timestamptz NOT NULL DEFAULT now(),
	updated_at        timestamptz NOT NULL DEFAULT now(),
	confirmed_at      timestamptz,
	checked_in_at     timestamptz,
	started_at        timestamptz,
	completed_at      timestamptz,
	cancelled_at      timestamptz
);

CREATE INDEX IF NOT EXISTS idx_appointments_chamber_day
	ON appointments (chamber_id, date, serial_number);
CREATE INDEX IF NOT EXISTS idx_appointments_slot
	ON appointments (doctor_id, chamber_id, date, start_at);

CREATE TABLE IF NOT EXISTS event_logs (
	id             bigserial PRIMARY KEY,
	event_type     text NOT NULL,
	appointment_id uuid,
	payload        jsonb,
	created_at     timestamptz NOT NULL DEFAULT now()
);
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(context.Background(), schema); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	log.Println("schema applied")

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedDoctors(context.Background(), pool, 50); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d doctors with chambers", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	hours := []struct {
		open, close string
	}{
		{"09:00", "13:00"},
		{"10:00", "14:00"},
		{"16:00", "21:00"},
		{"17:00", "22:00"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		doctorID := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, accepting_appointments, created_at, updated_at)
			VALUES ($1, $2, $3, true, now(), now())
		`, doctorID, name, spec)
		if err != nil {
			return err
		}

		chamberCount := gofakeit.Number(1, 2)
		for c := 0; c < chamberCount; c++ {
			h := hours[gofakeit.Number(0, len(hours)-1)]
			newFee := gofakeit.Number(5, 20) * 100

			_, err := tx.Exec(ctx, `
				INSERT INTO chambers (
					id, doctor_id, name, address, active,
					open_time, close_time, slot_minutes,
					new_fee, followup_fee, report_fee, avg_consult_minutes,
					created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, true, $5, $6, $7, $8, $9, NULL, NULL, now(), now())
			`, uuid.New(), doctorID, gofakeit.Company()+" Chamber", gofakeit.Address().Address,
				h.open, h.close, 15, newFee, newFee*2/3)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors and chambers seeded")
	return nil
}
