// Booking load client: fires concurrent bookSlot requests at one chamber's
// slot grid and reports outcome counts and latency percentiles, then checks
// the day's serial numbers against the store. Used to exercise the
// no-double-booking and serial-uniqueness properties on a running server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daktarbari/chamber-core/internal/config"
	"github.com/daktarbari/chamber-core/internal/db"
)

type simConfig struct {
	apiBaseURL string
	workers    int
	requests   int
	date       string
}

type operationMetrics struct {
	total     int64
	success   int64
	taken     int64
	contended int64
	other     int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *operationMetrics) record(latency time.Duration, outcome string) {
	atomic.AddInt64(&om.total, 1)
	switch outcome {
	case "success":
		atomic.AddInt64(&om.success, 1)
	case "slot_taken":
		atomic.AddInt64(&om.taken, 1)
	case "slot_contended":
		atomic.AddInt64(&om.contended, 1)
	default:
		atomic.AddInt64(&om.other, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *operationMetrics) stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type chamberTarget struct {
	DoctorID  uuid.UUID
	ChamberID uuid.UUID
	Slots     []string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	sim := simConfig{}
	flag.StringVar(&sim.apiBaseURL, "api", "http://127.0.0.1:8080", "api server base URL")
	flag.IntVar(&sim.workers, "workers", 50, "concurrent workers")
	flag.IntVar(&sim.requests, "requests", 500, "total booking attempts")
	flag.StringVar(&sim.date, "date", time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"), "booking date")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	target, err := pickChamber(context.Background(), pool, sim.apiBaseURL, sim.date)
	if err != nil {
		log.Fatalf("pick chamber: %v", err)
	}
	log.Printf("target chamber=%s doctor=%s slots=%d date=%s",
		target.ChamberID, target.DoctorID, len(target.Slots), sim.date)

	metrics := &operationMetrics{}
	jobs := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < sim.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 15 * time.Second}
			for range jobs {
				attemptBooking(client, sim, target, metrics)
			}
		}()
	}

	for i := 0; i < sim.requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	avg, p50, p95, max := metrics.stats()
	log.Printf("done in %s: total=%d success=%d slot_taken=%d slot_contended=%d other=%d",
		elapsed, metrics.total, metrics.success, metrics.taken, metrics.contended, metrics.other)
	log.Printf("latency avg=%s p50=%s p95=%s max=%s", avg, p50, p95, max)

	if err := verifySerials(context.Background(), pool, target, sim.date); err != nil {
		log.Fatalf("serial verification FAILED: %v", err)
	}
	log.Println("serial verification passed: serials form 1..k with no duplicates")
}

// pickChamber selects any active chamber and pulls its slot grid from the API.
func pickChamber(ctx context.Context, pool *pgxpool.Pool, baseURL, date string) (*chamberTarget, error) {
	var t chamberTarget
	err := pool.QueryRow(ctx, `
		SELECT c.doctor_id, c.id
		FROM chambers c
		JOIN doctors d ON d.id = c.doctor_id
		WHERE c.active AND d.accepting_appointments
		LIMIT 1
	`).Scan(&t.DoctorID, &t.ChamberID)
	if err != nil {
		return nil, fmt.Errorf("no active chamber found: %w", err)
	}

	url := fmt.Sprintf("%s/doctors/%s/chambers/%s/slots?date=%s", baseURL, t.DoctorID, t.ChamberID, date)
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Slots []struct {
			Start     string `json:"start"`
			Available bool   `json:"available"`
		} `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	for _, s := range body.Slots {
		if s.Available {
			t.Slots = append(t.Slots, s.Start)
		}
	}
	if len(t.Slots) == 0 {
		return nil, fmt.Errorf("chamber has no available slots on %s", date)
	}

	return &t, nil
}

func attemptBooking(client *http.Client, sim simConfig, target *chamberTarget, metrics *operationMetrics) {
	visitTypes := []string{"NEW", "FOLLOW_UP", "REPORT_CHECK"}

	payload := map[string]string{
		"doctor_id":         target.DoctorID.String(),
		"chamber_id":        target.ChamberID.String(),
		"patient_id":        uuid.NewString(),
		"patient_name":      fmt.Sprintf("Load Patient %d", rand.Intn(100000)),
		"patient_phone":     fmt.Sprintf("+88017%08d", rand.Intn(100000000)),
		"date":              sim.date,
		"start_time":        target.Slots[rand.Intn(len(target.Slots))],
		"visit_type":        visitTypes[rand.Intn(len(visitTypes))],
		"consultation_type": "CHAMBER",
	}
	body, _ := json.Marshal(payload)

	start := time.Now()
	resp, err := client.Post(sim.apiBaseURL+"/bookings", "application/json", bytes.NewReader(body))
	latency := time.Since(start)
	if err != nil {
		metrics.record(latency, "transport_error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		_, _ = io.Copy(io.Discard, resp.Body)
		metrics.record(latency, "success")
		return
	}

	var errBody struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	metrics.record(latency, errBody.Error)
}

// verifySerials asserts the committed serials for the chamber day are exactly
// the permutation 1..k.
func verifySerials(ctx context.Context, pool *pgxpool.Pool, target *chamberTarget, date string) error {
	rows, err := pool.Query(ctx, `
		SELECT serial_number FROM appointments
		WHERE chamber_id = $1 AND date = $2 AND status <> 'CANCELLED'
		ORDER BY serial_number
	`, target.ChamberID, date)
	if err != nil {
		return err
	}
	defer rows.Close()

	var serials []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return err
		}
		serials = append(serials, s)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, s := range serials {
		if s != i+1 {
			return fmt.Errorf("expected serial %d at position %d, got %d (serials=%v)", i+1, i, s, serials)
		}
	}

	return nil
}
