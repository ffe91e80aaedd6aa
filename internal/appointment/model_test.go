package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func intPtr(v int) *int { return &v }

func TestChamberFeeFor(t *testing.T) {
	tests := []struct {
		name    string
		chamber Chamber
		visit   VisitType
		want    int
	}{
		{"new visit", Chamber{NewFee: 900}, VisitNew, 900},
		{"follow-up explicit", Chamber{NewFee: 900, FollowUpFee: intPtr(500)}, VisitFollowUp, 500},
		{"follow-up fallback", Chamber{NewFee: 900}, VisitFollowUp, 600},
		{"report explicit", Chamber{NewFee: 900, ReportFee: intPtr(200)}, VisitReportCheck, 200},
		{"report fallback", Chamber{NewFee: 900}, VisitReportCheck, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.chamber.FeeFor(tt.visit); got != tt.want {
				t.Fatalf("FeeFor(%s) = %d, want %d", tt.visit, got, tt.want)
			}
		})
	}
}

func TestChamberConsultMinutes(t *testing.T) {
	c := Chamber{SlotMinutes: 15}
	if got := c.ConsultMinutes(); got != 15 {
		t.Fatalf("expected slot duration fallback 15, got %d", got)
	}

	c.AvgConsultMinutes = intPtr(10)
	if got := c.ConsultMinutes(); got != 10 {
		t.Fatalf("expected override 10, got %d", got)
	}
}

func TestStatusPredicates(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusCancelled, StatusNoShow}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
		if s.IsWaiting() {
			t.Fatalf("%s should not be waiting", s)
		}
	}

	waiting := []Status{StatusRequested, StatusConfirmed, StatusCheckedIn}
	for _, s := range waiting {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.IsWaiting() {
			t.Fatalf("%s should be waiting", s)
		}
	}

	if StatusInProgress.IsWaiting() || StatusInProgress.IsTerminal() {
		t.Fatal("IN_PROGRESS is neither waiting nor terminal")
	}
}

func TestSlotKeyStable(t *testing.T) {
	doctorID := uuid.New()
	chamberID := uuid.New()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	startAt := date.Add(9 * time.Hour)

	a := SlotKey(doctorID, chamberID, date, startAt)
	b := SlotKey(doctorID, chamberID, date, startAt)
	if a != b {
		t.Fatalf("slot key not stable: %q vs %q", a, b)
	}

	other := SlotKey(doctorID, chamberID, date, startAt.Add(15*time.Minute))
	if a == other {
		t.Fatal("different slots must produce different keys")
	}
}

func TestDateOnly(t *testing.T) {
	in := time.Date(2025, 6, 1, 18, 45, 12, 999, time.FixedZone("BST", 6*3600))
	got := DateOnly(in)

	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
		t.Fatalf("expected midnight, got %s", got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", got.Location())
	}
}
