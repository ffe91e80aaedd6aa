package booking

import (
	"fmt"
	"time"

	"github.com/daktarbari/chamber-core/internal/appointment"
)

// Slot is one cell of a chamber day's grid.
type Slot struct {
	StartAt   time.Time `json:"startAt"`
	Start     string    `json:"start"` // "15:04"
	Available bool      `json:"available"`
}

// parseClock reads an "HH:MM" wall-clock string.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time must be HH:MM", appointment.ErrValidation)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// SlotGrid derives every slot start for the chamber on the given date. A slot
// must fit entirely before closing time: a 09:00-12:00 chamber with 15-minute
// slots yields 12 starts, 09:00 through 11:45.
func SlotGrid(chamber *appointment.Chamber, date time.Time) ([]time.Time, error) {
	if chamber.SlotMinutes <= 0 {
		return nil, fmt.Errorf("%w: chamber slot duration not configured", appointment.ErrValidation)
	}

	open, err := parseClock(chamber.OpenTime)
	if err != nil {
		return nil, err
	}
	closing, err := parseClock(chamber.CloseTime)
	if err != nil {
		return nil, err
	}
	if closing <= open {
		return nil, fmt.Errorf("%w: chamber closes before it opens", appointment.ErrValidation)
	}

	day := appointment.DateOnly(date)
	duration := time.Duration(chamber.SlotMinutes) * time.Minute

	var grid []time.Time
	for at := open; at+duration <= closing; at += duration {
		grid = append(grid, day.Add(at))
	}

	return grid, nil
}

// onGrid reports whether startAt is one of the chamber's slot starts.
func onGrid(grid []time.Time, startAt time.Time) bool {
	for _, t := range grid {
		if t.Equal(startAt) {
			return true
		}
	}
	return false
}
