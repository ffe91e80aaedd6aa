// Package queue owns the live queue of a chamber day: the derived QueueState
// cache, the status state machine, and the broadcasts that keep patients and
// the doctor's dashboard in sync. The appointment store stays the single
// source of truth; everything here can be rebuilt from it.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the per-(chamber, date) snapshot pushed to subscribers. It is a
// cache over committed appointments plus the doctor's chamber-wide
// annotations, never a system of record.
type State struct {
	ChamberID            uuid.UUID `json:"chamberId"`
	Date                 string    `json:"date"`
	CurrentSerial        int       `json:"currentSerial"`
	TotalInQueue         int       `json:"totalInQueue"`
	EstimatedWaitMinutes int       `json:"estimatedWaitMinutes"`
	DelayMinutes         int       `json:"delayMinutes"`
	DoctorMessage        string    `json:"doctorMessage,omitempty"`
	LastUpdated          time.Time `json:"lastUpdated"`
}

// WaitMinutes estimates how long the holder of serial waits before being
// called, given the serial currently inside and the average consultation
// length.
func WaitMinutes(serial, currentSerial, avgConsultMinutes int) int {
	ahead := serial - currentSerial - 1
	if ahead < 0 {
		ahead = 0
	}
	return ahead * avgConsultMinutes
}

type stateKey struct {
	chamber uuid.UUID
	date    string
}

// StateStore holds the in-memory states. The orchestrator is its single
// writer; readers get copies.
type StateStore struct {
	mu     sync.RWMutex
	states map[stateKey]*State
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[stateKey]*State)}
}

func dateKey(date time.Time) string {
	return date.Format("2006-01-02")
}

// Get returns a copy of the state for the chamber day, if one exists.
func (s *StateStore) Get(chamberID uuid.UUID, date time.Time) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[stateKey{chamberID, dateKey(date)}]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Apply mutates the chamber day's state under the write lock and returns the
// result. currentSerial and lastUpdated never move backwards, so broadcasts
// within a chamber stay monotonic even if a rebuild races a stale read.
func (s *StateStore) Apply(chamberID uuid.UUID, date time.Time, fn func(*State)) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey{chamberID, dateKey(date)}
	st, ok := s.states[key]
	if !ok {
		st = &State{ChamberID: chamberID, Date: key.date}
		s.states[key] = st
	}

	prevSerial := st.CurrentSerial
	prevUpdated := st.LastUpdated

	fn(st)

	if st.CurrentSerial < prevSerial {
		st.CurrentSerial = prevSerial
	}
	if st.LastUpdated.Before(prevUpdated) {
		st.LastUpdated = prevUpdated
	}

	return *st
}

// Drop discards the chamber day's state. The next read rebuilds it from the
// appointment store.
func (s *StateStore) Drop(chamberID uuid.UUID, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey{chamberID, dateKey(date)})
}
