package appointment

import "errors"

// Not-found errors surfaced by the store.
var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrChamberNotFound     = errors.New("chamber not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Booking and transition error taxonomy. Conflicts are surfaced to the caller
// verbatim; whether to retry is a caller decision.
var (
	ErrValidation        = errors.New("invalid booking input")
	ErrNotAvailable      = errors.New("doctor or chamber is not accepting appointments")
	ErrSlotTaken         = errors.New("slot already holds an active appointment")
	ErrSlotContended     = errors.New("slot is being booked by another request, retry")
	ErrUnauthorized      = errors.New("actor has no authority over this appointment")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrTimeout           = errors.New("booking transaction timed out, retry")
	ErrStoreUnavailable  = errors.New("appointment store unavailable")
)
