package appointment

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid appointment status transition")

	// Booking gates
	ErrDuplicateBooking     = errors.New("patient already has an active appointment in this slot")
	ErrSlotSaturated        = errors.New("slot already holds the maximum of concurrent bookings")
	ErrMedicalOrderRequired = errors.New("patient has an open medical order; booking must select one")

	ErrInvalidNoShowOption = errors.New("no-show option must be reschedule or session_lost")
	ErrReasonTooShort      = errors.New("reason must be at least 5 characters")
	ErrNothingToPardon     = errors.New("patient has no unpardoned no-show appointments")

	// Lost-update detection on concurrent edits of the same row.
	ErrConcurrentModification = errors.New("appointment was modified concurrently; reload and retry")

	ErrScheduledInPast = errors.New("cannot schedule appointment in the past")
	ErrInvalidDuration = errors.New("appointment duration must be between 5 and 480 minutes")
)
