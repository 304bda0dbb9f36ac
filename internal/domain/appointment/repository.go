package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Update persists the full row guarded by the status the caller read
	// (compare-and-swap): if the stored status no longer matches
	// expectedStatus, ErrConcurrentModification is returned and nothing is
	// written.
	Update(ctx context.Context, a *Appointment, expectedStatus AppointmentStatus) error

	List(ctx context.Context, q *ListAppointmentsQuery) (*PagedAppointments, error)

	// CountPatientSlot counts non-cancelled appointments for the same
	// patient+doctor+slot — the duplicate-booking gate.
	CountPatientSlot(ctx context.Context, patientID, doctorID uuid.UUID, at time.Time) (int64, error)

	// CountDoctorSlot counts non-cancelled appointments occupying the same
	// doctor+slot — the overbooking gate (up to 3 per slot by design).
	CountDoctorSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (int64, error)

	// ListUpcomingByPatient returns the patient's appointments in the given
	// statuses scheduled at or after the cutoff — the discharge cascade input.
	ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, statuses []AppointmentStatus, from time.Time) ([]*Appointment, error)

	// MarkPardoned atomically pardons every unpardoned no-show row for the
	// patient and returns how many were affected.
	MarkPardoned(ctx context.Context, patientID, pardonedBy uuid.UUID, at time.Time, reason string) (int64, error)

	// CountUnpardonedNoShows backs the ≥2 no-show alert threshold read by callers.
	CountUnpardonedNoShows(ctx context.Context, patientID uuid.UUID) (int64, error)

	// CountAttendedByPatient counts in_progress and completed appointments —
	// the history-finalization gate.
	CountAttendedByPatient(ctx context.Context, patientID uuid.UUID) (int64, error)

	CreateNoShowReset(ctx context.Context, r *NoShowReset) error
}
