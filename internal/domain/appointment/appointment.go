package appointment

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is a closed set; every transition goes through
// CanTransitionTo so the rules live in one place instead of at call sites.
//
// State transitions possibilities:
//
//	scheduled → confirmed → in_progress → completed
//	scheduled/confirmed → in_progress (mark attended)
//	in_progress → confirmed (revert attendance)
//	scheduled/confirmed → no_show_rescheduled | no_show_session_lost
//	scheduled/confirmed/no_show/no_show_rescheduled → rescheduled (chain link)
//	scheduled/confirmed/in_progress/no_show → cancelled
//	scheduled/confirmed → discharged (early-discharge cascade)
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	// StatusNoShow is an unresolved no-show. The engine always resolves into
	// one of the two variants below; rows in this state predate the
	// two-option flow and stay reschedulable and pardonable.
	StatusNoShow            AppointmentStatus = "no_show"
	StatusNoShowRescheduled AppointmentStatus = "no_show_rescheduled"
	StatusNoShowSessionLost AppointmentStatus = "no_show_session_lost"
	StatusRescheduled       AppointmentStatus = "rescheduled"
	StatusDischarged        AppointmentStatus = "discharged"
)

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusNoShowRescheduled,
		StatusNoShowSessionLost, StatusRescheduled, StatusDischarged:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave the state.
func (s AppointmentStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusDischarged,
		StatusNoShowSessionLost, StatusNoShowRescheduled, StatusRescheduled:
		return true
	}
	return false
}

// NoShowStatuses are the states matched by the pardon flow and counted
// toward the no-show alert threshold.
var NoShowStatuses = []AppointmentStatus{
	StatusNoShow, StatusNoShowRescheduled, StatusNoShowSessionLost,
}

// AttendedStatuses count toward treatment completion for history finalization.
var AttendedStatuses = []AppointmentStatus{StatusInProgress, StatusCompleted}

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {
		StatusConfirmed, StatusInProgress, StatusNoShowRescheduled,
		StatusNoShowSessionLost, StatusRescheduled, StatusCancelled, StatusDischarged,
	},
	StatusConfirmed: {
		StatusInProgress, StatusNoShowRescheduled, StatusNoShowSessionLost,
		StatusRescheduled, StatusCancelled, StatusDischarged,
	},
	StatusInProgress: {StatusConfirmed, StatusCompleted, StatusCancelled},
	StatusNoShow:     {StatusRescheduled, StatusCancelled},
	// no_show_rescheduled is terminal as a no-show resolution, but the row
	// itself may still be superseded by an explicit reschedule chain.
	StatusNoShowRescheduled: {StatusRescheduled},
	StatusCompleted:         {},
	StatusCancelled:         {},
	StatusNoShowSessionLost: {},
	StatusRescheduled:       {},
	StatusDischarged:        {},
}

// NoShowOption selects the remediation path when a patient fails to attend.
type NoShowOption string

const (
	NoShowReschedule  NoShowOption = "reschedule"
	NoShowSessionLost NoShowOption = "session_lost"
)

func (o NoShowOption) IsValid() bool {
	return o == NoShowReschedule || o == NoShowSessionLost
}

type Appointment struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	// Nil for session-less consultations: those bypass the ledger entirely.
	MedicalOrderID *uuid.UUID `gorm:"column:medical_order_id;type:uuid;index"`

	ScheduledAt  time.Time         `gorm:"column:scheduled_at;not null;index"`
	DurationMins int               `gorm:"column:duration_mins;not null;default:30"`
	Status       AppointmentStatus `gorm:"column:status;type:varchar(30);not null;default:'scheduled';index"`

	Reason string `gorm:"column:reason;type:text"`
	Notes  string `gorm:"column:notes;type:text"`

	// No-show resolution
	NoShowReason    string `gorm:"column:no_show_reason;type:text"`
	SessionDeducted bool   `gorm:"column:session_deducted;not null;default:false"`

	// Pardon tracking: clears the alerting flag, never the ledger.
	PardonedBy   *uuid.UUID `gorm:"column:pardoned_by;type:uuid"`
	PardonedAt   *time.Time `gorm:"column:pardoned_at"`
	PardonReason string     `gorm:"column:pardon_reason;type:text"`

	// Reschedule chain: at most one predecessor and one successor,
	// always mutual inverses, never a cycle.
	RescheduledFromID *uuid.UUID `gorm:"column:rescheduled_from_id;type:uuid;index"`
	RescheduledToID   *uuid.UUID `gorm:"column:rescheduled_to_id;type:uuid;index"`
	RescheduledAt     *time.Time `gorm:"column:rescheduled_at"`
	RescheduledBy     *uuid.UUID `gorm:"column:rescheduled_by;type:uuid"`
	RescheduleReason  string     `gorm:"column:reschedule_reason;type:text"`

	// Cancellation tracking
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
	CancellationReason string     `gorm:"column:cancellation_reason;type:text"`
	CancelledBy        *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Appointment) TableName() string {
	return "clinical.appointments"
}

func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMins) * time.Minute)
}

func (a *Appointment) CanTransitionTo(newStatus AppointmentStatus) bool {
	for _, s := range transitions[a.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// Transition applies a status change after checking the transition table.
func (a *Appointment) Transition(newStatus AppointmentStatus) error {
	if !a.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}
	a.Status = newStatus
	return nil
}

func (a *Appointment) Cancel(reason string, cancelledBy uuid.UUID) error {
	if err := a.Transition(StatusCancelled); err != nil {
		return err
	}
	now := time.Now()
	a.CancelledAt = &now
	a.CancellationReason = reason
	a.CancelledBy = &cancelledBy
	return nil
}

// ResolveNoShow settles a missed appointment on one of the two paths.
// session_deducted records intent even when no ledger exists to decrement.
func (a *Appointment) ResolveNoShow(option NoShowOption, reason string) error {
	if !option.IsValid() {
		return ErrInvalidNoShowOption
	}
	target := StatusNoShowRescheduled
	if option == NoShowSessionLost {
		target = StatusNoShowSessionLost
	}
	if err := a.Transition(target); err != nil {
		return err
	}
	a.NoShowReason = reason
	a.SessionDeducted = option == NoShowSessionLost
	return nil
}

// MarkSuperseded flips the original side of a reschedule chain and records
// the back-link to its replacement.
func (a *Appointment) MarkSuperseded(toID uuid.UUID, by uuid.UUID, reason string) error {
	if err := a.Transition(StatusRescheduled); err != nil {
		return err
	}
	now := time.Now()
	a.RescheduledToID = &toID
	a.RescheduledAt = &now
	a.RescheduledBy = &by
	a.RescheduleReason = reason
	return nil
}

func (a *Appointment) Pardoned() bool {
	return a.PardonedBy != nil
}

// NoShowReset is the immutable audit record of one bulk pardon event.
type NoShowReset struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	ResetBy   uuid.UUID `gorm:"column:reset_by;type:uuid;not null"`
	Reason    string    `gorm:"column:reason;type:text"`

	AppointmentsAffected int `gorm:"column:appointments_affected;not null"`
}

func (NoShowReset) TableName() string {
	return "clinical.no_show_resets"
}

type BookAppointmentCommand struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	MedicalOrderID *uuid.UUID
	ScheduledAt    time.Time
	DurationMins   int
	Reason         string
	Notes          string
	CreatedBy      uuid.UUID
}

type RescheduleCommand struct {
	NewScheduledAt time.Time
	NewDoctorID    *uuid.UUID
	Reason         string
	RescheduledBy  uuid.UUID
}

// ReschedulePair is the atomic result of a reschedule: the replacement never
// exists without its predecessor being marked, and vice versa.
type ReschedulePair struct {
	Original    *Appointment
	Replacement *Appointment
}

type ListAppointmentsQuery struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	OrderID   *uuid.UUID
	Status    *AppointmentStatus
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}

type PagedAppointments struct {
	Appointments []*Appointment
	TotalCount   int64
	Page         int
	PageSize     int
	TotalPages   int
}
