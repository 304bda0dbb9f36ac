package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/history"
	"github.com/clinicore/clinicore/internal/domain/order"
	"github.com/clinicore/clinicore/internal/domain/patient"
)

// Up to this many non-cancelled appointments may share one doctor+slot.
// Deliberate overbooking tolerance, not a defect.
const maxBookingsPerSlot = 3

// SchedulingService is the hub of the appointment state machine: booking
// gates, attendance transitions and their side effects on the session ledger
// and the clinical history.
type SchedulingService struct {
	appts    appointment.Repository
	orders   order.Repository
	patients patient.Repository
	entries  history.Repository
	ledger   *LedgerService
	tx       domain.Transactor
	auditSvc *AuditService
	log      *zap.Logger
}

func NewSchedulingService(
	appts appointment.Repository,
	orders order.Repository,
	patients patient.Repository,
	entries history.Repository,
	ledger *LedgerService,
	tx domain.Transactor,
	auditSvc *AuditService,
	log *zap.Logger,
) *SchedulingService {
	return &SchedulingService{
		appts:    appts,
		orders:   orders,
		patients: patients,
		entries:  entries,
		ledger:   ledger,
		tx:       tx,
		auditSvc: auditSvc,
		log:      log,
	}
}

// Book creates a new appointment in scheduled after enforcing the three
// booking gates: duplicate slot per patient, slot saturation per doctor, and
// the medical-order requirement when the patient holds an open order.
func (s *SchedulingService) Book(ctx context.Context, cmd *appointment.BookAppointmentCommand, actor *domain.Claims) (*appointment.Appointment, error) {
	if cmd.ScheduledAt.Before(time.Now()) {
		return nil, appointment.ErrScheduledInPast
	}
	if cmd.DurationMins < 5 || cmd.DurationMins > 480 {
		return nil, appointment.ErrInvalidDuration
	}

	p, err := s.patients.GetByID(ctx, cmd.PatientID)
	if err != nil {
		return nil, fmt.Errorf("verifying patient: %w", err)
	}
	if !p.IsActive() {
		return nil, patient.ErrPatientInactive
	}

	if err := s.checkSlotGates(ctx, cmd.PatientID, cmd.DoctorID, cmd.ScheduledAt); err != nil {
		return nil, err
	}

	if cmd.MedicalOrderID != nil {
		o, err := s.orders.GetByID(ctx, *cmd.MedicalOrderID)
		if err != nil {
			return nil, fmt.Errorf("verifying medical order: %w", err)
		}
		if o.PatientID != cmd.PatientID {
			return nil, &ValidationError{Fields: []string{"medical_order_id does not belong to the patient"}}
		}
		if !o.Active() || o.Remaining() == 0 {
			return nil, order.ErrSessionsExhausted
		}
	} else {
		// A session-less consultation is only allowed when the patient holds
		// no open order; otherwise the booking must name one.
		hasActive, err := s.orders.HasActiveByPatient(ctx, cmd.PatientID)
		if err != nil {
			return nil, fmt.Errorf("checking active orders: %w", err)
		}
		if hasActive {
			return nil, appointment.ErrMedicalOrderRequired
		}
	}

	a := &appointment.Appointment{
		PatientID:      cmd.PatientID,
		DoctorID:       cmd.DoctorID,
		MedicalOrderID: cmd.MedicalOrderID,
		ScheduledAt:    cmd.ScheduledAt,
		DurationMins:   cmd.DurationMins,
		Status:         appointment.StatusScheduled,
		Reason:         cmd.Reason,
		Notes:          cmd.Notes,
		CreatedBy:      cmd.CreatedBy,
	}

	if err := s.appts.Create(ctx, a); err != nil {
		s.log.Error("failed to create appointment", zap.Error(err))
		return nil, fmt.Errorf("creating appointment: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "create",
		ResourceType: "appointment",
		ResourceID:   a.ID.String(),
	})

	return a, nil
}

func (s *SchedulingService) checkSlotGates(ctx context.Context, patientID, doctorID uuid.UUID, at time.Time) error {
	dup, err := s.appts.CountPatientSlot(ctx, patientID, doctorID, at)
	if err != nil {
		return fmt.Errorf("checking duplicate booking: %w", err)
	}
	if dup > 0 {
		return appointment.ErrDuplicateBooking
	}

	occupied, err := s.appts.CountDoctorSlot(ctx, doctorID, at)
	if err != nil {
		return fmt.Errorf("checking slot occupancy: %w", err)
	}
	if occupied >= maxBookingsPerSlot {
		return appointment.ErrSlotSaturated
	}
	return nil
}

// Confirm moves a scheduled appointment to confirmed.
func (s *SchedulingService) Confirm(ctx context.Context, id uuid.UUID, actor *domain.Claims) (*appointment.Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if err := a.Transition(appointment.StatusConfirmed); err != nil {
		return nil, err
	}
	if err := s.appts.Update(ctx, a, from); err != nil {
		return nil, err
	}
	return a, nil
}

// AttendanceNote carries the clinical content recorded at attendance time.
type AttendanceNote struct {
	Observations string
	Evolution    string
}

// MarkAttended confirms attendance: the appointment enters in_progress, one
// session is consumed from the linked order (session-less consultations skip
// the ledger), and the session's history entry is created. All of it commits
// or none of it does.
func (s *SchedulingService) MarkAttended(ctx context.Context, id uuid.UUID, note AttendanceNote, actor *domain.Claims) (*appointment.Appointment, error) {
	var a *appointment.Appointment

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from := a.Status

		if err := a.Transition(appointment.StatusInProgress); err != nil {
			return err
		}
		if err := s.appts.Update(ctx, a, from); err != nil {
			return err
		}

		if a.MedicalOrderID != nil {
			if _, err := s.ledger.ConsumeSession(ctx, *a.MedicalOrderID); err != nil {
				return fmt.Errorf("consuming session: %w", err)
			}
		}

		return s.recordAttendance(ctx, a, note, actor)
	})
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "update",
		ResourceType: "appointment",
		ResourceID:   id.String(),
		Changes:      `{"status":"in_progress"}`,
	})

	return a, nil
}

// recordAttendance creates the session's history entry, or appends to the
// existing one when the appointment was attended, reverted and re-attended.
// At most one entry ever exists per appointment.
func (s *SchedulingService) recordAttendance(ctx context.Context, a *appointment.Appointment, note AttendanceNote, actor *domain.Claims) error {
	existing, err := s.entries.GetEntryByAppointmentID(ctx, a.ID)
	switch {
	case errors.Is(err, history.ErrEntryNotFound):
		e := &history.Entry{
			AppointmentID:    a.ID,
			MedicalOrderID:   a.MedicalOrderID,
			PatientID:        a.PatientID,
			ProfessionalName: actor.Name,
			AppointmentDate:  a.ScheduledAt,
			Observations:     note.Observations,
			Evolution:        note.Evolution,
			CreatedBy:        actor.UserID,
		}
		if err := s.entries.CreateEntry(ctx, e); err != nil {
			return fmt.Errorf("creating history entry: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("loading history entry: %w", err)
	default:
		existing.AppendNote("attendance re-confirmed by "+actor.Name, time.Now())
		if note.Evolution != "" {
			existing.AppendNote(note.Evolution, time.Now())
		}
		return s.entries.UpdateEntry(ctx, existing)
	}
}

// RevertAttendance undoes a mistaken attendance mark. The history entry is
// kept with a reversal note appended; the consumed session is not refunded
// (the pool is monotonic; corrections are explicit tooling, not this path).
func (s *SchedulingService) RevertAttendance(ctx context.Context, id uuid.UUID, reason string, actor *domain.Claims) (*appointment.Appointment, error) {
	var a *appointment.Appointment

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from := a.Status

		if from != appointment.StatusInProgress {
			return appointment.ErrInvalidTransition
		}
		if err := a.Transition(appointment.StatusConfirmed); err != nil {
			return err
		}
		if err := s.appts.Update(ctx, a, from); err != nil {
			return err
		}

		entry, err := s.entries.GetEntryByAppointmentID(ctx, a.ID)
		if errors.Is(err, history.ErrEntryNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading history entry: %w", err)
		}
		note := "attendance reverted by " + actor.Name
		if reason != "" {
			note += ": " + reason
		}
		entry.AppendNote(note, time.Now())
		return s.entries.UpdateEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// Complete closes out an attended session.
func (s *SchedulingService) Complete(ctx context.Context, id uuid.UUID, actor *domain.Claims) (*appointment.Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := a.Status
	if err := a.Transition(appointment.StatusCompleted); err != nil {
		return nil, err
	}
	if err := s.appts.Update(ctx, a, from); err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel releases the slot for rebooking. No session is consumed or refunded.
func (s *SchedulingService) Cancel(ctx context.Context, id uuid.UUID, reason string, actor *domain.Claims) (*appointment.Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role == domain.RolePatient {
		if actor.PatientID == nil || *actor.PatientID != a.PatientID {
			return nil, ErrForbidden
		}
	}

	from := a.Status
	if err := a.Cancel(reason, actor.UserID); err != nil {
		return nil, err
	}
	if err := s.appts.Update(ctx, a, from); err != nil {
		return nil, fmt.Errorf("updating appointment status: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "update",
		ResourceType: "appointment",
		ResourceID:   id.String(),
		Changes:      fmt.Sprintf(`{"status":"cancelled","reason":%q}`, reason),
	})

	return a, nil
}

func (s *SchedulingService) GetAppointment(ctx context.Context, id uuid.UUID, actor *domain.Claims) (*appointment.Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if actor.Role == domain.RolePatient {
		if actor.PatientID == nil || *actor.PatientID != a.PatientID {
			return nil, ErrForbidden
		}
	}
	return a, nil
}

func (s *SchedulingService) ListAppointments(ctx context.Context, q *appointment.ListAppointmentsQuery, actor *domain.Claims) (*appointment.PagedAppointments, error) {
	// Patients can only see their own appointments
	if actor.Role == domain.RolePatient && actor.PatientID != nil {
		q.PatientID = actor.PatientID
	}
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.appts.List(ctx, q)
}
