package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/order"
)

const minRescheduleReasonLen = 5

// NoShowAlertThreshold is the unpardoned no-show count at which callers flag
// a patient. The engine only supplies the count; the flag is computed by the
// presentation layer.
const NoShowAlertThreshold = 2

// NoShowService orchestrates the two-option no-show flow, the reschedule
// chain and bulk pardons atomically across appointments and the order ledger.
type NoShowService struct {
	appts    appointment.Repository
	orders   order.Repository
	ledger   *LedgerService
	tx       domain.Transactor
	auditSvc *AuditService
	log      *zap.Logger
}

func NewNoShowService(
	appts appointment.Repository,
	orders order.Repository,
	ledger *LedgerService,
	tx domain.Transactor,
	auditSvc *AuditService,
	log *zap.Logger,
) *NoShowService {
	return &NoShowService{
		appts:    appts,
		orders:   orders,
		ledger:   ledger,
		tx:       tx,
		auditSvc: auditSvc,
		log:      log,
	}
}

// ResolveNoShow settles a missed appointment. With option=reschedule the
// ledger is untouched and the patient may book again freely. With
// option=session_lost one session is consumed from the linked order, falling
// back to the patient's most recent open order; if neither exists the
// deduction is skipped silently — a missing ledger must never block marking
// the no-show.
func (s *NoShowService) ResolveNoShow(ctx context.Context, id uuid.UUID, option appointment.NoShowOption, reason string, actor *domain.Claims) (*appointment.Appointment, error) {
	var a *appointment.Appointment

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		from := a.Status

		if err := a.ResolveNoShow(option, reason); err != nil {
			return err
		}
		if err := s.appts.Update(ctx, a, from); err != nil {
			return err
		}

		if option != appointment.NoShowSessionLost {
			return nil
		}
		return s.deductSession(ctx, a)
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
		Changes:      fmt.Sprintf(`{"status":%q,"no_show_option":%q}`, a.Status, option),
	})

	return a, nil
}

func (s *NoShowService) deductSession(ctx context.Context, a *appointment.Appointment) error {
	orderID, ok, err := s.resolveOrder(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		// session_deducted stays true on the appointment for audit even
		// though no ledger existed to decrement.
		s.log.Info("no active order for session-lost no-show; deduction skipped",
			zap.String("appointment_id", a.ID.String()),
			zap.String("patient_id", a.PatientID.String()),
		)
		return nil
	}

	if _, err := s.ledger.ConsumeSession(ctx, orderID); err != nil {
		if errors.Is(err, order.ErrSessionsExhausted) {
			s.log.Warn("order exhausted while resolving no-show; deduction skipped",
				zap.String("order_id", orderID.String()),
			)
			return nil
		}
		return fmt.Errorf("consuming session: %w", err)
	}
	return nil
}

// resolveOrder picks the ledger target: the appointment's own order if it is
// still open, otherwise the patient's most recently created open order.
// The fallback is ambiguous when a patient holds several open orders at once;
// the most-recent heuristic matches how front-desk staff work today.
func (s *NoShowService) resolveOrder(ctx context.Context, a *appointment.Appointment) (uuid.UUID, bool, error) {
	if a.MedicalOrderID != nil {
		o, err := s.orders.GetByID(ctx, *a.MedicalOrderID)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				return uuid.Nil, false, nil
			}
			return uuid.Nil, false, err
		}
		if o.Active() {
			return o.ID, true, nil
		}
		return uuid.Nil, false, nil
	}

	o, err := s.orders.GetActiveByPatient(ctx, a.PatientID)
	if err != nil {
		if errors.Is(err, order.ErrNoActiveOrder) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return o.ID, true, nil
}

// Reschedule supersedes an appointment with a replacement in scheduled. The
// insert and the original's flip to rescheduled (with mutual back-links)
// share one transaction: neither side ever exists without the other. No
// session is ever deducted by a reschedule.
func (s *NoShowService) Reschedule(ctx context.Context, originalID uuid.UUID, cmd *appointment.RescheduleCommand, actor *domain.Claims) (*appointment.ReschedulePair, error) {
	if len(strings.TrimSpace(cmd.Reason)) < minRescheduleReasonLen {
		return nil, appointment.ErrReasonTooShort
	}
	if cmd.NewScheduledAt.Before(time.Now()) {
		return nil, appointment.ErrScheduledInPast
	}

	var pair *appointment.ReschedulePair

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		orig, err := s.appts.GetByID(ctx, originalID)
		if err != nil {
			return err
		}
		from := orig.Status

		if !orig.CanTransitionTo(appointment.StatusRescheduled) {
			return appointment.ErrInvalidTransition
		}

		doctorID := orig.DoctorID
		if cmd.NewDoctorID != nil {
			doctorID = *cmd.NewDoctorID
		}

		// The replacement enters scheduled, so the booking gates apply to
		// its slot as well.
		if err := s.checkSlotGates(ctx, orig.PatientID, doctorID, cmd.NewScheduledAt); err != nil {
			return err
		}

		replacement := &appointment.Appointment{
			PatientID:         orig.PatientID,
			DoctorID:          doctorID,
			MedicalOrderID:    orig.MedicalOrderID,
			ScheduledAt:       cmd.NewScheduledAt,
			DurationMins:      orig.DurationMins,
			Status:            appointment.StatusScheduled,
			Reason:            orig.Reason,
			RescheduledFromID: &orig.ID,
			CreatedBy:         cmd.RescheduledBy,
		}
		if err := s.appts.Create(ctx, replacement); err != nil {
			return fmt.Errorf("creating replacement appointment: %w", err)
		}

		if err := orig.MarkSuperseded(replacement.ID, cmd.RescheduledBy, cmd.Reason); err != nil {
			return err
		}
		if err := s.appts.Update(ctx, orig, from); err != nil {
			return err
		}

		pair = &appointment.ReschedulePair{Original: orig, Replacement: replacement}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "update",
		ResourceType: "appointment",
		ResourceID:   originalID.String(),
		Changes:      fmt.Sprintf(`{"status":"rescheduled","rescheduled_to":%q}`, pair.Replacement.ID),
	})

	return pair, nil
}

func (s *NoShowService) checkSlotGates(ctx context.Context, patientID, doctorID uuid.UUID, at time.Time) error {
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

// PardonNoShows clears the no-show flag on every unpardoned no-show row for
// the patient and writes one immutable NoShowReset audit record. Pardons are
// behavioral only: already-consumed sessions are never rolled back.
func (s *NoShowService) PardonNoShows(ctx context.Context, patientID uuid.UUID, reason string, actor *domain.Claims) (*appointment.NoShowReset, error) {
	var reset *appointment.NoShowReset

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		affected, err := s.appts.MarkPardoned(ctx, patientID, actor.UserID, time.Now(), reason)
		if err != nil {
			return fmt.Errorf("pardoning no-shows: %w", err)
		}
		if affected == 0 {
			return appointment.ErrNothingToPardon
		}

		reset = &appointment.NoShowReset{
			PatientID:            patientID,
			ResetBy:              actor.UserID,
			Reason:               reason,
			AppointmentsAffected: int(affected),
		}
		return s.appts.CreateNoShowReset(ctx, reset)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("no-shows pardoned",
		zap.String("patient_id", patientID.String()),
		zap.Int("appointments_affected", reset.AppointmentsAffected),
	)

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "update",
		ResourceType: "no_show_reset",
		ResourceID:   reset.ID.String(),
		Changes:      fmt.Sprintf(`{"appointments_affected":%d}`, reset.AppointmentsAffected),
	})

	return reset, nil
}

// UnpardonedNoShowCount backs the alert flag read by the presentation layer.
func (s *NoShowService) UnpardonedNoShowCount(ctx context.Context, patientID uuid.UUID) (int64, error) {
	return s.appts.CountUnpardonedNoShows(ctx, patientID)
}
