package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/history"
	"github.com/clinicore/clinicore/internal/domain/order"
)

// DischargeResult is returned for caller confirmation messaging.
type DischargeResult struct {
	Order                  *order.MedicalOrder
	AppointmentsDischarged int
}

// DischargeService closes out a treatment early: future appointments are
// discharged, the order ledger is finalized and a discharge summary lands in
// the unified history — all inside one transaction, so a failing step leaves
// nothing half-applied.
type DischargeService struct {
	appts     appointment.Repository
	orders    order.Repository
	histories history.Repository
	ledger    *LedgerService
	tx        domain.Transactor
	auditSvc  *AuditService
	log       *zap.Logger
}

func NewDischargeService(
	appts appointment.Repository,
	orders order.Repository,
	histories history.Repository,
	ledger *LedgerService,
	tx domain.Transactor,
	auditSvc *AuditService,
	log *zap.Logger,
) *DischargeService {
	return &DischargeService{
		appts:     appts,
		orders:    orders,
		histories: histories,
		ledger:    ledger,
		tx:        tx,
		auditSvc:  auditSvc,
		log:       log,
	}
}

func (s *DischargeService) DischargeEarly(ctx context.Context, patientID, orderID uuid.UUID, reason string, actor *domain.Claims) (*DischargeResult, error) {
	if reason == "" {
		return nil, &ValidationError{Fields: []string{"reason is required"}}
	}

	var result *DischargeResult

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.PatientID != patientID || !o.Active() {
			return order.ErrNoActiveOrder
		}

		now := time.Now()
		upcoming, err := s.appts.ListUpcomingByPatient(ctx, patientID,
			[]appointment.AppointmentStatus{appointment.StatusScheduled, appointment.StatusConfirmed}, now)
		if err != nil {
			return fmt.Errorf("listing upcoming appointments: %w", err)
		}

		for _, a := range upcoming {
			from := a.Status
			if err := a.Transition(appointment.StatusDischarged); err != nil {
				return err
			}
			if a.Notes == "" {
				a.Notes = "discharged: " + reason
			} else {
				a.Notes += "\ndischarged: " + reason
			}
			if err := s.appts.Update(ctx, a, from); err != nil {
				return err
			}
		}

		finalized, err := s.ledger.FinalizeEarly(ctx, orderID, reason, o.SessionsUsed)
		if err != nil {
			return err
		}

		_, err = s.histories.UpsertUnified(ctx, orderID, &history.UnifiedHistoryPatch{
			PatientID: patientID,
			Discharge: &history.DischargeRecord{
				DischargedAt:          now,
				Reason:                reason,
				SessionsCompleted:     finalized.SessionsUsed,
				TotalSessions:         finalized.TotalSessions,
				AppointmentsCancelled: len(upcoming),
			},
		})
		if err != nil {
			return fmt.Errorf("upserting discharge summary: %w", err)
		}

		result = &DischargeResult{Order: finalized, AppointmentsDischarged: len(upcoming)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("patient discharged early",
		zap.String("patient_id", patientID.String()),
		zap.String("order_id", orderID.String()),
		zap.Int("appointments_discharged", result.AppointmentsDischarged),
	)

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "update",
		ResourceType: "medical_order",
		ResourceID:   orderID.String(),
		Changes:      fmt.Sprintf(`{"early_discharge":true,"appointments_discharged":%d}`, result.AppointmentsDischarged),
	})

	return result, nil
}
