package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain/order"
)

// LedgerService owns the session pool on medical orders. All deductions and
// closures go through here so the pool invariant (0 ≤ used ≤ total, completed
// at exhaustion) holds no matter which flow triggered the mutation.
type LedgerService struct {
	orders order.Repository
	log    *zap.Logger
}

func NewLedgerService(orders order.Repository, log *zap.Logger) *LedgerService {
	return &LedgerService{orders: orders, log: log}
}

func (s *LedgerService) CreateOrder(ctx context.Context, cmd *order.CreateOrderCommand) (*order.MedicalOrder, error) {
	if cmd.TotalSessions <= 0 {
		return nil, order.ErrInvalidTotalSessions
	}

	o := &order.MedicalOrder{
		PatientID:     cmd.PatientID,
		DoctorID:      cmd.DoctorID,
		Diagnosis:     cmd.Diagnosis,
		Treatment:     cmd.Treatment,
		TotalSessions: cmd.TotalSessions,
		CreatedBy:     cmd.CreatedBy,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		s.log.Error("failed to create medical order", zap.Error(err))
		return nil, fmt.Errorf("creating medical order: %w", err)
	}
	return o, nil
}

// ConsumeSession deducts one session from the order's pool. The repository
// linearizes concurrent deductions on the same order; callers booking against
// an exhausted order get order.ErrSessionsExhausted.
func (s *LedgerService) ConsumeSession(ctx context.Context, orderID uuid.UUID) (*order.MedicalOrder, error) {
	o, err := s.orders.ConsumeSession(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if o.Completed {
		s.log.Info("medical order completed by pool exhaustion",
			zap.String("order_id", o.ID.String()),
			zap.Int("total_sessions", o.TotalSessions),
		)
	}
	return o, nil
}

// FinalizeEarly closes the order ahead of pool exhaustion. Used exclusively
// by the discharge flow.
func (s *LedgerService) FinalizeEarly(ctx context.Context, orderID uuid.UUID, reason string, actualUsed int) (*order.MedicalOrder, error) {
	o, err := s.orders.FinalizeEarly(ctx, orderID, reason, actualUsed)
	if err != nil {
		return nil, err
	}

	s.log.Info("medical order finalized early",
		zap.String("order_id", o.ID.String()),
		zap.Int("sessions_used", o.SessionsUsed),
		zap.Int("total_sessions", o.TotalSessions),
	)
	return o, nil
}

func (s *LedgerService) GetOrder(ctx context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *LedgerService) ListOrders(ctx context.Context, q *order.ListOrdersQuery) (*order.PagedOrders, error) {
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.orders.List(ctx, q)
}
