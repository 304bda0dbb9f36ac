package order

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, o *MedicalOrder) error

	// GetByID retrieves an order by primary key. Returns ErrOrderNotFound if not found.
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalOrder, error)

	// GetActiveByPatient returns the most recently created non-completed order
	// for the patient. Returns ErrNoActiveOrder when none exists.
	GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*MedicalOrder, error)

	// HasActiveByPatient checks for an open order without fetching it —
	// used by the booking gate.
	HasActiveByPatient(ctx context.Context, patientID uuid.UUID) (bool, error)

	// ConsumeSession atomically deducts one session. The update is guarded on
	// sessions_used < total_sessions so concurrent consumers on the same order
	// are linearized; returns ErrSessionsExhausted when the pool is empty.
	ConsumeSession(ctx context.Context, id uuid.UUID) (*MedicalOrder, error)

	// FinalizeEarly closes the order with early_discharge set and
	// sessions_used clamped to actualUsed.
	FinalizeEarly(ctx context.Context, id uuid.UUID, reason string, actualUsed int) (*MedicalOrder, error)

	// MarkCompleted sets completed without the early-discharge flag —
	// used when a final summary closes out a treatment.
	MarkCompleted(ctx context.Context, id uuid.UUID) (*MedicalOrder, error)

	List(ctx context.Context, q *ListOrdersQuery) (*PagedOrders, error)
}
