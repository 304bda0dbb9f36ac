package history

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateEntry(ctx context.Context, e *Entry) error

	// GetEntryByAppointmentID returns ErrEntryNotFound when the appointment
	// was never attended.
	GetEntryByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Entry, error)

	UpdateEntry(ctx context.Context, e *Entry) error

	// ListEntriesByOrder returns entries chronologically by appointment_date.
	ListEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]*Entry, error)

	ListEntriesByPatient(ctx context.Context, patientID uuid.UUID) ([]*Entry, error)

	// UpsertUnified creates the per-order container on first write and merges
	// the patch into it afterwards.
	UpsertUnified(ctx context.Context, orderID uuid.UUID, patch *UnifiedHistoryPatch) (*UnifiedHistory, error)

	GetUnifiedByOrder(ctx context.Context, orderID uuid.UUID) (*UnifiedHistory, error)
}
