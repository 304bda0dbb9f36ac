package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicore/clinicore/internal/domain/history"
)

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) CreateEntry(ctx context.Context, e *history.Entry) error {
	err := dbFrom(ctx, r.db).Create(e).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return history.ErrEntryAlreadyExists
	}
	return err
}

func (r *HistoryRepository) GetEntryByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*history.Entry, error) {
	var e history.Entry
	err := dbFrom(ctx, r.db).
		Where("appointment_id = ?", appointmentID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, history.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *HistoryRepository) UpdateEntry(ctx context.Context, e *history.Entry) error {
	return dbFrom(ctx, r.db).Save(e).Error
}

func (r *HistoryRepository) ListEntriesByOrder(ctx context.Context, orderID uuid.UUID) ([]*history.Entry, error) {
	var entries []*history.Entry
	err := dbFrom(ctx, r.db).
		Where("medical_order_id = ?", orderID).
		Order("appointment_date ASC").
		Find(&entries).Error
	return entries, err
}

func (r *HistoryRepository) ListEntriesByPatient(ctx context.Context, patientID uuid.UUID) ([]*history.Entry, error) {
	var entries []*history.Entry
	err := dbFrom(ctx, r.db).
		Where("patient_id = ?", patientID).
		Order("appointment_date ASC").
		Find(&entries).Error
	return entries, err
}

// UpsertUnified locks the per-order container, creating it on first use, and
// merges the patch field by field. Nil patch fields leave stored values
// untouched; TemplateData keys overlay existing ones.
func (r *HistoryRepository) UpsertUnified(ctx context.Context, orderID uuid.UUID, patch *history.UnifiedHistoryPatch) (*history.UnifiedHistory, error) {
	db := dbFrom(ctx, r.db)

	var uh history.UnifiedHistory
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("medical_order_id = ?", orderID).
		First(&uh).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		uh = history.UnifiedHistory{
			MedicalOrderID: orderID,
			PatientID:      patch.PatientID,
			TemplateData:   map[string]any{},
		}
	case err != nil:
		return nil, fmt.Errorf("loading unified history: %w", err)
	}

	if uh.TemplateData == nil {
		uh.TemplateData = map[string]any{}
	}
	for k, v := range patch.TemplateData {
		uh.TemplateData[k] = v
	}
	if patch.Discharge != nil {
		uh.Discharge = patch.Discharge
	}
	if patch.FinalSummary != nil {
		uh.FinalSummary = *patch.FinalSummary
	}
	if patch.Recommendations != nil {
		uh.Recommendations = *patch.Recommendations
	}
	if patch.Attachment != nil {
		uh.Attachment = patch.Attachment
	}
	if patch.FinalizedAt != nil {
		uh.FinalizedAt = patch.FinalizedAt
	}
	if patch.FinalizedBy != nil {
		uh.FinalizedBy = patch.FinalizedBy
	}

	if err := db.Save(&uh).Error; err != nil {
		return nil, fmt.Errorf("saving unified history: %w", err)
	}
	return &uh, nil
}

func (r *HistoryRepository) GetUnifiedByOrder(ctx context.Context, orderID uuid.UUID) (*history.UnifiedHistory, error) {
	var uh history.UnifiedHistory
	err := dbFrom(ctx, r.db).
		Where("medical_order_id = ?", orderID).
		First(&uh).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, history.ErrHistoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &uh, nil
}
