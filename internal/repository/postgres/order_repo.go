package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinicore/clinicore/internal/domain/order"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.MedicalOrder) error {
	return dbFrom(ctx, r.db).Create(o).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	var o order.MedicalOrder
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) GetActiveByPatient(ctx context.Context, patientID uuid.UUID) (*order.MedicalOrder, error) {
	var o order.MedicalOrder
	err := dbFrom(ctx, r.db).
		Where("patient_id = ? AND completed = false AND deleted_at IS NULL", patientID).
		Order("created_at DESC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, order.ErrNoActiveOrder
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) HasActiveByPatient(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var count int64
	err := dbFrom(ctx, r.db).Model(&order.MedicalOrder{}).
		Where("patient_id = ? AND completed = false AND deleted_at IS NULL", patientID).
		Count(&count).Error
	return count > 0, err
}

// ConsumeSession is a single guarded UPDATE: the sessions_used < total_sessions
// predicate linearizes concurrent deductions on the same order, so the pool
// can never be driven past its limit.
func (r *OrderRepository) ConsumeSession(ctx context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	res := dbFrom(ctx, r.db).Model(&order.MedicalOrder{}).
		Where("id = ? AND completed = false AND sessions_used < total_sessions AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"sessions_used": gorm.Expr("sessions_used + 1"),
			"completed":     gorm.Expr("sessions_used + 1 >= total_sessions"),
			"completed_at":  gorm.Expr("CASE WHEN sessions_used + 1 >= total_sessions THEN NOW() ELSE completed_at END"),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("consuming session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, order.ErrSessionsExhausted
	}
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) FinalizeEarly(ctx context.Context, id uuid.UUID, reason string, actualUsed int) (*order.MedicalOrder, error) {
	db := dbFrom(ctx, r.db)

	var o order.MedicalOrder
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Completed {
		return nil, order.ErrOrderCompleted
	}

	o.FinalizeEarly(reason, actualUsed)
	if err := db.Save(&o).Error; err != nil {
		return nil, fmt.Errorf("finalizing order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepository) MarkCompleted(ctx context.Context, id uuid.UUID) (*order.MedicalOrder, error) {
	res := dbFrom(ctx, r.db).Model(&order.MedicalOrder{}).
		Where("id = ? AND completed = false AND deleted_at IS NULL", id).
		Updates(map[string]any{
			"completed":    true,
			"completed_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) List(ctx context.Context, q *order.ListOrdersQuery) (*order.PagedOrders, error) {
	db := dbFrom(ctx, r.db).Model(&order.MedicalOrder{}).Where("deleted_at IS NULL")

	if q.PatientID != nil {
		db = db.Where("patient_id = ?", *q.PatientID)
	}
	if q.DoctorID != nil {
		db = db.Where("doctor_id = ?", *q.DoctorID)
	}
	if q.ActiveOnly {
		db = db.Where("completed = false")
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	var orders []*order.MedicalOrder
	err := db.Order("created_at DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	return &order.PagedOrders{
		Orders:     orders,
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int((total + int64(q.PageSize) - 1) / int64(q.PageSize)),
	}, nil
}
