package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicore/clinicore/internal/domain/patient"
)

type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) Create(ctx context.Context, p *patient.Patient) error {
	err := dbFrom(ctx, r.db).Create(p).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return patient.ErrPatientAlreadyExists
	}
	return err
}

func (r *PatientRepository) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var p patient.Patient
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, patient.ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PatientRepository) List(ctx context.Context, q *patient.ListPatientsQuery) (*patient.PagedPatients, error) {
	db := dbFrom(ctx, r.db).Model(&patient.Patient{}).Where("deleted_at IS NULL")

	if q.Search != "" {
		like := "%" + q.Search + "%"
		db = db.Where("first_name ILIKE ? OR last_name ILIKE ?", like, like)
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}
	if q.AssignedDoctorID != nil {
		db = db.Where("assigned_doctor_id = ?", *q.AssignedDoctorID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	var patients []*patient.Patient
	err := db.Order("last_name ASC, first_name ASC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&patients).Error
	if err != nil {
		return nil, err
	}

	return &patient.PagedPatients{
		Patients:   patients,
		TotalCount: total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: int((total + int64(q.PageSize) - 1) / int64(q.PageSize)),
	}, nil
}

func (r *PatientRepository) ExistsByNationalID(ctx context.Context, nationalID string, excludeID *uuid.UUID) (bool, error) {
	db := dbFrom(ctx, r.db).Model(&patient.Patient{}).
		Where("national_id = ? AND deleted_at IS NULL", nationalID)
	if excludeID != nil {
		db = db.Where("id <> ?", *excludeID)
	}

	var count int64
	err := db.Count(&count).Error
	return count > 0, err
}
