package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicore/clinicore/internal/domain/appointment"
)

type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) Create(ctx context.Context, a *appointment.Appointment) error {
	return dbFrom(ctx, r.db).Create(a).Error
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	var a appointment.Appointment
	err := dbFrom(ctx, r.db).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, appointment.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// mutableColumns is everything Update is allowed to write. Identity and
// creation metadata stay immutable.
var mutableColumns = []string{
	"doctor_id", "scheduled_at", "duration_mins", "status", "reason", "notes",
	"no_show_reason", "session_deducted",
	"pardoned_by", "pardoned_at", "pardon_reason",
	"rescheduled_from_id", "rescheduled_to_id", "rescheduled_at", "rescheduled_by", "reschedule_reason",
	"cancelled_at", "cancellation_reason", "cancelled_by",
	"updated_at",
}

// Update writes the row only if its stored status still matches what the
// caller read. A zero rows-affected result on an existing row means someone
// else transitioned it first.
func (r *AppointmentRepository) Update(ctx context.Context, a *appointment.Appointment, expectedStatus appointment.AppointmentStatus) error {
	res := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).
		Where("id = ? AND status = ? AND deleted_at IS NULL", a.ID, expectedStatus).
		Select(mutableColumns).
		Updates(a)
	if res.Error != nil {
		return fmt.Errorf("updating appointment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, a.ID); err != nil {
			return err
		}
		return appointment.ErrConcurrentModification
	}
	return nil
}

func (r *AppointmentRepository) List(ctx context.Context, q *appointment.ListAppointmentsQuery) (*appointment.PagedAppointments, error) {
	db := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).Where("deleted_at IS NULL")

	if q.PatientID != nil {
		db = db.Where("patient_id = ?", *q.PatientID)
	}
	if q.DoctorID != nil {
		db = db.Where("doctor_id = ?", *q.DoctorID)
	}
	if q.OrderID != nil {
		db = db.Where("medical_order_id = ?", *q.OrderID)
	}
	if q.Status != nil {
		db = db.Where("status = ?", *q.Status)
	}
	if q.DateFrom != nil {
		db = db.Where("scheduled_at >= ?", *q.DateFrom)
	}
	if q.DateTo != nil {
		db = db.Where("scheduled_at <= ?", *q.DateTo)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}

	var appts []*appointment.Appointment
	err := db.Order("scheduled_at DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&appts).Error
	if err != nil {
		return nil, err
	}

	return &appointment.PagedAppointments{
		Appointments: appts,
		TotalCount:   total,
		Page:         q.Page,
		PageSize:     q.PageSize,
		TotalPages:   int((total + int64(q.PageSize) - 1) / int64(q.PageSize)),
	}, nil
}

func (r *AppointmentRepository) CountPatientSlot(ctx context.Context, patientID, doctorID uuid.UUID, at time.Time) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).
		Where("patient_id = ? AND doctor_id = ? AND scheduled_at = ? AND status <> ? AND deleted_at IS NULL",
			patientID, doctorID, at, appointment.StatusCancelled).
		Count(&count).Error
	return count, err
}

func (r *AppointmentRepository) CountDoctorSlot(ctx context.Context, doctorID uuid.UUID, at time.Time) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).
		Where("doctor_id = ? AND scheduled_at = ? AND status <> ? AND deleted_at IS NULL",
			doctorID, at, appointment.StatusCancelled).
		Count(&count).Error
	return count, err
}

func (r *AppointmentRepository) ListUpcomingByPatient(ctx context.Context, patientID uuid.UUID, statuses []appointment.AppointmentStatus, from time.Time) ([]*appointment.Appointment, error) {
	var appts []*appointment.Appointment
	err := dbFrom(ctx, r.db).
		Where("patient_id = ? AND status IN ? AND scheduled_at >= ? AND deleted_at IS NULL",
			patientID, statuses, from).
		Order("scheduled_at ASC").
		Find(&appts).Error
	return appts, err
}

func (r *AppointmentRepository) MarkPardoned(ctx context.Context, patientID, pardonedBy uuid.UUID, at time.Time, reason string) (int64, error) {
	res := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).
		Where("patient_id = ? AND status IN ? AND pardoned_by IS NULL AND deleted_at IS NULL",
			patientID, appointment.NoShowStatuses).
		Updates(map[string]any{
			"pardoned_by":   pardonedBy,
			"pardoned_at":   at,
			"pardon_reason": reason,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("pardoning no-shows: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *AppointmentRepository) CountUnpardonedNoShows(ctx context.Context, patientID uuid.UUID) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).
		Where("patient_id = ? AND status IN ? AND pardoned_by IS NULL AND deleted_at IS NULL",
			patientID, appointment.NoShowStatuses).
		Count(&count).Error
	return count, err
}

func (r *AppointmentRepository) CountAttendedByPatient(ctx context.Context, patientID uuid.UUID) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).Model(&appointment.Appointment{}).
		Where("patient_id = ? AND status IN ? AND deleted_at IS NULL",
			patientID, appointment.AttendedStatuses).
		Count(&count).Error
	return count, err
}

func (r *AppointmentRepository) CreateNoShowReset(ctx context.Context, reset *appointment.NoShowReset) error {
	return dbFrom(ctx, r.db).Create(reset).Error
}
