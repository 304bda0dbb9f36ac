package order

import (
	"time"

	"github.com/google/uuid"
)

// MedicalOrder is a prescription authorizing a fixed number of treatment
// sessions. The sessions_used/total_sessions pair is the session pool:
// sessions_used only ever grows, and the order auto-completes the moment
// the pool is exhausted.
type MedicalOrder struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
	DeletedAt *time.Time `gorm:"index"`

	PatientID uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`
	DoctorID  uuid.UUID `gorm:"column:doctor_id;type:uuid;not null;index"`

	Diagnosis string `gorm:"column:diagnosis;type:text"`
	Treatment string `gorm:"column:treatment;type:text"`

	TotalSessions int `gorm:"column:total_sessions;not null"`
	SessionsUsed  int `gorm:"column:sessions_used;not null;default:0"`

	Completed   bool       `gorm:"column:completed;not null;default:false;index"`
	CompletedAt *time.Time `gorm:"column:completed_at"`

	// Early-discharge closure, set only by the discharge flow.
	EarlyDischarge  bool   `gorm:"column:early_discharge;not null;default:false"`
	DischargeReason string `gorm:"column:discharge_reason;type:text"`

	ResultsNotes string `gorm:"column:results_notes;type:text"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (MedicalOrder) TableName() string {
	return "clinical.medical_orders"
}

func (o *MedicalOrder) Remaining() int {
	if o.SessionsUsed >= o.TotalSessions {
		return 0
	}
	return o.TotalSessions - o.SessionsUsed
}

// Active reports whether the order can still back bookings and deductions.
func (o *MedicalOrder) Active() bool {
	return !o.Completed
}

// Consume deducts one session from the pool, completing the order when the
// pool runs out. Callers must persist the mutation atomically; concurrent
// consumers on the same order are serialized at the repository.
func (o *MedicalOrder) Consume() error {
	if o.Completed || o.SessionsUsed >= o.TotalSessions {
		return ErrSessionsExhausted
	}
	o.SessionsUsed++
	if o.SessionsUsed >= o.TotalSessions {
		now := time.Now()
		o.Completed = true
		o.CompletedAt = &now
	}
	return nil
}

// FinalizeEarly closes the order before pool exhaustion. sessions_used is
// clamped to actualUsed so the ledger reflects what was actually delivered.
func (o *MedicalOrder) FinalizeEarly(reason string, actualUsed int) {
	if actualUsed < 0 {
		actualUsed = 0
	}
	if actualUsed > o.TotalSessions {
		actualUsed = o.TotalSessions
	}
	now := time.Now()
	o.SessionsUsed = actualUsed
	o.Completed = true
	o.CompletedAt = &now
	o.EarlyDischarge = true
	o.DischargeReason = reason
	if o.ResultsNotes == "" {
		o.ResultsNotes = reason
	} else {
		o.ResultsNotes += "\n" + reason
	}
}

type CreateOrderCommand struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Diagnosis     string
	Treatment     string
	TotalSessions int
	CreatedBy     uuid.UUID
}

type ListOrdersQuery struct {
	PatientID  *uuid.UUID
	DoctorID   *uuid.UUID
	ActiveOnly bool
	Page       int
	PageSize   int
}

type PagedOrders struct {
	Orders     []*MedicalOrder
	TotalCount int64
	Page       int
	PageSize   int
	TotalPages int
}
