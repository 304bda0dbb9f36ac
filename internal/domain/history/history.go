package history

import (
	"time"

	"github.com/google/uuid"
)

// Entry is the clinical record of one attended session. Exactly one entry may
// exist per appointment; corrections are appended, never overwritten.
type Entry struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	AppointmentID  uuid.UUID  `gorm:"column:appointment_id;type:uuid;not null;uniqueIndex"`
	MedicalOrderID *uuid.UUID `gorm:"column:medical_order_id;type:uuid;index"`
	PatientID      uuid.UUID  `gorm:"column:patient_id;type:uuid;not null;index"`

	ProfessionalName string `gorm:"column:professional_name;type:varchar(200);not null"`

	// Denormalized from the appointment for chronological ordering.
	AppointmentDate time.Time `gorm:"column:appointment_date;not null;index"`

	Observations string `gorm:"column:observations;type:text"`
	Evolution    string `gorm:"column:evolution;type:text"`

	CreatedBy uuid.UUID `gorm:"column:created_by;type:uuid;not null"`
}

func (Entry) TableName() string {
	return "clinical.history_entries"
}

// AppendNote adds a dated correction to the evolution text without touching
// what was already written.
func (e *Entry) AppendNote(note string, at time.Time) {
	line := "[" + at.Format("2006-01-02 15:04") + "] " + note
	if e.Evolution == "" {
		e.Evolution = line
		return
	}
	e.Evolution += "\n" + line
}

// Attachment references an uploaded document backing a final summary.
type Attachment struct {
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	StorageKey  string    `json:"storage_key"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// DischargeRecord summarizes an early discharge inside the unified history.
type DischargeRecord struct {
	DischargedAt          time.Time `json:"discharged_at"`
	Reason                string    `json:"reason"`
	SessionsCompleted     int       `json:"sessions_completed"`
	TotalSessions         int       `json:"total_sessions"`
	AppointmentsCancelled int       `json:"appointments_cancelled"`
}

// UnifiedHistory is the single per-order container that session entries,
// discharge summaries and the final summary hang off.
type UnifiedHistory struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	MedicalOrderID uuid.UUID `gorm:"column:medical_order_id;type:uuid;not null;uniqueIndex"`
	PatientID      uuid.UUID `gorm:"column:patient_id;type:uuid;not null;index"`

	// Free-form template data merged into by discharge and finalization;
	// existing keys survive unless a patch overwrites them.
	TemplateData map[string]any `gorm:"column:template_data;serializer:json"`

	Discharge *DischargeRecord `gorm:"column:discharge;serializer:json"`

	FinalSummary    string      `gorm:"column:final_summary;type:text"`
	Recommendations string      `gorm:"column:recommendations;type:text"`
	Attachment      *Attachment `gorm:"column:attachment;serializer:json"`
	FinalizedAt     *time.Time  `gorm:"column:finalized_at"`
	FinalizedBy     *uuid.UUID  `gorm:"column:finalized_by;type:uuid"`
}

func (UnifiedHistory) TableName() string {
	return "clinical.unified_histories"
}

type CreateEntryCommand struct {
	AppointmentID    uuid.UUID
	MedicalOrderID   *uuid.UUID
	PatientID        uuid.UUID
	ProfessionalName string
	AppointmentDate  time.Time
	Observations     string
	Evolution        string
	CreatedBy        uuid.UUID
}

// UnifiedHistoryPatch carries partial updates for the upsert: nil fields are
// left untouched, TemplateData keys are merged over existing ones.
type UnifiedHistoryPatch struct {
	PatientID       uuid.UUID
	TemplateData    map[string]any
	Discharge       *DischargeRecord
	FinalSummary    *string
	Recommendations *string
	Attachment      *Attachment
	FinalizedAt     *time.Time
	FinalizedBy     *uuid.UUID
}
