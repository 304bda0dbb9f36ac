package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/patient"
)

type PatientService struct {
	repo     patient.Repository
	auditSvc *AuditService
	log      *zap.Logger
}

func NewPatientService(repo patient.Repository, auditSvc *AuditService, log *zap.Logger) *PatientService {
	return &PatientService{repo: repo, auditSvc: auditSvc, log: log}
}

func (s *PatientService) CreatePatient(ctx context.Context, cmd *patient.CreatePatientCommand, actor *domain.Claims) (*patient.Patient, error) {
	if err := validateCreatePatient(cmd); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByNationalID(ctx, cmd.NationalID, nil)
	if err != nil {
		s.log.Error("failed to check national ID uniqueness", zap.Error(err))
		return nil, fmt.Errorf("checking uniqueness: %w", err)
	}
	if exists {
		return nil, patient.ErrPatientAlreadyExists
	}

	p := &patient.Patient{
		FirstName:   strings.TrimSpace(cmd.FirstName),
		LastName:    strings.TrimSpace(cmd.LastName),
		DateOfBirth: cmd.DateOfBirth,
		Gender:      cmd.Gender,
		NationalID:  strings.TrimSpace(cmd.NationalID),
		ContactInfo: patient.ContactInfo{
			Phone:   strings.TrimSpace(cmd.Phone),
			Email:   strings.ToLower(strings.TrimSpace(cmd.Email)),
			Address: cmd.Address,
			City:    cmd.City,
		},
		EmergencyContact: cmd.EmergencyContact,
		AssignedDoctorID: cmd.AssignedDoctorID,
		Notes:            cmd.Notes,
		Status:           patient.StatusActive,
		CreatedBy:        cmd.CreatedBy,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.log.Error("failed to create patient", zap.Error(err))
		return nil, fmt.Errorf("creating patient: %w", err)
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "create",
		ResourceType: "patient",
		ResourceID:   p.ID.String(),
	})

	return p, nil
}

func (s *PatientService) GetPatient(ctx context.Context, id uuid.UUID, actor *domain.Claims) (*patient.Patient, error) {
	// RBAC: patients can only read their own record
	if actor.Role == domain.RolePatient {
		if actor.PatientID == nil || *actor.PatientID != id {
			return nil, ErrForbidden
		}
	}

	return s.repo.GetByID(ctx, id)
}

func (s *PatientService) ListPatients(ctx context.Context, q *patient.ListPatientsQuery, actor *domain.Claims) (*patient.PagedPatients, error) {
	if q.PageSize <= 0 || q.PageSize > 100 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	return s.repo.List(ctx, q)
}

func validateCreatePatient(cmd *patient.CreatePatientCommand) error {
	var errs []string

	if strings.TrimSpace(cmd.FirstName) == "" {
		errs = append(errs, "first_name is required")
	}
	if strings.TrimSpace(cmd.LastName) == "" {
		errs = append(errs, "last_name is required")
	}
	if cmd.DateOfBirth.IsZero() {
		errs = append(errs, "date_of_birth is required")
	}
	if cmd.DateOfBirth.After(time.Now()) {
		errs = append(errs, "date_of_birth cannot be in the future")
	}
	if !cmd.Gender.IsValid() {
		errs = append(errs, "gender is invalid")
	}
	if strings.TrimSpace(cmd.NationalID) == "" {
		errs = append(errs, "national_id is required")
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
