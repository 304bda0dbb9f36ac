package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/patient"
	"github.com/clinicore/clinicore/internal/middleware"
	"github.com/clinicore/clinicore/internal/service"
)

type PatientHandler struct {
	patients *service.PatientService
}

func NewPatientHandler(patients *service.PatientService) *PatientHandler {
	return &PatientHandler{patients: patients}
}

type createPatientRequest struct {
	FirstName        string                    `json:"first_name" binding:"required"`
	LastName         string                    `json:"last_name" binding:"required"`
	DateOfBirth      time.Time                 `json:"date_of_birth" binding:"required"`
	Gender           patient.Gender            `json:"gender" binding:"required"`
	NationalID       string                    `json:"national_id" binding:"required"`
	Phone            string                    `json:"phone"`
	Email            string                    `json:"email"`
	Address          string                    `json:"address"`
	City             string                    `json:"city"`
	EmergencyContact *patient.EmergencyContact `json:"emergency_contact"`
	AssignedDoctorID *uuid.UUID                `json:"assigned_doctor_id"`
	Notes            string                    `json:"notes"`
}

func (h *PatientHandler) Create(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	var req createPatientRequest
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.patients.CreatePatient(c.Request.Context(), &patient.CreatePatientCommand{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		DateOfBirth:      req.DateOfBirth,
		Gender:           req.Gender,
		NationalID:       req.NationalID,
		Phone:            req.Phone,
		Email:            req.Email,
		Address:          req.Address,
		City:             req.City,
		EmergencyContact: req.EmergencyContact,
		AssignedDoctorID: req.AssignedDoctorID,
		Notes:            req.Notes,
		CreatedBy:        claims.UserID,
	}, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, p)
}

func (h *PatientHandler) Get(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	p, err := h.patients.GetPatient(c.Request.Context(), id, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, p)
}

func (h *PatientHandler) List(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)

	q := &patient.ListPatientsQuery{
		Search:           c.Query("search"),
		AssignedDoctorID: parseQueryUUID(c, "doctor_id"),
		Page:             parseQueryInt(c, "page", 1),
		PageSize:         parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := patient.Status(raw)
		q.Status = &status
	}

	page, err := h.patients.ListPatients(c.Request.Context(), q, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, page)
}
