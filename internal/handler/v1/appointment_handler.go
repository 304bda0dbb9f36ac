package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/middleware"
	"github.com/clinicore/clinicore/internal/service"
	"github.com/clinicore/clinicore/pkg/metrics"
)

type AppointmentHandler struct {
	scheduling *service.SchedulingService
	noShows    *service.NoShowService
	collector  *metrics.Collector
}

func NewAppointmentHandler(scheduling *service.SchedulingService, noShows *service.NoShowService, collector *metrics.Collector) *AppointmentHandler {
	return &AppointmentHandler{scheduling: scheduling, noShows: noShows, collector: collector}
}

type bookAppointmentRequest struct {
	PatientID      uuid.UUID  `json:"patient_id" binding:"required"`
	DoctorID       uuid.UUID  `json:"doctor_id" binding:"required"`
	MedicalOrderID *uuid.UUID `json:"medical_order_id"`
	ScheduledAt    time.Time  `json:"scheduled_at" binding:"required"`
	DurationMins   int        `json:"duration_mins"`
	Reason         string     `json:"reason"`
	Notes          string     `json:"notes"`
}

func (h *AppointmentHandler) Book(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	var req bookAppointmentRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DurationMins == 0 {
		req.DurationMins = 30
	}

	a, err := h.scheduling.Book(c.Request.Context(), &appointment.BookAppointmentCommand{
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		MedicalOrderID: req.MedicalOrderID,
		ScheduledAt:    req.ScheduledAt,
		DurationMins:   req.DurationMins,
		Reason:         req.Reason,
		Notes:          req.Notes,
		CreatedBy:      claims.UserID,
	}, claims)
	if err != nil {
		h.recordBookingRejection(err)
		respondServiceError(c, err)
		return
	}

	h.collector.AppointmentsBooked.Inc()
	respondCreated(c, a)
}

func (h *AppointmentHandler) recordBookingRejection(err error) {
	switch {
	case errors.Is(err, appointment.ErrDuplicateBooking):
		h.collector.BookingsRejected.WithLabelValues("duplicate").Inc()
	case errors.Is(err, appointment.ErrSlotSaturated):
		h.collector.BookingsRejected.WithLabelValues("slot_saturated").Inc()
	case errors.Is(err, appointment.ErrMedicalOrderRequired):
		h.collector.BookingsRejected.WithLabelValues("order_required").Inc()
	default:
		h.collector.BookingsRejected.WithLabelValues("other").Inc()
	}
}

func (h *AppointmentHandler) Get(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.scheduling.GetAppointment(c.Request.Context(), id, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, a)
}

func (h *AppointmentHandler) List(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)

	q := &appointment.ListAppointmentsQuery{
		PatientID: parseQueryUUID(c, "patient_id"),
		DoctorID:  parseQueryUUID(c, "doctor_id"),
		OrderID:   parseQueryUUID(c, "order_id"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "page_size", 20),
	}
	if raw := c.Query("status"); raw != "" {
		status := appointment.AppointmentStatus(raw)
		if !status.IsValid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status filter"})
			return
		}
		q.Status = &status
	}

	page, err := h.scheduling.ListAppointments(c.Request.Context(), q, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, page)
}

func (h *AppointmentHandler) Confirm(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.scheduling.Confirm(c.Request.Context(), id, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.AppointmentsTotal.WithLabelValues(string(a.Status)).Inc()
	respondOK(c, a)
}

type attendRequest struct {
	Observations string `json:"observations"`
	Evolution    string `json:"evolution"`
}

func (h *AppointmentHandler) MarkAttended(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req attendRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.scheduling.MarkAttended(c.Request.Context(), id, service.AttendanceNote{
		Observations: req.Observations,
		Evolution:    req.Evolution,
	}, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if a.MedicalOrderID != nil {
		h.collector.SessionsConsumed.Inc()
	}
	h.collector.AppointmentsTotal.WithLabelValues(string(a.Status)).Inc()
	respondOK(c, a)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *AppointmentHandler) RevertAttendance(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.scheduling.RevertAttendance(c.Request.Context(), id, req.Reason, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.AppointmentsTotal.WithLabelValues(string(a.Status)).Inc()
	respondOK(c, a)
}

func (h *AppointmentHandler) Complete(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	a, err := h.scheduling.Complete(c.Request.Context(), id, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.AppointmentsTotal.WithLabelValues(string(a.Status)).Inc()
	respondOK(c, a)
}

func (h *AppointmentHandler) Cancel(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req reasonRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.scheduling.Cancel(c.Request.Context(), id, req.Reason, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.AppointmentsTotal.WithLabelValues(string(a.Status)).Inc()
	respondOK(c, a)
}

type resolveNoShowRequest struct {
	Option appointment.NoShowOption `json:"option" binding:"required"`
	Reason string                   `json:"reason"`
}

func (h *AppointmentHandler) ResolveNoShow(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req resolveNoShowRequest
	if !bindJSON(c, &req) {
		return
	}

	a, err := h.noShows.ResolveNoShow(c.Request.Context(), id, req.Option, req.Reason, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.NoShowsResolved.WithLabelValues(string(req.Option)).Inc()
	respondOK(c, a)
}

type rescheduleRequest struct {
	NewScheduledAt time.Time  `json:"new_scheduled_at" binding:"required"`
	NewDoctorID    *uuid.UUID `json:"new_doctor_id"`
	Reason         string     `json:"reason" binding:"required"`
}

func (h *AppointmentHandler) Reschedule(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req rescheduleRequest
	if !bindJSON(c, &req) {
		return
	}

	pair, err := h.noShows.Reschedule(c.Request.Context(), id, &appointment.RescheduleCommand{
		NewScheduledAt: req.NewScheduledAt,
		NewDoctorID:    req.NewDoctorID,
		Reason:         req.Reason,
		RescheduledBy:  claims.UserID,
	}, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.ReschedulesTotal.Inc()
	respondCreated(c, pair)
}

type pardonRequest struct {
	Reason string `json:"reason"`
}

func (h *AppointmentHandler) PardonNoShows(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	patientID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req pardonRequest
	if !bindJSON(c, &req) {
		return
	}

	reset, err := h.noShows.PardonNoShows(c.Request.Context(), patientID, req.Reason, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.PardonedAppointments.Add(float64(reset.AppointmentsAffected))
	respondOK(c, reset)
}

type noShowStatusResponse struct {
	UnpardonedCount int64 `json:"unpardoned_count"`
	AlertThreshold  int   `json:"alert_threshold"`
	Flagged         bool  `json:"flagged"`
}

func (h *AppointmentHandler) NoShowStatus(c *gin.Context) {
	patientID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	count, err := h.noShows.UnpardonedNoShowCount(c.Request.Context(), patientID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, noShowStatusResponse{
		UnpardonedCount: count,
		AlertThreshold:  service.NoShowAlertThreshold,
		Flagged:         count >= service.NoShowAlertThreshold,
	})
}
