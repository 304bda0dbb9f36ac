package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinicore/clinicore/internal/domain/order"
	"github.com/clinicore/clinicore/internal/middleware"
	"github.com/clinicore/clinicore/internal/service"
	"github.com/clinicore/clinicore/pkg/metrics"
)

type OrderHandler struct {
	ledger    *service.LedgerService
	discharge *service.DischargeService
	collector *metrics.Collector
}

func NewOrderHandler(ledger *service.LedgerService, discharge *service.DischargeService, collector *metrics.Collector) *OrderHandler {
	return &OrderHandler{ledger: ledger, discharge: discharge, collector: collector}
}

type createOrderRequest struct {
	PatientID     uuid.UUID `json:"patient_id" binding:"required"`
	DoctorID      uuid.UUID `json:"doctor_id" binding:"required"`
	Diagnosis     string    `json:"diagnosis"`
	Treatment     string    `json:"treatment"`
	TotalSessions int       `json:"total_sessions" binding:"required"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	claims, ok := middleware.CurrentClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "authentication required"})
		return
	}

	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	o, err := h.ledger.CreateOrder(c.Request.Context(), &order.CreateOrderCommand{
		PatientID:     req.PatientID,
		DoctorID:      req.DoctorID,
		Diagnosis:     req.Diagnosis,
		Treatment:     req.Treatment,
		TotalSessions: req.TotalSessions,
		CreatedBy:     claims.UserID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	o, err := h.ledger.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, o)
}

func (h *OrderHandler) List(c *gin.Context) {
	q := &order.ListOrdersQuery{
		PatientID:  parseQueryUUID(c, "patient_id"),
		DoctorID:   parseQueryUUID(c, "doctor_id"),
		ActiveOnly: c.Query("active") == "true",
		Page:       parseQueryInt(c, "page", 1),
		PageSize:   parseQueryInt(c, "page_size", 20),
	}

	page, err := h.ledger.ListOrders(c.Request.Context(), q)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, page)
}

type dischargeRequest struct {
	PatientID uuid.UUID `json:"patient_id" binding:"required"`
	Reason    string    `json:"reason" binding:"required"`
}

func (h *OrderHandler) DischargeEarly(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	orderID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req dischargeRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.discharge.DischargeEarly(c.Request.Context(), req.PatientID, orderID, req.Reason, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	h.collector.DischargesTotal.Inc()
	respondOK(c, result)
}
