package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/clinicore/clinicore/internal/domain/history"
	"github.com/clinicore/clinicore/internal/middleware"
	"github.com/clinicore/clinicore/internal/service"
)

type HistoryHandler struct {
	histories *service.HistoryService
}

func NewHistoryHandler(histories *service.HistoryService) *HistoryHandler {
	return &HistoryHandler{histories: histories}
}

func (h *HistoryHandler) ListEntries(c *gin.Context) {
	orderID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	entries, err := h.histories.ListSessionEntries(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, entries)
}

func (h *HistoryHandler) GetUnified(c *gin.Context) {
	orderID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	uh, err := h.histories.GetUnifiedHistory(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, uh)
}

type sessionsSummaryResponse struct {
	Summary string `json:"summary"`
}

func (h *HistoryHandler) SessionsSummary(c *gin.Context) {
	orderID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	text, err := h.histories.SessionsSummary(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, sessionsSummaryResponse{Summary: text})
}

type finalizationStatusResponse struct {
	CanFinalize bool `json:"can_finalize"`
}

func (h *HistoryHandler) FinalizationStatus(c *gin.Context) {
	orderID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	allowed, err := h.histories.CanFinalizeHistory(c.Request.Context(), orderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, finalizationStatusResponse{CanFinalize: allowed})
}

type finalSummaryRequest struct {
	Summary         string              `json:"summary" binding:"required"`
	Recommendations string              `json:"recommendations"`
	TemplateData    map[string]any      `json:"template_data"`
	Attachment      *history.Attachment `json:"attachment"`
}

func (h *HistoryHandler) SaveFinalSummary(c *gin.Context) {
	claims, _ := middleware.CurrentClaims(c)
	orderID, ok := parseUUID(c, "id")
	if !ok {
		return
	}

	var req finalSummaryRequest
	if !bindJSON(c, &req) {
		return
	}

	uh, err := h.histories.SaveFinalSummary(c.Request.Context(), orderID, &service.FinalSummaryCommand{
		Summary:         req.Summary,
		Recommendations: req.Recommendations,
		TemplateData:    req.TemplateData,
		Attachment:      req.Attachment,
	}, claims)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, uh)
}
