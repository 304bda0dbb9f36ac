package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/history"
	"github.com/clinicore/clinicore/internal/domain/order"
)

// FinalSummaryCommand carries the closing paperwork for a treatment.
type FinalSummaryCommand struct {
	Summary         string
	Recommendations string
	TemplateData    map[string]any
	Attachment      *history.Attachment
}

// HistoryService compiles per-session clinical entries into the unified
// history and gates the final summary on treatment completion.
type HistoryService struct {
	histories history.Repository
	orders    order.Repository
	appts     appointment.Repository
	tx        domain.Transactor
	auditSvc  *AuditService
	log       *zap.Logger
}

func NewHistoryService(
	histories history.Repository,
	orders order.Repository,
	appts appointment.Repository,
	tx domain.Transactor,
	auditSvc *AuditService,
	log *zap.Logger,
) *HistoryService {
	return &HistoryService{
		histories: histories,
		orders:    orders,
		appts:     appts,
		tx:        tx,
		auditSvc:  auditSvc,
		log:       log,
	}
}

// CanFinalizeHistory reports whether the treatment's paperwork may be closed:
// either the patient attended at least total_sessions appointments, or the
// order is already completed (exhaustion or early discharge).
func (s *HistoryService) CanFinalizeHistory(ctx context.Context, orderID uuid.UUID) (bool, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if o.Completed {
		return true, nil
	}

	attended, err := s.appts.CountAttendedByPatient(ctx, o.PatientID)
	if err != nil {
		return false, fmt.Errorf("counting attended appointments: %w", err)
	}
	return attended >= int64(o.TotalSessions), nil
}

// SaveFinalSummary persists the closing summary into the order's unified
// history and marks the order completed. Rejected with
// history.ErrSessionsIncomplete until CanFinalizeHistory holds.
func (s *HistoryService) SaveFinalSummary(ctx context.Context, orderID uuid.UUID, cmd *FinalSummaryCommand, actor *domain.Claims) (*history.UnifiedHistory, error) {
	if strings.TrimSpace(cmd.Summary) == "" {
		return nil, &ValidationError{Fields: []string{"summary is required"}}
	}

	ok, err := s.CanFinalizeHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, history.ErrSessionsIncomplete
	}

	var uh *history.UnifiedHistory

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		now := time.Now()
		uh, err = s.histories.UpsertUnified(ctx, orderID, &history.UnifiedHistoryPatch{
			PatientID:       o.PatientID,
			TemplateData:    cmd.TemplateData,
			FinalSummary:    &cmd.Summary,
			Recommendations: &cmd.Recommendations,
			Attachment:      cmd.Attachment,
			FinalizedAt:     &now,
			FinalizedBy:     &actor.UserID,
		})
		if err != nil {
			return fmt.Errorf("upserting final summary: %w", err)
		}

		if !o.Completed {
			if _, err := s.orders.MarkCompleted(ctx, orderID); err != nil {
				return fmt.Errorf("completing order: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.auditSvc.LogAsync(ctx, AuditEntry{
		UserID:       actor.UserID,
		UserRole:     string(actor.Role),
		Action:       "update",
		ResourceType: "unified_history",
		ResourceID:   uh.ID.String(),
		Changes:      `{"finalized":true}`,
	})

	return uh, nil
}

func (s *HistoryService) ListSessionEntries(ctx context.Context, orderID uuid.UUID) ([]*history.Entry, error) {
	return s.histories.ListEntriesByOrder(ctx, orderID)
}

func (s *HistoryService) GetUnifiedHistory(ctx context.Context, orderID uuid.UUID) (*history.UnifiedHistory, error) {
	return s.histories.GetUnifiedByOrder(ctx, orderID)
}

// SessionsSummary renders the order's session entries as one text block.
func (s *HistoryService) SessionsSummary(ctx context.Context, orderID uuid.UUID) (string, error) {
	entries, err := s.histories.ListEntriesByOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return GenerateSessionsSummaryText(entries), nil
}

// GenerateSessionsSummaryText produces the chronological session digest.
// Pure and deterministic: the same entries always yield the same string,
// ordered by appointment date ascending regardless of input order.
func GenerateSessionsSummaryText(entries []*history.Entry) string {
	sorted := make([]*history.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AppointmentDate.Before(sorted[j].AppointmentDate)
	})

	var b strings.Builder
	for i, e := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Session %d (%s): Observations: %s, Evolution: %s",
			i+1,
			e.AppointmentDate.Format("2006-01-02"),
			e.Observations,
			e.Evolution,
		)
	}
	return b.String()
}
