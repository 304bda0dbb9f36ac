package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/clinicore/clinicore/internal/domain"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create writes with the base connection on purpose: audit rows are flushed
// by a background worker and must not ride on request transactions.
func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}
