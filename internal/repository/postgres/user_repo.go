package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinicore/clinicore/internal/domain"
)

const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return dbFrom(ctx, r.db).Create(u).Error
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := dbFrom(ctx, r.db).
		Where("email = ?", email).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := dbFrom(ctx, r.db).
		Where("id = ?", id).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateLoginAttempt resets the failure counter on success; on failure it
// increments the counter and locks the account once the limit is reached.
func (r *UserRepository) UpdateLoginAttempt(ctx context.Context, id uuid.UUID, success bool) error {
	db := dbFrom(ctx, r.db).Model(&domain.User{}).Where("id = ?", id)

	if success {
		return db.Updates(map[string]any{
			"failed_login_count": 0,
			"locked_until":       nil,
			"last_login_at":      time.Now(),
		}).Error
	}

	return db.Updates(map[string]any{
		"failed_login_count": gorm.Expr("failed_login_count + 1"),
		"locked_until": gorm.Expr(
			"CASE WHEN failed_login_count + 1 >= ? THEN ? ELSE locked_until END",
			maxFailedLogins, time.Now().Add(lockoutDuration),
		),
	}).Error
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return dbFrom(ctx, r.db).Model(&domain.User{}).
		Where("id = ?", id).
		Update("password_hash", hash).Error
}
