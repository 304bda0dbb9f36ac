package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clinicore/clinicore/internal/config"
	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/domain/appointment"
	"github.com/clinicore/clinicore/internal/domain/history"
	"github.com/clinicore/clinicore/internal/domain/order"
	"github.com/clinicore/clinicore/internal/domain/patient"
)

func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: false,
		DisableAutomaticPing:                     false,
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: false,
	}), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("running database migrations")
	start := time.Now()

	schemas := []string{"clinical", "auth", "audit"} // logical namespace
	for _, schema := range schemas {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)).Error; err != nil {
			return fmt.Errorf("creating schema %s: %w", schema, err)
		}
	}

	models := []any{
		&domain.User{},
		&domain.AuditLog{},
		&patient.Patient{},
		&order.MedicalOrder{},
		&appointment.Appointment{},
		&appointment.NoShowReset{},
		&history.Entry{},
		&history.UnifiedHistory{},
	}

	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrating models: %w", err)
	}

	if err := createIndexes(db); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}

	log.Info("migrations completed", zap.Duration("duration", time.Since(start)))
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name  string
		query string
	}{
		// Slot-saturation and duplicate-booking gates hit this on every booking.
		{
			name:  "idx_appointments_doctor_slot",
			query: `CREATE INDEX IF NOT EXISTS idx_appointments_doctor_slot ON clinical.appointments (doctor_id, scheduled_at) WHERE deleted_at IS NULL AND status <> 'cancelled'`,
		},
		// Active-order heuristic: most recent non-completed order per patient.
		{
			name:  "idx_orders_active_by_patient",
			query: `CREATE INDEX IF NOT EXISTS idx_orders_active_by_patient ON clinical.medical_orders (patient_id, created_at DESC) WHERE deleted_at IS NULL AND completed = false`,
		},
		// No-show alert threshold count.
		{
			name:  "idx_appointments_unpardoned_noshows",
			query: `CREATE INDEX IF NOT EXISTS idx_appointments_unpardoned_noshows ON clinical.appointments (patient_id) WHERE deleted_at IS NULL AND status IN ('no_show', 'no_show_rescheduled', 'no_show_session_lost') AND pardoned_by IS NULL`,
		},
		{
			name:  "idx_history_entries_order_date",
			query: `CREATE INDEX IF NOT EXISTS idx_history_entries_order_date ON clinical.history_entries (medical_order_id, appointment_date)`,
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.query).Error; err != nil {
			return fmt.Errorf("creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
