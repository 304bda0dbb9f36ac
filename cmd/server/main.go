package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clinicore/clinicore/internal/config"
	v1 "github.com/clinicore/clinicore/internal/handler/v1"
	"github.com/clinicore/clinicore/internal/middleware"
	"github.com/clinicore/clinicore/internal/repository/postgres"
	"github.com/clinicore/clinicore/internal/service"
	"github.com/clinicore/clinicore/pkg/auth"
	"github.com/clinicore/clinicore/pkg/database"
	"github.com/clinicore/clinicore/pkg/logger"
	"github.com/clinicore/clinicore/pkg/metrics"
	"github.com/clinicore/clinicore/pkg/tracer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments inject environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting clinicore",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	if err := database.Migrate(db, log); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector("clinicore")
	go reportPoolStats(db, collector)

	jwtManager := auth.NewJWTManager(cfg.JWT)

	// Repositories
	tx := postgres.NewTransactor(db)
	userRepo := postgres.NewUserRepository(db)
	patientRepo := postgres.NewPatientRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	apptRepo := postgres.NewAppointmentRepository(db)
	historyRepo := postgres.NewHistoryRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Services
	auditSvc := service.NewAuditService(auditRepo, log)
	defer auditSvc.Shutdown()

	authSvc := service.NewAuthService(userRepo, jwtManager, log)
	patientSvc := service.NewPatientService(patientRepo, auditSvc, log)
	ledgerSvc := service.NewLedgerService(orderRepo, log)
	schedulingSvc := service.NewSchedulingService(apptRepo, orderRepo, patientRepo, historyRepo, ledgerSvc, tx, auditSvc, log)
	noShowSvc := service.NewNoShowService(apptRepo, orderRepo, ledgerSvc, tx, auditSvc, log)
	dischargeSvc := service.NewDischargeService(apptRepo, orderRepo, historyRepo, ledgerSvc, tx, auditSvc, log)
	historySvc := service.NewHistoryService(historyRepo, orderRepo, apptRepo, tx, auditSvc, log)

	// HTTP
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(log),
		middleware.Metrics(collector),
		cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     cfg.CORS.AllowedMethods,
			AllowHeaders:     cfg.CORS.AllowedHeaders,
			AllowCredentials: true,
			MaxAge:           cfg.CORS.MaxAge,
		}),
	)

	v1.RegisterRoutes(router, v1.Handlers{
		Auth:         v1.NewAuthHandler(authSvc),
		Patients:     v1.NewPatientHandler(patientSvc),
		Appointments: v1.NewAppointmentHandler(schedulingSvc, noShowSvc, collector),
		Orders:       v1.NewOrderHandler(ledgerSvc, dischargeSvc, collector),
		Histories:    v1.NewHistoryHandler(historySvc),
	}, jwtManager)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	log.Info("server stopped cleanly")
	return nil
}

func reportPoolStats(db *gorm.DB, collector *metrics.Collector) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		collector.DBConnections.Set(float64(sqlDB.Stats().OpenConnections))
	}
}
