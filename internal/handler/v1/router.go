package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinicore/clinicore/internal/domain"
	"github.com/clinicore/clinicore/internal/middleware"
	"github.com/clinicore/clinicore/pkg/auth"
	"github.com/clinicore/clinicore/pkg/metrics"
)

// Handlers bundles every v1 handler for route registration.
type Handlers struct {
	Auth         *AuthHandler
	Patients     *PatientHandler
	Appointments *AppointmentHandler
	Orders       *OrderHandler
	Histories    *HistoryHandler
}

// RegisterRoutes wires the v1 API. Clinical writes are restricted to staff
// roles; patients get read access to their own records, enforced in the
// services.
func RegisterRoutes(router *gin.Engine, h Handlers, jwtManager *auth.JWTManager) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	staff := []domain.Role{domain.RoleAdmin, domain.RoleDoctor, domain.RoleReceptionist}
	clinicians := []domain.Role{domain.RoleAdmin, domain.RoleDoctor}

	public := router.Group("/api/v1")
	{
		authRoutes := public.Group("/auth")
		{
			authRoutes.POST("/login", h.Auth.Login)
			authRoutes.POST("/refresh", h.Auth.Refresh)
		}
	}

	private := router.Group("/api/v1")
	private.Use(middleware.Auth(jwtManager))
	{
		private.POST("/auth/change-password", h.Auth.ChangePassword)

		patients := private.Group("/patients")
		{
			patients.POST("", middleware.RequireRoles(staff...), h.Patients.Create)
			patients.GET("", middleware.RequireRoles(staff...), h.Patients.List)
			patients.GET("/:id", h.Patients.Get)

			// No-show accounting per patient
			patients.GET("/:id/no-shows", middleware.RequireRoles(staff...), h.Appointments.NoShowStatus)
			patients.POST("/:id/no-shows/pardon", middleware.RequireRoles(clinicians...), h.Appointments.PardonNoShows)
		}

		appointments := private.Group("/appointments")
		{
			appointments.POST("", middleware.RequireRoles(staff...), h.Appointments.Book)
			appointments.GET("", h.Appointments.List)
			appointments.GET("/:id", h.Appointments.Get)
			appointments.POST("/:id/confirm", middleware.RequireRoles(staff...), h.Appointments.Confirm)
			appointments.POST("/:id/attend", middleware.RequireRoles(clinicians...), h.Appointments.MarkAttended)
			appointments.POST("/:id/revert-attendance", middleware.RequireRoles(clinicians...), h.Appointments.RevertAttendance)
			appointments.POST("/:id/complete", middleware.RequireRoles(clinicians...), h.Appointments.Complete)
			appointments.POST("/:id/cancel", h.Appointments.Cancel)
			appointments.POST("/:id/no-show", middleware.RequireRoles(staff...), h.Appointments.ResolveNoShow)
			appointments.POST("/:id/reschedule", middleware.RequireRoles(staff...), h.Appointments.Reschedule)
		}

		orders := private.Group("/orders")
		{
			orders.POST("", middleware.RequireRoles(clinicians...), h.Orders.Create)
			orders.GET("", middleware.RequireRoles(staff...), h.Orders.List)
			orders.GET("/:id", h.Orders.Get)
			orders.POST("/:id/discharge", middleware.RequireRoles(clinicians...), h.Orders.DischargeEarly)
		}

		histories := private.Group("/orders/:id/history")
		histories.Use(middleware.RequireRoles(clinicians...))
		{
			histories.GET("/entries", h.Histories.ListEntries)
			histories.GET("", h.Histories.GetUnified)
			histories.GET("/summary", h.Histories.SessionsSummary)
			histories.GET("/finalization", h.Histories.FinalizationStatus)
			histories.PUT("/finalize", h.Histories.SaveFinalSummary)
		}
	}
}
