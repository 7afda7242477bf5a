package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bandscale/bandscale-backend/internal/config"
	"github.com/bandscale/bandscale-backend/internal/handler"
	"github.com/bandscale/bandscale-backend/internal/middleware"
	"github.com/bandscale/bandscale-backend/internal/model"
	"github.com/bandscale/bandscale-backend/internal/response"
	"github.com/bandscale/bandscale-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth   *handler.AuthHandler
	Portal *handler.PortalHandler
	Admin  *handler.AdminHandler
	WS     *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	// Center listing is static enough to let clients cache it briefly.
	publicAPI := router.Group("/api/v1/public")
	publicAPI.Use(middleware.CacheControl(300))
	{
		publicAPI.GET("/centers", handlers.Admin.ListCenters)
		publicAPI.GET("/centers/:slug", handlers.Admin.GetCenter)
	}

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/admin/login", handlers.Auth.AdminLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Portal Group (JWT + Single Device) ─────────────────────────
	portalAPI := router.Group("/api/v1/portal")
	portalAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		portalAPI.GET("/attempts", handlers.Portal.ListAttempts)
		portalAPI.POST("/tests/:test_id/enroll", handlers.Portal.Enroll)
		portalAPI.GET("/attempts/:attempt_id/overview", handlers.Portal.GetOverview)
		portalAPI.POST("/attempts/:attempt_id/modules/:module/enter", handlers.Portal.EnterModule)
		portalAPI.GET("/attempts/:attempt_id/modules/:module/state", handlers.Portal.GetModuleState)
		portalAPI.POST("/attempts/:attempt_id/modules/:module/complete", handlers.Portal.CompleteModule)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/portal/attempts/:attempt_id/modules/:module/clock", handlers.WS.ModuleClockStream)
	}

	// ─── 4. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		// Center management
		adminAPI.GET("/centers",
			middleware.RequirePermission(model.PermissionCentersRead),
			handlers.Admin.ListCenters,
		)
		adminAPI.POST("/centers",
			middleware.RequirePermission(model.PermissionCentersWrite),
			handlers.Admin.CreateCenter,
		)
		adminAPI.PUT("/centers/:id",
			middleware.RequirePermission(model.PermissionCentersWrite),
			handlers.Admin.UpdateCenter,
		)

		// Student management
		adminAPI.GET("/students",
			middleware.RequirePermission(model.PermissionStudentsRead),
			handlers.Admin.ListStudents,
		)
		adminAPI.POST("/students",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.Admin.CreateStudent,
		)
		adminAPI.POST("/students/:id/reset-session",
			middleware.RequirePermission(model.PermissionStudentsWrite),
			handlers.Admin.ResetStudentSession,
		)

		// Test management
		adminAPI.GET("/tests",
			middleware.RequirePermission(model.PermissionTestsRead),
			handlers.Admin.ListTests,
		)
		adminAPI.POST("/tests",
			middleware.RequirePermission(model.PermissionTestsWrite),
			handlers.Admin.CreateTest,
		)
		adminAPI.GET("/tests/:test_id",
			middleware.RequirePermission(model.PermissionTestsRead),
			handlers.Admin.GetTest,
		)
		adminAPI.PUT("/tests/:test_id",
			middleware.RequirePermission(model.PermissionTestsWrite),
			handlers.Admin.UpdateTest,
		)
		adminAPI.POST("/tests/:test_id/publish",
			middleware.RequirePermission(model.PermissionTestsWrite),
			handlers.Admin.PublishTest,
		)

		// Attempts and enrollment
		adminAPI.GET("/tests/:test_id/attempts",
			middleware.RequirePermission(model.PermissionAttemptsRead),
			handlers.Admin.ListTestAttempts,
		)
		adminAPI.POST("/tests/:test_id/enrollments",
			middleware.RequirePermission(model.PermissionAttemptsWrite),
			handlers.Admin.EnrollStudent,
		)
	}

	return router
}
