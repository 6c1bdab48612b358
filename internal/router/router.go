package router

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/codexam/internal/config"
	"github.com/stemsi/codexam/internal/handler"
	"github.com/stemsi/codexam/internal/metrics"
	"github.com/stemsi/codexam/internal/middleware"
	"github.com/stemsi/codexam/internal/response"
)

const maxEntryBody = 4 << 10

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Exam    *handler.ExamHandler
	WS      *handler.WSHandler
	Admin   *handler.AdminHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	auth middleware.TokenValidator,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", metrics.Handler())

	// ─── 0. Public Group (No Auth) ─────────────────────────────────────
	// Starting is limited per IP and per student so a guessing client
	// cannot brute-force a section's access code.
	ipLimiter := middleware.NewRateLimiter(20, time.Minute)
	studentLimiter := middleware.NewRateLimiter(5, time.Minute)
	loginLimiter := middleware.NewRateLimiter(10, time.Minute)

	public := router.Group("/api/v1")
	{
		public.POST("/auth/admin/login", loginLimiter.Middleware(), handlers.Auth.AdminLogin)

		entry := public.Group("/exam")
		entry.Use(middleware.NoStore(), ipLimiter.Middleware(), studentLimiter.KeyedMiddleware(studentKey))
		{
			entry.POST("/start", handlers.Exam.StartExam)
			entry.POST("/resume", handlers.Exam.ResumeExam)
		}
	}

	// ─── 1. Exam Session Group (session JWT) ───────────────────────────
	exam := router.Group("/api/v1/exam/sessions/:id")
	exam.Use(middleware.NoStore(), middleware.RequireSessionJWT(auth), middleware.RequireSessionOwner())
	{
		exam.GET("/state", handlers.Exam.GetState)
		exam.POST("/answers", handlers.Exam.SubmitAnswer)
		exam.POST("/mcq-answers", handlers.Exam.SubmitMCQAnswer)
		exam.POST("/coding/submit", handlers.Exam.SubmitCodingSection)
		exam.POST("/mcq/submit", handlers.Exam.SubmitMCQSection)
		exam.POST("/integrity", handlers.Exam.ReportIntegrityEvent)
	}

	// ─── 2. WebSocket Group (session JWT via ?token=) ──────────────────
	wsGroup := router.Group("/ws/v1/exam/sessions/:id")
	wsGroup.Use(middleware.RequireSessionJWT(auth), middleware.RequireSessionOwner())
	{
		wsGroup.GET("/stream", handlers.WS.ExamStream)
	}

	// ─── 3. Admin Group (admin JWT) ─────────────────────────────────────
	admin := router.Group("/api/v1")
	admin.Use(middleware.RequireAdminJWT(auth))
	{
		admin.GET("/auth/admin/me", handlers.Auth.GetAdminProfile)

		a := admin.Group("/admin")
		{
			a.GET("/results", handlers.Admin.ListResults)
			a.GET("/results/export", handlers.Admin.ExportResults)
			a.GET("/sessions/:id", handlers.Admin.GetSession)
			a.PUT("/class-sections/:class/:section/access-code", handlers.Admin.RotateAccessCode)
			a.GET("/classes/:class/monitor", handlers.Monitor.MonitorClassSSE)
		}
	}

	return router
}

// studentKey buckets start requests by the student id in the body, falling
// back to the client IP. The body is restored for the handler.
func studentKey(c *gin.Context) string {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEntryBody))
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return c.ClientIP()
	}
	var body struct {
		StudentID string `json:"student_id"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return c.ClientIP()
	}
	if _, err := uuid.Parse(body.StudentID); err != nil {
		return c.ClientIP()
	}
	return body.StudentID
}
