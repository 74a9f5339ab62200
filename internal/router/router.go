package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// paperMaxAge is how long a learner's browser may reuse a fetched paper.
const paperMaxAge = 300

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Test    *handler.TestHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// Limiters groups the Redis-backed rate limiters.
type Limiters struct {
	// SessionOpen throttles WebSocket session opens per learner.
	SessionOpen *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters *Limiters,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Learner Group (JWT) ────────────────────────────────────────
	learnerAPI := router.Group("/api/v1/learner")
	learnerAPI.Use(middleware.RequireLearnerJWT(authService))
	{
		learnerAPI.GET("/tests/:test_id/paper", middleware.PrivateCache(paperMaxAge), handlers.Test.GetPaper)
	}

	// ─── 2. WebSocket Group (Learner WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireLearnerWSAuth(authService))
	if limiters != nil && limiters.SessionOpen != nil {
		ws.Use(limiters.SessionOpen.Middleware())
	}
	{
		ws.GET("/learner/tests/:test_id/session", handlers.WS.TestSessionStream)
	}

	// ─── 3. Proctor Group (JWT) ────────────────────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(middleware.RequireProctorJWT(authService), middleware.NoStore())
	{
		proctorAPI.POST("/tests", handlers.Test.ImportTest)
		proctorAPI.GET("/tests/:test_id/progress", handlers.Test.GetProgress)
		proctorAPI.GET("/tests/:test_id/monitor", handlers.Monitor.MonitorTestSSE)
		proctorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
