package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"meal-backend/internal/analyze"
	"meal-backend/internal/meals"
	"meal-backend/internal/services/health"
	"meal-backend/internal/shared/config"
	"meal-backend/internal/shared/metrics"
	"meal-backend/internal/shared/server/middleware"
	"meal-backend/internal/shared/server/respond"
)

// Rate limit groups.
const (
	GroupAnalyze = "ANALYZE"
	GroupDefault = "DEFAULT"
)

// RouterDeps holds the handlers and shared state the router wires together.
type RouterDeps struct {
	Config         config.Config
	AnalyzeHandler *analyze.Handler
	MealsHandler   *meals.Handler
	Health         *health.Service
	Metrics        *metrics.Registry
	Admission      *middleware.Admission
	Limiter        *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter(nil)
	}
	rules := RateLimitRules(deps.Config)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.JSON(c, http.StatusOK, gin.H{"ok": true})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	if deps.Metrics != nil {
		r.GET("/metrics", deps.Metrics.Handler())
	}

	if h := deps.AnalyzeHandler; h != nil {
		guards := []gin.HandlerFunc{middleware.RateLimit(middleware.RateLimitConfig{
			Rules:        rules,
			DefaultGroup: GroupAnalyze,
			Limiter:      deps.Limiter,
			Reject:       h.RateLimited,
		})}
		if deps.Admission != nil {
			guards = append(guards, deps.Admission.Admit(h.Busy))
		}
		h.RegisterRoutes(api, guards...)
	}
	if deps.MealsHandler != nil {
		mealRoutes := api.Group("")
		mealRoutes.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Rules:        rules,
			DefaultGroup: GroupDefault,
			Limiter:      deps.Limiter,
		}))
		deps.MealsHandler.RegisterRoutes(mealRoutes)
	}

	return r
}

// RateLimitRules derives per-group token buckets. Analyze gets the configured rate; the
// cheaper meal routes get five times as much.
func RateLimitRules(cfg config.Config) map[string]middleware.RateLimitRule {
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst <= 0 {
		return nil
	}
	return map[string]middleware.RateLimitRule{
		GroupAnalyze: {Rate: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		GroupDefault: {Rate: cfg.RateLimitRPS * 5, Burst: cfg.RateLimitBurst * 5},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
