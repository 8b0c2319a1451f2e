package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/healthbridge/internal/middleware"
	"github.com/jwalitptl/healthbridge/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// MetricsHandler records request metrics and serves them.
type MetricsHandler interface {
	Middleware() gin.HandlerFunc
}

type RouterConfig struct {
	RateLimit     rate.Limit
	RateBurst     int
	CORSOrigins   []string
	Timeout       time.Duration
	MaxUploadSize int64
}

type Router struct {
	engine   *gin.Engine
	health   Handler
	handlers []Handler
}

func NewRouter(log *logger.Logger, metrics MetricsHandler, health Handler, config RouterConfig, handlers ...Handler) *Router {
	engine := gin.New()
	engine.MaxMultipartMemory = config.MaxUploadSize

	r := &Router{
		engine:   engine,
		health:   health,
		handlers: handlers,
	}

	// Recovery must run inside Logger.
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.ErrorHandler(),
		middleware.SecurityHeaders(),
		middleware.CORS(middleware.DefaultCORSConfig(config.CORSOrigins)),
	)
	if metrics != nil {
		engine.Use(metrics.Middleware())
	}

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})
	engine.Use(
		rateLimiter.RateLimit(),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig(config.MaxUploadSize)),
		middleware.Timeout(config.Timeout),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	if r.health != nil {
		r.health.RegisterRoutes(api)
	}
	for _, h := range r.handlers {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
