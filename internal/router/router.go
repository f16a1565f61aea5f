package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/peoli-api/internal/handler"
	notificationHandler "github.com/jwalitptl/peoli-api/internal/handler/notification"
	promHandler "github.com/jwalitptl/peoli-api/internal/handler/prometheus"
	subscriptionHandler "github.com/jwalitptl/peoli-api/internal/handler/subscription"
	"github.com/jwalitptl/peoli-api/internal/middleware"
	"github.com/jwalitptl/peoli-api/pkg/logger"
)

type RouterConfig struct {
	RateLimit      middleware.RateLimiterConfig
	RateLimitOn    bool
	CORSConfig     middleware.CORSConfig
	RequestTimeout time.Duration
	MaxBodySize    int64
}

type Router struct {
	engine        *gin.Engine
	auth          *middleware.AuthMiddleware
	h             *handler.Handler
	notificationH *notificationHandler.Handler
	subscriptionH *subscriptionHandler.Handler
	metrics       *promHandler.Handler
	limiter       *middleware.RateLimiter
	config        RouterConfig
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	h *handler.Handler,
	notificationH *notificationHandler.Handler,
	subscriptionH *subscriptionHandler.Handler,
	metrics *promHandler.Handler,
	log *logger.Logger,
	config RouterConfig,
) *Router {
	engine := gin.New()
	middleware.RegisterValidators()

	r := &Router{
		engine:        engine,
		auth:          auth,
		h:             h,
		notificationH: notificationH,
		subscriptionH: subscriptionH,
		metrics:       metrics,
		config:        config,
	}
	if config.RateLimitOn {
		r.limiter = middleware.NewRateLimiter(config.RateLimit)
	}

	maxBody := config.MaxBodySize
	if maxBody <= 0 {
		maxBody = middleware.DefaultMaxBodySize
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.ErrorLogger(log),
		metrics.Middleware(),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(maxBody),
		middleware.Timeout(config.RequestTimeout),
	)
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("route not found"))
	})

	r.setup()
	return r
}

func (r *Router) setup() {
	r.h.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metrics.Handler())

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Public routes
	r.subscriptionH.RegisterPublicRoutes(api)

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())

	var limit []gin.HandlerFunc
	if r.limiter != nil {
		limit = append(limit, r.limiter.RateLimit())
	}
	r.notificationH.RegisterRoutes(protected, limit...)
	r.subscriptionH.RegisterRoutes(protected, limit...)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
