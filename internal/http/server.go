package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/service"
)

// Server wraps the gin engine and the inspection core it exposes.
type Server struct {
	Engine *gin.Engine
	svc    *service.Services
	log    logrus.FieldLogger
}

// Options configures the HTTP surface.
type Options struct {
	RateLimit config.RateLimitConfig
	CORS      config.CORSConfig
	Log       logrus.FieldLogger
}

// NewServer constructs a new API server and registers routes. ctx bounds the
// background work of the rate limiter.
func NewServer(ctx context.Context, svc *service.Services, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log), CORS(opts.CORS.AllowedOrigins))
	if opts.RateLimit.RPS > 0 {
		router.Use(NewRateLimiter(ctx, opts.RateLimit.RPS, opts.RateLimit.Burst).Middleware())
	}

	srv := &Server{Engine: router, svc: svc, log: log}
	srv.registerRoutes()
	return srv
}

func (s *Server) registerRoutes() {
	s.Engine.GET("/health", s.health)
	s.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Engine.Group("/api", WorkshopScope())

	apps := api.Group("/applications")
	apps.POST("", s.createApplication)
	apps.GET("", s.listApplications)
	apps.GET("/:id", s.getApplication)
	apps.GET("/:id/status", s.applicationStatus)
	apps.GET("/:id/history", s.applicationHistory)
	apps.POST("/:id/start", s.startApplication)
	apps.POST("/:id/second-inspection", s.beginSecondInspection)
	apps.POST("/:id/dispatch", s.dispatchApplication)
	apps.POST("/:id/issue", s.markIssued)
	apps.POST("/:id/cancel", s.cancelApplication)
	apps.POST("/:id/sticker", s.assignSticker)
	apps.DELETE("/:id/sticker", s.discardSticker)
	apps.GET("/:id/inspections/:attempt", s.getInspection)
	apps.PUT("/:id/inspections/:attempt/steps/:stepId", s.recordStep)
	apps.POST("/:id/inspections/:attempt/complete", s.completeAttempt)

	stickers := api.Group("/stickers")
	stickers.GET("/available", s.availableStickers)
	stickers.POST("", s.provisionStickers)
	stickers.PATCH("/:id/status", s.setStickerStatus)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// attempt maps the :attempt path segment onto the second-attempt flag.
func attempt(c *gin.Context) (bool, bool) {
	switch c.Param("attempt") {
	case "first":
		return false, true
	case "second":
		return true, true
	}
	badRequest(c, "attempt must be first or second")
	return false, false
}
