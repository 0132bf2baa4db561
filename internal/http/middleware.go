package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ortsistemas48/svt-backend/internal/service"
)

const (
	HeaderWorkshopID = "X-Workshop-ID"
	HeaderOperator   = "X-Operator"

	workshopKey = "workshop_id"
)

// RequestLogger logs one line per request.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
			"workshop": c.GetString(workshopKey),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request processed")
			return
		}
		entry.Info("request processed")
	}
}

// WorkshopScope requires the X-Workshop-ID header and tags the request
// context with the operator from X-Operator for the audit trail.
func WorkshopScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		workshopID := strings.TrimSpace(c.GetHeader(HeaderWorkshopID))
		if workshopID == "" {
			errorResponse(c, http.StatusBadRequest, "WORKSHOP_REQUIRED", HeaderWorkshopID+" header is required", nil)
			return
		}
		c.Set(workshopKey, workshopID)
		if operator := strings.TrimSpace(c.GetHeader(HeaderOperator)); operator != "" {
			c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), operator))
		}
		c.Next()
	}
}

func workshopOf(c *gin.Context) string {
	return c.GetString(workshopKey)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	visitors map[string]*visitor
	mtx      sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. Idle clients are forgotten until ctx is done.
func NewRateLimiter(ctx context.Context, rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
	go rl.cleanupVisitors(ctx)
	return rl
}

func (rl *RateLimiter) cleanupVisitors(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mtx.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mtx.Unlock()
		}
	}
}

func (rl *RateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mtx.Lock()
	defer rl.mtx.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.rate, rl.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Middleware rejects requests over the client's budget with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getVisitor(c.ClientIP()).Allow() {
			errorResponse(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, try again later", nil)
			return
		}
		c.Next()
	}
}

// CORS builds the cors middleware; a "*" entry allows every origin.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", HeaderWorkshopID, HeaderOperator},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	}
	return cors.New(cfg)
}
