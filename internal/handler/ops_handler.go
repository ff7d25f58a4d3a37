package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/perf-eval-api/internal/service"
	appErrors "github.com/noah-isme/perf-eval-api/pkg/errors"
	"github.com/noah-isme/perf-eval-api/pkg/logger"
	"github.com/noah-isme/perf-eval-api/pkg/response"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext implements Pinger.
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// OpsHandler exposes liveness, readiness and metrics endpoints.
type OpsHandler struct {
	metrics *service.MetricsService
	db      Pinger
	cache   Pinger
	logger  *zap.Logger
}

// NewOpsHandler constructs the ops handler. cache may be nil when caching is disabled.
func NewOpsHandler(metrics *service.MetricsService, db Pinger, cache Pinger, logger *zap.Logger) *OpsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpsHandler{metrics: metrics, db: db, cache: cache, logger: logger}
}

// Register mounts the ops routes.
func (h *OpsHandler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	r.GET("/metrics/summary", h.Summary)
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *OpsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness probes.
func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready checks the database and, when configured, the cache.
func (h *OpsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	if err := h.ping(ctx, "database", h.db); err != nil {
		response.Error(c, appErrors.ErrUnavailable.Because(err, "database not ready"))
		return
	}
	checks["database"] = "ok"
	if h.cache != nil {
		if err := h.ping(ctx, "cache", h.cache); err != nil {
			checks["cache"] = "degraded"
		} else {
			checks["cache"] = "ok"
		}
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

// Summary returns the aggregated counters as JSON.
func (h *OpsHandler) Summary(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot())
}

func (h *OpsHandler) ping(ctx context.Context, name string, p Pinger) error {
	if p == nil {
		return nil
	}
	if err := p.PingContext(ctx); err != nil {
		logger.WithRequest(ctx, h.logger).Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
		return err
	}
	return nil
}
