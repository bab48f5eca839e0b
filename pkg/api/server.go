// Package api serves the research workflow and status views over HTTP for
// the external auction monitor agent.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/salelink/pkg/audit"
	"github.com/otherjamesbrown/salelink/pkg/buildinfo"
	"github.com/otherjamesbrown/salelink/pkg/catalog"
	"github.com/otherjamesbrown/salelink/pkg/db"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/linker"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/reconcile"
	"github.com/otherjamesbrown/salelink/pkg/research"
)

// ServiceName is reported by /version.
const ServiceName = "salelink-api"

// Deps are the engine services behind the API.
type Deps struct {
	Catalog    *catalog.Catalog
	Linker     *linker.Linker
	Reconciler *reconcile.Reconciler
	Research   *research.Manager
	Audit      audit.Recorder

	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Health reports store readiness for /healthz; nil always reports ok.
	Health db.CheckFunc
}

// Options configures the HTTP layer.
type Options struct {
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string
}

// Server holds the handlers.
type Server struct {
	deps   Deps
	opts   Options
	logger logging.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps, opts Options, logger logging.Logger) *Server {
	if deps.Audit == nil {
		deps.Audit = audit.NopRecorder{}
	}
	return &Server{deps: deps, opts: opts, logger: logger.With(logging.Component("api"))}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.healthz)
	r.GET("/version", gin.WrapF(buildinfo.Handler(ServiceName)))
	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1", s.requireToken())
	{
		v1.GET("/properties/:id", s.getProperty)
		v1.POST("/properties/:id/link", s.linkProperty)
		v1.PUT("/properties/:id/override", s.setOverride)

		v1.POST("/sales", s.createSale)
		v1.GET("/sales", s.listSales)
		v1.PATCH("/sales/:id", s.updateSale)
		v1.DELETE("/sales/:id", s.deleteSale)

		v1.GET("/status/breakdown", s.breakdown)

		v1.POST("/reconcile", s.bulkLink)
		v1.POST("/reconcile/statuses", s.recomputeStatuses)

		v1.GET("/research/queue", s.workQueue)
		v1.POST("/research/queue", s.queueUnlinked)
		v1.GET("/research/entries", s.listEntries)
		v1.GET("/research/entries/:id", s.getEntry)
		v1.POST("/research/entries/:id/assign", s.assign)
		v1.POST("/research/entries/:id/resolve", s.resolve)
		v1.POST("/research/entries/:id/fail", s.failEntry)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		ctx := context.WithValue(c.Request.Context(), logging.RequestIDKey, requestID)
		if agent := c.GetHeader("X-Agent"); agent != "" {
			ctx = context.WithValue(ctx, logging.AgentKey, agent)
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		s.logger.WithContext(ctx).Debug("HTTP request",
			logging.F("method", c.Request.Method),
			logging.F("path", c.FullPath()),
			logging.F("status", c.Writer.Status()),
			logging.F("duration_ms", time.Since(start).Milliseconds()))
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.Token)) != 1 {
			s.abort(c, slerrors.ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) healthz(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	store := s.deps.Health(ctx)
	if !store.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "service": ServiceName, "store": store})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": ServiceName, "store": store})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case slerrors.IsNotFound(err):
		return http.StatusNotFound
	case slerrors.IsValidation(err):
		return http.StatusBadRequest
	case slerrors.IsUnauthorized(err):
		return http.StatusUnauthorized
	case slerrors.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) abort(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.WithContext(c.Request.Context()).Error("Request failed",
			logging.Err(err),
			logging.F("path", c.FullPath()))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Agent"); a != "" {
		return a
	}
	return "api"
}
