package gateway

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vitalsync/internal/auth"
	"vitalsync/internal/metrics"
	"vitalsync/internal/vital"
)

// DefaultMaxBatchSize caps the number of samples in one POST /sync.
const DefaultMaxBatchSize = 5000

type Deps struct {
	Ingestor       *Ingestor
	Users          vital.UserDirectory
	Verifier       auth.Verifier
	MaxBatchSize   int
	Metrics        metrics.Recorder
	MetricsHandler http.Handler // nil disables /metrics
	Logger         vital.Logger
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop()
	}
	if deps.Logger == nil {
		deps.Logger = vital.NewNopLogger()
	}
	if deps.MaxBatchSize <= 0 {
		deps.MaxBatchSize = DefaultMaxBatchSize
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger, deps.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	requireAuth := auth.RequireAuth(deps.Verifier)

	syncHandler := &SyncHandler{Ingestor: deps.Ingestor, MaxBatchSize: deps.MaxBatchSize}
	r.POST("/sync", requireAuth, syncHandler.Sync)

	protected := r.Group("/v1")
	protected.Use(requireAuth)

	profileHandler := &ProfileHandler{Users: deps.Users}
	protected.GET("/me", profileHandler.Me)

	return r
}

// requestLogger logs one line per request and feeds the request metrics.
// Routes are labelled by their pattern, unmatched paths as "unmatched".
func requestLogger(logger vital.Logger, m metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		m.IncRequestsTotal(endpoint, status)
		m.ObserveRequestDuration(endpoint, elapsed)

		args := []any{
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", elapsed,
		}
		if principal, ok := auth.PrincipalFromContext(c); ok {
			args = append(args, "principal", principal)
		}
		switch {
		case status >= 500:
			logger.Error("request", args...)
		case status >= 400:
			logger.Warn("request", args...)
		default:
			logger.Debug("request", args...)
		}
	}
}
