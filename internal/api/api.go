// Package api exposes the identification service over HTTP: the
// classifier, the observation repository, the reference catalog and the
// artifact store, mounted under /api/v2 on an echo server.
package api

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/identify"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/mqttpub"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/suncalc"
)

// bodyLimitHeadroom covers multipart boundaries and form field overhead
// on top of the configured maximum upload size.
const bodyLimitHeadroom = 64 * 1024

// publishTimeout bounds the detached broker publish after an
// observation insert.
const publishTimeout = 30 * time.Second

// Engine is the classifier surface the control endpoints need. The
// classifier engine satisfies it; tests substitute fixed-state fakes.
type Engine interface {
	State() classifier.State
	Reload(ctx context.Context) error
}

// Controller registers the API routes and holds their dependencies.
type Controller struct {
	Echo      *echo.Echo
	Group     *echo.Group
	DS        datastore.Interface
	Settings  *conf.Settings
	Engine    Engine
	Identify  *identify.Service
	Artifacts artifactstore.Store
	SunCalc   *suncalc.Calculator
	Publisher mqttpub.Publisher

	metrics   *observability.Metrics
	logger    *slog.Logger
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the API controller and registers every route on e.
// Publisher and SunCalc may be nil; the observation handlers then skip
// broker publishing and solar enrichment.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	engine Engine, identifySvc *identify.Service, artifacts artifactstore.Store,
	sun *suncalc.Calculator, publisher mqttpub.Publisher,
	m *observability.Metrics) (*Controller, error) {
	if e == nil {
		return nil, errors.Newf("echo instance is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if ds == nil {
		return nil, errors.Newf("datastore is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		Echo:      e,
		DS:        ds,
		Settings:  settings,
		Engine:    engine,
		Identify:  identifySvc,
		Artifacts: artifacts,
		SunCalc:   sun,
		Publisher: publisher,
		metrics:   m,
		logger:    getLoggerSafe("api"),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	c.Group = e.Group("/api/v2")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(middleware.BodyLimit(c.bodyLimit()))
	if limiter := c.rateLimiter(); limiter != nil {
		c.Group.Use(limiter)
	}
	c.Group.Use(c.LoggingMiddleware())

	c.initRoutes()
	return c, nil
}

// bodyLimit derives the request body cap from the upload limit, with
// headroom for the multipart envelope.
func (c *Controller) bodyLimit() string {
	maxBytes := c.Settings.Artifacts.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return strconv.FormatInt(maxBytes+bodyLimitHeadroom, 10)
}

// rateLimiter builds the per-client request limiter, nil when disabled.
func (c *Controller) rateLimiter() echo.MiddlewareFunc {
	rps := c.Settings.WebServer.RateLimit
	if rps <= 0 {
		return nil
	}
	config := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(rps),
				Burst:     rps * 2,
				ExpiresIn: 3 * time.Minute,
			},
		),
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			if c.metrics != nil {
				c.metrics.HTTP.RecordRateLimited()
			}
			return ctx.JSON(http.StatusTooManyRequests,
				NewErrorResponse(nil, "rate limit exceeded", http.StatusTooManyRequests))
		},
	}
	return middleware.RateLimiterWithConfig(config)
}

// LoggingMiddleware logs every request through the service logger and
// feeds the HTTP metrics.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()
			elapsed := time.Since(start)

			if c.metrics != nil {
				c.metrics.HTTP.RecordRequest(req.Method, ctx.Path(),
					res.Status, elapsed.Seconds(), res.Size)
			}

			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"ip", ctx.RealIP(),
				"latency_ms", elapsed.Milliseconds(),
			}
			if err != nil {
				attrs = append(attrs, "error", err)
			}
			c.logger.Info("request", attrs...)

			return err
		}
	}
}

// initRoutes registers every endpoint. Reference reads and the query
// layer live under /api/v2; media retrieval and metrics are mounted at
// the server root.
func (c *Controller) initRoutes() {
	g := c.Group

	g.GET("/health", c.HealthCheck)
	g.POST("/identify", c.IdentifyImage)

	g.POST("/observations", c.CreateObservation)
	g.GET("/observations", c.ListObservations)
	g.GET("/observations/:id", c.GetObservation)
	g.PATCH("/observations/:id", c.AmendObservation)

	g.GET("/species", c.ListSpecies)
	g.GET("/species/similar", c.SimilarSpecies)
	g.GET("/species/:id", c.GetSpecies)
	g.GET("/species/:id/diseases", c.GetSpeciesDiseases)

	g.GET("/diseases", c.ListDiseases)
	g.GET("/diseases/:id", c.GetDisease)
	g.GET("/diseases/:id/vectors", c.GetDiseaseVectors)

	g.POST("/model/reload", c.ReloadModel)
	g.GET("/system/resources", c.SystemResources)

	c.Echo.GET("/media/:key", c.ServeMedia)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// Shutdown stops the controller's background work and waits for
// detached publishes to finish.
func (c *Controller) Shutdown() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// ErrorResponse is the JSON error body every endpoint returns. The
// correlation identifier ties a client report to the server log line.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds an error body with a fresh correlation ID.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a short random identifier for error
// tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes the JSON error body with the given
// status code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	attrs := []any{
		"correlation_id", resp.CorrelationID,
		"message", message,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP(),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	c.logger.Error("request failed", attrs...)

	return ctx.JSON(code, resp)
}

// statusFor maps service-layer errors onto HTTP status codes. Unmapped
// errors are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, classifier.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryImageDecode):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryModelLoad),
		errors.IsCategory(err, errors.CategoryModelInit):
		return http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryDatabase):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// getLoggerSafe returns a service logger, falling back to the default
// logger when the logging subsystem has not been initialized.
func getLoggerSafe(service string) *slog.Logger {
	logger := logging.ForService(service)
	if logger == nil {
		logger = slog.Default().With("service", service)
	}
	return logger
}
