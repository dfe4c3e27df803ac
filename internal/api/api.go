// Package api exposes the session command and query handlers over HTTP.
package api

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/agentcore-lab/agentcore/internal/app"
	"github.com/agentcore-lab/agentcore/pkg/eventstore"
	"github.com/agentcore-lab/agentcore/pkg/observability"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

// Defaults for POST /sessions when the body leaves them out.
const (
	DefaultAgentID = "default-agent"
	DefaultUserID  = "anonymous"
)

// Handlers bundles the application handlers the API dispatches to.
type Handlers struct {
	StartSession       *app.StartSessionHandler
	SendMessage        *app.SendMessageHandler
	EndSession         *app.EndSessionHandler
	ExecuteAgent       *app.ExecuteAgentHandler
	GetSession         *app.GetSessionHandler
	GetSessionMessages *app.GetSessionMessagesHandler
	GetActiveSessions  *app.GetActiveSessionsHandler
	GetSessionHistory  *app.GetSessionHistoryHandler
}

// Options configures the echo server built by New.
type Options struct {
	RateLimit    float64
	RateBurst    int
	AllowOrigins []string
	// Agent is served on GET /agents/info. A zero value means no agent is
	// configured.
	Agent AgentInfo
}

// Handler handles HTTP requests.
type Handler struct {
	h     Handlers
	agent AgentInfo
}

// NewHandler creates a new handler.
func NewHandler(h Handlers, agent AgentInfo) *Handler {
	return &Handler{h: h, agent: agent}
}

// New builds the echo server with middleware and all routes registered.
func New(h Handlers, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[api] %s %s %d %s", v.Method, v.URIPath, v.Status, v.Latency)
			return nil
		},
	}))
	e.Use(requestMetrics())
	if len(opts.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     opts.AllowOrigins,
			AllowCredentials: true,
		}))
	}
	if opts.RateLimit > 0 {
		e.Use(NewRateLimiter(opts.RateLimit, max(opts.RateBurst, 1)).Middleware())
	}

	NewHandler(h, opts.Agent).RegisterRoutes(e)
	return e
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/sessions", h.CreateSession)
	e.GET("/sessions", h.ListActiveSessions)
	e.GET("/sessions/:session_id", h.GetSession)
	e.GET("/sessions/:session_id/messages", h.GetSessionMessages)
	e.POST("/sessions/:session_id/messages", h.SendInstruction)
	e.DELETE("/sessions/:session_id", h.EndSession)
	e.GET("/users/:user_id/history", h.GetSessionHistory)
	e.GET("/agents/info", h.GetAgentInfo)

	e.GET("/health", echo.WrapHandler(observability.HealthHandler()))
	e.GET("/health/live", echo.WrapHandler(observability.LivenessHandler()))
	e.GET("/health/ready", echo.WrapHandler(observability.ReadinessHandler()))
	e.GET("/metrics", echo.WrapHandler(observability.MetricsHandler()))
}

type errorResponse struct {
	Error string `json:"error"`
}

// fail maps application errors onto status codes.
func fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionNotActive), errors.Is(err, eventstore.ErrConcurrency):
		status = http.StatusConflict
	case errors.Is(err, session.ErrEmptyContent):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("[api] %s %s failed: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, errorResponse{Error: "internal error"})
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// requestMetrics records the Prometheus HTTP metrics keyed by route
// template, so ids in paths do not explode label cardinality.
func requestMetrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			observability.RecordHTTPRequest(c.Request().Method, path, strconv.Itoa(c.Response().Status), time.Since(start))
			return nil
		}
	}
}
