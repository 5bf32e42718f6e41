// Package httpapi exposes the analysis pipeline over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// DefaultBodyLimit caps the raw request body. It sits above the upload
// ceiling so oversized files still reach the validator and get a precise
// message.
const DefaultBodyLimit = "20M"

// Options configures the HTTP server.
type Options struct {
	Service     Analyzer
	Limiter     echo.MiddlewareFunc
	Logger      zerolog.Logger
	Debug       bool
	AIConnected bool
	CORSOrigins []string
	BodyLimit   string
	Now         func() time.Time
}

// New builds the echo instance with middleware and routes registered.
func New(opts Options) *echo.Echo {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BodyLimit == "" {
		opts.BodyLimit = DefaultBodyLimit
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = opts.Debug
	e.HTTPErrorHandler = ErrorHandler(opts.Debug, opts.Now)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			logger := opts.Logger.With().Str("request_id", id).Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))
		},
	}))
	e.Use(requestLogger())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         4 << 10,
		DisablePrintStack: !opts.Debug,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: opts.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(middleware.BodyLimit(opts.BodyLimit))

	h := &Handler{svc: opts.Service, aiConnected: opts.AIConnected, now: opts.Now}
	RegisterRoutes(e, h, opts.Limiter)
	return e
}

// RegisterRoutes wires the endpoints. limiter, when set, guards the upload
// routes only.
func RegisterRoutes(e *echo.Echo, h *Handler, limiter echo.MiddlewareFunc) {
	e.GET("/", h.HandleHome)
	e.GET("/health", h.HandleHealth)
	e.GET("/test", h.HandleTest)

	var guard []echo.MiddlewareFunc
	if limiter != nil {
		guard = append(guard, limiter)
	}
	e.POST("/analyze", h.HandleAnalyze, guard...)
	e.POST("/describe", h.HandleDescribe, guard...)
}

// requestLogger writes one zerolog event per request through the logger
// attached to the request context.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger := zerolog.Ctx(c.Request().Context())
			evt := logger.Info()
			if v.Status >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request served")
			return nil
		},
	})
}
