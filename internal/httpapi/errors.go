package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/pkg/apierr"
)

// failure is the JSON body of every non-2xx response.
type failure struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Kind      string    `json:"kind"`
	Tip       string    `json:"tip,omitempty"`
	Allowed   []string  `json:"allowed,omitempty"`
	MaxSize   string    `json:"max_size,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorHandler renders anything a handler or middleware returns, including
// recovered panics and echo's own routing errors, as a failure body. Service
// faults show the catalog message only; the cause is attached as detail when
// debug is set.
func ErrorHandler(debug bool, now func() time.Time) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		e := classify(err, c.Request().ContentLength)
		body := failure{
			Error:     e.Message,
			Kind:      string(e.Kind),
			Tip:       e.Tip,
			Allowed:   e.Allowed,
			MaxSize:   e.MaxSize,
			Timestamp: now(),
		}
		if !apierr.IsClientFault(e.Kind) {
			body.Error = apierr.Lookup(e.Kind).Message
			if debug {
				body.Detail = err.Error()
			}
		}

		logger := zerolog.Ctx(c.Request().Context())
		evt := logger.Warn()
		if e.Status() >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.Str("kind", string(e.Kind)).Int("status", e.Status()).Err(err).Msg("request failed")

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(e.Status())
		} else {
			err = c.JSON(e.Status(), body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// classify maps err onto the catalog. contentLength sizes a body-limit
// rejection when the client declared it; negative means unknown.
func classify(err error, contentLength int64) *apierr.Error {
	if e, ok := apierr.As(err); ok {
		return e
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusRequestEntityTooLarge:
			e := apierr.New(apierr.FileTooLarge, "")
			if contentLength > 0 {
				e = apierr.Newf(apierr.FileTooLarge, "file too large: %.1fMB", float64(contentLength)/(1024*1024))
			}
			e.MaxSize = config.MaxUploadLabel
			e.Cause = err
			return e
		case http.StatusNotFound:
			return apierr.New(apierr.NotFound, "")
		case http.StatusMethodNotAllowed:
			return apierr.New(apierr.MethodNotAllowed, "")
		case http.StatusServiceUnavailable:
			return apierr.Wrap(apierr.Busy, err)
		}
	}
	return apierr.Wrap(apierr.Internal, err)
}
