package runtime

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/excelask/pkg/apierr"
)

// Middleware enforces runtime limits for both transports using the Controller.
// It bounds global concurrency and applies the operation timeout to each call.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// HTTP wraps an echo handler. Saturation yields an apierr Busy error, which
// the HTTP error handler renders as 503.
func (m *Middleware) HTTP(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		callCtx, done, err := m.ctrl.enter(req.Context())
		if err != nil {
			return apierr.Newf(apierr.Busy, "concurrent request limit reached (max=%d)", m.ctrl.limits.MaxConcurrentRequests)
		}
		defer done()

		c.SetRequest(req.WithContext(callCtx))
		return next(c)
	}
}

// ToolMiddleware implements mcp-go's tool handler middleware interface.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		callCtx, done, err := m.ctrl.enter(ctx)
		if err != nil {
			msg := fmt.Sprintf("%s: concurrent request limit reached (max=%d). Please retry shortly.", apierr.Busy, m.ctrl.limits.MaxConcurrentRequests)
			return mcp.NewToolResultError(msg), nil
		}
		defer done()

		res, err := next(callCtx, req)

		// If the underlying handler surfaced a context deadline, prefer a tool-level timeout error.
		if err == context.DeadlineExceeded || (callCtx.Err() == context.DeadlineExceeded && err == nil && res == nil) {
			return mcp.NewToolResultError("TIMEOUT: operation exceeded configured time limit"), nil
		}

		return res, err
	}
}
