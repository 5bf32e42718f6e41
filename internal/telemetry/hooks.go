package telemetry

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/vinodismyname/excelask/pkg/apierr"
)

// Hooks logs pipeline runs. Events are written to the logger carried by the
// context when present, otherwise to the logger given at construction.
type Hooks struct {
	logger zerolog.Logger
}

// NewHooks constructs a Hooks instance with the provided logger.
func NewHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{logger: logger}
}

func (h *Hooks) from(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &h.logger
}

// OnRunStart records the start of an operation on a named file.
func (h *Hooks) OnRunStart(ctx context.Context, op, filename string) {
	h.from(ctx).Info().Str("op", op).Str("filename", filename).Msg("analysis started")
}

// OnRunEnd records the outcome of an operation. Client faults log at warn,
// everything else that failed at error.
func (h *Hooks) OnRunEnd(ctx context.Context, op string, duration time.Duration, err error) {
	l := h.from(ctx)
	if err == nil {
		l.Info().Str("op", op).Dur("duration", duration).Msg("analysis completed")
		return
	}
	kind := apierr.KindOf(err)
	evt := l.Error()
	if apierr.IsClientFault(kind) {
		evt = l.Warn()
	}
	evt.Str("op", op).Str("kind", string(kind)).Dur("duration", duration).Err(err).Msg("analysis failed")
}

// MCPHooks constructs mcp-go server hooks for the stdio transport.
func MCPHooks(logger zerolog.Logger) *server.Hooks {
	hooks := &server.Hooks{}

	hooks.AddOnRegisterSession(func(ctx context.Context, session server.ClientSession) {
		logger.Info().Str("session_id", session.SessionID()).Msg("session registered")
	})

	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		logger.Info().Str("session_id", session.SessionID()).Msg("session unregistered")
	})

	hooks.AddAfterListTools(func(ctx context.Context, id any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
		logger.Info().Int("tools", len(res.Tools)).Msg("list_tools served")
	})

	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
		logger.Info().Str("tool", req.Params.Name).Bool("is_error", res != nil && res.IsError).Msg("tool call served")
	})

	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		logger.Error().Str("method", string(method)).Err(err).Msg("request error")
	})

	return hooks
}
