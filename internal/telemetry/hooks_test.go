package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/excelask/pkg/apierr"
)

func lastEvent(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestHooks_RunLifecycle(t *testing.T) {
	var buf bytes.Buffer
	h := NewHooks(zerolog.New(&buf))
	ctx := context.Background()

	h.OnRunStart(ctx, "analyze", "s.xlsx")
	ev := lastEvent(t, &buf)
	require.Equal(t, "analysis started", ev["message"])
	require.Equal(t, "s.xlsx", ev["filename"])

	h.OnRunEnd(ctx, "analyze", time.Second, nil)
	ev = lastEvent(t, &buf)
	require.Equal(t, "info", ev["level"])
	require.Equal(t, "analysis completed", ev["message"])

	h.OnRunEnd(ctx, "analyze", time.Second, apierr.New(apierr.MissingQuestion, ""))
	ev = lastEvent(t, &buf)
	require.Equal(t, "warn", ev["level"])
	require.Equal(t, "MissingQuestion", ev["kind"])

	h.OnRunEnd(ctx, "analyze", time.Second, errors.New("boom"))
	ev = lastEvent(t, &buf)
	require.Equal(t, "error", ev["level"])
	require.Equal(t, "Internal", ev["kind"])
}

func TestHooks_PrefersContextLogger(t *testing.T) {
	var base, scoped bytes.Buffer
	h := NewHooks(zerolog.New(&base))
	ctx := zerolog.New(&scoped).With().Str("request_id", "r1").Logger().WithContext(context.Background())

	h.OnRunStart(ctx, "describe", "a.xlsx")
	require.Zero(t, base.Len())
	require.Equal(t, "r1", lastEvent(t, &scoped)["request_id"])
}

func TestMCPHooks(t *testing.T) {
	hooks := MCPHooks(zerolog.Nop())
	require.NotNil(t, hooks)
	require.Len(t, hooks.OnRegisterSession, 1)
	require.Len(t, hooks.OnAfterCallTool, 1)
	require.Len(t, hooks.OnError, 1)
}
