package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	defaults "github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/internal/config"
	"github.com/vinodismyname/excelask/internal/workbooks"
	"github.com/vinodismyname/excelask/pkg/apierr"
)

// fakeModel records the last call and replies with a canned response.
type fakeModel struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, o := range options {
		o(&m.opts)
	}
	return m.resp, m.err
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func reply(text string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text, GenerationInfo: info}}}
}

func signalsDigest(t *testing.T) *workbooks.Digest {
	t.Helper()
	d, err := workbooks.BuildDigest("s.xlsx", "Signals", [][]string{
		{"Stock", "WT"},
		{"AAA", "POSITIVE"},
		{"BBB", "NEGATIVE"},
	}, workbooks.Shape{ColumnCap: 15, SampleRows: 3}, nil)
	require.NoError(t, err)
	return d
}

func textOf(t *testing.T, mc llms.MessageContent) string {
	t.Helper()
	require.Len(t, mc.Parts, 1)
	tc, ok := mc.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestRenderDigest(t *testing.T) {
	out, err := RenderDigest(signalsDigest(t))
	require.NoError(t, err)
	require.Contains(t, out, "• File: s.xlsx")
	require.Contains(t, out, "• Sheet: Signals")
	require.Contains(t, out, "• Total Rows: 2")
	require.Contains(t, out, "• Total Columns: 2")
	require.Contains(t, out, "• Main Columns: Stock, WT")
	require.Contains(t, out, `[{"Stock":"AAA","WT":"POSITIVE"},{"Stock":"BBB","WT":"NEGATIVE"}]`)
}

func TestRenderDigest_KeepsMarkupCharacters(t *testing.T) {
	d, err := workbooks.BuildDigest("m.xlsx", "S", [][]string{
		{"P/E <ratio>", "Owner"},
		{"1.5", "O'Neil & Co"},
	}, workbooks.Shape{ColumnCap: 15, SampleRows: 3}, nil)
	require.NoError(t, err)

	out, err := RenderDigest(d)
	require.NoError(t, err)
	require.Contains(t, out, `[{"P/E <ratio>":1.5,"Owner":"O'Neil & Co"}]`)
	require.NotContains(t, out, `\u003c`)
	require.NotContains(t, out, `\u0026`)
}

func TestRenderDigest_ColumnLimit(t *testing.T) {
	header := make([]string, 20)
	for i := range header {
		header[i] = fmt.Sprintf("c%02d", i)
	}
	d, err := workbooks.BuildDigest("w.xlsx", "S", [][]string{header}, workbooks.Shape{ColumnCap: 15, SampleRows: 3}, nil)
	require.NoError(t, err)

	out, err := RenderDigest(d)
	require.NoError(t, err)
	require.Contains(t, out, "c00, c01, c02, c03, c04, c05, c06, c07, c08, c09\n")
	require.NotContains(t, out, "c10")
	require.Contains(t, out, "FIRST ROWS SAMPLE:\n[]")
}

func TestAsk_SendsPromptAndParameters(t *testing.T) {
	m := &fakeModel{resp: reply("AAA is positive.", map[string]any{"TotalTokens": 42})}
	c := NewClient(m, "deepseek-chat")

	ans, err := c.Ask(context.Background(), signalsDigest(t), "Which stocks are positive?")
	require.NoError(t, err)
	require.Equal(t, "AAA is positive.", ans.Text)
	require.NotNil(t, ans.TokensUsed)
	require.Equal(t, 42, *ans.TokensUsed)
	require.Equal(t, "deepseek-chat", ans.Model)

	require.Len(t, m.messages, 2)
	require.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	require.Equal(t, SystemPrompt, textOf(t, m.messages[0]))
	require.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
	user := textOf(t, m.messages[1])
	require.Contains(t, user, "EXCEL DATA SUMMARY:")
	require.Contains(t, user, "USER QUESTION: Which stocks are positive?")
	require.Contains(t, user, "This information is not in the Excel file")

	require.Equal(t, "deepseek-chat", m.opts.Model)
	require.Equal(t, 2000, m.opts.MaxTokens)
	require.InDelta(t, 0.3, m.opts.Temperature, 1e-9)
	require.Nil(t, m.opts.StreamingFunc)
}

func TestAsk_Options(t *testing.T) {
	m := &fakeModel{resp: reply("ok", nil)}
	c := NewClient(m, "", WithMaxTokens(128), WithTemperature(0))
	require.Equal(t, defaults.DefaultModel, c.ModelName())

	_, err := c.Ask(context.Background(), signalsDigest(t), "q")
	require.NoError(t, err)
	require.Equal(t, 128, m.opts.MaxTokens)
	require.Zero(t, m.opts.Temperature)
}

func TestAsk_TokenReporting(t *testing.T) {
	tests := []struct {
		name string
		info map[string]any
		want *int
	}{
		{"absent", nil, nil},
		{"zero", map[string]any{"TotalTokens": 0}, nil},
		{"string", map[string]any{"TotalTokens": "12"}, nil},
		{"int64", map[string]any{"TotalTokens": int64(7)}, ptr(7)},
		{"float64", map[string]any{"TotalTokens": float64(9)}, ptr(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&fakeModel{resp: reply("x", tt.info)}, "m")
			ans, err := c.Ask(context.Background(), signalsDigest(t), "q")
			require.NoError(t, err)
			require.Equal(t, tt.want, ans.TokensUsed)
		})
	}
}

func ptr(n int) *int { return &n }

func TestAsk_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name  string
		model llms.Model
		is    error
	}{
		{"no credential", nil, ErrNotConfigured},
		{"transport error", &fakeModel{err: errors.New("connection refused")}, nil},
		{"no choices", &fakeModel{resp: &llms.ContentResponse{}}, ErrEmptyResponse},
		{"nil response", &fakeModel{}, ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.model, "m").Ask(context.Background(), signalsDigest(t), "q")
			require.Error(t, err)
			require.Equal(t, apierr.UpstreamError, apierr.KindOf(err))
			if tt.is != nil {
				require.ErrorIs(t, err, tt.is)
			}
		})
	}
}

// completionServer serves a fixed chat completion and captures the request body.
func completionServer(t *testing.T, body *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if body != nil {
			require.NoError(t, json.Unmarshal(raw, body))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "AAA is positive."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 12, "total_tokens": 42}
		}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewModel_Drivers(t *testing.T) {
	for _, driver := range []string{DriverLangchain, DriverOpenAISDK} {
		t.Run(driver, func(t *testing.T) {
			srv := completionServer(t, nil)
			m, err := NewModel(config.LLMConfig{APIKey: "k", BaseURL: srv.URL, Model: "deepseek-chat", Driver: driver})
			require.NoError(t, err)
			require.NotNil(t, m)

			ans, err := NewClient(m, "deepseek-chat").Ask(context.Background(), signalsDigest(t), "Which?")
			require.NoError(t, err)
			require.Equal(t, "AAA is positive.", ans.Text)
			require.NotNil(t, ans.TokensUsed)
			require.Equal(t, 42, *ans.TokensUsed)
		})
	}
}

func TestSDKModel_RequestShape(t *testing.T) {
	var body map[string]any
	srv := completionServer(t, &body)
	m := newSDKModel("k", srv.URL, "deepseek-chat")

	_, err := NewClient(m, "deepseek-chat").Ask(context.Background(), signalsDigest(t), "Which?")
	require.NoError(t, err)

	require.Equal(t, "deepseek-chat", body["model"])
	require.EqualValues(t, 2000, body["max_tokens"])
	require.InDelta(t, 0.3, body["temperature"], 1e-6)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
	require.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestNewModel_NoKeyAndUnknownDriver(t *testing.T) {
	m, err := NewModel(config.LLMConfig{Driver: DriverLangchain})
	require.NoError(t, err)
	require.Nil(t, m)

	_, err = NewModel(config.LLMConfig{APIKey: "k", Driver: "bogus"})
	require.Error(t, err)
}
