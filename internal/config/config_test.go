package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Server.Port)
	require.Equal(t, "deepseek-chat", cfg.LLM.Model)
	require.Equal(t, "https://api.deepseek.com", cfg.LLM.BaseURL)
	require.Equal(t, "signal", cfg.Workbook.SheetToken)
	require.Equal(t, 2000, cfg.LLM.MaxTokens)
	require.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	require.False(t, cfg.AIConnected())
	require.False(t, cfg.Server.Debug)
}

func TestLoad_EnvOverrides(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{
		"DEEPSEEK_API_KEY":        "sk-test",
		"PORT":                    "8080",
		"DEBUG":                   "TRUE",
		"SHEET_TOKEN":             " sinyal ",
		"CORS_ORIGINS":            "http://a.example, http://b.example",
		"MAX_CONCURRENT_REQUESTS": "3",
		"OPERATION_TIMEOUT":       "45s",
		"LLM_DRIVER":              "openai-sdk",
	}))
	require.NoError(t, err)
	require.True(t, cfg.AIConnected())
	require.Equal(t, 8080, cfg.Server.Port)
	require.True(t, cfg.Server.Debug)
	require.Equal(t, "sinyal", cfg.Workbook.SheetToken)
	require.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
	require.Equal(t, 3, cfg.Limits.MaxConcurrentRequests)
	require.Equal(t, 45*time.Second, cfg.Limits.OperationTimeout)
	require.Equal(t, "openai-sdk", cfg.LLM.Driver)
	require.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "excelask.toml")
	body := `
[server]
port = 7000
debug = true

[llm]
model = "deepseek-reasoner"

[workbook]
sheet_token = "sinyal"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := load(path, envMap(map[string]string{"PORT": "7100"}))
	require.NoError(t, err)
	require.Equal(t, 7100, cfg.Server.Port)
	require.True(t, cfg.Server.Debug)
	require.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
	require.Equal(t, "sinyal", cfg.Workbook.SheetToken)
	// untouched keys keep defaults
	require.Equal(t, "langchain", cfg.LLM.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := load("", envMap(map[string]string{"PORT": "abc"}))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = load("", envMap(map[string]string{"LLM_DRIVER": "bard"}))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = load("", envMap(map[string]string{"PORT": "70000"}))
	require.ErrorIs(t, err, ErrInvalid)

	_, err = load(filepath.Join(t.TempDir(), "missing.toml"), envMap(nil))
	require.Error(t, err)
}
