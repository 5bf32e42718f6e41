package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	defaults "github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/pkg/validation"
)

// Config is the process configuration, read once at start.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	LLM      LLMConfig      `toml:"llm"`
	Workbook WorkbookConfig `toml:"workbook"`
	Limits   LimitsConfig   `toml:"limits"`
	MCP      MCPConfig      `toml:"mcp"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port        int      `toml:"port" validate:"min=1,max=65535"`
	Debug       bool     `toml:"debug"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LLMConfig points at the completion service.
type LLMConfig struct {
	APIKey      string  `toml:"api_key"`
	BaseURL     string  `toml:"base_url" validate:"required,url"`
	Model       string  `toml:"model" validate:"required"`
	Driver      string  `toml:"driver" validate:"required,llm_driver"`
	MaxTokens   int     `toml:"max_tokens" validate:"min=1"`
	Temperature float64 `toml:"temperature" validate:"gte=0,lte=2"`
}

// WorkbookConfig shapes the summarizer.
type WorkbookConfig struct {
	SheetToken string `toml:"sheet_token"`
	ScratchDir string `toml:"scratch_dir"`
}

// LimitsConfig bounds concurrency.
type LimitsConfig struct {
	MaxConcurrentRequests int           `toml:"max_concurrent_requests" validate:"min=1"`
	MaxOpenWorkbooks      int           `toml:"max_open_workbooks" validate:"min=1"`
	OperationTimeout      time.Duration `toml:"operation_timeout" validate:"gte=0"`
}

// MCPConfig lists directories the stdio transport may read from.
type MCPConfig struct {
	AllowedDirs []string `toml:"allowed_dirs"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        defaults.DefaultPort,
			CORSOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			BaseURL:     defaults.DefaultAPIBase,
			Model:       defaults.DefaultModel,
			Driver:      defaults.DefaultLLMDriver,
			MaxTokens:   defaults.DefaultMaxTokens,
			Temperature: defaults.DefaultTemperature,
		},
		Workbook: WorkbookConfig{
			SheetToken: defaults.DefaultSheetToken,
			ScratchDir: os.TempDir(),
		},
		Limits: LimitsConfig{
			MaxConcurrentRequests: defaults.DefaultMaxConcurrentRequests,
			MaxOpenWorkbooks:      defaults.DefaultMaxOpenWorkbooks,
			OperationTimeout:      defaults.DefaultOperationTimeout,
		},
	}
}

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid")

// Load builds the configuration from defaults, the optional TOML file at
// path, and then environment overrides (environment wins).
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filepath.Base(path), err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	cfg.Workbook.SheetToken = strings.TrimSpace(cfg.Workbook.SheetToken)
	if cfg.Workbook.ScratchDir == "" {
		cfg.Workbook.ScratchDir = os.TempDir()
	}

	if msg := validation.ValidateStruct(cfg); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, msg)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, sep string, dst *[]string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		var out []string
		for _, p := range strings.Split(v, sep) {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
		}
		*dst = n
		return nil
	}

	str("DEEPSEEK_API_KEY", &cfg.LLM.APIKey)
	str("DEEPSEEK_API_BASE", &cfg.LLM.BaseURL)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("LLM_DRIVER", &cfg.LLM.Driver)
	str("SHEET_TOKEN", &cfg.Workbook.SheetToken)
	str("SCRATCH_DIR", &cfg.Workbook.ScratchDir)
	list("CORS_ORIGINS", ",", &cfg.Server.CORSOrigins)
	list("EXCELASK_ALLOWED_DIRS", string(os.PathListSeparator), &cfg.MCP.AllowedDirs)

	if err := num("PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := num("MAX_CONCURRENT_REQUESTS", &cfg.Limits.MaxConcurrentRequests); err != nil {
		return err
	}
	if v, ok := lookup("DEBUG"); ok {
		cfg.Server.Debug = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup("OPERATION_TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: OPERATION_TIMEOUT: %v", ErrInvalid, err)
		}
		cfg.Limits.OperationTimeout = d
	}
	return nil
}

// AIConnected reports whether an upstream credential is configured. It says
// nothing about reachability.
func (c *Config) AIConnected() bool {
	return c.LLM.APIKey != ""
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Server.Port)
}
