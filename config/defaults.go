package config

import "time"

// Default limits and settings for the excelask service. Values here are the
// fallbacks used by internal/config when neither the TOML file nor the
// environment provides an override.

const (
	// Upload guardrails
	MaxUploadBytes = 10 * 1024 * 1024 // 10MB
	MaxUploadLabel = "10MB"

	// Digest shape
	DigestColumnCap   = 15
	DigestSampleRows  = 3
	PromptColumnLimit = 10
	DefaultSheetToken = "signal"

	// Completion parameters
	DefaultModel       = "deepseek-chat"
	DefaultAPIBase     = "https://api.deepseek.com"
	DefaultLLMDriver   = "langchain"
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.3
)

const (
	// Concurrency
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4

	// Server
	DefaultPort = 5000
)

const (
	// Timeouts. A zero OperationTimeout leaves the request context unbounded.
	DefaultOperationTimeout      = 0 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultShutdownTimeout       = 5 * time.Second
)
