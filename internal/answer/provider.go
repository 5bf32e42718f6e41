package answer

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/vinodismyname/excelask/internal/config"
)

// Supported driver names.
const (
	DriverLangchain = "langchain"
	DriverOpenAISDK = "openai-sdk"
)

// NewModel builds the completion model selected by cfg.Driver. An empty API
// key yields a nil model and no error: the service runs without a credential
// and reports every question as an upstream failure.
func NewModel(cfg config.LLMConfig) (llms.Model, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	switch cfg.Driver {
	case "", DriverLangchain:
		m, err := openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("answer: init langchain driver: %w", err)
		}
		return m, nil
	case DriverOpenAISDK:
		return newSDKModel(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("answer: unknown driver %q", cfg.Driver)
	}
}
