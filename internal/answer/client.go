package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"

	"github.com/vinodismyname/excelask/config"
	"github.com/vinodismyname/excelask/internal/workbooks"
	"github.com/vinodismyname/excelask/pkg/apierr"
)

// ErrNotConfigured is returned when no completion credential was provided.
var ErrNotConfigured = errors.New("answer: completion service credential not configured")

// ErrEmptyResponse is returned when the completion service yields no choices.
var ErrEmptyResponse = errors.New("answer: completion service returned no choices")

// Answer is the model's reply to one question.
type Answer struct {
	Text       string
	TokensUsed *int
	Model      string
}

// Client sends a digest and question to the completion service.
type Client struct {
	model       llms.Model
	modelName   string
	maxTokens   int
	temperature float64
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTokens overrides the generated-token ceiling.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// NewClient wraps model. A nil model yields a Client whose Ask always fails
// with ErrNotConfigured, so the service can start without a credential.
func NewClient(model llms.Model, modelName string, opts ...Option) *Client {
	if modelName == "" {
		modelName = config.DefaultModel
	}
	c := &Client{
		model:       model,
		modelName:   modelName,
		maxTokens:   config.DefaultMaxTokens,
		temperature: config.DefaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ModelName returns the model identifier sent upstream.
func (c *Client) ModelName() string { return c.modelName }

// Ask issues a single non-streamed completion. Every failure is an
// apierr UpstreamError; there is no retry.
func (c *Client) Ask(ctx context.Context, d *workbooks.Digest, question string) (*Answer, error) {
	if c.model == nil {
		return nil, apierr.Wrap(apierr.UpstreamError, ErrNotConfigured)
	}

	block, err := RenderDigest(d)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err)
	}
	user, err := RenderQuestion(block, question)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, fmt.Errorf("answer: render question: %w", err))
	}

	q := []rune(question)
	if len(q) > 50 {
		q = q[:50]
	}
	zerolog.Ctx(ctx).Info().Str("model", c.modelName).Str("question", string(q)).Msg("sending question to completion service")

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithModel(c.modelName),
		llms.WithMaxTokens(c.maxTokens),
		llms.WithTemperature(c.temperature),
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return nil, apierr.Wrap(apierr.UpstreamError, ErrEmptyResponse)
	}

	choice := resp.Choices[0]
	return &Answer{
		Text:       choice.Content,
		TokensUsed: totalTokens(choice.GenerationInfo),
		Model:      c.modelName,
	}, nil
}

// totalTokens reads the usage count a provider reported, if any. A missing,
// non-numeric, or zero value is treated as not reported.
func totalTokens(info map[string]any) *int {
	var n int
	switch v := info["TotalTokens"].(type) {
	case int:
		n = v
	case int32:
		n = int(v)
	case int64:
		n = int(v)
	case float64:
		n = int(v)
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	return &n
}
