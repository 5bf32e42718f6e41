package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// sdkModel adapts the go-openai client to llms.Model so either driver can sit
// behind Client.
type sdkModel struct {
	client *openai.Client
	model  string
}

var _ llms.Model = (*sdkModel)(nil)

func newSDKModel(apiKey, baseURL, model string) *sdkModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &sdkModel{client: openai.NewClientWithConfig(cfg), model: model}
}

// Call implements the single-prompt form of llms.Model.
func (m *sdkModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent issues one non-streamed chat completion.
func (m *sdkModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{Model: m.model}
	for _, o := range options {
		o(&opts)
	}

	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
	}
	for _, mc := range messages {
		role, err := sdkRole(mc.Role)
		if err != nil {
			return nil, err
		}
		var sb strings.Builder
		for _, p := range mc.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				sb.WriteString(tc.Text)
			}
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: sb.String()})
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	out := &llms.ContentResponse{Choices: make([]*llms.ContentChoice, 0, len(resp.Choices))}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"PromptTokens":     resp.Usage.PromptTokens,
				"CompletionTokens": resp.Usage.CompletionTokens,
				"TotalTokens":      resp.Usage.TotalTokens,
			},
		})
	}
	return out, nil
}

func sdkRole(t llms.ChatMessageType) (string, error) {
	switch t {
	case llms.ChatMessageTypeSystem:
		return openai.ChatMessageRoleSystem, nil
	case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
		return openai.ChatMessageRoleUser, nil
	case llms.ChatMessageTypeAI:
		return openai.ChatMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("answer: unsupported message role %q", t)
	}
}
