package registry

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// AskToolFilter hides tools that need the completion service when no
// credential is configured, leaving describe-only tools discoverable.
type AskToolFilter struct {
	aiConnected bool
}

// NewAskToolFilter constructs a filter for the given credential state.
func NewAskToolFilter(aiConnected bool) *AskToolFilter {
	return &AskToolFilter{aiConnected: aiConnected}
}

// FilterTools implements server tool filtering semantics. Tools prefixed
// ask_ are dropped when the completion service is unavailable.
func (f *AskToolFilter) FilterTools(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
	if f.aiConnected {
		return tools
	}
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		if strings.HasPrefix(strings.ToLower(t.Name), "ask_") {
			continue
		}
		out = append(out, t)
	}
	return out
}
