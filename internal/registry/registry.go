package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tmc/langchaingo/llms"
)

// Registry collects tools with their handlers before they are attached to an
// MCP server, so the set can be listed, looked up and filtered without one.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]server.ServerTool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: map[string]server.ServerTool{}}
}

// Register stores a tool and its handler. A later registration under the
// same name replaces the earlier one.
func (r *Registry) Register(tool mcp.Tool, handler server.ToolHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = server.ServerTool{Tool: tool, Handler: handler}
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tools[name]
	return st.Tool, ok
}

// Handler returns the handler registered for name.
func (r *Registry) Handler(name string) (server.ToolHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tools[name]
	return st.Handler, ok
}

// Tools returns the registered definitions sorted by name.
func (r *Registry) Tools(ctx context.Context) ([]mcp.Tool, error) {
	entries := r.sorted()
	tools := make([]mcp.Tool, len(entries))
	for i, st := range entries {
		tools[i] = st.Tool
	}
	return tools, nil
}

// Attach adds every registered tool to s in name order.
func (r *Registry) Attach(s *server.MCPServer) {
	s.AddTools(r.sorted()...)
}

func (r *Registry) sorted() []server.ServerTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]server.ServerTool, 0, len(r.tools))
	for _, st := range r.tools {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool.Name < out[j].Tool.Name })
	return out
}

// ModelContextSize reports the context window langchaingo knows for the
// completion model, used to log how much digest headroom there is.
func (r *Registry) ModelContextSize(modelName string) int {
	return llms.GetModelContextSize(modelName)
}
