// Package toolsurface exposes the two operations a language-model client
// actually sees: search (catalog discovery) and execute (tool invocation),
// each running a short sandboxed snippet against an injected host API.
package toolsurface

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
	"github.com/VenkatGGG/ThinMCP/internal/infra/sandbox"
)

const (
	defaultSandboxTimeoutMs = 5000
	defaultMaxCodeLength    = 20000
	defaultMaxResultChars   = 20000
)

// Surface wires the Sandbox Runtime to the Catalog Store (for search) and
// the Tool Proxy (for execute), producing the bit-compatible tool result
// envelopes a real MCP server would register under the names "search"
// and "execute".
type Surface struct {
	catalog domain.CatalogStore
	proxy   domain.ToolProxy
	runtime domain.SandboxRuntime
	logger  *zap.Logger

	timeoutMs      int
	maxCodeLength  int
	maxResultChars int
}

func New(catalog domain.CatalogStore, proxy domain.ToolProxy, runtime domain.SandboxRuntime, logger *zap.Logger) *Surface {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Surface{
		catalog:        catalog,
		proxy:          proxy,
		runtime:        runtime,
		logger:         logger.Named("toolsurface"),
		timeoutMs:      defaultSandboxTimeoutMs,
		maxCodeLength:  defaultMaxCodeLength,
		maxResultChars: defaultMaxResultChars,
	}
}

// Search runs code against an injected `catalog` global exposing
// listServers/findTools/getTool.
func (s *Surface) Search(ctx context.Context, code string) *mcp.CallToolResult {
	globals := map[string]any{
		"catalog": map[string]any{
			"listServers": sandbox.HostFunc(s.hostListServers),
			"findTools":   sandbox.HostFunc(s.hostFindTools),
			"getTool":     sandbox.HostFunc(s.hostGetTool),
		},
	}
	result, err := s.runtime.Run(ctx, domain.SandboxRequest{
		Code:          code,
		TimeoutMs:     s.timeoutMs,
		MaxCodeLength: s.maxCodeLength,
		Globals:       globals,
	})
	if err != nil {
		return s.errorResult("search", err)
	}
	return s.successResult(result, s.maxResultChars)
}

// Execute runs code against an injected `tool.call` global, normalizing the
// returned value before serialization.
func (s *Surface) Execute(ctx context.Context, code string) *mcp.CallToolResult {
	globals := map[string]any{
		"tool": map[string]any{
			"call": sandbox.HostFunc(s.hostToolCall),
		},
	}
	result, err := s.runtime.Run(ctx, domain.SandboxRequest{
		Code:          code,
		TimeoutMs:     s.timeoutMs,
		MaxCodeLength: s.maxCodeLength,
		Globals:       globals,
	})
	if err != nil {
		return s.errorResult("execute", err)
	}
	return s.successResult(normalizeExecuteOutput(result), s.maxResultChars)
}

func (s *Surface) hostListServers(ctx context.Context, _ []any) (any, error) {
	servers, err := s.catalog.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(servers))
	for _, rec := range servers {
		out = append(out, serverRecordToValue(rec))
	}
	return out, nil
}

func (s *Surface) hostFindTools(ctx context.Context, args []any) (any, error) {
	q := parseToolQuery(firstArg(args))
	tools, err := s.catalog.SearchTools(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolRecordToValue(t))
	}
	return out, nil
}

func (s *Surface) hostGetTool(ctx context.Context, args []any) (any, error) {
	serverID, _ := args[0].(string)
	toolName, _ := args[1].(string)
	tool, err := s.catalog.GetTool(ctx, serverID, toolName)
	if err != nil {
		return nil, err
	}
	if tool == nil {
		return nil, nil
	}
	return toolRecordToValue(*tool), nil
}

func (s *Surface) hostToolCall(ctx context.Context, args []any) (any, error) {
	m, _ := firstArg(args).(map[string]any)
	serverID, _ := m["serverId"].(string)
	name, _ := m["name"].(string)
	arguments, _ := m["arguments"].(map[string]any)

	result, err := s.proxy.Call(ctx, domain.ToolCallRequest{
		ServerID:  serverID,
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, err
	}
	return toolCallResultToValue(result), nil
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func parseToolQuery(v any) domain.ToolQuery {
	m, _ := v.(map[string]any)
	q := domain.ToolQuery{}
	if s, ok := m["query"].(string); ok {
		q.Query = s
	}
	if s, ok := m["serverId"].(string); ok {
		q.ServerID = s
	}
	if n, ok := m["limit"].(float64); ok {
		q.Limit = int(n)
	}
	return q
}

func serverRecordToValue(rec domain.ServerRecord) map[string]any {
	v := map[string]any{
		"id":      rec.Config.ID,
		"name":    rec.Config.Name,
		"enabled": rec.Config.Enabled,
	}
	if rec.LastSyncedAt != nil {
		v["lastSyncedAt"] = rec.LastSyncedAt.Format("2006-01-02T15:04:05Z07:00")
	} else {
		v["lastSyncedAt"] = nil
	}
	return v
}

func toolRecordToValue(t domain.ToolRecord) map[string]any {
	return map[string]any{
		"serverId":     t.ServerID,
		"name":         t.ToolName,
		"title":        t.Title,
		"description":  t.Description,
		"inputSchema":  t.InputSchema,
		"outputSchema": t.OutputSchema,
		"annotations":  t.Annotations,
	}
}

func toolCallResultToValue(r *domain.ToolCallResult) map[string]any {
	content := make([]any, 0, len(r.Content))
	for _, c := range r.Content {
		content = append(content, c)
	}
	v := map[string]any{
		"isError": r.IsError,
		"content": content,
	}
	for k, val := range r.Extra {
		v[k] = val
	}
	return v
}

func (s *Surface) errorResult(op string, err error) *mcp.CallToolResult {
	s.logger.Warn("sandboxed operation failed", zap.String("op", op), zap.Error(err))
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s() failed: %s", op, err.Error())},
		},
	}
}

func (s *Surface) successResult(value any, maxChars int) *mcp.CallToolResult {
	text, err := sandbox.SerializeWithLimit(value, maxChars)
	if err != nil {
		return s.errorResult("serialize", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		StructuredContent: map[string]any{"result": value},
	}
}
