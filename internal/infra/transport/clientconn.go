package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// clientConn adapts a raw mcp.Connection (a bidirectional JSON-RPC pipe,
// however it was established) into domain.Conn's tool-shaped surface.
// The pending-request bookkeeping mirrors a JSON-RPC client's call/response
// matching over a single duplex stream.
type clientConn struct {
	conn    mcp.Connection
	logger  *zap.Logger
	seq     atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan callResult

	closeOnce sync.Once
	cancel    context.CancelFunc
	closed    chan struct{}
}

type callResult struct {
	resp *jsonrpc.Response
	err  error
}

func newClientConn(conn mcp.Connection, logger *zap.Logger) *clientConn {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &clientConn{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan callResult),
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

func (c *clientConn) ListTools(ctx context.Context) ([]domain.RawTool, error) {
	var out []domain.RawTool
	cursor := ""
	for {
		resp, err := c.call(ctx, "tools/list", &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		var result mcp.ListToolsResult
		if err := json.Unmarshal(resp, &result); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		for _, tool := range result.Tools {
			out = append(out, domain.RawTool{
				Name:         tool.Name,
				Title:        tool.Title,
				Description:  tool.Description,
				InputSchema:  schemaToMap(tool.InputSchema),
				OutputSchema: schemaToMap(tool.OutputSchema),
				Annotations:  annotationsToMap(tool.Annotations),
			})
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return out, nil
}

func (c *clientConn) CallTool(ctx context.Context, name string, arguments map[string]any) (*domain.ToolCallResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	resp, err := c.call(ctx, "tools/call", &mcp.CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	content := make([]map[string]any, 0, len(result.Content))
	for _, item := range result.Content {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			content = append(content, m)
		}
	}
	var extra map[string]any
	var envelope map[string]any
	if err := json.Unmarshal(resp, &envelope); err == nil {
		for k, v := range envelope {
			if k == "content" || k == "isError" {
				continue
			}
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[k] = v
		}
	}
	return &domain.ToolCallResult{IsError: result.IsError, Content: content, Extra: extra}, nil
}

func (c *clientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.conn.Close()
		c.failPending(domain.ErrConnectionClosed)
	})
	return err
}

func (c *clientConn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, domain.ErrConnectionClosed
	}
	seq := c.seq.Add(1)
	id, err := jsonrpc.MakeID(fmt.Sprintf("gatewayd-%s-%d", method, seq))
	if err != nil {
		return nil, fmt.Errorf("build request id: %w", err)
	}
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req := &jsonrpc.Request{ID: id, Method: method, Params: rawParams}
	key := idKey(id)

	resultCh := make(chan callResult, 1)
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	c.pending[key] = resultCh
	c.mu.Unlock()

	if err := c.conn.Write(ctx, req); err != nil {
		c.removePending(key)
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}
		if result.resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, result.resp.Error)
		}
		return result.resp.Result, nil
	case <-ctx.Done():
		c.removePending(key)
		return nil, ctx.Err()
	}
}

func (c *clientConn) readLoop(ctx context.Context) {
	for {
		msg, err := c.conn.Read(ctx)
		if err != nil {
			c.failPending(fmt.Errorf("read: %w", err))
			return
		}
		resp, ok := msg.(*jsonrpc.Response)
		if !ok {
			// Server-initiated requests/notifications (sampling, elicitation,
			// list-changed) are out of scope: this gateway only proxies
			// tool calls, so anything else is silently dropped.
			continue
		}
		c.dispatchResponse(resp)
	}
}

func (c *clientConn) dispatchResponse(resp *jsonrpc.Response) {
	key := idKey(resp.ID)
	c.mu.Lock()
	ch := c.pending[key]
	delete(c.pending, key)
	c.mu.Unlock()
	if ch == nil {
		c.logger.Debug("drop response with no pending call", zap.String("id", key))
		return
	}
	ch <- callResult{resp: resp}
}

func (c *clientConn) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

func (c *clientConn) removePending(key string) {
	c.mu.Lock()
	if c.pending != nil {
		delete(c.pending, key)
	}
	c.mu.Unlock()
}

func (c *clientConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func idKey(id jsonrpc.ID) string {
	if !id.IsValid() {
		return ""
	}
	switch typed := id.Raw().(type) {
	case string:
		return "s:" + typed
	case float64:
		return fmt.Sprintf("n:%v", typed)
	case int64:
		return fmt.Sprintf("n:%v", typed)
	default:
		return fmt.Sprintf("x:%v", typed)
	}
}

// schemaToMap round-trips an MCP schema value (typically *jsonschema.Schema)
// into the generic map shape the catalog stores tool schemas as.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil || string(raw) == "null" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func annotationsToMap(ann *mcp.ToolAnnotations) map[string]any {
	if ann == nil {
		return nil
	}
	raw, err := json.Marshal(ann)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

var _ domain.Conn = (*clientConn)(nil)
