package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

type fakeConn struct {
	readCh  chan jsonrpc.Message
	writeCh chan jsonrpc.Message
	closed  chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:  make(chan jsonrpc.Message, 4),
		writeCh: make(chan jsonrpc.Message, 4),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-f.readCh:
		return msg, nil
	case <-f.closed:
		return nil, mcp.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case f.writeCh <- msg:
		return nil
	case <-f.closed:
		return mcp.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	select {
	case <-f.closed:
		return nil
	default:
		close(f.closed)
		return nil
	}
}

func (f *fakeConn) SessionID() string { return "" }

// respondTo waits for the next request written by the clientConn under
// test and pushes back a Response carrying result as its payload.
func respondTo(t *testing.T, f *fakeConn, result any) {
	t.Helper()
	select {
	case msg := <-f.writeCh:
		req, ok := msg.(*jsonrpc.Request)
		require.True(t, ok)
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		f.readCh <- &jsonrpc.Response{ID: req.ID, Result: raw}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outgoing request")
	}
}

func TestClientConnCallToolRoundTrip(t *testing.T) {
	fc := newFakeConn()
	conn := newClientConn(fc, nil)
	defer conn.Close()

	done := make(chan struct{})
	var result *domain.ToolCallResult
	var callErr error
	go func() {
		result, callErr = conn.CallTool(context.Background(), "echo", map[string]any{"message": "hi"})
		close(done)
	}()

	respondTo(t, fc, &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "hi"}},
	})

	<-done
	require.NoError(t, callErr)
	require.False(t, result.IsError)
	require.Len(t, result.Content, 1)
}

func TestClientConnListToolsFollowsCursor(t *testing.T) {
	fc := newFakeConn()
	conn := newClientConn(fc, nil)
	defer conn.Close()

	done := make(chan struct{})
	var tools []domain.RawTool
	var listErr error
	go func() {
		tools, listErr = conn.ListTools(context.Background())
		close(done)
	}()

	respondTo(t, fc, &mcp.ListToolsResult{
		Tools:      []*mcp.Tool{{Name: "first"}},
		NextCursor: "page-2",
	})
	respondTo(t, fc, &mcp.ListToolsResult{
		Tools: []*mcp.Tool{{Name: "second"}},
	})

	<-done
	require.NoError(t, listErr)
	require.Len(t, tools, 2)
	require.Equal(t, "first", tools[0].Name)
	require.Equal(t, "second", tools[1].Name)
}

func TestClientConnCallAfterCloseFailsFast(t *testing.T) {
	fc := newFakeConn()
	conn := newClientConn(fc, nil)
	require.NoError(t, conn.Close())

	_, err := conn.CallTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, domain.ErrConnectionClosed)
}

func TestClientConnPendingCallsFailWhenReadLoopEnds(t *testing.T) {
	fc := newFakeConn()
	conn := newClientConn(fc, nil)
	defer conn.Close()

	done := make(chan struct{})
	var callErr error
	go func() {
		_, callErr = conn.CallTool(context.Background(), "echo", nil)
		close(done)
	}()

	select {
	case <-fc.writeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outgoing request")
	}

	fc.Close()

	<-done
	require.Error(t, callErr)
}
