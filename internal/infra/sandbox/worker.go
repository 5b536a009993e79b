package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/VenkatGGG/ThinMCP/internal/infra/sandbox/script"
)

// WorkerFlag is the hidden CLI flag that tells main() to run as a
// sandbox worker instead of parsing normal gatewayd flags, per spec.md
// §4.5's self-reexec design.
const WorkerFlag = "__sandbox_worker__"

// RunWorker is the entire worker-side program: read a start message,
// evaluate the code against globals (with host-call sentinels rewritten
// into call-back proxies), and post exactly one result or error message.
// It owns stdin/stdout for its entire lifetime.
func RunWorker(stdin io.Reader, stdout io.Writer) error {
	w := &workerConn{
		out:     stdout,
		pending: make(map[string]chan wireMessage),
	}

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		return fmt.Errorf("sandbox worker: no start message received")
	}
	var start wireMessage
	if err := json.Unmarshal(scanner.Bytes(), &start); err != nil {
		return fmt.Errorf("sandbox worker: decoding start message: %w", err)
	}
	if start.Type != msgStart {
		return fmt.Errorf("sandbox worker: expected start message, got %q", start.Type)
	}

	go w.readLoop(scanner)

	root := script.NewScope(nil)
	for name, v := range rewriteGlobals(start.Globals, w) {
		root.Declare(name, v)
	}

	result, err := evalProgram(context.Background(), start.Code, root)
	if err != nil {
		return encodeMessage(stdout, wireMessage{Type: msgError, Error: err.Error()})
	}
	return encodeMessage(stdout, wireMessage{Type: msgResult, Result: safeClone(result, 8)})
}

// evalProgram parses and runs a single sandboxed expression; the
// process-level timeout is enforced by the parent killing this worker,
// so ctx here only needs to unblock a hanging await once canceled.
func evalProgram(ctx context.Context, code string, root *script.Scope) (script.Value, error) {
	expr, err := script.ParseProgram(code)
	if err != nil {
		return nil, err
	}
	return script.NewInterp(ctx).Run(expr, root)
}

// workerConn writes "call" requests to the parent on stdout (the same
// stream that later carries the worker's own result) and reads the
// parent's callResult/callError replies from stdin, routing each reply by
// CallID to the goroutine waiting for it.
type workerConn struct {
	out     io.Writer
	mu      sync.Mutex
	pending map[string]chan wireMessage
	seq     atomic.Uint64
}

func (w *workerConn) readLoop(scanner *bufio.Scanner) {
	for scanner.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgCallResult, msgCallError:
			w.mu.Lock()
			ch, ok := w.pending[msg.CallID]
			if ok {
				delete(w.pending, msg.CallID)
			}
			w.mu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

// invokeHost sends a call message for fnID and blocks for the matching
// callResult/callError.
func (w *workerConn) invokeHost(fnID string, args []any) (any, error) {
	callID := fmt.Sprintf("call-%d", w.seq.Add(1))
	ch := make(chan wireMessage, 1)
	w.mu.Lock()
	w.pending[callID] = ch
	w.mu.Unlock()

	clonedArgs, _ := safeClone(args, 8).([]any)
	if err := encodeMessage(w.out, wireMessage{Type: msgCall, CallID: callID, FnID: fnID, Args: clonedArgs}); err != nil {
		return nil, err
	}

	reply := <-ch
	if reply.Type == msgCallError {
		return nil, fmt.Errorf("%s", reply.Error)
	}
	return reply.Result, nil
}

// rewriteGlobals walks the marshaled globals turning {__fnToken: id}
// sentinels back into script.Function host proxies that round-trip
// through the parent.
func rewriteGlobals(globals map[string]any, w *workerConn) map[string]any {
	out := make(map[string]any, len(globals))
	for k, v := range globals {
		out[k] = rewriteValue(v, w)
	}
	return out
}

func rewriteValue(v any, w *workerConn) any {
	if fnID, ok := isFnToken(v); ok {
		return &script.Function{Host: func(args []script.Value) (script.Value, error) {
			return w.invokeHost(fnID, args)
		}}
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = rewriteValue(val, w)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = rewriteValue(val, w)
		}
		return out
	default:
		return v
	}
}
