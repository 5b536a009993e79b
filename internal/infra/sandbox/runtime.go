package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// killSlack is added on top of the caller's requested timeout before the
// parent gives up waiting for a graceful exit and kills the worker's
// process group outright.
const killSlack = 500 * time.Millisecond

// Runtime is the parent side of the self-reexec sandbox: for every Run
// it spawns a fresh worker subprocess (re-invoking the gateway's own
// binary with the hidden worker flag), feeds it one job over stdin, and
// answers any host-call requests the job makes over stdout.
type Runtime struct {
	logger    *zap.Logger
	reexecBin string
}

func NewRuntime(logger *zap.Logger) *Runtime {
	bin := os.Args[0]
	return &Runtime{logger: logger, reexecBin: bin}
}

func (r *Runtime) Run(ctx context.Context, req domain.SandboxRequest) (any, error) {
	if len(req.Code) == 0 {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "sandbox.Run", domain.ErrSandboxCodeEmpty)
	}
	if req.MaxCodeLength > 0 && len(req.Code) > req.MaxCodeLength {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "sandbox.Run", domain.ErrSandboxCodeTooLarge)
	}

	marshaledGlobals, registry := marshalGlobals(req.Globals)

	cmd := exec.CommandContext(ctx, r.reexecBin, WorkerFlag)
	setupProcessHandling(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "sandbox.Run", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "sandbox.Run", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "sandbox.Run", err)
	}

	p := &parentSession{
		logger:   r.logger,
		cmd:      cmd,
		stdin:    stdin,
		registry: registry,
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.AfterFunc(timeout+killSlack, func() {
		p.timedOut.Store(true)
		_ = killProcessGroup(cmd)
	})
	defer timer.Stop()

	if err := encodeMessage(stdin, wireMessage{
		Type:          msgStart,
		Code:          req.Code,
		TimeoutMs:     req.TimeoutMs,
		MaxCodeLength: req.MaxCodeLength,
		Globals:       marshaledGlobals,
	}); err != nil {
		_ = killProcessGroup(cmd)
		return nil, domain.Wrap(domain.CodeInternal, "sandbox.Run", err)
	}

	result, runErr := p.readLoop(ctx, stdout)
	waitErr := cmd.Wait()

	if p.timedOut.Load() {
		return nil, domain.E(domain.CodeDeadlineExceeded, "sandbox.Run",
			fmt.Sprintf("code execution timed out after %dms", req.TimeoutMs), domain.ErrSandboxTimeout)
	}
	if runErr != nil {
		return nil, domain.Wrap(domain.CodeInvalidArgument, "sandbox.Run", runErr)
	}
	if waitErr != nil && !errIsExpectedExit(waitErr) {
		r.logger.Warn("sandbox worker exited uncleanly", zap.Error(waitErr))
	}
	return result, nil
}

func errIsExpectedExit(err error) bool {
	_, ok := err.(*exec.ExitError)
	return ok
}

// parentSession tracks the one in-flight job's bookkeeping across the
// worker's lifetime: its stdin for posting callResult/callError replies,
// and whether the deadline timer fired a kill.
type parentSession struct {
	logger   *zap.Logger
	cmd      *exec.Cmd
	stdin    io.Writer
	registry map[string]HostFunc

	mu       sync.Mutex
	timedOut atomic.Bool
}

// readLoop consumes the worker's stdout, answering "call" requests
// in-line and returning as soon as a terminal result/error message
// arrives (or ctx/ the worker's own exit cuts the stream short).
func (p *parentSession) readLoop(ctx context.Context, stdout io.Reader) (any, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			_ = killProcessGroup(p.cmd)
			return nil, ctx.Err()
		}

		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Type {
		case msgCall:
			p.handleCall(ctx, msg)
		case msgResult:
			return msg.Result, nil
		case msgError:
			return nil, fmt.Errorf("%s", msg.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("sandbox worker exited without producing a result")
}

func (p *parentSession) handleCall(ctx context.Context, msg wireMessage) {
	fn, ok := p.registry[msg.FnID]
	if !ok {
		p.reply(wireMessage{Type: msgCallError, CallID: msg.CallID, Error: fmt.Sprintf("unknown host function %q", msg.FnID)})
		return
	}
	result, err := fn(ctx, msg.Args)
	if err != nil {
		p.reply(wireMessage{Type: msgCallError, CallID: msg.CallID, Error: err.Error()})
		return
	}
	p.reply(wireMessage{Type: msgCallResult, CallID: msg.CallID, Result: safeClone(result, 8)})
}

func (p *parentSession) reply(msg wireMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := encodeMessage(p.stdin, msg); err != nil {
		p.logger.Warn("sandbox: failed to write reply to worker", zap.Error(err))
	}
}

var _ domain.SandboxRuntime = (*Runtime)(nil)
