package transport

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// StdioTransport launches an upstream as a subprocess and speaks MCP
// over its stdin/stdout.
type StdioTransport struct {
	logger *zap.Logger
}

// NewStdioTransport builds a StdioTransport. logger may be nil.
func NewStdioTransport(logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{logger: logger}
}

func (t *StdioTransport) Connect(ctx context.Context, cfg domain.ServerConfig) (domain.Conn, error) {
	if cfg.Transport.Kind != domain.TransportStdio || cfg.Transport.Stdio == nil {
		return nil, fmt.Errorf("server %s is not configured for stdio transport", cfg.ID)
	}
	spec := cfg.Transport.Stdio
	if spec.Command == "" {
		return nil, fmt.Errorf("server %s: stdio command is required", cfg.ID)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	if spec.Cwd != "" {
		cmd.Dir = spec.Cwd
	}
	cmd.Env = append(os.Environ(), formatEnv(spec.Env)...)
	if spec.Stderr == domain.StderrLog {
		cmd.Stderr = &stderrLogWriter{logger: t.logger.Named("stdio_stderr").With(zap.String("server", cfg.ID))}
	}
	setupProcessHandling(cmd)

	mcpTransport := &mcp.CommandTransport{Command: cmd}
	mcpConn, err := mcpTransport.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect stdio server %s: %w", cfg.ID, err)
	}

	return newClientConn(mcpConn, t.logger.Named("stdio_conn").With(zap.String("server", cfg.ID))), nil
}

func formatEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// stderrLogWriter mirrors a subprocess's stderr into the structured logger
// one log entry per Write call; a Write carries whatever chunk exec.Cmd
// copied, which may hold part of a line or several lines.
type stderrLogWriter struct {
	logger *zap.Logger
}

func (w *stderrLogWriter) Write(p []byte) (int, error) {
	w.logger.Info("upstream stderr", zap.ByteString("line", p))
	return len(p), nil
}

var _ domain.Transport = (*StdioTransport)(nil)
