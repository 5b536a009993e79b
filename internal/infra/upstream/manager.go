// Package upstream implements the Upstream Manager (spec §4.2): one
// logical connection per serverId, connect-with-backoff on failure, and
// a derived health snapshot per server.
package upstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
	"github.com/VenkatGGG/ThinMCP/internal/infra/telemetry"
)

// downThreshold is the consecutive-failure count at which an upstream is
// reported down rather than merely degraded (spec §4.2).
const downThreshold = 3

// defaultStdioRetries is used when Options.StdioRetries is unset,
// yielding a default maxAttempts of 3 for stdio servers.
const defaultStdioRetries = 2

// Options configures a Manager.
type Options struct {
	Logger      *zap.Logger
	Metrics     domain.Metrics
	Transports  map[domain.TransportKind]domain.Transport
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// StdioRetries is the number of extra attempts made for stdio
	// servers beyond the first (spec §4.2 step 3: maxAttempts =
	// stdioRetries+1 for stdio, 1 for HTTP).
	StdioRetries int
}

// Manager is the concrete domain.UpstreamManager.
type Manager struct {
	logger       *zap.Logger
	metrics      domain.Metrics
	transports   map[domain.TransportKind]domain.Transport
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	stdioRetries int

	mu      sync.RWMutex
	configs map[string]domain.ServerConfig
	conns   map[string]*upstreamConn
}

// upstreamConn is the per-server connection-establishment and health
// state. Its mutex serves as both the connect-attempt lock and the
// cached in-flight-connect guard: a second caller arriving while a
// connect is underway simply blocks on the same lock rather than
// dialing twice.
type upstreamConn struct {
	mu      sync.Mutex
	conn    domain.Conn
	state   domain.ConnState
	backoff *backoff

	totalCalls          int64
	successfulCalls     int64
	failedCalls         int64
	consecutiveFailures int64
	restarts            int64
	lastError           string
	lastConnectedAt     *time.Time
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	nextRetryAt         *time.Time
}

// NewManager builds a Manager for the given static catalog of server
// configs, keyed by id.
func NewManager(configs []domain.ServerConfig, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	base := opts.BaseBackoff
	if base <= 0 {
		base = time.Second
	}
	max := opts.MaxBackoff
	if max <= 0 {
		max = 30 * time.Second
	}
	stdioRetries := opts.StdioRetries
	if stdioRetries <= 0 {
		stdioRetries = defaultStdioRetries
	}

	byID := make(map[string]domain.ServerConfig, len(configs))
	conns := make(map[string]*upstreamConn, len(configs))
	for _, cfg := range configs {
		byID[cfg.ID] = cfg
		conns[cfg.ID] = &upstreamConn{
			state:   domain.ConnIdle,
			backoff: newBackoff(base, max),
		}
	}

	return &Manager{
		logger:       logger.Named("upstream"),
		metrics:      metrics,
		transports:   opts.Transports,
		baseBackoff:  base,
		maxBackoff:   max,
		stdioRetries: stdioRetries,
		configs:      byID,
		conns:        conns,
	}
}

func (m *Manager) ListServerConfigs(ctx context.Context) ([]domain.ServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ServerConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (m *Manager) GetServerConfig(ctx context.Context, serverID string) (*domain.ServerConfig, error) {
	m.mu.RLock()
	cfg, ok := m.configs[serverID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.E(domain.CodeNotFound, "upstream.GetServerConfig", fmt.Sprintf("server %s not found", serverID), domain.ErrServerNotFound)
	}
	return &cfg, nil
}

func (m *Manager) ListTools(ctx context.Context, serverID string) ([]domain.RawTool, error) {
	var tools []domain.RawTool
	err := m.doWithRetry(ctx, serverID, func(conn domain.Conn) error {
		var opErr error
		tools, opErr = conn.ListTools(ctx)
		return opErr
	})
	if err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "upstream.ListTools", err)
	}
	return tools, nil
}

func (m *Manager) CallTool(ctx context.Context, req domain.ToolCallRequest) (*domain.ToolCallResult, error) {
	var result *domain.ToolCallResult
	err := m.doWithRetry(ctx, req.ServerID, func(conn domain.Conn) error {
		var opErr error
		result, opErr = conn.CallTool(ctx, req.Name, req.Arguments)
		return opErr
	})
	if err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "upstream.CallTool", err)
	}
	return result, nil
}

// maxAttempts returns the number of attempts an operation against cfg
// gets before giving up (spec §4.2 step 3).
func (m *Manager) maxAttempts(cfg domain.ServerConfig) int {
	if cfg.Transport.Kind == domain.TransportStdio {
		return m.stdioRetries + 1
	}
	return 1
}

// doWithRetry runs op against a live connection for serverID, retrying
// up to maxAttempts times with backoff sleep between attempts (spec
// §4.2 "Operation retry policy").
func (m *Manager) doWithRetry(ctx context.Context, serverID string, op func(conn domain.Conn) error) error {
	m.mu.RLock()
	cfg, ok := m.configs[serverID]
	state, hasState := m.conns[serverID]
	m.mu.RUnlock()
	if !ok || !hasState {
		return domain.E(domain.CodeNotFound, "upstream.doWithRetry", fmt.Sprintf("server %s not found", serverID), domain.ErrServerNotFound)
	}

	state.mu.Lock()
	state.totalCalls++
	state.mu.Unlock()

	if !cfg.Enabled {
		return domain.E(domain.CodeFailedPrecond, "upstream.doWithRetry", fmt.Sprintf("server %s is disabled", serverID), domain.ErrServerDisabled)
	}

	attempts := m.maxAttempts(cfg)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := m.connect(ctx, serverID, cfg, state)
		if err == nil {
			err = op(conn)
		}
		if err == nil {
			m.recordSuccess(serverID, state)
			return nil
		}

		lastErr = err
		m.recordFailure(serverID, state, err)
		if attempt == attempts {
			break
		}
		state.mu.Lock()
		delay := state.backoff.Peek()
		m.logger.Warn("upstream operation failed, retrying",
			zap.String("server", serverID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		state.backoff.Sleep(ctx)
		state.mu.Unlock()
		if ctx.Err() != nil {
			return domain.Wrap(domain.CodeUnavailable, "upstream.doWithRetry", ctx.Err())
		}
	}
	return domain.E(domain.CodeUnavailable, "upstream.doWithRetry", fmt.Sprintf("operation against %s failed after %d attempts", serverID, attempts), lastErr)
}

// connect returns a live Conn for serverID, dialing (gated by
// nextRetryAt) if none is cached yet. It does not record call
// counters or failure/success bookkeeping; doWithRetry does that.
func (m *Manager) connect(ctx context.Context, serverID string, cfg domain.ServerConfig, state *upstreamConn) (domain.Conn, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.conn != nil && state.state == domain.ConnConnected {
		return state.conn, nil
	}

	if state.nextRetryAt != nil && time.Now().Before(*state.nextRetryAt) {
		return nil, domain.E(domain.CodeUnavailable, "upstream.connect", fmt.Sprintf("server %s is backing off until %s", serverID, state.nextRetryAt.Format(time.RFC3339)), domain.ErrConnectAttemptFailed)
	}

	transport, ok := m.transports[cfg.Transport.Kind]
	if !ok {
		return nil, domain.E(domain.CodeFailedPrecond, "upstream.connect", fmt.Sprintf("no transport registered for kind %s", cfg.Transport.Kind), nil)
	}

	state.state = domain.ConnConnecting
	conn, err := transport.Connect(ctx, cfg)
	if err != nil {
		state.state = domain.ConnIdle
		return nil, domain.E(domain.CodeUnavailable, "upstream.connect", fmt.Sprintf("connect to %s failed", serverID), err)
	}

	state.conn = conn
	state.state = domain.ConnConnected
	now := time.Now()
	state.lastConnectedAt = &now
	return conn, nil
}

// recordFailure updates failure counters, drops the cached connection
// so the next attempt reconnects, and stamps nextRetryAt with the
// backoff delay the caller is about to sleep for.
func (m *Manager) recordFailure(serverID string, state *upstreamConn, err error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.failedCalls++
	state.consecutiveFailures++
	state.restarts++
	now := time.Now()
	state.lastFailureAt = &now
	state.lastError = err.Error()

	if state.conn != nil {
		_ = state.conn.Close()
	}
	state.conn = nil
	state.state = domain.ConnIdle

	retryAt := now.Add(state.backoff.Peek())
	state.nextRetryAt = &retryAt

	m.metrics.ObserveUpstreamCall(serverID, false)
	m.metrics.SetHealthGauge(serverID, state.consecutiveFailures, false)
}

// recordSuccess resets failure bookkeeping after an operation
// completes without error.
func (m *Manager) recordSuccess(serverID string, state *upstreamConn) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.successfulCalls++
	state.consecutiveFailures = 0
	state.lastError = ""
	state.nextRetryAt = nil
	state.backoff.Reset()
	now := time.Now()
	state.lastSuccessAt = &now

	m.metrics.ObserveUpstreamCall(serverID, true)
	m.metrics.SetHealthGauge(serverID, 0, true)
}

// GetHealthSnapshot returns the derived status for every configured
// server, sorted by server id (spec §3, §4.2).
func (m *Manager) GetHealthSnapshot(ctx context.Context) ([]domain.HealthSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.HealthSnapshot, 0, len(m.configs))
	for id, cfg := range m.configs {
		state := m.conns[id]
		out = append(out, buildSnapshot(id, cfg, state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out, nil
}

func buildSnapshot(id string, cfg domain.ServerConfig, state *upstreamConn) domain.HealthSnapshot {
	snap := domain.HealthSnapshot{
		ServerID:  id,
		Transport: cfg.Transport.Kind,
		Enabled:   cfg.Enabled,
	}
	if !cfg.Enabled {
		snap.Status = domain.StatusDisabled
		return snap
	}
	if state == nil {
		snap.Status = domain.StatusDegraded
		return snap
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	snap.Connected = state.state == domain.ConnConnected
	snap.TotalCalls = state.totalCalls
	snap.SuccessfulCalls = state.successfulCalls
	snap.FailedCalls = state.failedCalls
	snap.ConsecutiveFailures = state.consecutiveFailures
	snap.Restarts = state.restarts
	snap.LastError = state.lastError
	snap.LastConnectedAt = state.lastConnectedAt
	snap.LastSuccessAt = state.lastSuccessAt
	snap.LastFailureAt = state.lastFailureAt
	snap.NextRetryAt = state.nextRetryAt

	// Per spec §4.2: healthy requires both a live connection and zero
	// consecutive failures; down is purely a function of the failure
	// count; everything else enabled is degraded, including a
	// never-yet-contacted server.
	switch {
	case snap.Connected && state.consecutiveFailures == 0:
		snap.Status = domain.StatusHealthy
	case state.consecutiveFailures >= downThreshold:
		snap.Status = domain.StatusDown
	default:
		snap.Status = domain.StatusDegraded
	}
	return snap
}

// CloseAll closes every live connection, for clean shutdown.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, state := range m.conns {
		state.mu.Lock()
		if state.conn != nil {
			if err := state.conn.Close(); err != nil {
				m.logger.Warn("close upstream connection failed", zap.String("server", id), zap.Error(err))
			}
			state.conn = nil
			state.state = domain.ConnClosed
		}
		state.mu.Unlock()
	}
}

var _ domain.UpstreamManager = (*Manager)(nil)
