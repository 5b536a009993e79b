package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

type fakeConn struct {
	closed bool
}

func (c *fakeConn) ListTools(ctx context.Context) ([]domain.RawTool, error) { return nil, nil }

func (c *fakeConn) CallTool(ctx context.Context, name string, arguments map[string]any) (*domain.ToolCallResult, error) {
	return &domain.ToolCallResult{}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeTransport struct {
	failUntil int
	attempts  int
}

func (t *fakeTransport) Connect(ctx context.Context, cfg domain.ServerConfig) (domain.Conn, error) {
	t.attempts++
	if t.attempts <= t.failUntil {
		return nil, errors.New("dial refused")
	}
	return &fakeConn{}, nil
}

func testConfig(id string, enabled bool) domain.ServerConfig {
	return domain.ServerConfig{
		ID:      id,
		Name:    id,
		Enabled: enabled,
		Transport: domain.TransportSpec{
			Kind:  domain.TransportStdio,
			Stdio: &domain.StdioTransportSpec{Command: "echo"},
		},
	}
}

func TestManagerHealthSnapshotDisabledServer(t *testing.T) {
	cfg := testConfig("svc-disabled", false)
	mgr := NewManager([]domain.ServerConfig{cfg}, Options{})

	snaps, err := mgr.GetHealthSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, domain.StatusDisabled, snaps[0].Status)
	require.False(t, snaps[0].Connected)
}

func TestManagerCallToolAgainstDisabledServerFails(t *testing.T) {
	cfg := testConfig("svc-disabled", false)
	mgr := NewManager([]domain.ServerConfig{cfg}, Options{
		Transports: map[domain.TransportKind]domain.Transport{domain.TransportStdio: &fakeTransport{}},
	})

	_, err := mgr.CallTool(context.Background(), domain.ToolCallRequest{ServerID: "svc-disabled", Name: "x"})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrServerDisabled)
}

func TestManagerListToolsRetriesInternallyThenSucceeds(t *testing.T) {
	cfg := testConfig("svc-flaky", true)
	ft := &fakeTransport{failUntil: 2}
	mgr := NewManager([]domain.ServerConfig{cfg}, Options{
		Transports:   map[domain.TransportKind]domain.Transport{domain.TransportStdio: ft},
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		StdioRetries: 3,
	})

	_, err := mgr.ListTools(context.Background(), "svc-flaky")
	require.NoError(t, err)
	require.Equal(t, 3, ft.attempts)

	snaps, err := mgr.GetHealthSnapshot(context.Background())
	require.NoError(t, err)
	require.True(t, snaps[0].Connected)
	require.Equal(t, domain.StatusHealthy, snaps[0].Status)
	require.Equal(t, int64(0), snaps[0].ConsecutiveFailures)
	require.Equal(t, int64(2), snaps[0].Restarts)
	require.Nil(t, snaps[0].NextRetryAt)
}

func TestManagerListToolsExhaustsAttemptsAndReportsDown(t *testing.T) {
	cfg := testConfig("svc-down", true)
	ft := &fakeTransport{failUntil: 1000}
	mgr := NewManager([]domain.ServerConfig{cfg}, Options{
		Transports:   map[domain.TransportKind]domain.Transport{domain.TransportStdio: ft},
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   2 * time.Millisecond,
		StdioRetries: 2,
	})

	_, err := mgr.ListTools(context.Background(), "svc-down")
	require.Error(t, err)
	require.Equal(t, 3, ft.attempts) // maxAttempts = stdioRetries(2) + 1

	snaps, err := mgr.GetHealthSnapshot(context.Background())
	require.NoError(t, err)
	require.False(t, snaps[0].Connected)
	require.Equal(t, domain.StatusDown, snaps[0].Status)
	require.Equal(t, int64(3), snaps[0].ConsecutiveFailures)
	require.Equal(t, int64(3), snaps[0].Restarts)
	require.NotNil(t, snaps[0].NextRetryAt)
}

func TestManagerCallToolAgainstHTTPServerDoesNotRetry(t *testing.T) {
	cfg := domain.ServerConfig{
		ID:      "svc-http",
		Name:    "svc-http",
		Enabled: true,
		Transport: domain.TransportSpec{
			Kind: domain.TransportStreamHTTP,
			HTTP: &domain.HTTPTransportSpec{URL: "https://upstream.example"},
		},
	}
	ft := &fakeTransport{failUntil: 1000}
	mgr := NewManager([]domain.ServerConfig{cfg}, Options{
		Transports:  map[domain.TransportKind]domain.Transport{domain.TransportStreamHTTP: ft},
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})

	_, err := mgr.CallTool(context.Background(), domain.ToolCallRequest{ServerID: "svc-http", Name: "x"})
	require.Error(t, err)
	require.Equal(t, 1, ft.attempts)
}

func TestManagerHealthSnapshotSortedByServerID(t *testing.T) {
	mgr := NewManager([]domain.ServerConfig{
		testConfig("svc-c", true),
		testConfig("svc-a", true),
		testConfig("svc-b", true),
	}, Options{})

	snaps, err := mgr.GetHealthSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	require.Equal(t, []string{"svc-a", "svc-b", "svc-c"}, []string{snaps[0].ServerID, snaps[1].ServerID, snaps[2].ServerID})
}

func TestManagerHealthSnapshotNeverContactedServerIsDegraded(t *testing.T) {
	cfg := testConfig("svc-fresh", true)
	mgr := NewManager([]domain.ServerConfig{cfg}, Options{})

	snaps, err := mgr.GetHealthSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.False(t, snaps[0].Connected)
	require.Equal(t, int64(0), snaps[0].ConsecutiveFailures)
	require.Equal(t, domain.StatusDegraded, snaps[0].Status)
}

func TestManagerUnknownServerNotFound(t *testing.T) {
	mgr := NewManager(nil, Options{})
	_, err := mgr.GetServerConfig(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrServerNotFound)
}
