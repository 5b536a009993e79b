package proxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

type fakeCatalog struct {
	tools map[string]domain.ToolRecord
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tools: make(map[string]domain.ToolRecord)}
}

func (c *fakeCatalog) key(serverID, name string) string { return serverID + "\x00" + name }

func (c *fakeCatalog) put(t domain.ToolRecord) { c.tools[c.key(t.ServerID, t.ToolName)] = t }

func (c *fakeCatalog) UpsertServers(ctx context.Context, configs []domain.ServerConfig) error { return nil }
func (c *fakeCatalog) ReplaceServerTools(ctx context.Context, serverID, snapshotHash, snapshotPath string, tools []domain.ToolRecord) error {
	return nil
}
func (c *fakeCatalog) ListServers(ctx context.Context) ([]domain.ServerRecord, error) { return nil, nil }
func (c *fakeCatalog) SearchTools(ctx context.Context, q domain.ToolQuery) ([]domain.ToolRecord, error) {
	return nil, nil
}
func (c *fakeCatalog) GetTool(ctx context.Context, serverID, toolName string) (*domain.ToolRecord, error) {
	t, ok := c.tools[c.key(serverID, toolName)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (c *fakeCatalog) Close() error { return nil }

type fakeUpstream struct {
	config     domain.ServerConfig
	calls      []domain.ToolCallRequest
	callResult *domain.ToolCallResult
}

func (u *fakeUpstream) ListServerConfigs(ctx context.Context) ([]domain.ServerConfig, error) {
	return []domain.ServerConfig{u.config}, nil
}
func (u *fakeUpstream) GetServerConfig(ctx context.Context, serverID string) (*domain.ServerConfig, error) {
	if serverID != u.config.ID {
		return nil, domain.E(domain.CodeNotFound, "fakeUpstream.GetServerConfig", "not found", domain.ErrServerNotFound)
	}
	cfg := u.config
	return &cfg, nil
}
func (u *fakeUpstream) ListTools(ctx context.Context, serverID string) ([]domain.RawTool, error) { return nil, nil }
func (u *fakeUpstream) CallTool(ctx context.Context, req domain.ToolCallRequest) (*domain.ToolCallResult, error) {
	u.calls = append(u.calls, req)
	if u.callResult != nil {
		return u.callResult, nil
	}
	return &domain.ToolCallResult{}, nil
}
func (u *fakeUpstream) GetHealthSnapshot(ctx context.Context) ([]domain.HealthSnapshot, error) { return nil, nil }
func (u *fakeUpstream) CloseAll() {}

func echoToolSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"message"},
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	}
}

func setupProxy(t *testing.T, allowList []string) (*Proxy, *fakeCatalog, *fakeUpstream) {
	t.Helper()
	cat := newFakeCatalog()
	cat.put(domain.ToolRecord{
		ServerID:    "svc-a",
		ToolName:    "echo",
		InputSchema: echoToolSchema(),
	})
	up := &fakeUpstream{
		config: domain.ServerConfig{ID: "svc-a", Name: "svc-a", Enabled: true, AllowList: allowList},
	}
	return New(cat, up, nil, nil), cat, up
}

func TestProxyBlocksToolNotInAllowList(t *testing.T) {
	p, _, up := setupProxy(t, []string{"other.*"})

	_, err := p.Call(context.Background(), domain.ToolCallRequest{
		ServerID:  "svc-a",
		Name:      "echo",
		Arguments: map[string]any{"message": "hi"},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrToolNotAllowed)
	require.Empty(t, up.calls)
}

func TestProxyBlocksInvalidArguments(t *testing.T) {
	p, _, up := setupProxy(t, []string{"*"})

	_, err := p.Call(context.Background(), domain.ToolCallRequest{
		ServerID:  "svc-a",
		Name:      "echo",
		Arguments: map[string]any{"wrongField": 1},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrValidationFailed)
	require.Empty(t, up.calls)
}

func TestProxyForwardsValidArguments(t *testing.T) {
	p, _, up := setupProxy(t, []string{"*"})
	up.callResult = &domain.ToolCallResult{Content: []map[string]any{{"type": "text", "text": "ok"}}}

	result, err := p.Call(context.Background(), domain.ToolCallRequest{
		ServerID:  "svc-a",
		Name:      "echo",
		Arguments: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	require.Len(t, up.calls, 1)
	require.Equal(t, "echo", up.calls[0].Name)
	require.Equal(t, up.callResult, result)
}

func TestProxyBlocksDisabledServer(t *testing.T) {
	p, _, up := setupProxy(t, []string{"*"})
	up.config.Enabled = false

	_, err := p.Call(context.Background(), domain.ToolCallRequest{
		ServerID: "svc-a",
		Name:     "echo",
	})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrServerDisabled)
}
