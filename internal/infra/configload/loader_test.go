package configload

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoaderAppliesDefaultsWhenUnset(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: svc-a
    name: svc-a
    transport:
      kind: stdio
      stdio:
        command: /bin/echo
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "gatewayd.db", cfg.DBPath)
	require.Equal(t, "snapshots", cfg.SnapshotDir)
	require.Equal(t, 60, cfg.SyncIntervalSeconds)
	require.Equal(t, 1000, cfg.BaseBackoffMs)
	require.Equal(t, 30000, cfg.MaxBackoffMs)
	require.Len(t, cfg.Servers, 1)
	require.True(t, cfg.Servers[0].Enabled)
	require.Equal(t, domain.TransportStdio, cfg.Servers[0].Transport.Kind)
}

func TestLoaderExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("GATEWAY_TOKEN", "secret-token")
	path := writeConfig(t, `
servers:
  - id: svc-a
    name: svc-a
    transport:
      kind: stream_http
      http:
        url: https://upstream.example/mcp
        bearerEnvVar: ${GATEWAY_TOKEN}
`)

	cfg, err := NewLoader(nil).Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	require.Equal(t, "secret-token", cfg.Servers[0].Transport.HTTP.BearerEnvVar)
}

func TestLoaderRejectsDuplicateServerIDs(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: svc-a
    name: svc-a
    transport:
      kind: stdio
      stdio:
        command: /bin/echo
  - id: svc-a
    name: svc-a-again
    transport:
      kind: stdio
      stdio:
        command: /bin/cat
`)

	_, err := NewLoader(nil).Load(context.Background(), path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate id")
}

func TestLoaderCollectsAllValidationErrorsInsteadOfFailingFast(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: ""
    name: bad-a
    transport:
      kind: stdio
  - id: bad-b
    name: bad-b
    transport:
      kind: bogus
`)

	_, err := NewLoader(nil).Load(context.Background(), path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "id is required")
	require.Contains(t, err.Error(), "transport.kind must be stream_http or stdio")
}

func TestLoaderRejectsMissingHTTPURL(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: svc-a
    name: svc-a
    transport:
      kind: stream_http
      http:
        url: ""
`)

	_, err := NewLoader(nil).Load(context.Background(), path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "transport.http.url is required")
}

func TestLoaderRequiresConfigPath(t *testing.T) {
	_, err := NewLoader(nil).Load(context.Background(), "")
	require.Error(t, err)
}
