package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

func TestStoreReplaceServerToolsReplacesRowsAndStampsLastSyncedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	cfg := domain.ServerConfig{ID: "svc-a", Name: "svc-a", Enabled: true}
	require.NoError(t, store.UpsertServers(ctx, []domain.ServerConfig{cfg}))

	first := []domain.ToolRecord{
		{ServerID: "svc-a", ToolName: "alpha", SearchableText: "alpha"},
		{ServerID: "svc-a", ToolName: "beta", SearchableText: "beta"},
	}
	require.NoError(t, store.ReplaceServerTools(ctx, "svc-a", "hash-1", "/snap/1", first))

	tools, err := store.SearchTools(ctx, domain.ToolQuery{ServerID: "svc-a"})
	require.NoError(t, err)
	require.Len(t, tools, 2)

	// Replacing with a smaller set drops the old rows instead of merging.
	second := []domain.ToolRecord{
		{ServerID: "svc-a", ToolName: "gamma", SearchableText: "gamma"},
	}
	require.NoError(t, store.ReplaceServerTools(ctx, "svc-a", "hash-2", "/snap/2", second))

	tools, err = store.SearchTools(ctx, domain.ToolQuery{ServerID: "svc-a"})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "gamma", tools[0].ToolName)

	servers, err := store.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.NotNil(t, servers[0].LastSyncedAt)
}

func TestStoreUpsertServersPreservesLastSyncedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	cfg := domain.ServerConfig{ID: "svc-a", Name: "svc-a", Enabled: true}
	require.NoError(t, store.UpsertServers(ctx, []domain.ServerConfig{cfg}))
	require.NoError(t, store.ReplaceServerTools(ctx, "svc-a", "hash-1", "/snap/1", nil))

	servers, err := store.ListServers(ctx)
	require.NoError(t, err)
	require.NotNil(t, servers[0].LastSyncedAt)
	syncedAt := *servers[0].LastSyncedAt

	// Re-upserting the bootstrap config (e.g. on restart) must not wipe
	// the sync bookkeeping it doesn't itself own.
	cfg.Name = "renamed"
	require.NoError(t, store.UpsertServers(ctx, []domain.ServerConfig{cfg}))

	servers, err = store.ListServers(ctx)
	require.NoError(t, err)
	require.Equal(t, "renamed", servers[0].Config.Name)
	require.Equal(t, syncedAt, *servers[0].LastSyncedAt)
}

func TestStoreSearchToolsDeterministicOrderingAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	require.NoError(t, store.UpsertServers(ctx, []domain.ServerConfig{
		{ID: "svc-b", Name: "svc-b", Enabled: true},
		{ID: "svc-a", Name: "svc-a", Enabled: true},
	}))
	require.NoError(t, store.ReplaceServerTools(ctx, "svc-b", "h", "/s", []domain.ToolRecord{
		{ServerID: "svc-b", ToolName: "zeta", SearchableText: "zeta tool"},
	}))
	require.NoError(t, store.ReplaceServerTools(ctx, "svc-a", "h", "/s", []domain.ToolRecord{
		{ServerID: "svc-a", ToolName: "alpha", SearchableText: "alpha tool"},
	}))

	tools, err := store.SearchTools(ctx, domain.ToolQuery{Query: "tool"})
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "svc-a", tools[0].ServerID)
	require.Equal(t, "svc-b", tools[1].ServerID)

	tools, err = store.SearchTools(ctx, domain.ToolQuery{Query: "tool", Limit: 1})
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, "svc-a", tools[0].ServerID)
}

func TestStoreGetToolMissReturnsNilNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	tool, err := store.GetTool(context.Background(), "nope", "nope")
	require.NoError(t, err)
	require.Nil(t, tool)
}
