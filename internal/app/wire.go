//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
	"github.com/VenkatGGG/ThinMCP/internal/infra/catalog"
	"github.com/VenkatGGG/ThinMCP/internal/infra/proxy"
	"github.com/VenkatGGG/ThinMCP/internal/infra/sandbox"
	"github.com/VenkatGGG/ThinMCP/internal/infra/sync"
	"github.com/VenkatGGG/ThinMCP/internal/infra/upstream"
)

// InitializeApp is the wire entry point. Serve wires the same graph by
// hand in app.go since `wire` generated code cannot be produced here;
// this file documents the intended dependency graph.
func InitializeApp(ctx context.Context, conf Config, logger *zap.Logger) (*App, func(), error) {
	wire.Build(AppSet)
	return nil, nil, nil
}

// Config mirrors configload.Config's fields relevant to wiring, kept
// local so this generator file has no import cycle back onto app.go's
// concrete Serve implementation.
type Config struct {
	DBPath       string
	SnapshotDir  string
	StdioRetries int
	Servers      []domain.ServerConfig
}

func catalogOpenProvider(conf Config) (*catalog.Store, func(), error) {
	store, err := catalog.Open(conf.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func upstreamManagerProvider(conf Config, logger *zap.Logger) *upstream.Manager {
	return upstream.NewManager(conf.Servers, upstream.Options{Logger: logger, StdioRetries: conf.StdioRetries})
}

func syncServiceProvider(mgr *upstream.Manager, store *catalog.Store, conf Config, logger *zap.Logger) *sync.Service {
	return sync.New(mgr, store, conf.SnapshotDir, logger)
}

func refreshHookProvider(mgr *upstream.Manager, svc *sync.Service) domain.RefreshHook {
	return func(ctx context.Context, serverID string) error {
		cfg, err := mgr.GetServerConfig(ctx, serverID)
		if err != nil {
			return err
		}
		_, err = svc.SyncServer(ctx, *cfg)
		return err
	}
}

func proxyProvider(store *catalog.Store, mgr *upstream.Manager, refresh domain.RefreshHook, logger *zap.Logger) *proxy.Proxy {
	return proxy.New(store, mgr, refresh, logger)
}

func sandboxRuntimeProvider(logger *zap.Logger) *sandbox.Runtime {
	return sandbox.NewRuntime(logger)
}
