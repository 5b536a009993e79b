// Package app is the composition root: it loads config, wires the
// Catalog Store, Upstream Manager, Sync Service, Tool Proxy, and
// Sandbox Runtime together, and registers the search/execute surface
// on an MCP server over stdio.
package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
	"github.com/VenkatGGG/ThinMCP/internal/infra/catalog"
	"github.com/VenkatGGG/ThinMCP/internal/infra/configload"
	"github.com/VenkatGGG/ThinMCP/internal/infra/proxy"
	"github.com/VenkatGGG/ThinMCP/internal/infra/sandbox"
	"github.com/VenkatGGG/ThinMCP/internal/infra/sync"
	"github.com/VenkatGGG/ThinMCP/internal/infra/telemetry"
	"github.com/VenkatGGG/ThinMCP/internal/infra/transport"
	"github.com/VenkatGGG/ThinMCP/internal/infra/upstream"
	"github.com/VenkatGGG/ThinMCP/internal/toolsurface"
)

// App is the gateway's composition root.
type App struct {
	logger *zap.Logger
}

// ServeConfig is the input to Serve.
type ServeConfig struct {
	ConfigPath string
}

// ValidateConfig is the input to App.ValidateConfig.
type ValidateConfig struct {
	ConfigPath string
}

func New(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{logger: logger.Named("app")}
}

// Serve loads cfg, wires every component, registers the search/execute
// tools on an MCP server over stdio, and blocks until ctx is canceled.
// Shutdown proceeds in the reverse order of startup: sync stops first,
// then upstream connections close, then the catalog store closes.
func (a *App) Serve(ctx context.Context, cfg ServeConfig) error {
	loader := configload.NewLoader(a.logger)
	conf, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration loaded", zap.String("config", cfg.ConfigPath), zap.Int("servers", len(conf.Servers)))

	store, err := catalog.Open(conf.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("catalog store close failed", zap.Error(err))
		}
	}()

	if err := store.UpsertServers(ctx, conf.Servers); err != nil {
		return err
	}

	metrics := telemetry.NewPrometheusMetrics(nil)

	manager := upstream.NewManager(conf.Servers, upstream.Options{
		Logger:  a.logger,
		Metrics: metrics,
		Transports: map[domain.TransportKind]domain.Transport{
			domain.TransportStdio:      transport.NewStdioTransport(a.logger),
			domain.TransportStreamHTTP: transport.NewStreamableHTTPTransport(a.logger),
		},
		BaseBackoff:  time.Duration(conf.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:   time.Duration(conf.MaxBackoffMs) * time.Millisecond,
		StdioRetries: conf.StdioRetries,
	})
	defer manager.CloseAll()

	syncSvc := sync.New(manager, store, conf.SnapshotDir, a.logger)
	if _, err := syncSvc.SyncAllServers(ctx); err != nil {
		a.logger.Warn("initial sync had failures", zap.Error(err))
	}
	syncSvc.StartIntervalSync(ctx, conf.SyncIntervalSeconds)
	defer syncSvc.Stop()

	refresh := domain.RefreshHook(func(ctx context.Context, serverID string) error {
		cfg, err := manager.GetServerConfig(ctx, serverID)
		if err != nil {
			return err
		}
		_, err = syncSvc.SyncServer(ctx, *cfg)
		return err
	})
	toolProxy := proxy.New(store, manager, refresh, a.logger)

	runtime := sandbox.NewRuntime(a.logger)
	surface := toolsurface.New(store, toolProxy, runtime, a.logger)

	server := mcp.NewServer(&mcp.Implementation{Name: "thinmcp-gateway", Version: "0.1.0"}, nil)
	registerTools(server, surface)

	transportErrCh := make(chan error, 1)
	go func() {
		transportErrCh <- server.Run(ctx, &mcp.StdioTransport{})
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-transportErrCh:
		return err
	}
}

var codeArgSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"code": map[string]any{
			"type":        "string",
			"description": "the JavaScript-like snippet to run",
		},
	},
	"required": []string{"code"},
}

func registerTools(server *mcp.Server, surface *toolsurface.Surface) {
	server.AddTool(&mcp.Tool{
		Name:        "search",
		Description: "Run a short async snippet against the tool catalog (catalog.listServers/findTools/getTool) and return its result.",
		InputSchema: codeArgSchema,
	}, codeHandler(surface.Search))

	server.AddTool(&mcp.Tool{
		Name:        "execute",
		Description: "Run a short async snippet that calls tool.call(...) against an upstream tool and return its normalized result.",
		InputSchema: codeArgSchema,
	}, codeHandler(surface.Execute))
}

func codeHandler(run func(ctx context.Context, code string) *mcp.CallToolResult) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: "invalid arguments: " + err.Error()}},
			}, nil
		}
		return run(ctx, args.Code), nil
	}
}

// ValidateConfig loads and validates the config at cfg.ConfigPath without
// starting any upstream connections or the sync scheduler.
func (a *App) ValidateConfig(ctx context.Context, cfg ValidateConfig) error {
	loader := configload.NewLoader(a.logger)
	conf, err := loader.Load(ctx, cfg.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration validated", zap.String("config", cfg.ConfigPath), zap.Int("servers", len(conf.Servers)))
	return nil
}
