//go:build wireinject
// +build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
	"github.com/VenkatGGG/ThinMCP/internal/infra/proxy"
	"github.com/VenkatGGG/ThinMCP/internal/infra/sandbox"
	"github.com/VenkatGGG/ThinMCP/internal/toolsurface"
)

var CoreInfraSet = wire.NewSet(
	catalogOpenProvider,
	upstreamManagerProvider,
	syncServiceProvider,
	refreshHookProvider,
	proxyProvider,
	wire.Bind(new(domain.ToolProxy), new(*proxy.Proxy)),
	sandboxRuntimeProvider,
	wire.Bind(new(domain.SandboxRuntime), new(*sandbox.Runtime)),
	toolsurface.New,
)

var AppSet = wire.NewSet(
	CoreInfraSet,
	New,
)
