package domain

import "context"

// CatalogStore is the durable, indexed record of upstream servers and
// their tools (spec §4.1).
type CatalogStore interface {
	UpsertServers(ctx context.Context, configs []ServerConfig) error
	ReplaceServerTools(ctx context.Context, serverID, snapshotHash, snapshotPath string, tools []ToolRecord) error
	ListServers(ctx context.Context) ([]ServerRecord, error)
	SearchTools(ctx context.Context, q ToolQuery) ([]ToolRecord, error)
	GetTool(ctx context.Context, serverID, toolName string) (*ToolRecord, error)
	Close() error
}

// Conn is a live connection to one upstream, hiding the transport.
type Conn interface {
	ListTools(ctx context.Context) ([]RawTool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error)
	Close() error
}

// Transport establishes a Conn for one server config.
type Transport interface {
	Connect(ctx context.Context, cfg ServerConfig) (Conn, error)
}

// UpstreamManager owns one logical connection per upstream (spec §4.2).
type UpstreamManager interface {
	ListServerConfigs(ctx context.Context) ([]ServerConfig, error)
	GetServerConfig(ctx context.Context, serverID string) (*ServerConfig, error)
	ListTools(ctx context.Context, serverID string) ([]RawTool, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResult, error)
	GetHealthSnapshot(ctx context.Context) ([]HealthSnapshot, error)
	CloseAll()
}

// SyncService pulls tool lists from upstreams and writes snapshots
// (spec §4.3).
type SyncService interface {
	SyncServer(ctx context.Context, server ServerConfig) (*Snapshot, error)
	SyncAllServers(ctx context.Context) ([]SyncResult, error)
	StartIntervalSync(ctx context.Context, seconds int)
	Stop()
}

// SyncResult is one server's outcome from a SyncAllServers pass.
type SyncResult struct {
	ServerID string
	Snapshot *Snapshot
	Err      error
}

// RefreshHook triggers a targeted, synchronous sync for one server
// (injected into the Tool Proxy; spec §4.4 step 3).
type RefreshHook func(ctx context.Context, serverID string) error

// ToolProxy authorizes, validates, and routes a tool invocation
// (spec §4.4).
type ToolProxy interface {
	Call(ctx context.Context, req ToolCallRequest) (*ToolCallResult, error)
}

// SandboxRuntime runs a user-supplied async code snippet in isolation
// (spec §4.5).
type SandboxRuntime interface {
	Run(ctx context.Context, req SandboxRequest) (any, error)
}

// SandboxRequest is the input to the Sandbox Runtime.
type SandboxRequest struct {
	Code          string
	TimeoutMs     int
	MaxCodeLength int
	Globals       map[string]any
}

// Metrics is the ambient observability surface; the core only depends
// on this interface, never on a concrete exporter.
type Metrics interface {
	ObserveUpstreamCall(serverID string, success bool)
	SetHealthGauge(serverID string, consecutiveFailures int64, connected bool)
}
