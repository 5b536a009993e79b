// Package proxy implements the Tool Proxy (spec §4.4): allow-list
// enforcement, schema validation (with a refresh-on-miss/refresh-on-
// failure escape hatch), and forwarding to the Upstream Manager.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// Proxy is the concrete domain.ToolProxy.
type Proxy struct {
	catalog  domain.CatalogStore
	upstream domain.UpstreamManager
	refresh  domain.RefreshHook
	logger   *zap.Logger

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Resolved
}

// New builds a Proxy. refresh is invoked to pull a fresh snapshot for a
// server on a catalog miss or a validation failure, before giving up.
func New(catalog domain.CatalogStore, upstream domain.UpstreamManager, refresh domain.RefreshHook, logger *zap.Logger) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		catalog:  catalog,
		upstream: upstream,
		refresh:  refresh,
		logger:   logger.Named("proxy"),
		schemas:  make(map[string]*jsonschema.Resolved),
	}
}

// Call authorizes req against the server's allow-list, validates its
// arguments against the tool's input schema, and forwards the call to
// the Upstream Manager (spec §4.4).
func (p *Proxy) Call(ctx context.Context, req domain.ToolCallRequest) (*domain.ToolCallResult, error) {
	cfg, err := p.upstream.GetServerConfig(ctx, req.ServerID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, domain.E(domain.CodeFailedPrecond, "proxy.Call", fmt.Sprintf("server %s is disabled", req.ServerID), domain.ErrServerDisabled)
	}
	if !cfg.AllowsTool(req.Name) {
		return nil, domain.E(domain.CodePermissionDenied, "proxy.Call", fmt.Sprintf("tool %s is not in the allow-list for server %s", req.Name, req.ServerID), domain.ErrToolNotAllowed)
	}

	tool, err := p.lookupTool(ctx, req.ServerID, req.Name)
	if err != nil {
		return nil, err
	}

	if err := p.validate(ctx, tool, req.Arguments); err != nil {
		// One targeted refresh-and-retry: the schema may simply be stale.
		if p.refresh != nil {
			if refreshErr := p.refresh(ctx, req.ServerID); refreshErr == nil {
				if refreshedTool, lookupErr := p.catalog.GetTool(ctx, req.ServerID, req.Name); lookupErr == nil && refreshedTool != nil {
					if revalidateErr := p.validate(ctx, refreshedTool, req.Arguments); revalidateErr == nil {
						return p.forward(ctx, req)
					}
				}
			}
		}
		return nil, domain.E(domain.CodeInvalidArgument, "proxy.Call", fmt.Sprintf("arguments for %s/%s failed schema validation", req.ServerID, req.Name), err)
	}

	return p.forward(ctx, req)
}

func (p *Proxy) forward(ctx context.Context, req domain.ToolCallRequest) (*domain.ToolCallResult, error) {
	return p.upstream.CallTool(ctx, req)
}

// lookupTool fetches the tool's catalog row, triggering one refresh on
// a miss before reporting not-found (spec §4.4 step 3).
func (p *Proxy) lookupTool(ctx context.Context, serverID, name string) (*domain.ToolRecord, error) {
	tool, err := p.catalog.GetTool(ctx, serverID, name)
	if err != nil {
		return nil, domain.E(domain.CodeInternal, "proxy.lookupTool", "catalog lookup failed", err)
	}
	if tool != nil {
		return tool, nil
	}
	if p.refresh != nil {
		if refreshErr := p.refresh(ctx, serverID); refreshErr == nil {
			if refreshed, lookupErr := p.catalog.GetTool(ctx, serverID, name); lookupErr == nil && refreshed != nil {
				return refreshed, nil
			}
		}
	}
	return nil, domain.E(domain.CodeNotFound, "proxy.lookupTool", fmt.Sprintf("tool %s/%s not found", serverID, name), domain.ErrToolNotFound)
}

// validate compiles (with caching, keyed by serverId/toolName/snapshotHash)
// and runs tool's input schema against arguments.
func (p *Proxy) validate(ctx context.Context, tool *domain.ToolRecord, arguments map[string]any) error {
	resolved, err := p.resolvedSchema(tool)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if resolved == nil {
		return nil
	}
	if err := resolved.Validate(arguments); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	return nil
}

func (p *Proxy) resolvedSchema(tool *domain.ToolRecord) (*jsonschema.Resolved, error) {
	if len(tool.InputSchema) == 0 {
		return nil, nil
	}
	key := tool.ServerID + "\x00" + tool.ToolName + "\x00" + tool.SnapshotHash

	p.schemaMu.Lock()
	if cached, ok := p.schemas[key]; ok {
		p.schemaMu.Unlock()
		return cached, nil
	}
	p.schemaMu.Unlock()

	raw, err := toSchemaStruct(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	resolved, err := raw.Resolve(nil)
	if err != nil {
		return nil, err
	}

	p.schemaMu.Lock()
	p.schemas[key] = resolved
	p.schemaMu.Unlock()
	return resolved, nil
}

func toSchemaStruct(m map[string]any) (*jsonschema.Schema, error) {
	var schema jsonschema.Schema
	if err := remarshal(m, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

var _ domain.ToolProxy = (*Proxy)(nil)
