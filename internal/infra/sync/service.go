// Package sync implements the Sync Service (spec §4.3): pulls each
// upstream's tool list, snapshots it to disk, and replaces the
// corresponding rows in the Catalog Store.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

// minIntervalSeconds is the interval floor from spec §4.3: any
// configured value below this is clamped up to it.
const minIntervalSeconds = 10

// Service is the concrete domain.SyncService.
type Service struct {
	upstream    domain.UpstreamManager
	catalog     domain.CatalogStore
	logger      *zap.Logger
	snapshotDir string

	mu      sync.Mutex
	started bool
	ticker  *time.Ticker
	stop    chan struct{}
}

// New builds a Service that writes snapshot files under snapshotDir.
func New(upstream domain.UpstreamManager, catalog domain.CatalogStore, snapshotDir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		upstream:    upstream,
		catalog:     catalog,
		logger:      logger.Named("sync"),
		snapshotDir: snapshotDir,
	}
}

// SyncServer fetches server's current tool list, writes a snapshot file,
// and atomically replaces its rows in the Catalog Store.
func (s *Service) SyncServer(ctx context.Context, server domain.ServerConfig) (*domain.Snapshot, error) {
	if !server.Enabled {
		return nil, domain.E(domain.CodeFailedPrecond, "sync.SyncServer", fmt.Sprintf("server %s is disabled", server.ID), domain.ErrServerDisabled)
	}

	s.logger.Info("sync starting", zap.String("server", server.ID))

	tools, err := s.upstream.ListTools(ctx, server.ID)
	if err != nil {
		return nil, domain.Wrap(domain.CodeUnavailable, "sync.SyncServer", err)
	}

	fetchedAt := time.Now().UTC()
	payload := domain.SnapshotPayload{FetchedAt: fetchedAt, Server: server, Tools: tools}
	hash, err := hashPayload(payload)
	if err != nil {
		return nil, domain.E(domain.CodeInternal, "sync.SyncServer", "hash snapshot payload", err)
	}

	snapshotPath, err := s.writeSnapshotFile(server.ID, fetchedAt, hash, payload)
	if err != nil {
		return nil, domain.E(domain.CodeInternal, "sync.SyncServer", "write snapshot file", err)
	}

	records := make([]domain.ToolRecord, 0, len(tools))
	for _, tool := range tools {
		records = append(records, domain.ToolRecord{
			ServerID:       server.ID,
			ToolName:       tool.Name,
			Title:          tool.Title,
			Description:    tool.Description,
			InputSchema:    tool.InputSchema,
			OutputSchema:   tool.OutputSchema,
			Annotations:    tool.Annotations,
			SearchableText: searchableText(tool),
			SnapshotHash:   hash,
		})
	}

	if err := s.catalog.ReplaceServerTools(ctx, server.ID, hash, snapshotPath, records); err != nil {
		return nil, domain.E(domain.CodeInternal, "sync.SyncServer", "replace catalog rows", err)
	}

	s.logger.Info("sync completed",
		zap.String("server", server.ID),
		zap.String("hash", hash),
		zap.Int("toolCount", len(tools)))

	return &domain.Snapshot{
		ServerID:     server.ID,
		SnapshotHash: hash,
		SnapshotPath: snapshotPath,
		CreatedAt:    fetchedAt,
	}, nil
}

// SyncAllServers syncs every enabled server sequentially, collecting a
// result (possibly an error) per server rather than failing fast, so one
// broken upstream never blocks the rest (spec §4.3).
func (s *Service) SyncAllServers(ctx context.Context) ([]domain.SyncResult, error) {
	configs, err := s.upstream.ListServerConfigs(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInternal, "sync.SyncAllServers", err)
	}

	results := make([]domain.SyncResult, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		snap, err := s.SyncServer(ctx, cfg)
		if err != nil {
			s.logger.Warn("sync server failed", zap.String("server", cfg.ID), zap.Error(err))
		}
		results = append(results, domain.SyncResult{ServerID: cfg.ID, Snapshot: snap, Err: err})
	}
	return results, nil
}

// StartIntervalSync runs SyncAllServers once immediately, then on a
// ticker at max(seconds, minIntervalSeconds), until Stop is called.
func (s *Service) StartIntervalSync(ctx context.Context, seconds int) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	if seconds < minIntervalSeconds {
		seconds = minIntervalSeconds
	}

	if _, err := s.SyncAllServers(ctx); err != nil {
		s.logger.Warn("initial sync failed", zap.Error(err))
	}

	s.mu.Lock()
	s.ticker = time.NewTicker(time.Duration(seconds) * time.Second)
	ticker := s.ticker
	stop := s.stop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := s.SyncAllServers(ctx); err != nil {
					s.logger.Warn("interval sync failed", zap.Error(err))
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the interval sync ticker, if running.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.started = false
}

// hashPayload computes the first 16 hex characters of the SHA-256 of
// payload's JSON encoding (spec §4.3 step 2).
func hashPayload(payload domain.SnapshotPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16], nil
}

func (s *Service) writeSnapshotFile(serverID string, fetchedAt time.Time, hash string, payload domain.SnapshotPayload) (string, error) {
	dir := filepath.Join(s.snapshotDir, serverID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("%s-%s.json", isoFilename(fetchedAt), hash)
	path := filepath.Join(dir, filename)
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// isoFilename renders t as a UTC ISO-8601 timestamp with milliseconds,
// then replaces '.' and ':' with '-' so it's safe to embed in a
// filename (spec §4.3 step 4, §6 snapshot path layout).
func isoFilename(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	iso = strings.ReplaceAll(iso, ":", "-")
	iso = strings.ReplaceAll(iso, ".", "-")
	return iso
}

// searchableText builds the lowercase, space-joined text catalog
// search matches against: name, title, description, and the JSON text
// of inputSchema and annotations, skipping whichever parts are empty
// (spec §4.3 step 5).
func searchableText(tool domain.RawTool) string {
	parts := []string{
		tool.Name,
		tool.Title,
		tool.Description,
		jsonTextOrEmpty(tool.InputSchema),
		jsonTextOrEmpty(tool.Annotations),
	}
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.ToLower(strings.Join(nonEmpty, " "))
}

func jsonTextOrEmpty(v map[string]any) string {
	if len(v) == 0 {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

var _ domain.SyncService = (*Service)(nil)
