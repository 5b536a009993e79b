// Package catalog implements the Catalog Store (spec §4.1) on top of
// go.etcd.io/bbolt, the same embedded, transactional key-value store the
// teacher uses for its own local persistence (internal/ui/uiconfig).
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/VenkatGGG/ThinMCP/internal/domain"
)

var (
	bucketServers   = []byte("servers")
	bucketTools     = []byte("tools")
	bucketSnapshots = []byte("snapshots")
)

const keySep = "\x00"

// ErrClosed is returned by any operation on a closed Store.
var ErrClosed = errors.New("catalog store is closed")

// Store is a bbolt-backed implementation of domain.CatalogStore.
type Store struct {
	mu     sync.RWMutex
	db     *bolt.DB
	closed bool
}

// Open opens (creating if needed) the catalog database at path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("catalog db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalog dir: %w", err)
	}
	db, err := bolt.Open(trimmed, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketServers, bucketTools, bucketSnapshots} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(fn)
}

func toolKey(serverID, toolName string) []byte {
	return []byte(serverID + keySep + toolName)
}

func toolPrefix(serverID string) []byte {
	return []byte(serverID + keySep)
}

func snapshotKey(serverID, hash string) []byte {
	return []byte(serverID + keySep + hash)
}

// UpsertServers idempotently bulk-upserts server configs by id,
// preserving lastSyncedAt (spec §4.1).
func (s *Store) UpsertServers(ctx context.Context, configs []domain.ServerConfig) error {
	return s.update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketServers)
		for _, cfg := range configs {
			record := domain.ServerRecord{Config: cfg}
			if existing := bucket.Get([]byte(cfg.ID)); existing != nil {
				var prev domain.ServerRecord
				if err := json.Unmarshal(existing, &prev); err == nil {
					record.LastSyncedAt = prev.LastSyncedAt
				}
			}
			raw, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal server %s: %w", cfg.ID, err)
			}
			if err := bucket.Put([]byte(cfg.ID), raw); err != nil {
				return fmt.Errorf("put server %s: %w", cfg.ID, err)
			}
		}
		return nil
	})
}

// ReplaceServerTools atomically replaces serverID's tool rows, registers
// the snapshot, and stamps lastSyncedAt (spec §4.1, invariant 1).
func (s *Store) ReplaceServerTools(ctx context.Context, serverID, snapshotHash, snapshotPath string, tools []domain.ToolRecord) error {
	return s.update(func(tx *bolt.Tx) error {
		toolsBucket := tx.Bucket(bucketTools)
		serversBucket := tx.Bucket(bucketServers)
		snapshotsBucket := tx.Bucket(bucketSnapshots)

		if err := deletePrefix(toolsBucket, toolPrefix(serverID)); err != nil {
			return fmt.Errorf("delete existing tools for %s: %w", serverID, err)
		}
		for _, tool := range tools {
			tool.ServerID = serverID
			tool.SnapshotHash = snapshotHash
			raw, err := json.Marshal(tool)
			if err != nil {
				return fmt.Errorf("marshal tool %s/%s: %w", serverID, tool.ToolName, err)
			}
			if err := toolsBucket.Put(toolKey(serverID, tool.ToolName), raw); err != nil {
				return fmt.Errorf("put tool %s/%s: %w", serverID, tool.ToolName, err)
			}
		}

		snapKey := snapshotKey(serverID, snapshotHash)
		if snapshotsBucket.Get(snapKey) == nil {
			snap := domain.Snapshot{
				ServerID:     serverID,
				SnapshotHash: snapshotHash,
				SnapshotPath: snapshotPath,
				CreatedAt:    nowUTC(),
			}
			raw, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}
			if err := snapshotsBucket.Put(snapKey, raw); err != nil {
				return fmt.Errorf("put snapshot: %w", err)
			}
		}

		existing := serversBucket.Get([]byte(serverID))
		var record domain.ServerRecord
		if existing != nil {
			if err := json.Unmarshal(existing, &record); err != nil {
				record = domain.ServerRecord{}
			}
		}
		record.Config.ID = serverID
		now := nowUTC()
		record.LastSyncedAt = &now
		raw, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal server %s: %w", serverID, err)
		}
		return serversBucket.Put([]byte(serverID), raw)
	})
}

func deletePrefix(bucket *bolt.Bucket, prefix []byte) error {
	cursor := bucket.Cursor()
	var keys [][]byte
	for k, _ := cursor.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = cursor.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

// ListServers returns all server records ordered by id (bbolt keeps
// keys sorted, so iteration order is already deterministic).
func (s *Store) ListServers(ctx context.Context) ([]domain.ServerRecord, error) {
	var out []domain.ServerRecord
	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketServers)
		return bucket.ForEach(func(k, v []byte) error {
			var record domain.ServerRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return nil // corrupt row: skip rather than fail the whole query
			}
			out = append(out, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTool looks up a single (serverId, toolName) row.
func (s *Store) GetTool(ctx context.Context, serverID, toolName string) (*domain.ToolRecord, error) {
	var found *domain.ToolRecord
	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTools)
		raw := bucket.Get(toolKey(serverID, toolName))
		if raw == nil {
			return nil
		}
		var record domain.ToolRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			return nil // malformed row: treat as a miss, per spec §4.1
		}
		found = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// SearchTools implements the substring search described in spec §4.1.
func (s *Store) SearchTools(ctx context.Context, q domain.ToolQuery) ([]domain.ToolRecord, error) {
	limit := domain.ClampLimit(q.Limit)
	needle := strings.ToLower(strings.TrimSpace(q.Query))

	var all []domain.ToolRecord
	err := s.view(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketTools)
		var prefix []byte
		if q.ServerID != "" {
			prefix = toolPrefix(q.ServerID)
		}
		cursor := bucket.Cursor()
		var k, v []byte
		if prefix != nil {
			k, v = cursor.Seek(prefix)
		} else {
			k, v = cursor.First()
		}
		for ; k != nil; k, v = cursor.Next() {
			if prefix != nil && !hasPrefix(k, prefix) {
				break
			}
			var record domain.ToolRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue
			}
			if needle != "" && !strings.Contains(record.SearchableText, needle) {
				continue
			}
			all = append(all, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].ServerID != all[j].ServerID {
			return all[i].ServerID < all[j].ServerID
		}
		return all[i].ToolName < all[j].ToolName
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func nowUTC() time.Time { return time.Now().UTC() }

var _ domain.CatalogStore = (*Store)(nil)
