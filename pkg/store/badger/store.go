// Package badger implements store.Store on an embedded BadgerDB database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/workspace"
)

const (
	// maxConflictRetries bounds how often a write transaction is retried
	// after badger.ErrConflict.
	maxConflictRetries = 10

	conflictBackoff = 5 * time.Millisecond
)

// Config configures the badger store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the database in memory only.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB and IndexCacheSizeMB size badger's caches. Zero
	// selects 64 MB and 32 MB; the data set is small.
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Store persists the workspace index and the reference table in BadgerDB.
//
// Thread Safety:
// BadgerDB transactions are serializable. Reference updates read and write
// both key namespaces in one transaction and are retried on ErrConflict, so
// concurrent preparations of distinct workspaces never lose an update.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the database described by cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("badger store path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts = opts.
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	s := &Store{db: db}
	if err := s.checkVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// checkVersion stamps a new database with the schema version and refuses
// databases written by a newer schema.
func (s *Store) checkVersion() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyVersion))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(keyVersion), encodeVersion(schemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		return item.Value(func(val []byte) error {
			v, err := decodeVersion(val)
			if err != nil {
				return err
			}
			if v > schemaVersion {
				return fmt.Errorf("database schema version %d is newer than supported %d", v, schemaVersion)
			}
			return nil
		})
	})
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}

		logger.Debug("Badger transaction conflict, retrying (attempt %d/%d)", attempt, maxConflictRetries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * conflictBackoff):
		}
	}
}

// ============================================================================
// Workspace index
// ============================================================================

func (s *Store) PutWorkspace(ctx context.Context, info *workspace.Info) error {
	if info == nil {
		return fmt.Errorf("nil workspace info: %w", store.ErrInvalidKey)
	}
	if err := store.ValidateWorkspaceID(info.ID); err != nil {
		return fmt.Errorf("workspace %q: %w", info.ID, err)
	}

	data, err := encodeWorkspace(info)
	if err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(keyWorkspace(info.ID), data)
	})
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*workspace.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateWorkspaceID(id); err != nil {
		return nil, fmt.Errorf("workspace %q: %w", id, store.ErrNotFound)
	}

	var info *workspace.Info
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyWorkspace(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("workspace %q: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			info, err = decodeWorkspace(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	if err := store.ValidateWorkspaceID(id); err != nil {
		return nil
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(keyWorkspace(id))
	})
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]*workspace.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*workspace.Info
	err := s.db.View(func(txn *badger.Txn) error {
		it := prefixIterator(txn, []byte(prefixWorkspace), true)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				info, err := decodeWorkspace(val)
				if err != nil {
					return err
				}
				out = append(out, info)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys iterate in byte order, which is ID order.
	return out, nil
}

// ============================================================================
// Reference table
// ============================================================================

func (s *Store) AddReference(ctx context.Context, hash, workspaceID string) error {
	if hash == "" || strings.Contains(hash, ":") {
		return store.ErrInvalidKey
	}
	if err := store.ValidateWorkspaceID(workspaceID); err != nil {
		return err
	}

	return s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(keyRef(hash, workspaceID), nil); err != nil {
			return err
		}
		return txn.Set(keyReverse(workspaceID, hash), nil)
	})
}

func (s *Store) RemoveReference(ctx context.Context, hash, workspaceID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if err := txn.Delete(keyRef(hash, workspaceID)); err != nil {
			return err
		}
		return txn.Delete(keyReverse(workspaceID, hash))
	})
}

func (s *Store) RemoveWorkspaceReferences(ctx context.Context, workspaceID string) ([]string, error) {
	var removed []string

	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = removed[:0]

		prefix := keyReversePrefix(workspaceID)
		hashes, err := scanSuffixes(txn, prefix)
		if err != nil {
			return err
		}
		for _, h := range hashes {
			if err := txn.Delete(keyRef(h, workspaceID)); err != nil {
				return err
			}
			if err := txn.Delete(keyReverse(workspaceID, h)); err != nil {
				return err
			}
		}
		removed = append(removed, hashes...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) ReferenceCount(ctx context.Context, hash string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		it := prefixIterator(txn, keyRefPrefix(hash), false)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) ReferencedHashes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := prefixIterator(txn, []byte(prefixRef), false)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())[len(prefixRef):]
			sep := strings.LastIndexByte(key, ':')
			if sep < 0 {
				continue
			}
			h := key[:sep]
			// Keys are sorted, so duplicates are adjacent.
			if len(hashes) == 0 || hashes[len(hashes)-1] != h {
				hashes = append(hashes, h)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

func (s *Store) WorkspaceReferences(ctx context.Context, workspaceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var hashes []string
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		hashes, err = scanSuffixes(txn, keyReversePrefix(workspaceID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func prefixIterator(txn *badger.Txn, prefix []byte, values bool) *badger.Iterator {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	return txn.NewIterator(opts)
}

// scanSuffixes returns the key remainders after prefix, in key order.
func scanSuffixes(txn *badger.Txn, prefix []byte) ([]string, error) {
	it := prefixIterator(txn, prefix, false)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
