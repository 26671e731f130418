// Package memory implements store.Store in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/dittows/pkg/store"
	"github.com/marmos91/dittows/pkg/workspace"
)

// Store keeps the workspace index and reference table in maps.
//
// Thread Safety:
// A single RWMutex guards all maps. Records are cloned on the way in and on
// the way out.
type Store struct {
	mu         sync.RWMutex
	workspaces map[string]*workspace.Info

	// refs: hash -> workspace IDs; byWorkspace: workspace ID -> hashes.
	refs        map[string]map[string]struct{}
	byWorkspace map[string]map[string]struct{}
}

// New creates an empty store.
func New() *Store {
	return &Store{
		workspaces:  make(map[string]*workspace.Info),
		refs:        make(map[string]map[string]struct{}),
		byWorkspace: make(map[string]map[string]struct{}),
	}
}

func (s *Store) PutWorkspace(ctx context.Context, info *workspace.Info) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("nil workspace info: %w", store.ErrInvalidKey)
	}
	if err := store.ValidateWorkspaceID(info.ID); err != nil {
		return fmt.Errorf("workspace %q: %w", info.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[info.ID] = info.Clone()
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*workspace.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %q: %w", id, store.ErrNotFound)
	}
	return info.Clone(), nil
}

func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, id)
	return nil
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]*workspace.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]*workspace.Info, 0, len(s.workspaces))
	for _, info := range s.workspaces {
		out = append(out, info.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddReference(ctx context.Context, hash, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash == "" {
		return store.ErrInvalidKey
	}
	if err := store.ValidateWorkspaceID(workspaceID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	addPair(s.refs, hash, workspaceID)
	addPair(s.byWorkspace, workspaceID, hash)
	return nil
}

func (s *Store) RemoveReference(ctx context.Context, hash, workspaceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removePair(s.refs, hash, workspaceID)
	removePair(s.byWorkspace, workspaceID, hash)
	return nil
}

func (s *Store) RemoveWorkspaceReferences(ctx context.Context, workspaceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := sortedKeys(s.byWorkspace[workspaceID])
	for _, h := range hashes {
		removePair(s.refs, h, workspaceID)
	}
	delete(s.byWorkspace, workspaceID)
	return hashes, nil
}

func (s *Store) ReferenceCount(ctx context.Context, hash string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs[hash]), nil
}

func (s *Store) ReferencedHashes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.refs), nil
}

func (s *Store) WorkspaceReferences(ctx context.Context, workspaceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.byWorkspace[workspaceID]), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func addPair(m map[string]map[string]struct{}, outer, inner string) {
	set, ok := m[outer]
	if !ok {
		set = make(map[string]struct{})
		m[outer] = set
	}
	set[inner] = struct{}{}
}

func removePair(m map[string]map[string]struct{}, outer, inner string) {
	set, ok := m[outer]
	if !ok {
		return
	}
	delete(set, inner)
	if len(set) == 0 {
		delete(m, outer)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ store.Store = (*Store)(nil)
