package cas

import (
	"context"
	"fmt"

	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/store"
)

// Tracker records which workspaces reference which blobs.
//
// A blob with a non-zero reference count must survive garbage collection.
// Every workspace that links or copies a blob holds one reference to it,
// no matter how many of its files share the content.
type Tracker struct {
	refs store.ReferenceStore
}

// NewTracker creates a tracker persisting into refs.
func NewTracker(refs store.ReferenceStore) *Tracker {
	return &Tracker{refs: refs}
}

// AddReference records that workspaceID uses hash. Idempotent.
func (t *Tracker) AddReference(ctx context.Context, hash, workspaceID string) error {
	if err := t.refs.AddReference(ctx, hash, workspaceID); err != nil {
		return fmt.Errorf("failed to add reference %s -> %s: %w", workspaceID, hash, err)
	}
	return nil
}

// RemoveReference drops one (hash, workspace) pair.
func (t *Tracker) RemoveReference(ctx context.Context, hash, workspaceID string) error {
	if err := t.refs.RemoveReference(ctx, hash, workspaceID); err != nil {
		return fmt.Errorf("failed to remove reference %s -> %s: %w", workspaceID, hash, err)
	}
	return nil
}

// ReleaseWorkspace drops every reference held by workspaceID and returns
// the hashes released.
func (t *Tracker) ReleaseWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	released, err := t.refs.RemoveWorkspaceReferences(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to release references of %s: %w", workspaceID, err)
	}
	if len(released) > 0 {
		logger.Debug("Released %d CAS references of workspace %s", len(released), workspaceID)
	}
	return released, nil
}

// RetainOnly makes keep the exact reference set of workspaceID: missing
// pairs are added, pairs not in keep are removed. Returns the hashes
// released.
func (t *Tracker) RetainOnly(ctx context.Context, workspaceID string, keep []string) ([]string, error) {
	current, err := t.refs.WorkspaceReferences(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list references of %s: %w", workspaceID, err)
	}

	wanted := make(map[string]struct{}, len(keep))
	for _, h := range keep {
		wanted[h] = struct{}{}
	}

	var released []string
	for _, h := range current {
		if _, ok := wanted[h]; ok {
			delete(wanted, h)
			continue
		}
		if err := t.RemoveReference(ctx, h, workspaceID); err != nil {
			return released, err
		}
		released = append(released, h)
	}

	for _, h := range keep {
		if _, ok := wanted[h]; !ok {
			continue
		}
		if err := t.AddReference(ctx, h, workspaceID); err != nil {
			return released, err
		}
		delete(wanted, h)
	}
	return released, nil
}

// ReferenceCount returns the number of workspaces referencing hash.
func (t *Tracker) ReferenceCount(ctx context.Context, hash string) (int, error) {
	return t.refs.ReferenceCount(ctx, hash)
}

// IsReferenced reports whether any workspace references hash.
func (t *Tracker) IsReferenced(ctx context.Context, hash string) (bool, error) {
	n, err := t.refs.ReferenceCount(ctx, hash)
	return n > 0, err
}

// ReferencedHashes returns every hash with at least one reference.
func (t *Tracker) ReferencedHashes(ctx context.Context) ([]string, error) {
	return t.refs.ReferencedHashes(ctx)
}

// WorkspaceHashes returns the hashes referenced by workspaceID.
func (t *Tracker) WorkspaceHashes(ctx context.Context, workspaceID string) ([]string, error) {
	return t.refs.WorkspaceReferences(ctx, workspaceID)
}
