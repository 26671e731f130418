// Package store defines the persistence the workspace engine keeps beside
// the workspace directories: an index of prepared workspaces and the CAS
// reference table.
//
// Two implementations exist: pkg/store/memory (process lifetime) and
// pkg/store/badger (durable, embedded key/value store).
package store

import (
	"context"
	"errors"
	"regexp"

	"github.com/marmos91/dittows/pkg/workspace"
)

var (
	// ErrNotFound is returned for unknown workspace IDs.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned for workspace IDs or hashes that cannot be
	// used as keys.
	ErrInvalidKey = errors.New("invalid key")
)

var workspaceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateWorkspaceID checks that id is safe to use as a directory name and key.
func ValidateWorkspaceID(id string) error {
	if id == "" || id == "." || id == ".." || !workspaceIDPattern.MatchString(id) {
		return ErrInvalidKey
	}
	return nil
}

// WorkspaceIndex persists workspace.Info records.
type WorkspaceIndex interface {
	// PutWorkspace inserts or replaces the record for info.ID.
	PutWorkspace(ctx context.Context, info *workspace.Info) error

	// GetWorkspace returns the record for id or ErrNotFound.
	GetWorkspace(ctx context.Context, id string) (*workspace.Info, error)

	// DeleteWorkspace removes the record. Unknown IDs are not an error.
	DeleteWorkspace(ctx context.Context, id string) error

	// ListWorkspaces returns every record sorted by ID.
	ListWorkspaces(ctx context.Context) ([]*workspace.Info, error)
}

// ReferenceStore persists which workspaces reference which CAS blobs.
//
// A reference is a (hash, workspace) pair; adding the same pair twice
// counts once. The reference count of a hash is the number of distinct
// workspaces referencing it.
//
// Thread Safety:
// Implementations must be safe for concurrent use; every method is a single
// short critical section or transaction.
type ReferenceStore interface {
	// AddReference records that workspaceID references hash.
	AddReference(ctx context.Context, hash, workspaceID string) error

	// RemoveReference drops one pair. Removing an absent pair is not an error.
	RemoveReference(ctx context.Context, hash, workspaceID string) error

	// RemoveWorkspaceReferences drops every pair of workspaceID and returns
	// the hashes that were referenced.
	RemoveWorkspaceReferences(ctx context.Context, workspaceID string) ([]string, error)

	// ReferenceCount returns the number of workspaces referencing hash.
	ReferenceCount(ctx context.Context, hash string) (int, error)

	// ReferencedHashes returns every hash with a non-zero count, sorted.
	ReferencedHashes(ctx context.Context) ([]string, error)

	// WorkspaceReferences returns the hashes workspaceID references, sorted.
	WorkspaceReferences(ctx context.Context, workspaceID string) ([]string, error)
}

// Store is the full persistence surface.
type Store interface {
	WorkspaceIndex
	ReferenceStore

	// Close releases resources. The store must not be used afterwards.
	Close() error
}
