package workspace

import (
	"path/filepath"
	"slices"
	"sort"
	"time"
)

// SkippedFile records a manifest file that was not placed.
type SkippedFile struct {
	RelativePath string `json:"relative_path"`
	SourcePath   string `json:"source_path,omitempty"`
	Reason       string `json:"reason"`
}

// Info describes a prepared workspace. Values are produced by InfoBuilder
// and treated as immutable afterwards; the manager replaces the stored
// value instead of editing it.
type Info struct {
	ID               string       `json:"id"`
	WorkspacePath    string       `json:"workspace_path"`
	ExecutablePath   string       `json:"executable_path,omitempty"`
	WorkingDirectory string       `json:"working_directory,omitempty"`
	Strategy         StrategyKind `json:"strategy"`
	FileCount        int          `json:"file_count"`
	TotalSizeBytes   int64        `json:"total_size_bytes"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	IsValid          bool         `json:"is_valid"`
	State            State        `json:"state"`

	ManifestIDs   []string      `json:"manifest_ids,omitempty"`
	CASReferences []string      `json:"cas_references,omitempty"`
	Skipped       []SkippedFile `json:"skipped,omitempty"`
	Conflicts     int           `json:"conflicts"`
	PreparationID string        `json:"preparation_id,omitempty"`
}

// Clone returns a deep copy of the Info.
func (i *Info) Clone() *Info {
	if i == nil {
		return nil
	}
	c := *i
	c.ManifestIDs = slices.Clone(i.ManifestIDs)
	c.CASReferences = slices.Clone(i.CASReferences)
	c.Skipped = slices.Clone(i.Skipped)
	return &c
}

// WithValidity returns a copy with IsValid and UpdatedAt replaced.
func (i *Info) WithValidity(valid bool, now time.Time) *Info {
	c := i.Clone()
	c.IsValid = valid
	c.UpdatedAt = now
	return c
}

// WithState returns a copy in the given lifecycle state.
func (i *Info) WithState(s State, now time.Time) *Info {
	c := i.Clone()
	c.State = s
	c.UpdatedAt = now
	return c
}

// InfoBuilder accumulates the outcome of one materialization run.
//
// The builder is used by a single goroutine; Build returns a fresh Info
// that shares no slices with the builder, so the builder can keep going
// (or be discarded) without affecting results already handed out.
type InfoBuilder struct {
	info    Info
	casRefs map[string]struct{}
}

// NewInfoBuilder starts an Info for the plan's workspace.
func NewInfoBuilder(plan *Plan, now time.Time) *InfoBuilder {
	cfg := plan.Config

	b := &InfoBuilder{
		info: Info{
			ID:            cfg.ID,
			WorkspacePath: plan.WorkspacePath,
			Strategy:      cfg.Strategy,
			CreatedAt:     now,
			UpdatedAt:     now,
			State:         StateMaterializing,
			Conflicts:     len(plan.Conflicts),
			PreparationID: plan.PreparationID,
		},
		casRefs: make(map[string]struct{}),
	}
	if plan.Existing != nil && !plan.Existing.CreatedAt.IsZero() {
		b.info.CreatedAt = plan.Existing.CreatedAt
	}
	for _, m := range cfg.Manifests {
		b.info.ManifestIDs = append(b.info.ManifestIDs, m.ID)
	}
	return b
}

// AddFile counts one file present in the workspace.
func (b *InfoBuilder) AddFile(size int64) *InfoBuilder {
	b.info.FileCount++
	b.info.TotalSizeBytes += size
	return b
}

// AddCASReference records that the workspace holds a reference to hash.
func (b *InfoBuilder) AddCASReference(hash string) *InfoBuilder {
	b.casRefs[hash] = struct{}{}
	return b
}

// Skip records a file that was not placed.
func (b *InfoBuilder) Skip(relativePath, sourcePath, reason string) *InfoBuilder {
	b.info.Skipped = append(b.info.Skipped, SkippedFile{
		RelativePath: relativePath,
		SourcePath:   sourcePath,
		Reason:       reason,
	})
	return b
}

// WithGameClient resolves the executable and working directory against the
// workspace path. An empty executable path leaves both unset.
func (b *InfoBuilder) WithGameClient(gc GameClient) *InfoBuilder {
	if gc.ExecutablePath == "" {
		return b
	}
	exe := filepath.Join(b.info.WorkspacePath, filepath.FromSlash(gc.ExecutablePath))
	b.info.ExecutablePath = exe

	if gc.WorkingDirectory != "" {
		b.info.WorkingDirectory = filepath.Join(b.info.WorkspacePath, filepath.FromSlash(gc.WorkingDirectory))
	} else {
		b.info.WorkingDirectory = filepath.Dir(exe)
	}
	return b
}

// FileCount returns the number of files counted so far.
func (b *InfoBuilder) FileCount() int {
	return b.info.FileCount
}

// Build returns the finished Info in the Ready state.
func (b *InfoBuilder) Build(now time.Time) *Info {
	info := b.info
	info.UpdatedAt = now
	info.IsValid = true
	info.State = StateReady

	info.CASReferences = make([]string, 0, len(b.casRefs))
	for h := range b.casRefs {
		info.CASReferences = append(info.CASReferences, h)
	}
	sort.Strings(info.CASReferences)

	info.ManifestIDs = slices.Clone(b.info.ManifestIDs)
	info.Skipped = slices.Clone(b.info.Skipped)
	return &info
}
