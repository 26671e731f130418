// Package reconcile turns a workspace configuration into a Plan: one winning
// file per workspace path, its source and target resolved, and, for an
// existing workspace, what already matches on disk.
package reconcile

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/fileops"
	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/workspace"
)

// Options configures a Reconciler.
type Options struct {
	// CaseInsensitive overrides the platform default for comparing paths
	// (insensitive on Windows and macOS, sensitive elsewhere).
	CaseInsensitive *bool

	// Hasher verifies existing files that carry a hash. Defaults to SHA-256.
	Hasher fileops.Hasher

	// Metrics receives one observation per resolved conflict.
	Metrics workspace.Metrics
}

// Reconciler resolves manifests into workspace plans.
//
// Thread Safety:
// A Reconciler holds no mutable state and may be shared.
type Reconciler struct {
	caseInsensitive bool
	hasher          fileops.Hasher
	metrics         workspace.Metrics
}

// New creates a Reconciler.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		caseInsensitive: runtime.GOOS == "windows" || runtime.GOOS == "darwin",
		hasher:          opts.Hasher,
		metrics:         workspace.MetricsOrNoop(opts.Metrics),
	}
	if opts.CaseInsensitive != nil {
		r.caseInsensitive = *opts.CaseInsensitive
	}
	if r.hasher == nil {
		r.hasher = fileops.SHA256Hasher{}
	}
	return r
}

// Winner is the file chosen for one workspace path.
type Winner struct {
	// Key is the comparison key of the path (lowercased when paths are
	// case-insensitive).
	Key string

	// RelativePath is the cleaned, slash-separated path of the winning file.
	RelativePath string

	Manifest *manifest.Manifest
	File     manifest.File
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Winners are ordered by the first appearance of their path.
	Winners   []Winner
	Conflicts []workspace.Conflict
}

type candidate struct {
	manifest *manifest.Manifest
	file     manifest.File
	rel      string
}

type entry struct {
	key    string
	winner candidate
	losers []candidate
}

// Resolve picks one file per workspace path. It performs no I/O.
//
// The candidate whose manifest ContentType has the highest priority wins.
// Between equal priorities the first candidate in manifest input order
// (then file order) wins.
func (r *Reconciler) Resolve(cfg *workspace.Configuration) (*Resolution, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil configuration: %w", workspace.ErrInvalidConfiguration)
	}

	index := make(map[string]int)
	var entries []entry

	for mi := range cfg.Manifests {
		m := &cfg.Manifests[mi]
		if !m.ContentType.Valid() {
			return nil, fmt.Errorf("manifest %q has no valid content type: %w", m.ID, workspace.ErrInvalidConfiguration)
		}

		for _, f := range m.Files {
			rel, err := manifest.CleanRelativePath(f.RelativePath)
			if err != nil {
				return nil, fmt.Errorf("manifest %q: %v: %w", m.ID, err, workspace.ErrInvalidConfiguration)
			}

			c := candidate{manifest: m, file: f, rel: rel}
			key := r.Key(rel)

			pos, seen := index[key]
			if !seen {
				index[key] = len(entries)
				entries = append(entries, entry{key: key, winner: c})
				continue
			}

			e := &entries[pos]
			if m.ContentType.Outranks(e.winner.manifest.ContentType) {
				e.losers = append(e.losers, e.winner)
				e.winner = c
			} else {
				e.losers = append(e.losers, c)
			}
		}
	}

	res := &Resolution{Winners: make([]Winner, 0, len(entries))}
	for _, e := range entries {
		w := e.winner
		file := w.file
		file.RelativePath = w.rel

		res.Winners = append(res.Winners, Winner{
			Key:          e.key,
			RelativePath: w.rel,
			Manifest:     w.manifest,
			File:         file,
		})

		if len(e.losers) > 0 {
			res.Conflicts = append(res.Conflicts, r.conflict(e))
		}
	}
	return res, nil
}

func (r *Reconciler) conflict(e entry) workspace.Conflict {
	c := workspace.Conflict{
		Path:           e.winner.rel,
		Winner:         e.winner.manifest.ContentType,
		WinnerManifest: e.winner.manifest.ID,
	}

	names := make([]string, 0, len(e.losers))
	for _, l := range e.losers {
		c.Losers = append(c.Losers, l.manifest.ContentType)
		c.LoserManifests = append(c.LoserManifests, l.manifest.ID)
		names = append(names, fmt.Sprintf("%s (%s)", l.manifest.ContentType, l.manifest.ID))
		r.metrics.RecordConflict(c.Winner, l.manifest.ContentType)
	}

	logger.Warn("File conflict on %s: %s (%s) wins over %s",
		c.Path, c.Winner, c.WinnerManifest, strings.Join(names, ", "))
	return c
}

// Key returns the comparison key of a cleaned relative path.
func (r *Reconciler) Key(rel string) string {
	if r.caseInsensitive {
		return strings.ToLower(rel)
	}
	return rel
}

// ResolveSourcePath returns the filesystem source of a manifest file, or ""
// for sources that are not on the filesystem.
//
// Absolute source paths are used verbatim and are never joined with the
// installation root. Relative ones are joined with the manifest's source
// root; an empty source path falls back to the relative path.
func ResolveSourcePath(cfg *workspace.Configuration, manifestID string, f manifest.File) string {
	if !f.SourceType.IsFilesystem() {
		return ""
	}
	if f.SourcePath != "" && isAbs(f.SourcePath) {
		return f.SourcePath
	}

	root := cfg.SourceRoot(manifestID)
	if f.SourcePath != "" {
		return filepath.Join(root, filepath.FromSlash(f.SourcePath))
	}
	return filepath.Join(root, filepath.FromSlash(f.RelativePath))
}

// isAbs also accepts rooted and drive-letter paths written on another
// platform.
func isAbs(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && (p[2] == '\\' || p[2] == '/')
}
