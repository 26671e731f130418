package workspace

import (
	"github.com/marmos91/dittows/pkg/manifest"
)

// OperationKind says what a strategy has to do for one file.
type OperationKind int

const (
	// OperationPlace places a file that is not in the workspace yet.
	OperationPlace OperationKind = iota

	// OperationReplace overwrites whatever is at the target.
	OperationReplace

	// OperationUnchanged means the target already matches; no I/O is needed.
	OperationUnchanged
)

func (k OperationKind) String() string {
	switch k {
	case OperationPlace:
		return "place"
	case OperationReplace:
		return "replace"
	case OperationUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// FileOperation is one reconciled file: the winning manifest entry with its
// source and target resolved.
type FileOperation struct {
	ManifestID  string
	ContentType manifest.ContentType
	File        manifest.File

	// SourcePath is the resolved filesystem source. Empty for
	// ContentAddressable and RemoteDownload files, which are resolved at
	// placement time.
	SourcePath string

	// TargetPath is WorkspacePath joined with the file's relative path.
	TargetPath string

	Kind OperationKind
}

// Conflict records a path provided by more than one manifest.
type Conflict struct {
	Path           string
	Winner         manifest.ContentType
	WinnerManifest string
	Losers         []manifest.ContentType
	LoserManifests []string
}

// Plan is the reconciled, winner-only list of file operations for one
// preparation run.
type Plan struct {
	Config        *Configuration
	WorkspacePath string
	Operations    []FileOperation

	// Removals are files (relative, slash form) found in the existing
	// workspace that no winner produces.
	Removals []string

	Conflicts []Conflict

	// Existing is the previously recorded workspace, if the plan is a delta.
	Existing *Info

	PreparationID string
}

// Counts returns how many operations of each kind the plan holds.
func (p *Plan) Counts() (place, replace, unchanged int) {
	for _, op := range p.Operations {
		switch op.Kind {
		case OperationPlace:
			place++
		case OperationReplace:
			replace++
		case OperationUnchanged:
			unchanged++
		}
	}
	return place, replace, unchanged
}
