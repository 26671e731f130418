// Package manifest defines the content manifests a workspace is assembled from.
//
// A Manifest describes one content source (the base game installation, a
// game client, a mod, a patch, a map pack, ...) as an ordered list of files.
// Several manifests may provide the same workspace-relative path; the
// reconciler picks one winner per path using ContentType.Priority.
package manifest

import (
	"fmt"
	"path"
	"strings"
)

// ContentType classifies a manifest. The set is closed: every value must have
// an entry in Priority, and parsing rejects unknown names.
type ContentType int

const (
	ContentTypeGameInstallation ContentType = iota + 1
	ContentTypeGameClient
	ContentTypeMod
	ContentTypePatch
	ContentTypeMapPack
	ContentTypeAddon
	ContentTypeLanguagePack
	ContentTypeMission
	ContentTypeMap
	ContentTypeContentBundle
)

var contentTypeNames = map[ContentType]string{
	ContentTypeGameInstallation: "GameInstallation",
	ContentTypeGameClient:       "GameClient",
	ContentTypeMod:              "Mod",
	ContentTypePatch:            "Patch",
	ContentTypeMapPack:          "MapPack",
	ContentTypeAddon:            "Addon",
	ContentTypeLanguagePack:     "LanguagePack",
	ContentTypeMission:          "Mission",
	ContentTypeMap:              "Map",
	ContentTypeContentBundle:    "ContentBundle",
}

// AllContentTypes returns every ContentType in declaration order.
func AllContentTypes() []ContentType {
	return []ContentType{
		ContentTypeGameInstallation,
		ContentTypeGameClient,
		ContentTypeMod,
		ContentTypePatch,
		ContentTypeMapPack,
		ContentTypeAddon,
		ContentTypeLanguagePack,
		ContentTypeMission,
		ContentTypeMap,
		ContentTypeContentBundle,
	}
}

func (t ContentType) String() string {
	if name, ok := contentTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ContentType(%d)", int(t))
}

// Valid reports whether t is one of the declared content types.
func (t ContentType) Valid() bool {
	_, ok := contentTypeNames[t]
	return ok
}

// ParseContentType converts a name such as "Mod" or "mappack" to a ContentType.
func ParseContentType(s string) (ContentType, error) {
	for t, name := range contentTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown content type %q", s)
}

func (t ContentType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid content type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ContentType) UnmarshalText(text []byte) error {
	parsed, err := ParseContentType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SourceType tells the engine where a file's bytes come from, which decides
// how its source path is resolved.
type SourceType int

const (
	// SourceGameInstallation files come from an installed game. When SourcePath
	// is absolute it is used verbatim.
	SourceGameInstallation SourceType = iota + 1

	// SourceLocalFile files are staged locally and resolved against the
	// manifest's source root.
	SourceLocalFile

	// SourceContentAddressable files are materialized from the CAS by Hash.
	SourceContentAddressable

	// SourceRemoteDownload files are fetched from DownloadURL into the workspace.
	SourceRemoteDownload
)

var sourceTypeNames = map[SourceType]string{
	SourceGameInstallation:   "GameInstallation",
	SourceLocalFile:          "LocalFile",
	SourceContentAddressable: "ContentAddressable",
	SourceRemoteDownload:     "RemoteDownload",
}

func (s SourceType) String() string {
	if name, ok := sourceTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SourceType(%d)", int(s))
}

// Valid reports whether s is one of the declared source types.
func (s SourceType) Valid() bool {
	_, ok := sourceTypeNames[s]
	return ok
}

// IsFilesystem reports whether the file is read from a directory on disk.
// An unset SourceType counts as a filesystem source.
func (s SourceType) IsFilesystem() bool {
	return s == 0 || s == SourceGameInstallation || s == SourceLocalFile
}

// ParseSourceType converts a name such as "LocalFile" to a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	for t, name := range sourceTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown source type %q", s)
}

func (s SourceType) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid source type %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *SourceType) UnmarshalText(text []byte) error {
	parsed, err := ParseSourceType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Manifest identifies one content source and the files it contributes.
type Manifest struct {
	// ID is the dotted hierarchical identifier, e.g. "1.0.genhub.mod.shockwave".
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	ContentType ContentType `json:"content_type" yaml:"content_type"`
	TargetGame  string      `json:"target_game,omitempty" yaml:"target_game,omitempty"`
	Files       []File      `json:"files" yaml:"files"`
}

// File is one entry of a manifest.
type File struct {
	// RelativePath is the workspace-relative destination and the conflict key.
	RelativePath string `json:"relative_path" yaml:"relative_path"`

	// SourcePath is absolute for installation files, relative or empty for
	// locally staged files.
	SourcePath string `json:"source_path,omitempty" yaml:"source_path,omitempty"`

	Size int64 `json:"size,omitempty" yaml:"size,omitempty"`

	// Hash is the lowercase hex content hash used for CAS lookups and verification.
	Hash string `json:"hash,omitempty" yaml:"hash,omitempty"`

	SourceType SourceType `json:"source_type" yaml:"source_type"`

	// DownloadURL is only used by SourceRemoteDownload files.
	DownloadURL string `json:"download_url,omitempty" yaml:"download_url,omitempty"`

	IsExecutable bool `json:"is_executable,omitempty" yaml:"is_executable,omitempty"`
	IsRequired   bool `json:"is_required,omitempty" yaml:"is_required,omitempty"`
}

// TotalFiles returns the number of file entries across all manifests.
func TotalFiles(manifests []Manifest) int {
	n := 0
	for _, m := range manifests {
		n += len(m.Files)
	}
	return n
}

// CleanRelativePath normalizes a manifest relative path to slash form and
// rejects paths that are empty, absolute or escape the workspace.
func CleanRelativePath(rel string) (string, error) {
	slashed := strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/")
	if slashed == "" {
		return "", fmt.Errorf("relative path is empty")
	}
	if strings.HasPrefix(slashed, "/") || hasDriveLetter(slashed) {
		return "", fmt.Errorf("relative path %q is absolute", rel)
	}

	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("relative path %q escapes the workspace", rel)
	}
	return cleaned, nil
}

func hasDriveLetter(p string) bool {
	return len(p) >= 2 && p[1] == ':' &&
		((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}
