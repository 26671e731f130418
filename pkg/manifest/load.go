package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the on-disk encoding of a manifest file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension. Anything that is
// not .json is treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadFile reads and decodes a manifest file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	m, err := Decode(bytes.NewReader(data), FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

// Decode reads a single manifest in the given format.
//
// Unknown fields are rejected so that typos such as "sourcepath" surface as
// errors instead of silently producing files without a source.
func Decode(r io.Reader, format Format) (*Manifest, error) {
	var m Manifest

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&m); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("empty manifest document")
			}
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}

	if err := m.Normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode writes m in the given format.
func Encode(w io.Writer, m *Manifest, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported manifest format %q", format)
	}
}

// Normalize fills in default source types, lowercases hashes and applies the
// structural rules a decoded manifest must satisfy. Semantic checks (path
// escapes, duplicate IDs, ...) belong to the workspace validator, which
// reports them as issues rather than errors.
func (m *Manifest) Normalize() error {
	if !m.ContentType.Valid() {
		return fmt.Errorf("manifest %q: missing content_type", m.ID)
	}
	for i := range m.Files {
		f := &m.Files[i]
		if f.SourceType == 0 {
			f.SourceType = defaultSourceType(m.ContentType)
		}
		if f.SourceType == SourceRemoteDownload && f.DownloadURL == "" {
			return fmt.Errorf("manifest %q: file %q is RemoteDownload without download_url", m.ID, f.RelativePath)
		}
		if f.SourceType == SourceContentAddressable && f.Hash == "" {
			return fmt.Errorf("manifest %q: file %q is ContentAddressable without hash", m.ID, f.RelativePath)
		}
		f.Hash = strings.ToLower(f.Hash)
	}
	return nil
}

func defaultSourceType(t ContentType) SourceType {
	if t == ContentTypeGameInstallation {
		return SourceGameInstallation
	}
	return SourceLocalFile
}
