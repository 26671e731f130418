package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrder(t *testing.T) {
	ordered := []ContentType{
		ContentTypeMod,
		ContentTypePatch,
		ContentTypeGameClient,
		ContentTypeMapPack,
		ContentTypeAddon,
		ContentTypeMap,
		ContentTypeMission,
		ContentTypeLanguagePack,
		ContentTypeContentBundle,
		ContentTypeGameInstallation,
	}
	require.Len(t, ordered, len(AllContentTypes()))

	for i := 0; i < len(ordered)-1; i++ {
		assert.Truef(t, ordered[i].Outranks(ordered[i+1]),
			"%s should outrank %s", ordered[i], ordered[i+1])
	}
}

func TestPriorityDistinct(t *testing.T) {
	seen := make(map[int]ContentType)
	for _, ct := range AllContentTypes() {
		p := ct.Priority()
		if other, ok := seen[p]; ok {
			t.Fatalf("%s and %s share priority %d", ct, other, p)
		}
		seen[p] = ct
	}
}

func TestPriorityUnknownPanics(t *testing.T) {
	assert.Panics(t, func() { ContentType(99).Priority() })
}

func TestParseContentType(t *testing.T) {
	ct, err := ParseContentType("mappack")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeMapPack, ct)

	ct, err = ParseContentType(" GameInstallation ")
	require.NoError(t, err)
	assert.Equal(t, ContentTypeGameInstallation, ct)

	_, err = ParseContentType("Plugin")
	assert.Error(t, err)
}

func TestCleanRelativePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "Data/INI/GameData.ini", want: "Data/INI/GameData.ini"},
		{in: `Data\INI\GameData.ini`, want: "Data/INI/GameData.ini"},
		{in: "./generals.exe", want: "generals.exe"},
		{in: "Data/../generals.exe", want: "generals.exe"},
		{in: "", wantErr: true},
		{in: "/etc/passwd", wantErr: true},
		{in: `C:\Games\generals.exe`, wantErr: true},
		{in: "../outside.txt", wantErr: true},
		{in: "Data/../../outside.txt", wantErr: true},
		{in: ".", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanRelativePath(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

const sampleYAML = `
id: 1.0.genhub.mod.shockwave
name: ShockWave
version: "1.2"
content_type: Mod
target_game: ZeroHour
files:
  - relative_path: Data/INI/GameData.ini
    size: 512
    hash: ABCDEF
  - relative_path: shockwave.big
    source_type: ContentAddressable
    hash: 0123abcd
  - relative_path: maps/new.map
    source_type: RemoteDownload
    download_url: https://example.invalid/new.map
`

func TestDecodeYAML(t *testing.T) {
	m, err := Decode(strings.NewReader(sampleYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "1.0.genhub.mod.shockwave", m.ID)
	assert.Equal(t, ContentTypeMod, m.ContentType)
	require.Len(t, m.Files, 3)

	assert.Equal(t, SourceLocalFile, m.Files[0].SourceType, "default source type for non-installation content")
	assert.Equal(t, "abcdef", m.Files[0].Hash, "hashes are lowercased")
	assert.Equal(t, SourceContentAddressable, m.Files[1].SourceType)
	assert.Equal(t, "https://example.invalid/new.map", m.Files[2].DownloadURL)
}

func TestDecodeDefaultsInstallationSource(t *testing.T) {
	doc := `
id: 1.0.steam.gameinstallation.zerohour
content_type: GameInstallation
files:
  - relative_path: generals.exe
    source_path: /games/zh/generals.exe
`
	m, err := Decode(strings.NewReader(doc), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, SourceGameInstallation, m.Files[0].SourceType)
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":        "id: x\ncontent_type: Mod\nfilez: []\n",
		"unknown content type": "id: x\ncontent_type: Plugin\n",
		"missing content type": "id: x\n",
		"download without url": "id: x\ncontent_type: Mod\nfiles:\n  - relative_path: a\n    source_type: RemoteDownload\n",
		"cas without hash":     "id: x\ncontent_type: Mod\nfiles:\n  - relative_path: a\n    source_type: ContentAddressable\n",
		"empty document":       "",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(doc), FormatYAML)
			assert.Error(t, err)
		})
	}
}

func TestEncodeDecodeJSON(t *testing.T) {
	m, err := Decode(strings.NewReader(sampleYAML), FormatYAML)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m, FormatJSON))
	assert.Contains(t, buf.String(), `"content_type": "Mod"`)

	decoded, err := Decode(&buf, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shockwave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ShockWave", m.Name)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTotalFiles(t *testing.T) {
	assert.Equal(t, 0, TotalFiles(nil))
	assert.Equal(t, 3, TotalFiles([]Manifest{
		{Files: make([]File, 2)},
		{},
		{Files: make([]File, 1)},
	}))
}
