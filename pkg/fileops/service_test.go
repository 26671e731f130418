package fileops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingLinker struct {
	hardErr    error
	symlinkErr error
}

func (l failingLinker) HardLink(string, string) error { return l.hardErr }
func (l failingLinker) Symlink(string, string) error  { return l.symlinkErr }

type fakeDownloader struct {
	content []byte
	result  *DownloadResult
	err     error
	got     DownloadRequest
}

func (d *fakeDownloader) Download(_ context.Context, req DownloadRequest, progress DownloadProgress) (*DownloadResult, error) {
	d.got = req
	if d.err != nil {
		return nil, d.err
	}
	if d.result != nil && !d.result.Success {
		return d.result, nil
	}
	if err := os.WriteFile(req.Destination, d.content, 0o644); err != nil {
		return nil, err
	}
	if progress != nil {
		progress(int64(len(d.content)), int64(len(d.content)))
	}
	return &DownloadResult{Success: true, BytesWritten: int64(len(d.content))}, nil
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "generals.exe")
	dst := filepath.Join(dir, "ws", "nested", "generals.exe")
	writeFile(t, src, "binary", 0o755)
	mtime := time.Date(2003, 9, 22, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	svc := NewService(Options{BufferSize: 2})
	require.NoError(t, svc.CopyFile(context.Background(), src, dst))

	assert.Equal(t, "binary", readFile(t, dst))
	st, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), st.Mode().Perm())
	assert.True(t, mtime.Equal(st.ModTime()), "modification time %v", st.ModTime())
}

func TestCopyFileOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "new.ini")
	dst := filepath.Join(dir, "ws", "game.ini")
	writeFile(t, src, "new", 0o644)
	writeFile(t, dst, "old content", 0o644)

	require.NoError(t, NewService(Options{}).CopyFile(context.Background(), src, dst))
	assert.Equal(t, "new", readFile(t, dst))
}

func TestCopyFileReplacesSymlinkWithoutTouchingTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	original := filepath.Join(dir, "install", "game.ini")
	replacement := filepath.Join(dir, "mod", "game.ini")
	dst := filepath.Join(dir, "ws", "game.ini")
	writeFile(t, original, "original", 0o644)
	writeFile(t, replacement, "modded", 0o644)
	require.NoError(t, os.MkdirAll(filepath.Dir(dst), 0o755))
	require.NoError(t, os.Symlink(original, dst))

	require.NoError(t, NewService(Options{}).CopyFile(context.Background(), replacement, dst))

	assert.Equal(t, "modded", readFile(t, dst))
	assert.Equal(t, "original", readFile(t, original), "source must never be modified")
	st, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, st.Mode().IsRegular())
}

func TestCopyFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := NewService(Options{}).CopyFile(context.Background(), filepath.Join(dir, "nope"), filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestCopyFileCancelled(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.bik")
	writeFile(t, src, strings.Repeat("x", 64), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := filepath.Join(dir, "ws", "big.bik")
	err := NewService(Options{BufferSize: 8}).CopyFile(ctx, src, dst)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temporary file left behind: %s", e.Name())
	}
}

func TestCreateSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "src", "music.mp3")
	link := filepath.Join(dir, "ws", "Data", "music.mp3")
	writeFile(t, target, "audio", 0o644)

	fellBack, err := NewService(Options{}).CreateSymlink(context.Background(), link, target, false)
	require.NoError(t, err)
	assert.False(t, fellBack)

	dest, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, target, dest)
	assert.Equal(t, "audio", readFile(t, link))
}

func TestCreateSymlinkFallback(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "src", "music.mp3")
	link := filepath.Join(dir, "ws", "music.mp3")
	writeFile(t, target, "audio", 0o644)

	denied := errors.New("privilege not held")
	svc := NewService(Options{Linker: failingLinker{symlinkErr: denied}})

	_, err := svc.CreateSymlink(context.Background(), link, target, false)
	assert.ErrorIs(t, err, denied)
	assert.NoFileExists(t, link)

	fellBack, err := svc.CreateSymlink(context.Background(), link, target, true)
	require.NoError(t, err)
	assert.True(t, fellBack)
	assert.Equal(t, "audio", readFile(t, link))
}

func TestCreateSymlinkMissingTarget(t *testing.T) {
	dir := t.TempDir()
	_, err := NewService(Options{}).CreateSymlink(context.Background(), filepath.Join(dir, "l"), filepath.Join(dir, "nope"), true)
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestCreateHardLink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "src", "textures.big")
	link := filepath.Join(dir, "ws", "textures.big")
	writeFile(t, target, "archive", 0o644)
	writeFile(t, link, "stale", 0o644)

	require.NoError(t, NewService(Options{}).CreateHardLink(context.Background(), link, target))

	a, err := os.Stat(target)
	require.NoError(t, err)
	b, err := os.Stat(link)
	require.NoError(t, err)
	assert.True(t, os.SameFile(a, b))
}

func TestCreateHardLinkErrorsPropagate(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a")
	writeFile(t, target, "a", 0o644)

	svc := NewService(Options{Linker: failingLinker{hardErr: ErrCrossDevice}})
	err := svc.CreateHardLink(context.Background(), filepath.Join(dir, "b"), target)
	assert.ErrorIs(t, err, ErrCrossDevice)

	svc = NewService(Options{Linker: UnsupportedLinker{}})
	err = svc.CreateHardLink(context.Background(), filepath.Join(dir, "b"), target)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestVerifyFileHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	writeFile(t, path, "hello", 0o644)

	for _, h := range []Hasher{SHA256Hasher{}, Blake3Hasher{}} {
		t.Run(h.Algorithm(), func(t *testing.T) {
			svc := NewService(Options{Hasher: h})
			sum := HashBytes(h, []byte("hello"))

			assert.True(t, svc.VerifyFileHash(context.Background(), path, sum))
			assert.True(t, svc.VerifyFileHash(context.Background(), path, strings.ToUpper(sum)))
			assert.False(t, svc.VerifyFileHash(context.Background(), path, HashBytes(h, []byte("other"))))
			assert.False(t, svc.VerifyFileHash(context.Background(), filepath.Join(dir, "missing"), sum))
		})
	}
}

func TestKnownSHA256(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashBytes(SHA256Hasher{}, []byte("hello")))
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher("")
	require.NoError(t, err)
	assert.Equal(t, HashSHA256, h.Algorithm())

	h, err = NewHasher("BLAKE3")
	require.NoError(t, err)
	assert.Equal(t, HashBLAKE3, h.Algorithm())

	_, err = NewHasher("md5")
	assert.Error(t, err)
}

func TestDownloadFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "ws", "maps", "new.map")

	d := &fakeDownloader{content: []byte("map")}
	svc := NewService(Options{Downloader: d})

	var seen int64
	n, err := svc.DownloadFile(context.Background(), "https://example.invalid/new.map", dst, "abc", func(w, _ int64) { seen = w })
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(3), seen)
	assert.Equal(t, "abc", d.got.ExpectedHash)
	assert.Equal(t, "map", readFile(t, dst))
}

func TestDownloadFileFailure(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "f")

	svc := NewService(Options{Downloader: &fakeDownloader{result: &DownloadResult{ErrorMessage: "404 Not Found"}}})
	_, err := svc.DownloadFile(context.Background(), "u", dst, "", nil)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Contains(t, err.Error(), "404 Not Found")

	svc = NewService(Options{Downloader: &fakeDownloader{err: context.Canceled}})
	_, err = svc.DownloadFile(context.Background(), "u", dst, "", nil)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewService(Options{}).DownloadFile(context.Background(), "u", dst, "", nil)
	assert.ErrorIs(t, err, ErrNoDownloader)
}

func TestDeleteDirectoryIfExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ws")
	writeFile(t, filepath.Join(dir, "a", "b.txt"), "x", 0o644)

	svc := NewService(Options{})
	require.NoError(t, svc.DeleteDirectoryIfExists(dir))
	assert.NoDirExists(t, dir)
	require.NoError(t, svc.DeleteDirectoryIfExists(dir))
}

func TestCanCreateSymlinks(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, CanCreateSymlinks(UnsupportedLinker{}, dir))
	if runtime.GOOS != "windows" {
		assert.True(t, CanCreateSymlinks(DefaultLinker(), dir))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe cleans up after itself")
}

func TestVolumeProbe(t *testing.T) {
	probe := DefaultVolumeProbe()
	dir := t.TempDir()

	same, err := probe.SameVolume(dir, filepath.Join(dir, "not", "created", "yet"))
	if errors.Is(err, ErrNotImplemented) {
		t.Skip("volume probing unsupported on this platform")
	}
	require.NoError(t, err)
	assert.True(t, same)

	free, err := probe.FreeSpace(dir)
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
