//go:build integration

package badger_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittows/pkg/config"
	"github.com/marmos91/dittows/pkg/engine"
	"github.com/marmos91/dittows/pkg/manifest"
	"github.com/marmos91/dittows/pkg/store/badger"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/manager"
)

func newConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			ContentPath:   filepath.Join(root, "content"),
			WorkspacePath: filepath.Join(root, "workspaces"),
		},
	}
	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Invalid test config: %v", err)
	}
	if cfg.Index.Type != "badger" {
		t.Fatalf("Expected badger index by default, got %q", cfg.Index.Type)
	}
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// TestBadgerIndex_Integration checks that workspace records and CAS
// references survive an engine restart.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
func TestBadgerIndex_Integration(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := newConfig(t, root)

	base := filepath.Join(root, "install")
	writeFile(t, filepath.Join(base, "generals.exe"), "exe")

	staged := filepath.Join(root, "staged", "mod.big")
	writeFile(t, staged, "mod archive")

	// ========================================================================
	// First run: store content and prepare a workspace referencing it
	// ========================================================================

	var hash string
	t.Run("PrepareAndClose", func(t *testing.T) {
		e, err := engine.New(ctx, cfg)
		if err != nil {
			t.Fatalf("Failed to create engine: %v", err)
		}
		defer e.Close()

		hash, err = e.StoreContent(ctx, staged)
		if err != nil {
			t.Fatalf("Failed to store content: %v", err)
		}

		req := &workspace.Configuration{
			ID:                   "modded",
			Strategy:             workspace.StrategyHardLink,
			BaseInstallationPath: base,
			GameClient:           workspace.GameClient{ID: "zh", ExecutablePath: "generals.exe"},
			Manifests: []manifest.Manifest{
				{
					ID:          "1.0.steam.gameinstallation.zerohour",
					ContentType: manifest.ContentTypeGameInstallation,
					Files: []manifest.File{
						{RelativePath: "generals.exe", SourceType: manifest.SourceGameInstallation, IsExecutable: true},
					},
				},
				{
					ID:          "1.0.genhub.mod.example",
					ContentType: manifest.ContentTypeMod,
					Files: []manifest.File{
						{RelativePath: "Data/mod.big", Hash: hash, SourceType: manifest.SourceContentAddressable},
					},
				},
			},
		}
		if _, err := e.PrepareWorkspace(ctx, req, manager.PrepareOptions{}); err != nil {
			t.Fatalf("Failed to prepare workspace: %v", err)
		}
	})

	// ========================================================================
	// Second run: the record and its reference are still there
	// ========================================================================

	t.Run("ReopenAndCollect", func(t *testing.T) {
		e, err := engine.New(ctx, cfg)
		if err != nil {
			t.Fatalf("Failed to reopen engine: %v", err)
		}
		defer e.Close()

		info, err := e.Manager().GetWorkspace(ctx, "modded")
		if err != nil {
			t.Fatalf("Workspace record was not persisted: %v", err)
		}
		if info.State != workspace.StateReady {
			t.Errorf("Expected state %q, got %q", workspace.StateReady, info.State)
		}

		stats, err := e.CollectGarbage(ctx)
		if err != nil {
			t.Fatalf("GC failed: %v", err)
		}
		if stats.DeletedCount != 0 {
			t.Errorf("Referenced blob was collected: %s", stats.Summary())
		}

		if err := e.CleanupWorkspace(ctx, "modded"); err != nil {
			t.Fatalf("Cleanup failed: %v", err)
		}
	})

	// ========================================================================
	// Direct store access: references are gone after cleanup
	// ========================================================================

	t.Run("ReferencesReleased", func(t *testing.T) {
		path, _ := cfg.Index.Badger["path"].(string)
		st, err := badger.New(ctx, badger.Config{Path: path})
		if err != nil {
			t.Fatalf("Failed to open badger index: %v", err)
		}
		defer st.Close()

		count, err := st.ReferenceCount(ctx, hash)
		if err != nil {
			t.Fatalf("Failed to count references: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected no references after cleanup, got %d", count)
		}

		if _, err := st.GetWorkspace(ctx, "modded"); err == nil {
			t.Error("Workspace record should be gone after cleanup")
		}
	})
}
