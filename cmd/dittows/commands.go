package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/config"
	"github.com/marmos91/dittows/pkg/workspace"
	"github.com/marmos91/dittows/pkg/workspace/manager"
	"github.com/spf13/pflag"
)

// ============================================================================
// init
// ============================================================================

func initFlags(fs *pflag.FlagSet) {
	fs.BoolP("force", "f", false, "Overwrite an existing configuration file")
}

func runInit(_ context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return usagef("init takes no arguments")
	}
	force, _ := c.fs.GetBool("force")

	path, _ := c.fs.GetString("config")
	if path == "" {
		written, err := config.InitConfig(force)
		if err != nil {
			return err
		}
		path = written
	} else if err := config.InitConfigToPath(path, force); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Configuration written to %s\n", path)
	return nil
}

// ============================================================================
// prepare / validate
// ============================================================================

func prepareFlags(fs *pflag.FlagSet) {
	requestFlags(fs)
	fs.Bool("force-recreate", false, "Delete and rebuild the workspace even if it is up to date")
	fs.Bool("skip-cleanup", false, "Keep files that are not part of the manifests")
	fs.Bool("verify-hashes", false, "Verify placed files against their manifest hashes")
}

func validateFlags(fs *pflag.FlagSet) {
	requestFlags(fs)
}

func requestFlags(fs *pflag.FlagSet) {
	fs.String("strategy", "", "Override the request strategy (full_copy, symlink_only, hard_link, hybrid_copy_symlink)")
	fs.String("workspace-root", "", "Override the request workspace root")
}

// loadRequest reads the request file named by args and applies the
// request flags.
func loadRequest(c *cli, args []string) (*workspace.Configuration, error) {
	if len(args) != 1 {
		return nil, usagef("expected exactly one request file, got %d arguments", len(args))
	}

	req, err := workspace.LoadConfiguration(args[0])
	if err != nil {
		return nil, err
	}

	if s, _ := c.fs.GetString("strategy"); s != "" {
		kind, err := workspace.ParseStrategyKind(s)
		if err != nil {
			return nil, usagef("%v", err)
		}
		req.Strategy = kind
	}
	if root, _ := c.fs.GetString("workspace-root"); root != "" {
		req.WorkspaceRootPath = root
	}
	return req, nil
}

func runPrepare(ctx context.Context, c *cli, args []string) error {
	req, err := loadRequest(c, args)
	if err != nil {
		return err
	}
	if c.fs.Changed("force-recreate") {
		req.ForceRecreate, _ = c.fs.GetBool("force-recreate")
	}
	if c.fs.Changed("verify-hashes") {
		req.VerifyHashes, _ = c.fs.GetBool("verify-hashes")
	}
	skipCleanup, _ := c.fs.GetBool("skip-cleanup")

	info, err := c.engine.PrepareWorkspace(ctx, req, manager.PrepareOptions{
		SkipCleanup: skipCleanup,
		Progress: func(p workspace.Progress) {
			logger.Debug("[%s] %5.1f%% (%d/%d) %s", req.ID, p.Percent(), p.Processed, p.Total, p.CurrentFile)
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Workspace %s ready at %s\n", info.ID, info.WorkspacePath)
	fmt.Fprintf(c.out, "  strategy:   %s\n", info.Strategy)
	fmt.Fprintf(c.out, "  files:      %s (%s)\n", humanize.Comma(int64(info.FileCount)), humanize.IBytes(uint64(max(info.TotalSizeBytes, 0))))
	if info.ExecutablePath != "" {
		fmt.Fprintf(c.out, "  executable: %s\n", info.ExecutablePath)
	}
	if len(info.Skipped) > 0 {
		fmt.Fprintf(c.out, "  skipped:    %d file(s)\n", len(info.Skipped))
		for _, s := range info.Skipped {
			fmt.Fprintf(c.out, "    %s: %s\n", s.RelativePath, s.Reason)
		}
	}
	return nil
}

func runValidate(ctx context.Context, c *cli, args []string) error {
	req, err := loadRequest(c, args)
	if err != nil {
		return err
	}

	result := c.engine.ValidateConfiguration(ctx, req)
	for _, issue := range result.Issues {
		fmt.Fprintln(c.out, issue.String())
	}

	if !result.IsValid() {
		return fmt.Errorf("request %s is invalid: %d error(s)", args[0], len(result.Errors()))
	}
	fmt.Fprintf(c.out, "Request %s is valid (%d warning(s))\n", args[0], len(result.Warnings()))
	return nil
}

// ============================================================================
// list / show / cleanup
// ============================================================================

func runList(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return usagef("list takes no arguments")
	}

	infos, err := c.engine.Manager().GetAllWorkspaces(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(c.out, "No workspaces")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTRATEGY\tFILES\tSIZE\tSTATE\tVALID\tUPDATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%t\t%s\n",
			info.ID, info.Strategy, info.FileCount,
			humanize.IBytes(uint64(max(info.TotalSizeBytes, 0))),
			info.State, info.IsValid, humanize.Time(info.UpdatedAt))
	}
	return w.Flush()
}

func runShow(ctx context.Context, c *cli, args []string) error {
	if len(args) != 1 {
		return usagef("expected exactly one workspace ID")
	}

	info, err := c.engine.Manager().ValidateWorkspace(ctx, args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", info.ID)
	fmt.Fprintf(w, "Path:\t%s\n", info.WorkspacePath)
	fmt.Fprintf(w, "Executable:\t%s\n", info.ExecutablePath)
	fmt.Fprintf(w, "Working directory:\t%s\n", info.WorkingDirectory)
	fmt.Fprintf(w, "Strategy:\t%s\n", info.Strategy)
	fmt.Fprintf(w, "State:\t%s\n", info.State)
	fmt.Fprintf(w, "Valid:\t%t\n", info.IsValid)
	fmt.Fprintf(w, "Files:\t%d\n", info.FileCount)
	fmt.Fprintf(w, "Size:\t%s\n", humanize.IBytes(uint64(max(info.TotalSizeBytes, 0))))
	fmt.Fprintf(w, "Manifests:\t%d\n", len(info.ManifestIDs))
	fmt.Fprintf(w, "CAS references:\t%d\n", len(info.CASReferences))
	fmt.Fprintf(w, "Conflicts:\t%d\n", info.Conflicts)
	fmt.Fprintf(w, "Created:\t%s\n", info.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated:\t%s\n", info.UpdatedAt.Format("2006-01-02 15:04:05"))
	if err := w.Flush(); err != nil {
		return err
	}

	for _, id := range info.ManifestIDs {
		fmt.Fprintf(c.out, "  manifest %s\n", id)
	}
	for _, s := range info.Skipped {
		fmt.Fprintf(c.out, "  skipped %s: %s\n", s.RelativePath, s.Reason)
	}
	return nil
}

func runCleanup(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usagef("expected at least one workspace ID")
	}

	var errs []error
	for _, id := range args {
		if err := c.engine.CleanupWorkspace(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		fmt.Fprintf(c.out, "Removed workspace %s\n", id)
	}
	return errors.Join(errs...)
}

// ============================================================================
// store / gc / serve
// ============================================================================

func runStore(ctx context.Context, c *cli, args []string) error {
	if len(args) == 0 {
		return usagef("expected at least one file")
	}

	for _, path := range args {
		hash, err := c.engine.StoreContent(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", path, err)
		}
		fmt.Fprintf(c.out, "%s  %s\n", hash, path)
	}
	return nil
}

var gcBindings = map[string]string{
	"gc.dry_run": "dry-run",
}

func gcFlags(fs *pflag.FlagSet) {
	fs.Bool("dry-run", false, "Report orphaned blobs without deleting them")
}

func runGC(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return usagef("gc takes no arguments")
	}

	stats, err := c.engine.CollectGarbage(ctx)
	if err != nil {
		return err
	}

	prefix := "Garbage collection"
	if c.cfg.GC.DryRun {
		prefix += " (dry run)"
	}
	fmt.Fprintf(c.out, "%s: %s\n", prefix, stats.Summary())
	return nil
}

func runServe(ctx context.Context, c *cli, args []string) error {
	if len(args) != 0 {
		return usagef("serve takes no arguments")
	}
	if !c.cfg.GC.Enabled && !c.cfg.Metrics.Enabled {
		logger.Warn("Neither gc.enabled nor metrics.enabled is set; serve will only wait for a signal")
	}
	return c.engine.Serve(ctx)
}
