package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittows/internal/logger"
	"github.com/marmos91/dittows/pkg/config"
	"github.com/marmos91/dittows/pkg/engine"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `DittoWS - workspace materialization engine

Usage:
  dittows <command> [flags]

Commands:
  init       Write a default configuration file
  prepare    Prepare a workspace from a YAML request file
  validate   Validate a request file without touching the filesystem
  list       List prepared workspaces
  show       Show one workspace and re-check it on disk
  cleanup    Remove a workspace and release its content references
  store      Import files into the content store
  gc         Remove content no workspace references
  serve      Run periodic garbage collection and serve metrics

Run 'dittows <command> --help' for command flags.
`

// command is one CLI subcommand. run receives the remaining arguments
// after flag parsing.
type command struct {
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, cli *cli, args []string) error

	// bindings maps config keys to command flags that override them.
	bindings map[string]string

	// needsEngine is false for commands that only read configuration.
	needsEngine bool
}

var commands = map[string]command{
	"init":     {flags: initFlags, run: runInit},
	"prepare":  {flags: prepareFlags, run: runPrepare, needsEngine: true},
	"validate": {flags: validateFlags, run: runValidate, needsEngine: true},
	"list":     {run: runList, needsEngine: true},
	"show":     {run: runShow, needsEngine: true},
	"cleanup":  {run: runCleanup, needsEngine: true},
	"store":    {run: runStore, needsEngine: true},
	"gc":       {flags: gcFlags, run: runGC, bindings: gcBindings, needsEngine: true},
	"serve":    {run: runServe, needsEngine: true},
}

// cli carries what every command needs.
type cli struct {
	fs     *pflag.FlagSet
	viper  *viper.Viper
	cfg    *config.Config
	engine *engine.Engine
	out    io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(out, usage)
		return 0
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		return 2
	}

	c := &cli{
		fs:    pflag.NewFlagSet("dittows "+name, pflag.ContinueOnError),
		viper: viper.New(),
		out:   out,
	}
	configPath := globalFlags(c.fs)
	if cmd.flags != nil {
		cmd.flags(c.fs)
	}
	if err := c.fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if err := bindFlags(c.viper, c.fs, globalBindings, cmd.bindings); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if name != "init" {
		cfg, err := config.LoadWith(c.viper, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		c.cfg = cfg

		if err := configureLogging(cfg.Logging); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer func() { _ = logger.Close() }()
	}

	if cmd.needsEngine {
		e, err := engine.New(ctx, c.cfg)
		if err != nil {
			logger.Error("Failed to initialize: %v", err)
			return 1
		}
		c.engine = e
		defer func() {
			if err := e.Close(); err != nil {
				logger.Error("Shutdown error: %v", err)
			}
		}()
	}

	if err := cmd.run(ctx, c, c.fs.Args()); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "Error: %v\n\nUsage of %s:\n%s", err, c.fs.Name(), c.fs.FlagUsages())
			return 2
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags registers the flags shared by every command and returns the
// config path flag.
func globalFlags(fs *pflag.FlagSet) *string {
	configPath := fs.StringP("config", "c", "", "Path to config file (default: $XDG_CONFIG_HOME/dittows/config.yaml)")
	fs.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.String("log-format", "", "Log format (text, json)")
	fs.String("content-path", "", "Content storage root")
	fs.String("workspace-path", "", "Root directory for new workspaces")
	fs.String("index", "", "Workspace index backend (memory, badger)")
	return configPath
}

var globalBindings = map[string]string{
	"logging.level":          "log-level",
	"logging.format":         "log-format",
	"storage.content_path":   "content-path",
	"storage.workspace_path": "workspace-path",
	"index.type":             "index",
}

// bindFlags makes explicitly set flags override file and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, sets ...map[string]string) error {
	for _, bindings := range sets {
		for key, flag := range bindings {
			if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", flag, err)
			}
		}
	}
	return nil
}

func configureLogging(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}

// usageError marks errors caused by wrong arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}
