// Package cli implements the anon command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/logger"
	"github.com/mesh-intelligence/anonymizer/internal/paths"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

// Exit codes.
const (
	ExitSuccess     = 0
	ExitUserError   = 1
	ExitSysError    = 2
	ExitFailedUnits = 3
)

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: ExitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: ExitSysError, err: err} }

// errFailedUnits reports a run that finished with failures already written
// to the report.
var errFailedUnits = errors.New("run completed with failed units")

// ExitCode maps an error returned by the root command to a process exit
// code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch {
	case errors.Is(err, errFailedUnits):
		return ExitFailedUnits
	case errors.Is(err, types.ErrMissingSecretKey),
		errors.Is(err, types.ErrStoreConflict),
		errors.Is(err, types.ErrHashCollision),
		errors.Is(err, types.ErrKeyMismatch):
		return ExitSysError
	default:
		// Flag and argument errors from cobra.
		return ExitUserError
	}
}

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	jsonMode  bool
	logLevel  string
	logFormat string
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	flags     rootFlags
	configDir string
	settings  Settings
	log       *zap.Logger
}

// NewRootCmd creates the top-level "anon" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}
	root := &cobra.Command{
		Use:   "anon",
		Short: "Replace sensitive entities with stable pseudonyms",
		Long: "anon finds personal and infrastructure identifiers in text and structured\n" +
			"documents and replaces each with a keyed, reversible token.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { _ = a.log.Sync() },
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: .anon)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory (default: db)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", logger.FormatConsole, "log format: console or json")
	bindFlag(pf, "log-level", "log.level")
	bindFlag(pf, "log-format", "log.format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newAnonymizeCmd(a),
		newDeanonymizeCmd(a),
		newEntitiesCmd(a),
		newEntityTypesCmd(a),
		newLanguagesCmd(a),
	)
	return root
}

// setup resolves the config directory, loads settings and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	_, s, err := loadConfig(dir, cmd)
	if err != nil {
		return sysError(fmt.Errorf("load config: %w", err))
	}
	log, err := logger.New(s.Log.Level, s.Log.Format)
	if err != nil {
		return userError(err)
	}
	a.configDir = dir
	a.settings = s
	a.log = log
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	return run(ctx, NewRootCmd(), os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, root *cobra.Command, args []string, stdout, stderr io.Writer) int {
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errFailedUnits) {
		fmt.Fprintln(stderr, "anon:", err)
	}
	return ExitCode(err)
}
