// Package cli implements the cobra root command of bundle-launcher.
//
// The launcher has no flags or subcommands of its own: every argument on
// the command line, including ones that look like flags such as --help,
// belongs to the bundled application and is forwarded to it untouched.
// This file defines that command and the mapping from its result to a
// process exit code.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/bundle-launcher/internal/config"
	"github.com/shinji-kodama/bundle-launcher/internal/launcher"
	"github.com/shinji-kodama/bundle-launcher/internal/location"
	"github.com/shinji-kodama/bundle-launcher/internal/model"
)

// executable locates the running program and loadConfig reads the
// environment. Tests replace them.
var (
	executable location.ExecutableFunc = os.Executable
	loadConfig                         = config.Load
)

// NewRootCommand creates the root cobra command.
//
// Flag parsing is disabled so cobra hands every argument to RunE, and the
// built-in help and version flags never fire. A non-zero script status is
// returned as *model.ExitStatusError.
func NewRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle-launcher [args...]",
		Short: "Start the script application bundled with this executable",
		Long: `bundle-launcher starts the script application appended to its own
executable. It loads the runtime-core-*.zip and runtime-stdlib-*.zip archives
found next to the executable, runs META-INF/init and then META-INF/main from
the bundle, and exits with the status the scripts report.

Environment:
  ` + config.DebugKey + `    when set, print the invocation and failure traces
  ` + config.ArchiveKey + `  bundle location to use instead of the executable`,

		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,

		// SilenceUsage and SilenceErrors keep cobra quiet: the launcher is
		// silent on failure unless debug output is enabled.
		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: runLauncher,
	}
}

func runLauncher(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return model.WrapLaunchError(model.KindConfiguration, "cannot read configuration", err)
	}

	l, err := launcher.New(args, launcher.Options{
		Stdout:     cmd.OutOrStdout(),
		Location:   cfg.ArchiveLocation,
		Executable: executable,
	})
	if err != nil {
		return err
	}

	status, err := l.Start()
	if err != nil {
		return err
	}
	if status != int(model.ExitSuccess) {
		return &model.ExitStatusError{Status: status}
	}
	return nil
}

// Run executes the root command with args and returns the process exit
// code. Debug output goes to stdout and failure traces to stderr.
func Run(args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra falls back to os.Args for a nil slice.
		args = []string{}
	}

	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	return exitCode(rootCmd.Execute(), stderr)
}

// Execute runs the launcher with the process arguments, runs the exit
// hooks and exits. This is the main entry point called from main.go.
func Execute() {
	code := Run(os.Args[1:], os.Stdout, os.Stderr)
	launcher.RunExitHooks()
	os.Exit(code)
}

// exitCode translates the command result into an exit code. A script
// status passes through as is; every other error means ExitFailure.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return int(model.ExitSuccess)
	}

	var statusErr *model.ExitStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}

	reportFailure(err, stderr)
	return int(model.ExitFailure)
}

// reportFailure prints the deepest cause of err that carries a stack trace,
// with the messages of the causes below it, but only when debug output is
// enabled. The flag is read from
// the environment again here rather than taken from the launcher, which
// may not exist if construction failed.
func reportFailure(err error, stderr io.Writer) {
	if !config.DebugEnabled() {
		return
	}
	fmt.Fprintf(stderr, "%+v\n", model.TracedCause(err))
}
