// Package cli provides the stow command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/user/stow/internal/logging"
)

// Global flags
var (
	jsonOutput bool
	stashName  string
	actorName  string
	quiet      bool
	verbose    bool
	noDaemon   bool
)

var rootCmd = &cobra.Command{
	Use:   "stow",
	Short: "File attachments for records, promoted safely under concurrency",
	Long: `Stow keeps records in named stashes and attaches files to them.

Uploads land in a cache storage first and are promoted to permanent storage
once the record is saved. Promotion checks that the record still points at
the same file, so a concurrent replace is never overwritten.

Features:
  - Cache and store storages: filesystem, memory, badger or S3
  - Derivatives (thumbnails, pages) nested under the original file
  - Validation rules on size, MIME type and extension
  - Background promotion through a job spool and daemon`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logging.SetDebug(true)
		} else if quiet {
			logging.Default().SetLevel(log.ErrorLevel)
		}
	},
}

// Execute runs the command line and exits with its status.
func Execute() {
	Exit(Run(os.Args[1:]))
}

// Run executes args and returns the exit code. Errors are reported on
// stderr, or on stdout as JSON with --json.
func Run(args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return reportError(rootCmd.OutOrStdout(), rootCmd.ErrOrStderr(), err)
	}
	return ExitOK
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&stashName, "stash", "", "Target stash (default: auto-detect or $STOW_DEFAULT)")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "", "Actor for the audit trail (default: $STOW_ACTOR or $USER)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&noDaemon, "no-daemon", false, "Promote and delete files inline even when background is configured")
}

// ExitCode is used to communicate exit codes for testing
var ExitCode int

// ExitFunc is the function called to exit the program
// Can be overridden for testing
var ExitFunc = os.Exit

// Exit sets the exit code and calls the exit function
func Exit(code int) {
	ExitCode = code
	ExitFunc(code)
}

// GetJSONOutput returns whether JSON output is enabled
func GetJSONOutput() bool {
	return jsonOutput
}

// GetStashName returns the target stash name
func GetStashName() string {
	return stashName
}

// GetActorName returns the actor name override
func GetActorName() string {
	return actorName
}

// IsQuiet returns whether quiet mode is enabled
func IsQuiet() bool {
	return quiet
}

// IsVerbose returns whether verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// NoDaemon returns whether background work should run inline
func NoDaemon() bool {
	return noDaemon
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
