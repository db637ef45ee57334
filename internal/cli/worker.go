package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/daemon"
)

var workerFailed bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run queued promotion and deletion jobs once",
	Long: `Drain the job queue in this process and exit. Jobs whose record has
changed or disappeared are dropped; failing jobs are retried with backoff
and set aside after the configured number of attempts.

Examples:
  stow worker
  stow worker --failed`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerFailed, "failed", false, "List jobs that exhausted their attempts instead of draining")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()
	w := cmd.OutOrStdout()

	if workerFailed {
		failed, err := s.spool.Failed()
		if err != nil {
			return err
		}
		if GetJSONOutput() {
			if failed == nil {
				failed = []string{}
			}
			return printJSON(w, map[string]interface{}{"failed": failed})
		}
		for _, name := range failed {
			fmt.Fprintln(w, name)
		}
		return nil
	}

	worker := daemon.NewWorker(s.spool, s.resolver(),
		daemon.WithConcurrency(s.cfg.Workers), daemon.WithLogger(s.logger))
	stats, err := worker.Drain(ctx)
	if err != nil {
		return err
	}
	pending, err := s.spool.Pending()
	if err != nil {
		return err
	}

	if GetJSONOutput() {
		return printJSON(w, map[string]interface{}{"jobs": stats, "pending": pending})
	}
	if !IsQuiet() {
		fmt.Fprintf(w, "%d done, %d abandoned, %d retried, %d failed (%d pending)\n",
			stats.Done, stats.Abandoned, stats.Retried, stats.DeadLettered, pending)
	}
	return nil
}
