package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	stowctx "github.com/user/stow/internal/context"
	"github.com/user/stow/internal/daemon"
)

// DefaultLogLines is the default number of log lines to show.
const DefaultLogLines = 50

var (
	logLines         int
	daemonForeground bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background promotion daemon",
	Long: `Manage the daemon that works through queued promotion and deletion
jobs. Jobs are queued when 'background: true' is set in .stow/config.yaml;
without a running daemon they wait until 'stow worker' drains them.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background daemon",
	Long:  `Start the background daemon. Idempotent - no error if already running.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	Long:  `Stop the background daemon gracefully. Idempotent - no error if not running.`,
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Args:  cobra.NoArgs,
	RunE:  runDaemonLogs,
}

// daemonRunCmd is what start executes in the background.
var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemonRun,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&logLines, "lines", "n", DefaultLogLines, "Number of lines to show")
	daemonRunCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Log to stderr instead of the log file")
}

func stowDir() (string, error) {
	dir := stowctx.FindStowDir()
	if dir == "" {
		return "", stowctx.ErrNoStowDir
	}
	return dir, nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	dir, err := stowDir()
	if err != nil {
		return err
	}
	d := daemon.New(dir)
	w := cmd.OutOrStdout()

	if running, pid := d.IsRunning(); running {
		if GetJSONOutput() {
			return printJSON(w, map[string]interface{}{"status": "already_running", "pid": pid})
		}
		fmt.Fprintf(w, "Daemon is already running (PID: %d)\n", pid)
		return nil
	}

	pid, err := d.Start()
	if err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	if GetJSONOutput() {
		return printJSON(w, map[string]interface{}{"status": "started", "pid": pid})
	}
	fmt.Fprintf(w, "Daemon started (PID: %d)\n", pid)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	dir, err := stowDir()
	if err != nil {
		return err
	}
	d := daemon.New(dir)
	w := cmd.OutOrStdout()

	running, pid := d.IsRunning()
	if !running {
		if GetJSONOutput() {
			return printJSON(w, map[string]interface{}{"status": "not_running"})
		}
		fmt.Fprintln(w, "Daemon is not running")
		return nil
	}
	if err := d.Stop(); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}
	if GetJSONOutput() {
		return printJSON(w, map[string]interface{}{"status": "stopped", "stopped_pid": pid})
	}
	fmt.Fprintf(w, "Daemon stopped (was PID: %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	dir, err := stowDir()
	if err != nil {
		return err
	}
	status, err := daemon.New(dir).GetStatus()
	if err != nil {
		return fmt.Errorf("getting daemon status: %w", err)
	}
	w := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(w, status)
	}

	if !status.Running {
		fmt.Fprintln(w, "Daemon Status: not running")
	} else {
		fmt.Fprintln(w, "Daemon Status: running")
		fmt.Fprintf(w, "  PID: %d\n", status.PID)
		if status.UptimeSeconds > 0 {
			fmt.Fprintf(w, "  Uptime: %s\n", formatDuration(time.Duration(status.UptimeSeconds)*time.Second))
		}
		if status.MemoryMB > 0 {
			fmt.Fprintf(w, "  Memory: %.1f MB\n", status.MemoryMB)
		}
	}
	if !status.LastDrain.IsZero() {
		fmt.Fprintf(w, "  Last drain: %s\n", humanize.Time(status.LastDrain))
	}
	fmt.Fprintf(w, "  Jobs: %d done, %d abandoned, %d retried, %d failed\n",
		status.Jobs.Done, status.Jobs.Abandoned, status.Jobs.Retried, status.Jobs.DeadLettered)
	fmt.Fprintf(w, "  Pending: %d\n", status.Pending)
	return nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	dir, err := stowDir()
	if err != nil {
		return err
	}
	d := daemon.New(dir)
	w := cmd.OutOrStdout()

	lines, err := daemon.TailLog(d.LogFile(), logLines)
	if err != nil {
		return fmt.Errorf("reading log file: %w", err)
	}
	if GetJSONOutput() {
		if lines == nil {
			lines = []string{}
		}
		return printJSON(w, map[string]interface{}{"logs": lines, "count": len(lines)})
	}
	if !d.LogExists() {
		fmt.Fprintln(w, "No log file found")
		return nil
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := daemon.ProcessConfig{
		Spool:       s.spool,
		Resolve:     s.resolver(),
		Concurrency: s.cfg.Workers,
	}
	if daemonForeground {
		cfg.Output = os.Stderr
	}
	return daemon.NewProcess(s.ctx.StowDir, cfg).Run(ctx)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
