package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/config"
	stowctx "github.com/user/stow/internal/context"
	"github.com/user/stow/internal/daemon"
	"github.com/user/stow/internal/model"
	"github.com/user/stow/internal/storage"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check stow health and report issues",
	Long: `Check the stow directory and report any issues found:
  - config.yaml validity
  - storages can be opened
  - files referenced by records exist in their storage
  - records still waiting for promotion
  - failed jobs and a stale daemon PID file

Flags:
  --fix       Remove a stale daemon PID file
  --json      Output results in JSON format`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

var doctorFix bool

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "Attempt to fix issues")
	rootCmd.AddCommand(doctorCmd)
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Check   string `json:"check"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// DoctorOutput represents the JSON output for doctor command
type DoctorOutput struct {
	Healthy bool          `json:"healthy"`
	Checks  []CheckResult `json:"checks"`
	Summary struct {
		Total    int `json:"total"`
		OK       int `json:"ok"`
		Warnings int `json:"warnings"`
		Errors   int `json:"errors"`
	} `json:"summary"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	c := stowctx.Resolve(GetActorName(), GetStashName())
	if c.StowDir == "" {
		return stowctx.ErrNoStowDir
	}
	results := runHealthChecks(cmd.Context(), c)
	if err := outputDoctorResults(cmd, results); err != nil {
		return err
	}
	for _, r := range results {
		if r.Status == "error" {
			return &reportedError{code: ExitFailure}
		}
	}
	return nil
}

func runHealthChecks(ctx context.Context, c *stowctx.Context) []CheckResult {
	var results []CheckResult

	if _, err := config.Load(c.StowDir); err != nil {
		return append(results, CheckResult{Check: "config", Status: "error", Message: "Invalid config.yaml", Details: err.Error()})
	}
	results = append(results, CheckResult{Check: "config", Status: "ok", Message: "config.yaml is valid"})

	s, err := openSessionAt(ctx, c, false)
	if err != nil {
		return append(results, CheckResult{Check: "storages", Status: "error", Message: "Could not open storages", Details: err.Error()})
	}
	defer s.Close()
	results = append(results, CheckResult{Check: "storages", Status: "ok", Message: "Cache and store are available"})

	results = append(results, checkDaemonPID(s))
	results = append(results, checkJobs(s))

	stashes, err := s.store.ListStashes()
	if err != nil {
		return append(results, CheckResult{Check: "list_stashes", Status: "error", Message: "Failed to list stashes", Details: err.Error()})
	}
	if len(stashes) == 0 {
		return append(results, CheckResult{Check: "stashes_exist", Status: "warning", Message: "No stashes found"})
	}
	for _, stash := range stashes {
		results = append(results, checkFiles(ctx, s, stash)...)
	}
	return results
}

func checkDaemonPID(s *session) CheckResult {
	pidFile := daemon.New(s.ctx.StowDir).PIDFile()
	pid, err := daemon.ReadPID(pidFile)
	switch {
	case errors.Is(err, daemon.ErrPIDFileNotFound):
		return CheckResult{Check: "daemon_pid", Status: "ok", Message: "Daemon not running"}
	case err == nil && daemon.IsProcessRunning(pid):
		return CheckResult{Check: "daemon_pid", Status: "ok", Message: fmt.Sprintf("Daemon running (PID %d)", pid)}
	}
	if doctorFix {
		if _, err := daemon.CleanStalePID(pidFile); err != nil {
			return CheckResult{Check: "daemon_pid", Status: "error", Message: "Could not remove stale PID file", Details: err.Error()}
		}
		return CheckResult{Check: "daemon_pid", Status: "ok", Message: "Removed stale PID file"}
	}
	return CheckResult{Check: "daemon_pid", Status: "warning", Message: "Stale daemon PID file", Details: "run 'stow doctor --fix'"}
}

func checkJobs(s *session) CheckResult {
	failed, err := s.spool.Failed()
	if err != nil {
		return CheckResult{Check: "jobs", Status: "error", Message: "Could not read job spool", Details: err.Error()}
	}
	pending, err := s.spool.Pending()
	if err != nil {
		return CheckResult{Check: "jobs", Status: "error", Message: "Could not read job spool", Details: err.Error()}
	}
	if len(failed) > 0 {
		return CheckResult{
			Check:   "jobs",
			Status:  "warning",
			Message: fmt.Sprintf("%d failed job(s)", len(failed)),
			Details: strings.Join(failed, "; "),
		}
	}
	if running, _ := daemon.New(s.ctx.StowDir).IsRunning(); pending > 0 && !running {
		return CheckResult{
			Check:   "jobs",
			Status:  "warning",
			Message: fmt.Sprintf("%d pending job(s) and no daemon", pending),
			Details: "run 'stow worker' or 'stow daemon start'",
		}
	}
	return CheckResult{Check: "jobs", Status: "ok", Message: fmt.Sprintf("%d pending job(s)", pending)}
}

// checkFiles verifies that every file a record references exists, and
// counts records whose files were never promoted.
func checkFiles(ctx context.Context, s *session, stash *model.Stash) []CheckResult {
	records, err := s.store.ListRecords(ctx, stash.Name, storage.ListOptions{})
	if err != nil {
		return []CheckResult{{Check: stash.Name + "/records", Status: "error", Message: "Failed to list records", Details: err.Error()}}
	}

	storages := s.storages.Map()
	var missing []string
	cached := 0
	for _, rec := range records {
		for _, name := range stash.Columns.Attachments() {
			files, err := referencedFiles(rec.Get(model.AttachmentColumn(name)))
			if err != nil {
				missing = append(missing, fmt.Sprintf("%s.%s: %v", rec.ID, name, err))
				continue
			}
			for i, f := range files {
				if i == 0 && f.Storage == attacher.DefaultCache {
					cached++
				}
				store, ok := storages[f.Storage]
				if !ok {
					missing = append(missing, fmt.Sprintf("%s.%s: unknown storage %s", rec.ID, name, f.Storage))
					continue
				}
				if ok, err := store.Exists(ctx, f.ID); err != nil || !ok {
					missing = append(missing, fmt.Sprintf("%s.%s: %s", rec.ID, name, f))
				}
			}
		}
	}

	var results []CheckResult
	if len(missing) > 0 {
		results = append(results, CheckResult{
			Check:   stash.Name + "/missing_files",
			Status:  "error",
			Message: fmt.Sprintf("%d missing file(s)", len(missing)),
			Details: strings.Join(missing, "; "),
		})
	} else {
		results = append(results, CheckResult{Check: stash.Name + "/missing_files", Status: "ok", Message: "No missing files"})
	}
	if cached > 0 {
		results = append(results, CheckResult{
			Check:   stash.Name + "/unpromoted",
			Status:  "warning",
			Message: fmt.Sprintf("%d record(s) with cached files", cached),
			Details: "run 'stow worker' or 'stow promote <id>'",
		})
	}
	return results
}

// referencedFiles returns the attached file followed by its derivatives.
func referencedFiles(column string) ([]*model.UploadedFile, error) {
	if column == "" {
		return nil, nil
	}
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(column), &data); err != nil {
		return nil, err
	}
	var files []*model.UploadedFile
	if _, ok := data["id"]; ok {
		f, err := model.ParseUploadedFile(data)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if raw, ok := data["derivatives"]; ok {
		d, err := model.ParseDerivatives(raw)
		if err != nil {
			return nil, err
		}
		files = append(files, d.Files()...)
	}
	return files, nil
}

func outputDoctorResults(cmd *cobra.Command, results []CheckResult) error {
	var okCount, warnCount, errCount int
	for _, r := range results {
		switch r.Status {
		case "ok":
			okCount++
		case "warning":
			warnCount++
		case "error":
			errCount++
		}
	}

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		output := DoctorOutput{Healthy: errCount == 0, Checks: results}
		output.Summary.Total = len(results)
		output.Summary.OK = okCount
		output.Summary.Warnings = warnCount
		output.Summary.Errors = errCount
		return printJSON(out, output)
	}

	fmt.Fprintln(out, "Stow Health Check")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)
	for _, r := range results {
		var statusIcon string
		switch r.Status {
		case "ok":
			statusIcon = "[OK]"
		case "warning":
			statusIcon = "[WARN]"
		case "error":
			statusIcon = "[ERROR]"
		}
		fmt.Fprintf(out, "%-8s %s: %s\n", statusIcon, r.Check, r.Message)
		if r.Details != "" {
			fmt.Fprintf(out, "         %s\n", r.Details)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Summary: %d checks, %d ok, %d warnings, %d errors\n",
		len(results), okCount, warnCount, errCount)
	return nil
}
