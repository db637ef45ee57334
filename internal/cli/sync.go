package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	syncRebuild bool
	syncCompact bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Check or repair the record table against the history log",
	Long: `Every write is appended to the stash's history log. The record table
can be rebuilt from that log, and the log compacted down to the current
records.

Flags:
  --rebuild   Replay the history log into a fresh record table
  --compact   Rewrite the history log to one entry per live record`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncRebuild, "rebuild", false, "Rebuild the record table from the history log")
	syncCmd.Flags().BoolVar(&syncCompact, "compact", false, "Compact the history log")
	rootCmd.AddCommand(syncCmd)
}

// StashStatus is the sync state of one stash.
type StashStatus struct {
	Name    string `json:"name"`
	Prefix  string `json:"prefix"`
	Records int    `json:"records"`
	Action  string `json:"action,omitempty"`
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	stashes, err := s.store.ListStashes()
	if err != nil {
		return err
	}
	if GetStashName() != "" {
		stash, err := s.store.GetStash(GetStashName())
		if err != nil {
			return err
		}
		stashes = stashes[:0]
		stashes = append(stashes, stash)
	}

	out := make([]StashStatus, 0, len(stashes))
	for _, stash := range stashes {
		st := StashStatus{Name: stash.Name, Prefix: stash.Prefix}
		if syncRebuild {
			if err := s.store.Rebuild(ctx, stash.Name); err != nil {
				return fmt.Errorf("rebuild %s: %w", stash.Name, err)
			}
			st.Action = "rebuilt"
		}
		if syncCompact {
			if err := s.store.Compact(ctx, stash.Name); err != nil {
				return fmt.Errorf("compact %s: %w", stash.Name, err)
			}
			if st.Action != "" {
				st.Action += ", "
			}
			st.Action += "compacted"
		}
		if st.Records, err = s.store.CountRecords(stash.Name); err != nil {
			return err
		}
		out = append(out, st)
	}

	w := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(w, map[string]interface{}{"stashes": out})
	}
	for _, st := range out {
		fmt.Fprintf(w, "%s (%s): %d records", st.Name, st.Prefix, st.Records)
		if st.Action != "" {
			fmt.Fprintf(w, " [%s]", st.Action)
		}
		fmt.Fprintln(w)
	}
	return nil
}
