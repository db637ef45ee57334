package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/model"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the write history of a record",
	Long: `List every logged write of a record, oldest first, with the file each
attachment pointed at after the write. Promotions show up as updates that
move an attachment from the cache to the store.

Examples:
  stow history ph-a1b2
  stow history ph-a1b2 --limit 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Show only the last N entries")
	rootCmd.AddCommand(historyCmd)
}

type historyEntry struct {
	Operation   string             `json:"operation"`
	At          time.Time          `json:"at"`
	Actor       string             `json:"actor"`
	Hash        string             `json:"hash"`
	Attachments map[string]*string `json:"attachments,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	id := args[0]
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return err
	}
	records, err := s.store.History(stash.Name, id)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
	}
	if historyLimit > 0 && len(records) > historyLimit {
		records = records[len(records)-historyLimit:]
	}

	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entry := historyEntry{Operation: rec.Operation, At: rec.UpdatedAt, Actor: rec.UpdatedBy, Hash: rec.Hash}
		if rec.Operation == model.OpDelete && rec.DeletedAt != nil {
			entry.At, entry.Actor = *rec.DeletedAt, rec.DeletedBy
		}
		for _, name := range stash.Columns.Attachments() {
			if entry.Attachments == nil {
				entry.Attachments = map[string]*string{}
			}
			entry.Attachments[name] = historyFile(rec.Get(model.AttachmentColumn(name)))
		}
		entries = append(entries, entry)
	}

	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	w := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %-6s  %s\n", e.At.Format(time.RFC3339), e.Operation, e.Actor)
		names := make([]string, 0, len(e.Attachments))
		for name := range e.Attachments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			f := e.Attachments[name]
			if f == nil {
				fmt.Fprintf(w, "  %s: (none)\n", name)
				continue
			}
			fmt.Fprintf(w, "  %s: %s\n", name, *f)
		}
	}
	return nil
}

// historyFile renders a logged attachment column as storage:id.
func historyFile(column string) *string {
	if column == "" {
		return nil
	}
	f, err := model.ParseUploadedFile(column)
	if err != nil {
		s := "(unreadable)"
		return &s
	}
	s := f.String()
	return &s
}
