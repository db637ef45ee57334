package cli

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a record and its attachments",
	Long: `Display a record's fields and the state of each attachment: whether
the file is still cached or already stored, its size and type, and its
derivatives.

Examples:
  stow show ph-a1b2
  stow show ph-a1b2 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return err
	}
	_, e, err := s.find(ctx, args[0])
	if err != nil {
		return err
	}
	v := viewEntry(e, stash.Columns.Attachments())

	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), v)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s\n", v.ID)
	fmt.Fprintf(w, "  created: %s by %s\n", humanize.Time(v.CreatedAt), v.CreatedBy)
	fmt.Fprintf(w, "  updated: %s by %s\n", humanize.Time(v.UpdatedAt), v.UpdatedBy)
	keys := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, v.Fields[k])
	}
	if len(v.Attachments) > 0 {
		fmt.Fprintln(w)
	}
	for _, a := range v.Attachments {
		printAttachment(w, a)
	}
	return nil
}
