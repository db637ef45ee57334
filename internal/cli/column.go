package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/model"
)

var (
	columnDesc       string
	columnAttachment bool
)

var columnCmd = &cobra.Command{
	Use:     "column",
	Aliases: []string{"col"},
	Short:   "Manage stash columns",
	Long: `Manage the columns of a stash.

Plain columns hold text. Attachment columns hold a file and its
derivatives; an attachment named "image" is stored in the column
"image_data".

Examples:
  stow column add title caption
  stow column add image --attachment
  stow column list`,
}

var columnAddCmd = &cobra.Command{
	Use:   "add <name> [name...]",
	Short: "Add one or more columns to the stash",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runColumnAdd,
}

var columnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the columns of the stash",
	Args:  cobra.NoArgs,
	RunE:  runColumnList,
}

func init() {
	columnAddCmd.Flags().StringVar(&columnDesc, "desc", "", "Column description")
	columnAddCmd.Flags().BoolVar(&columnAttachment, "attachment", false, "Add attachment slots instead of text columns")
	columnCmd.AddCommand(columnAddCmd, columnListCmd)
	rootCmd.AddCommand(columnCmd)
}

func runColumnAdd(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	var added []string
	for _, name := range args {
		if columnAttachment {
			err = s.store.AddAttachment(s.ctx.Stash, name, s.ctx.Actor)
			name = model.AttachmentColumn(name)
		} else {
			err = s.store.AddColumn(s.ctx.Stash, model.Column{
				Name:    name,
				Kind:    model.KindText,
				Desc:    columnDesc,
				Added:   time.Now(),
				AddedBy: s.ctx.Actor,
			})
		}
		if err != nil {
			return fmt.Errorf("column %s: %w", name, err)
		}
		added = append(added, name)
	}

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, map[string]interface{}{"stash": s.ctx.Stash, "added": added})
	}
	if !IsQuiet() {
		for _, name := range added {
			fmt.Fprintf(out, "Added column '%s'\n", name)
		}
	}
	return nil
}

func runColumnList(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, stash.Columns)
	}
	if len(stash.Columns) == 0 {
		fmt.Fprintln(out, "No columns defined")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tADDED BY\tDESCRIPTION")
	for _, c := range stash.Columns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Kind, c.AddedBy, c.Desc)
	}
	return tw.Flush()
}
