package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/model"
)

var setCmd = &cobra.Command{
	Use:   "set <id> <field>=<value>...",
	Short: "Update record fields",
	Long: `Update one or more text fields on an existing record. Attachment
columns are changed with attach, assign and detach instead.

Examples:
  stow set ph-a1b2 title="Beach at dusk"
  stow set ph-a1b2 title=Beach place=Biarritz
  stow set ph-a1b2 notes=   # Clear a field`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	id := args[0]
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
	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	for _, arg := range args[1:] {
		key, value, err := splitAssignment(arg)
		if err != nil {
			return err
		}
		col := stash.Columns.Find(key)
		if col == nil {
			return fmt.Errorf("%w: '%s'", model.ErrColumnNotFound, key)
		}
		if col.IsAttachment() {
			return usagef("'%s' is an attachment column (use 'stow attach' or 'stow assign')", key)
		}
		e.SetColumn(col.Name, value)
	}

	if err := m.Save(ctx, e); err != nil {
		return err
	}
	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), viewEntry(e, stash.Columns.Attachments()))
	}
	if !IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", id)
	}
	return nil
}
