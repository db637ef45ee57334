package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/model"
)

var (
	addSetFlags  []string
	addFileFlags []string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new record",
	Long: `Add a new record to the current stash.

Fields are set with --set and files attached with --file. Attached files
are uploaded to the cache and promoted to the store once the record has
been saved.

Examples:
  stow add --set title="Holiday"
  stow add --set title="Holiday" --file image=beach.jpg`,
	Args: cobra.NoArgs,
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringArrayVar(&addSetFlags, "set", nil, "Set field value (can be repeated): --set field=value")
	addCmd.Flags().StringArrayVar(&addFileFlags, "file", nil, "Attach a file (can be repeated): --file attachment=path")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return err
	}
	m, err := s.model()
	if err != nil {
		return err
	}
	e, err := m.New()
	if err != nil {
		return err
	}

	for _, set := range addSetFlags {
		key, value, err := splitAssignment(set)
		if err != nil {
			return err
		}
		col := stash.Columns.Find(key)
		if col == nil {
			return fmt.Errorf("%w: '%s' (add it with 'stow column add %s')", model.ErrColumnNotFound, key, key)
		}
		if col.IsAttachment() {
			return usagef("'%s' is an attachment column (use --file %s=path)", key, col.AttachmentName())
		}
		e.SetColumn(col.Name, value)
	}

	ctx := cmd.Context()
	for _, arg := range addFileFlags {
		name, path, err := splitAssignment(arg)
		if err != nil {
			return err
		}
		a := e.Attacher(name)
		if a == nil {
			return fmt.Errorf("%w: stash '%s' has no attachment '%s'", model.ErrColumnNotFound, stash.Name, name)
		}
		f, filename, err := openUpload(path)
		if err != nil {
			return err
		}
		_, err = a.Attach(ctx, f, attacher.WithFilename(filename))
		f.Close()
		if err != nil {
			return err
		}
	}

	if err := m.Save(ctx, e); err != nil {
		return err
	}

	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), viewEntry(e, stash.Columns.Attachments()))
	}
	fmt.Fprintln(cmd.OutOrStdout(), e.RecordID())
	return nil
}
