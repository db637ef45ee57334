package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/model"
)

var promoteName string

var promoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Promote a cached attachment to the store now",
	Long: `Copy a record's cached file and derivatives to the store and point the
record at them, in this process. The record is only updated if it still
references the cached file; if it was changed meanwhile the command fails
with ATTACHMENT_CHANGED and the copies are removed.

A file that is already stored is left as it is.

Examples:
  stow promote ph-a1b2`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

func init() {
	promoteCmd.Flags().StringVar(&promoteName, "name", "", "Attachment name (default: the stash's only attachment)")
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(promoteName)
	if err != nil {
		return err
	}
	_, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	a := e.Attacher(name)
	if !a.Attached() && a.Derivatives().IsEmpty() {
		return fmt.Errorf("%w: %s has no %s", model.ErrNotAttached, id, name)
	}
	if _, err := a.AtomicPromote(ctx); err != nil {
		return err
	}
	return printAttachmentResult(cmd, id, viewAttachment(name, a))
}
