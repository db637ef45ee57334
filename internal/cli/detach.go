package cli

import (
	"github.com/spf13/cobra"
)

var detachName string

var detachCmd = &cobra.Command{
	Use:   "detach <id>",
	Short: "Remove the file from a record",
	Long: `Clear a record's attachment. The stored file and its derivatives are
deleted once the record has been saved.

Examples:
  stow detach ph-a1b2
  stow detach ph-a1b2 --name document`,
	Args: cobra.ExactArgs(1),
	RunE: runDetach,
}

func init() {
	detachCmd.Flags().StringVar(&detachName, "name", "", "Attachment name (default: the stash's only attachment)")
	rootCmd.AddCommand(detachCmd)
}

func runDetach(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(detachName)
	if err != nil {
		return err
	}
	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	a := e.Attacher(name)
	a.Detach()
	if err := m.Save(ctx, e); err != nil {
		return err
	}
	return printAttachmentResult(cmd, id, viewAttachment(name, a))
}
