package cli

import (
	"github.com/spf13/cobra"
)

var assignName string

var assignCmd = &cobra.Command{
	Use:   "assign <id> <cached-json>",
	Short: "Assign a cached file to a record",
	Long: `Point a record's attachment at a file already in the cache, as
printed by 'stow cache'. Only cached files are accepted. An empty value or
"null" detaches the current file.

Examples:
  stow assign ph-a1b2 '{"id":"3f2c...","storage":"cache","metadata":{}}'
  stow assign ph-a1b2 null`,
	Args: cobra.ExactArgs(2),
	RunE: runAssign,
}

func init() {
	assignCmd.Flags().StringVar(&assignName, "name", "", "Attachment name (default: the stash's only attachment)")
	rootCmd.AddCommand(assignCmd)
}

func runAssign(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(assignName)
	if err != nil {
		return err
	}
	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	a := e.Attacher(name)
	if err := a.Assign(ctx, args[1]); err != nil {
		return err
	}
	if err := m.Save(ctx, e); err != nil {
		return err
	}
	return printAttachmentResult(cmd, id, viewAttachment(name, a))
}
