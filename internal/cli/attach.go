package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
)

var (
	attachName     string
	attachFilename string
)

var attachCmd = &cobra.Command{
	Use:   "attach <id> <file>",
	Short: "Attach a file to a record",
	Long: `Upload a file to the cache and attach it to a record.

The record is saved with the cached file, then the file is promoted to the
store. With background promotion configured the promotion is queued for
the worker instead. The file it replaces is deleted after the save.

Examples:
  stow attach ph-a1b2 beach.jpg
  stow attach ph-a1b2 scan.pdf --name document --filename report.pdf`,
	Args: cobra.ExactArgs(2),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachName, "name", "", "Attachment name (default: the stash's only attachment)")
	attachCmd.Flags().StringVar(&attachFilename, "filename", "", "Original filename to record (default: base name of file)")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	id, path := args[0], args[1]
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(attachName)
	if err != nil {
		return err
	}
	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	f, filename, err := openUpload(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if attachFilename != "" {
		filename = attachFilename
	}

	a := e.Attacher(name)
	if _, err := a.Attach(ctx, f, attacher.WithFilename(filename)); err != nil {
		return err
	}
	if err := m.Save(ctx, e); err != nil {
		return err
	}
	return printAttachmentResult(cmd, id, viewAttachment(name, a))
}

// printAttachmentResult reports the attachment state of record id after a
// change.
func printAttachmentResult(cmd *cobra.Command, id string, v attachmentView) error {
	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), struct {
			ID string `json:"id"`
			attachmentView
		}{id, v})
	}
	if IsQuiet() {
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ", id)
	printAttachment(cmd.OutOrStdout(), v)
	if v.State == "cached" {
		fmt.Fprintln(cmd.OutOrStdout(), "promotion queued")
	}
	return nil
}
