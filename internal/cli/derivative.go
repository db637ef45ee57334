package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/model"
)

var (
	derivativeName     string
	derivativeFilename string
)

var derivativeCmd = &cobra.Command{
	Use:   "derivative",
	Short: "Manage files derived from an attachment",
	Long: `Derivatives are files made from the attached original, such as
thumbnails or page renders. They are addressed by a dotted path whose
numeric parts index lists: "thumb", "sizes.small", "pages.0".`,
}

var derivativeAddCmd = &cobra.Command{
	Use:   "add <id> <path> <file>",
	Short: "Add or replace a derivative",
	Long: `Upload a file and store it at path in the record's derivatives. A file
previously at path is deleted once the record is written. The record is
only written if it still references the same original file.

Examples:
  stow derivative add ph-a1b2 thumb thumb.jpg
  stow derivative add ph-a1b2 pages.0 page-1.png`,
	Args: cobra.ExactArgs(3),
	RunE: runDerivativeAdd,
}

var derivativeRmCmd = &cobra.Command{
	Use:   "rm <id> <path>",
	Short: "Remove a derivative",
	Long: `Remove the derivative (or the whole subtree) at path. Its files are
deleted once the record is written.

Examples:
  stow derivative rm ph-a1b2 thumb
  stow derivative rm ph-a1b2 pages`,
	Args: cobra.ExactArgs(2),
	RunE: runDerivativeRm,
}

func init() {
	derivativeCmd.PersistentFlags().StringVar(&derivativeName, "name", "", "Attachment name (default: the stash's only attachment)")
	derivativeAddCmd.Flags().StringVar(&derivativeFilename, "filename", "", "Original filename to record (default: base name of file)")
	derivativeCmd.AddCommand(derivativeAddCmd)
	derivativeCmd.AddCommand(derivativeRmCmd)
	rootCmd.AddCommand(derivativeCmd)
}

func runDerivativeAdd(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	path, err := model.ParsePath(args[1])
	if err != nil {
		return err
	}

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(derivativeName)
	if err != nil {
		return err
	}
	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	a := e.Attacher(name)
	if !a.Attached() {
		return fmt.Errorf("%w: %s has no %s", model.ErrNotAttached, id, name)
	}

	f, filename, err := openUpload(args[2])
	if err != nil {
		return err
	}
	defer f.Close()
	if derivativeFilename != "" {
		filename = derivativeFilename
	}

	if _, err := a.AddDerivative(ctx, f, path, attacher.WithFilename(filename)); err != nil {
		return err
	}
	if err := m.Save(ctx, e); err != nil {
		return err
	}
	return printAttachmentResult(cmd, id, viewAttachment(name, a))
}

func runDerivativeRm(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	path, err := model.ParsePath(args[1])
	if err != nil {
		return err
	}

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(derivativeName)
	if err != nil {
		return err
	}
	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	a := e.Attacher(name)
	if _, err := a.RemoveDerivative(path...); err != nil {
		return err
	}
	if err := m.Save(ctx, e); err != nil {
		return err
	}
	return printAttachmentResult(cmd, id, viewAttachment(name, a))
}
