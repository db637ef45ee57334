package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
)

var (
	validateName string
	validateFile string
)

var validateCmd = &cobra.Command{
	Use:   "validate [id]",
	Short: "Check attachments against the validation rules",
	Long: `Run the configured validation rules (required, size limits, MIME
types, extensions) over a record's attachment, or over a local file with
--file. A file checked with --file is uploaded to the cache for MIME
detection and removed again.

Exits with status 2 when validation fails.

Examples:
  stow validate ph-a1b2
  stow validate --file beach.jpg`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateName, "name", "", "Attachment name (default: the stash's only attachment)")
	validateCmd.Flags().StringVar(&validateFile, "file", "", "Validate a local file instead of a record")
	rootCmd.AddCommand(validateCmd)
}

type validationResult struct {
	ID     string         `json:"id,omitempty"`
	File   string         `json:"file,omitempty"`
	Valid  bool           `json:"valid"`
	Result attachmentView `json:"attachment"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (validateFile == "") {
		return usagef("give either a record id or --file")
	}
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(validateName)
	if err != nil {
		return err
	}

	var res validationResult
	if validateFile != "" {
		att, err := s.attachment(s.ctx.Stash, name, false)
		if err != nil {
			return err
		}
		f, filename, err := openUpload(validateFile)
		if err != nil {
			return err
		}
		defer f.Close()

		a := att.Detached()
		uploaded, err := a.AttachCached(ctx, f, attacher.WithFilename(filename))
		if err != nil {
			return err
		}
		res = validationResult{File: validateFile, Valid: a.Validate(), Result: viewAttachment(name, a)}
		if store, err := att.Storage(uploaded.Storage); err == nil {
			if err := store.Delete(ctx, uploaded.ID); err != nil {
				s.logger.Warn("could not remove validation upload", "file", uploaded.String(), "err", err)
			}
		}
	} else {
		_, e, err := s.find(ctx, args[0])
		if err != nil {
			return err
		}
		a := e.Attacher(name)
		res = validationResult{ID: args[0], Valid: a.Validate(), Result: viewAttachment(name, a)}
	}

	if GetJSONOutput() {
		if err := printJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		target := res.ID
		if target == "" {
			target = res.File
		}
		if res.Valid {
			fmt.Fprintf(w, "%s: %s is valid\n", target, name)
		} else {
			fmt.Fprintf(w, "%s: %s is invalid\n", target, name)
			for _, e := range res.Result.Errors {
				fmt.Fprintf(w, "  - %s\n", e)
			}
		}
	}
	if !res.Valid {
		return &reportedError{code: ExitValidation}
	}
	return nil
}
