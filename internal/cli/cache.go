package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
)

var (
	cacheName     string
	cacheFilename string
)

var cacheCmd = &cobra.Command{
	Use:   "cache <file>",
	Short: "Upload a file to the cache without a record",
	Long: `Upload a file to the cache storage and print its JSON reference.

The reference can later be assigned to a record with 'stow assign', the
way a form re-submits a file that was uploaded before validation failed.

Examples:
  ref=$(stow cache beach.jpg)
  stow assign ph-a1b2 "$ref"`,
	Args: cobra.ExactArgs(1),
	RunE: runCache,
}

func init() {
	cacheCmd.Flags().StringVar(&cacheName, "name", "", "Attachment name (default: the stash's only attachment)")
	cacheCmd.Flags().StringVar(&cacheFilename, "filename", "", "Original filename to record (default: base name of file)")
	rootCmd.AddCommand(cacheCmd)
}

func runCache(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(cacheName)
	if err != nil {
		return err
	}
	att, err := s.attachment(s.ctx.Stash, name, false)
	if err != nil {
		return err
	}

	f, filename, err := openUpload(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	if cacheFilename != "" {
		filename = cacheFilename
	}

	a := att.Detached()
	if _, err := a.AttachCached(ctx, f, attacher.WithFilename(filename)); err != nil {
		return err
	}
	if !a.Validate() {
		v := viewAttachment(name, a)
		if GetJSONOutput() {
			return printJSON(cmd.OutOrStdout(), v)
		}
		printAttachment(cmd.ErrOrStderr(), v)
	}

	data, err := json.Marshal(a.Data())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
