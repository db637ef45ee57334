package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/blob"
	"github.com/user/stow/internal/model"
)

var (
	urlName       string
	urlDerivative string
	urlExpires    time.Duration
	urlDownload   bool
)

var urlCmd = &cobra.Command{
	Use:   "url <id>",
	Short: "Print the URL of an attached file",
	Long: `Print a URL for a record's attached file or one of its derivatives.
S3 storages return presigned URLs; filesystem storages return a path under
their configured url_prefix.

Examples:
  stow url ph-a1b2
  stow url ph-a1b2 --derivative thumb
  stow url ph-a1b2 --expires 15m --download`,
	Args: cobra.ExactArgs(1),
	RunE: runURL,
}

func init() {
	urlCmd.Flags().StringVar(&urlName, "name", "", "Attachment name (default: the stash's only attachment)")
	urlCmd.Flags().StringVar(&urlDerivative, "derivative", "", "Derivative path, e.g. thumb or pages.0")
	urlCmd.Flags().DurationVar(&urlExpires, "expires", 0, "Lifetime of presigned URLs (default: storage default)")
	urlCmd.Flags().BoolVar(&urlDownload, "download", false, "Ask for a download (Content-Disposition: attachment)")
	rootCmd.AddCommand(urlCmd)
}

func runURL(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := s.attachmentName(urlName)
	if err != nil {
		return err
	}
	_, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	a := e.Attacher(name)
	opts := blob.URLOptions{Expires: urlExpires, Download: urlDownload}
	var url string
	if urlDerivative != "" {
		path, err := model.ParsePath(urlDerivative)
		if err != nil {
			return err
		}
		url, err = a.DerivativeURL(ctx, opts, path...)
		if err != nil {
			return err
		}
	} else {
		if !a.Attached() {
			return fmt.Errorf("%w: %s has no %s", model.ErrNotAttached, id, name)
		}
		url, err = a.URL(ctx, opts)
		if err != nil {
			return err
		}
	}

	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": id, "url": url})
	}
	fmt.Fprintln(cmd.OutOrStdout(), url)
	return nil
}
