package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/storage"
)

var dropYes bool

var dropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Delete a stash, its records and their files",
	Long: `Permanently delete a stash. Every record is destroyed first so its
stored files and derivatives are deleted too (inline, or by the worker
when background deletion is configured).

By default, you will be prompted for confirmation.
Use --yes to skip the confirmation prompt.

Examples:
  stow drop photos
  stow drop photos --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDrop,
}

func init() {
	dropCmd.Flags().BoolVar(&dropYes, "yes", false, "Skip confirmation prompt")
	rootCmd.AddCommand(dropCmd)
}

func runDrop(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := cmd.Context()

	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.store.GetStash(name); err != nil {
		return err
	}
	n, err := s.store.CountRecords(name)
	if err != nil {
		return err
	}

	if !dropYes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete stash '%s' with %d record(s) and their files? [y/N]: ", name, n)
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	s.ctx.Stash = name
	m, err := s.model()
	if err != nil {
		return err
	}
	records, err := s.store.ListRecords(ctx, name, storage.ListOptions{})
	if err != nil {
		return err
	}
	for _, rec := range records {
		e, err := m.Find(ctx, rec.ID)
		if err != nil {
			return err
		}
		if err := m.Destroy(ctx, e); err != nil {
			return fmt.Errorf("delete %s: %w", rec.ID, err)
		}
	}
	if err := s.store.DropStash(name); err != nil {
		return err
	}

	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{"dropped": name, "records": len(records)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dropped stash '%s' (%d records)\n", name, len(records))
	return nil
}
