package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a record and its files",
	Long: `Delete a record. Once the row is gone its stored files and derivatives
are deleted, inline or by the worker when background deletion is
configured. The deletion stays in the record's history.

Examples:
  stow rm ph-a1b2`,
	Args: cobra.ExactArgs(1),
	RunE: runRm,
}

func init() {
	rootCmd.AddCommand(rmCmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := cmd.Context()

	s, err := openSession(ctx, true)
	if err != nil {
		return err
	}
	defer s.Close()

	m, e, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := m.Destroy(ctx, e); err != nil {
		return err
	}

	if GetJSONOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "deleted": true})
	}
	if !IsQuiet() {
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	}
	return nil
}
