package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var humanCmd = &cobra.Command{
	Use:   "human",
	Short: "Show essential commands for human users",
	Long: `Display a curated list of essential stow commands.

For the full command list, use: stow --help`,
	Args: cobra.NoArgs,
	Run:  runHuman,
}

func init() {
	rootCmd.AddCommand(humanCmd)
}

func runHuman(cmd *cobra.Command, args []string) {
	fmt.Fprint(cmd.OutOrStdout(), `stow - Essential Commands for Humans
For all commands: stow --help

Setup:
  init <name> --prefix p-      Create a stash
  column add <names>           Define text columns
  column add image --attachment
                               Define an attachment
  info                         Show stashes, storages and queued jobs

Records:
  add --set k=v --file image=path
                               Add a record, optionally with a file
  list                         List records and their attachments
  show <id>                    Show a record and its files
  history <id>                 Show every write of a record
  rm <id>                      Delete a record and its files

Attachments:
  attach <id> <file>           Upload and attach a file
  cache <file>                 Upload to the cache only, print a reference
  assign <id> <ref>            Attach a cached reference
  detach <id>                  Remove the attached file
  promote <id>                 Move a cached file to the store now
  url <id>                     Print the file URL
  validate <id>                Check a file against the rules

Derivatives:
  derivative add <id> thumb t.jpg
  derivative rm <id> thumb

Background promotion:
  worker                       Run queued jobs once
  daemon start|stop|status     Manage the job daemon

Quick Examples:
  stow init photos --prefix ph- --attachment image
  stow add --set title=Beach --file image=beach.jpg
  stow derivative add ph-a1b2 thumb beach-thumb.jpg
  stow url ph-a1b2 --derivative thumb
`)
}
