package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/config"
	stowctx "github.com/user/stow/internal/context"
	"github.com/user/stow/internal/daemon"
	"github.com/user/stow/internal/model"
	"github.com/user/stow/internal/storage"
)

var (
	initPrefix      string
	initAttachments []string
	initBackground  bool
)

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Initialize a new stash",
	Long: `Initialize a new stash with the given name and prefix.

The .stow directory is created in the current directory if none is found,
together with a default config.yaml that keeps cached and stored files on
disk under .stow/files.

Prefix requirements:
  - 3-5 characters total
  - 2-4 lowercase letters followed by a dash
  - Examples: ab-, inv-, abcd-

Examples:
  stow init photos --prefix ph- --attachment image
  stow init docs --prefix doc- --attachment file --attachment cover --background`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initPrefix, "prefix", "", "Record ID prefix (required, e.g., ph-)")
	initCmd.Flags().StringArrayVar(&initAttachments, "attachment", nil, "Declare an attachment (can be repeated)")
	initCmd.Flags().BoolVar(&initBackground, "background", false, "Promote through the daemon when creating a new config")
	initCmd.MarkFlagRequired("prefix")
	rootCmd.AddCommand(initCmd)
}

// reservedStashNames are directories stow itself keeps in .stow.
var reservedStashNames = map[string]bool{
	daemon.DefaultSpoolDir: true,
	"files":                true,
}

func runInit(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := model.ValidateStashName(name); err != nil {
		return usagef("%v", err)
	}
	if reservedStashNames[name] {
		return usagef("stash name '%s' is reserved", name)
	}
	if err := model.ValidatePrefix(initPrefix); err != nil {
		return err
	}

	c := stowctx.Resolve(GetActorName(), "")
	stowDir := c.StowDir
	if stowDir == "" {
		stowDir = stowctx.DirName
	}
	if err := ensureConfig(stowDir); err != nil {
		return err
	}

	store, err := storage.NewStore(stowDir)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	now := time.Now()
	stash := &model.Stash{
		Name:      name,
		Prefix:    initPrefix,
		Created:   now,
		CreatedBy: c.Actor,
		Columns:   model.ColumnList{},
	}
	if err := store.CreateStash(stash); err != nil {
		if errors.Is(err, model.ErrStashExists) {
			return fmt.Errorf("%w: '%s'", model.ErrStashExists, name)
		}
		return fmt.Errorf("failed to create stash: %w", err)
	}
	for _, att := range initAttachments {
		if err := store.AddAttachment(name, att, c.Actor); err != nil {
			return fmt.Errorf("attachment %s: %w", att, err)
		}
	}

	out := cmd.OutOrStdout()
	stashDir := filepath.Join(stowDir, name)
	if GetJSONOutput() {
		return printJSON(out, map[string]interface{}{
			"name":        name,
			"prefix":      initPrefix,
			"attachments": initAttachments,
			"created_at":  now.Format(time.RFC3339),
			"created_by":  c.Actor,
			"path":        stashDir,
		})
	}
	if !IsQuiet() {
		fmt.Fprintf(out, "Created stash '%s' with prefix '%s'\n", name, initPrefix)
		if IsVerbose() {
			fmt.Fprintf(out, "  path: %s\n", stashDir)
			fmt.Fprintf(out, "  actor: %s\n", c.Actor)
		}
	}
	return nil
}

// ensureConfig writes the default config.yaml unless one exists.
func ensureConfig(stowDir string) error {
	if _, err := os.Stat(filepath.Join(stowDir, config.FileName)); err == nil {
		return nil
	}
	cfg := config.Default()
	cfg.Background = initBackground
	if err := config.Save(stowDir, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
