package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/config"
	"github.com/user/stow/internal/daemon"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show stashes, storages and queued jobs",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

type stashInfo struct {
	Name        string   `json:"name"`
	Prefix      string   `json:"prefix"`
	Attachments []string `json:"attachments"`
	Records     int      `json:"records"`
}

type storageInfo struct {
	Key  string `json:"key"`
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
}

type infoOutput struct {
	StowDir    string        `json:"stow_dir"`
	Actor      string        `json:"actor"`
	Stashes    []stashInfo   `json:"stashes"`
	Storages   []storageInfo `json:"storages"`
	Background bool          `json:"background"`
	Pending    int           `json:"pending"`
	Failed     int           `json:"failed"`
	Daemon     bool          `json:"daemon_running"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer s.Close()

	out := infoOutput{
		StowDir:    s.ctx.StowDir,
		Actor:      s.ctx.Actor,
		Stashes:    []stashInfo{},
		Background: s.cfg.Background,
	}

	stashes, err := s.store.ListStashes()
	if err != nil {
		return err
	}
	for _, st := range stashes {
		n, err := s.store.CountRecords(st.Name)
		if err != nil {
			return err
		}
		atts := st.Columns.Attachments()
		if atts == nil {
			atts = []string{}
		}
		out.Stashes = append(out.Stashes, stashInfo{Name: st.Name, Prefix: st.Prefix, Attachments: atts, Records: n})
	}

	defs := map[string]config.StorageConfig{attacher.DefaultCache: s.cfg.Cache, attacher.DefaultStore: s.cfg.Store}
	if s.cfg.Derivatives != nil {
		defs["derivatives"] = *s.cfg.Derivatives
	}
	for key, def := range defs {
		path := def.Path
		switch {
		case def.Kind == config.KindS3:
			path = "s3://" + def.Bucket + "/" + def.Prefix
		case path == "" && def.Kind != config.KindMemory:
			path = "files/" + key
		}
		out.Storages = append(out.Storages, storageInfo{Key: key, Kind: def.Kind, Path: path})
	}
	sort.Slice(out.Storages, func(i, j int) bool { return out.Storages[i].Key < out.Storages[j].Key })

	if out.Pending, err = s.spool.Pending(); err != nil {
		return err
	}
	failed, err := s.spool.Failed()
	if err != nil {
		return err
	}
	out.Failed = len(failed)
	out.Daemon, _ = daemon.New(s.ctx.StowDir).IsRunning()

	w := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(w, out)
	}
	fmt.Fprintf(w, "Stow directory: %s\n", out.StowDir)
	fmt.Fprintf(w, "Actor: %s\n", out.Actor)
	fmt.Fprintln(w, "\nStashes:")
	if len(out.Stashes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, st := range out.Stashes {
		fmt.Fprintf(w, "  %s (prefix: %s)\n", st.Name, st.Prefix)
		fmt.Fprintf(w, "    Records:     %d\n", st.Records)
		fmt.Fprintf(w, "    Attachments: %v\n", st.Attachments)
	}
	fmt.Fprintln(w, "\nStorages:")
	for _, st := range out.Storages {
		fmt.Fprintf(w, "  %-12s %-10s %s\n", st.Key, st.Kind, st.Path)
	}
	mode := "inline"
	if out.Background {
		mode = "background"
	}
	daemonState := "not running"
	if out.Daemon {
		daemonState = "running"
	}
	fmt.Fprintf(w, "\nPromotion: %s\n", mode)
	fmt.Fprintf(w, "Jobs: %d pending, %d failed\n", out.Pending, out.Failed)
	fmt.Fprintf(w, "Daemon: %s\n", daemonState)
	return nil
}
