package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// result is the outcome of one in-process command run.
type result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func resetFlags() {
	jsonOutput, stashName, actorName = false, "", ""
	quiet, verbose, noDaemon = false, false, false
	initPrefix, initAttachments, initBackground = "", nil, false
	columnDesc, columnAttachment = "", false
	addSetFlags, addFileFlags = nil, nil
	attachName, attachFilename = "", ""
	cacheName, cacheFilename = "", ""
	assignName, detachName, promoteName = "", "", ""
	derivativeName, derivativeFilename = "", ""
	urlName, urlDerivative, urlExpires, urlDownload = "", "", 0, false
	historyLimit = 0
	validateName, validateFile = "", ""
	listLimit, listOffset, listOrderBy, listDesc, listWhere, listCached = 0, 0, "", false, nil, false
	syncRebuild, syncCompact = false, false
	workerFailed = false
	dropYes = false
	doctorFix = false
	logLines, daemonForeground = DefaultLogLines, false
	clearArgs(rootCmd)
}

// clearArgs drops the positional arguments each flag set kept from the
// previous run. pflag leaves them in place when a command is run with none.
func clearArgs(c *cobra.Command) {
	_ = c.Flags().Parse([]string{"--"})
	for _, sub := range c.Commands() {
		clearArgs(sub)
	}
}

// setupTestEnv runs the test in an empty directory with no stow
// environment inherited from the caller.
func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(orig) })
	t.Setenv("STOW_DIR", "")
	t.Setenv("STOW_DEFAULT", "")
	t.Setenv("STOW_ACTOR", "tester")
	t.Setenv("STOW_BACKGROUND", "")
	t.Setenv("STOW_WORKERS", "")
	t.Cleanup(resetFlags)
	return dir
}

// setupStash creates a "photos" stash with one attachment, "image".
func setupStash(t *testing.T, extra ...string) string {
	t.Helper()
	dir := setupTestEnv(t)
	args := append([]string{"init", "photos", "--prefix", "ph-", "--attachment", "image"}, extra...)
	mustSucceed(t, args...)
	mustSucceed(t, "column", "add", "title")
	return dir
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	resetFlags()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	code := Run(args)
	return result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}
}

func mustSucceed(t *testing.T, args ...string) result {
	t.Helper()
	res := runCLI(t, args...)
	require.Equal(t, ExitOK, res.ExitCode, "stow %s\nstdout: %s\nstderr: %s",
		strings.Join(args, " "), res.Stdout, res.Stderr)
	return res
}

func mustFail(t *testing.T, code int, args ...string) result {
	t.Helper()
	res := runCLI(t, args...)
	require.Equal(t, code, res.ExitCode, "stow %s\nstdout: %s\nstderr: %s",
		strings.Join(args, " "), res.Stdout, res.Stderr)
	return res
}

func decodeJSON(t *testing.T, res result, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(res.Stdout), v), "stdout: %s", res.Stdout)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func addRecord(t *testing.T, args ...string) string {
	t.Helper()
	res := mustSucceed(t, append([]string{"add"}, args...)...)
	return strings.TrimSpace(res.Stdout)
}

func showRecord(t *testing.T, id string) recordView {
	t.Helper()
	var v recordView
	decodeJSON(t, mustSucceed(t, "show", id, "--json"), &v)
	return v
}

func storeFile(dir, storage, id string) string {
	return filepath.Join(dir, ".stow", "files", storage, id)
}
