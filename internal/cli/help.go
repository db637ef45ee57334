package cli

import (
	"github.com/spf13/cobra"
)

// helpTopicsCmd is a parent command for help topics
var helpTopicsCmd = &cobra.Command{
	Use:   "help-topic",
	Short: "Extended help topics",
	Long:  `Extended help topics for stow. Use 'stow help-topic <topic>' to view.`,
}

var helpJSONCmd = &cobra.Command{
	Use:   "json",
	Short: "JSON output and error codes",
	Long: `JSON Output and Error Codes

Every command accepts --json.

FILE REFERENCES
───────────────
An attachment column holds one JSON object:

  {
    "id": "3f2c9e1a-....jpg",
    "storage": "store",
    "metadata": {"filename": "beach.jpg", "size": 48213, "mime_type": "image/jpeg"},
    "derivatives": {
      "thumb": {"id": "...", "storage": "store", "metadata": {...}},
      "pages": [{"id": "...", "storage": "store", "metadata": {...}}]
    }
  }

"storage" is "cache" until the file has been promoted, then "store".
'stow cache' prints the same object without derivatives; pass it to
'stow assign' unchanged.

ERRORS
──────
With --json, failures are printed to stdout:

  {"error": true, "code": "ATTACHMENT_CHANGED", "message": "...", "details": {...}}

  Code                Exit  Meaning
  ATTACHMENT_CHANGED  3     The record's file changed while promoting
  VALIDATION_ERROR    2     A file or argument failed validation
  USAGE_ERROR         2     Bad arguments
  RECORD_NOT_FOUND    4     No record with that ID
  FILE_NOT_FOUND      4     A local or cached file is missing
  STORAGE_ERROR       5     The cache or store failed; details name the
                            operation, storage and file ID
  CONFIG_ERROR        6     .stow/config.yaml is invalid
  STASH_NOT_FOUND     1     No such stash, or none selected
  NO_STOW_DIR         1     No .stow directory found
  CONFLICT            1     The stash or column already exists
  INTERNAL_ERROR      1     Anything else`,
}

var helpConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "The .stow/config.yaml file",
	Long: `Configuration

.stow/config.yaml is read by every command. ${VAR} references are expanded
from the environment. A missing file means the defaults below.

  cache:                      # where uploads land first
    kind: filesystem          # filesystem | memory | badger | s3
    path: files/cache         # relative to .stow
  store:                      # where promoted files live
    kind: s3
    bucket: my-bucket
    prefix: uploads/
    region: eu-west-1
    endpoint: ${S3_ENDPOINT}  # optional, for S3-compatible services
  derivatives:                # optional storage for derivative uploads
    kind: filesystem
    path: files/derivatives
    url_prefix: /files        # filesystem URLs are url_prefix/id

  background: false           # queue promotion/deletion for the worker
  ignore_conflicts: false     # log ATTACHMENT_CHANGED instead of failing
  workers: 4                  # concurrent copies and worker jobs
  max_attempts: 5             # tries before a job is set aside

  validation:
    required: false
    max_size: 10MB
    min_size: 1B
    mime_types: [image/jpeg, image/png]
    extensions: [jpg, jpeg, png]

Environment overrides: STOW_BACKGROUND, STOW_WORKERS.
Context: STOW_DIR (the .stow directory), STOW_DEFAULT (stash),
STOW_ACTOR (audit actor).

The badger storage locks its directory, so with kind: badger the daemon
and other commands cannot run at the same time.`,
}

func init() {
	helpTopicsCmd.AddCommand(helpJSONCmd)
	helpTopicsCmd.AddCommand(helpConfigCmd)
	rootCmd.AddCommand(helpTopicsCmd)
}
