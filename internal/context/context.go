package context

import (
	"errors"
	"path/filepath"
)

// Context holds the resolved runtime context for stow CLI commands.
type Context struct {
	Actor   string // resolved actor name
	StowDir string // path to the .stow directory (may be empty)
	Stash   string // selected stash name (may be empty)
}

// ErrNoStowDir is returned when no .stow directory is found.
var ErrNoStowDir = errors.New("no .stow directory found (run 'stow init')")

// ErrNoStash is returned when no stash is selected and none can be auto-detected.
var ErrNoStash = errors.New("no stash specified and multiple stashes exist (use --stash)")

// Resolve builds the context from flags and environment without requiring
// anything to exist.
func Resolve(actorFlag, stashFlag string) *Context {
	ctx := &Context{
		Actor:   ResolveActor(actorFlag),
		StowDir: FindStowDir(),
	}
	if stashFlag != "" {
		ctx.Stash = stashFlag
	} else {
		ctx.Stash = DefaultStash(ctx.StowDir)
	}
	return ctx
}

// ResolveRequired is like Resolve but fails when there is no .stow
// directory or no stash can be determined.
func ResolveRequired(actorFlag, stashFlag string) (*Context, error) {
	ctx := Resolve(actorFlag, stashFlag)
	if ctx.StowDir == "" {
		return nil, ErrNoStowDir
	}
	if ctx.Stash == "" {
		return nil, ErrNoStash
	}
	return ctx, nil
}

// StashPath returns the directory of the selected stash, or "".
func (c *Context) StashPath() string {
	if c.StowDir == "" || c.Stash == "" {
		return ""
	}
	return filepath.Join(c.StowDir, c.Stash)
}
