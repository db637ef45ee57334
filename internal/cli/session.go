package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/config"
	stowctx "github.com/user/stow/internal/context"
	"github.com/user/stow/internal/daemon"
	"github.com/user/stow/internal/logging"
	"github.com/user/stow/internal/model"
	"github.com/user/stow/internal/storage"
)

// session is everything one command needs: the record store, the loaded
// config with its storages, and the job spool.
type session struct {
	ctx      *stowctx.Context
	store    *storage.Store
	cfg      *config.Config
	storages *config.Storages
	spool    *daemon.Spool
	logger   *log.Logger
}

// openSession resolves the stow directory and opens it. With needStash the
// selected stash must exist.
func openSession(ctx context.Context, needStash bool) (*session, error) {
	var (
		c   *stowctx.Context
		err error
	)
	if needStash {
		c, err = stowctx.ResolveRequired(GetActorName(), GetStashName())
	} else {
		c = stowctx.Resolve(GetActorName(), GetStashName())
		if c.StowDir == "" {
			err = stowctx.ErrNoStowDir
		}
	}
	if err != nil {
		return nil, err
	}
	return openSessionAt(ctx, c, needStash)
}

func openSessionAt(ctx context.Context, c *stowctx.Context, needStash bool) (*session, error) {
	cfg, err := config.Load(c.StowDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore(c.StowDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger := logging.Default()
	store.SetLogger(logger)

	if needStash {
		if _, err := store.GetStash(c.Stash); err != nil {
			store.Close()
			return nil, err
		}
	}

	storages, err := cfg.Build(ctx, c.StowDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{
		ctx:      c,
		store:    store,
		cfg:      cfg,
		storages: storages,
		spool:    daemon.NewSpool(filepath.Join(c.StowDir, daemon.DefaultSpoolDir), cfg.MaxAttempts),
		logger:   logger,
	}, nil
}

func (s *session) Close() error {
	var result *multierror.Error
	if err := s.storages.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// background reports whether promotion and deletion go through the spool.
func (s *session) background() bool {
	return s.cfg.Background && !NoDaemon()
}

// attachment builds the named attachment of stash. Background attachments
// enqueue their work instead of doing it.
func (s *session) attachment(stash, name string, background bool) (*attacher.Attachment, error) {
	ac, err := s.cfg.Attachment(name, stash, s.storages)
	if err != nil {
		return nil, err
	}
	ac.Logger = s.logger
	if background {
		ac.PromoteHook = s.spool.Enqueue
		ac.DestroyHook = s.spool.Enqueue
	}
	return attacher.New(ac)
}

// model binds every attachment of the selected stash.
func (s *session) model() (*storage.Model, error) {
	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return nil, err
	}
	var atts []*attacher.Attachment
	for _, name := range stash.Columns.Attachments() {
		att, err := s.attachment(stash.Name, name, s.background())
		if err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	return storage.NewModel(s.store, stash.Name, s.ctx.Actor, atts...)
}

// find loads the record id with its attachers.
func (s *session) find(ctx context.Context, id string) (*storage.Model, *storage.Entry, error) {
	m, err := s.model()
	if err != nil {
		return nil, nil, err
	}
	e, err := m.Find(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return m, e, nil
}

// attachmentName picks the attachment a command works on: the flag value,
// or the stash's only attachment.
func (s *session) attachmentName(flag string) (string, error) {
	stash, err := s.store.GetStash(s.ctx.Stash)
	if err != nil {
		return "", err
	}
	names := stash.Columns.Attachments()
	if flag != "" {
		if !stash.HasAttachment(flag) {
			return "", fmt.Errorf("%w: stash '%s' has no attachment '%s'", model.ErrColumnNotFound, stash.Name, flag)
		}
		return flag, nil
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("%w: stash '%s' has no attachments (use 'stow column add --attachment')", model.ErrConfiguration, stash.Name)
	case 1:
		return names[0], nil
	}
	sort.Strings(names)
	return "", usagef("stash '%s' has several attachments %v (use --name)", stash.Name, names)
}

// resolver returns the job resolver the worker uses. Attachments are built
// once per stash and name, without hooks, so jobs run inline.
func (s *session) resolver() daemon.Resolver {
	var (
		mu    sync.Mutex
		built = map[string]*attacher.Attachment{}
	)
	finder := &storage.Finder{Store: s.store, Actor: s.ctx.Actor}
	return func(_ context.Context, job attacher.Job) (*attacher.Attachment, attacher.Finder, error) {
		key := job.RecordKind + "/" + job.Name
		mu.Lock()
		defer mu.Unlock()
		if att, ok := built[key]; ok {
			return att, finder, nil
		}
		att, err := s.attachment(job.RecordKind, job.Name, false)
		if err != nil {
			return nil, nil, err
		}
		built[key] = att
		return att, finder, nil
	}
}
