// Package attacher manages the file attached to one column of a record:
// caching uploads, promoting them to permanent storage and swapping the
// column value without clobbering concurrent writers.
package attacher

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/user/stow/internal/blob"
	"github.com/user/stow/internal/logging"
	"github.com/user/stow/internal/model"
)

// Default storage keys.
const (
	DefaultCache = "cache"
	DefaultStore = "store"
)

// JobHook hands a unit of work to some asynchronous executor.
type JobHook func(ctx context.Context, job Job) error

// Config describes one attachment slot. It is copied by New and never
// mutated afterwards.
type Config struct {
	// Name of the attachment; the record column is Name + "_data".
	Name string
	// Kind names the record type (the stash) so background jobs can find
	// the record again.
	Kind string

	Storages map[string]blob.Storage
	Cache    string
	Store    string
	// DerivativeStorage receives AddDerivative uploads. Defaults to Store.
	DerivativeStorage string

	Validators []Validator

	// PromoteHook and DestroyHook defer work; nil runs it inline.
	PromoteHook JobHook
	DestroyHook JobHook

	// IgnoreConflicts makes AfterSave log and drop ErrAttachmentChanged.
	IgnoreConflicts bool

	// Concurrency bounds parallel derivative promotion. Defaults to 4.
	Concurrency int

	Logger *log.Logger

	// NewID generates blob IDs; ext includes the leading dot or is empty.
	NewID func(ext string) string
}

// Attachment is a validated, immutable Config from which Attachers are built.
type Attachment struct {
	cfg Config
}

// New validates cfg eagerly and returns the attachment definition.
func New(cfg Config) (*Attachment, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: attachment name is required", model.ErrConfiguration)
	}
	if cfg.Cache == "" {
		cfg.Cache = DefaultCache
	}
	if cfg.Store == "" {
		cfg.Store = DefaultStore
	}
	if cfg.DerivativeStorage == "" {
		cfg.DerivativeStorage = cfg.Store
	}
	if cfg.Cache == cfg.Store {
		return nil, fmt.Errorf("%w: cache and store must be different storages", model.ErrConfiguration)
	}

	storages := make(map[string]blob.Storage, len(cfg.Storages))
	for k, s := range cfg.Storages {
		if s == nil {
			return nil, fmt.Errorf("%w: storage %q is nil", model.ErrConfiguration, k)
		}
		storages[k] = s
	}
	for _, key := range []string{cfg.Cache, cfg.Store, cfg.DerivativeStorage} {
		if _, ok := storages[key]; !ok {
			return nil, fmt.Errorf("%w: storage %q is not registered", model.ErrConfiguration, key)
		}
	}
	cfg.Storages = storages
	cfg.Validators = append([]Validator(nil), cfg.Validators...)

	if (cfg.PromoteHook != nil || cfg.DestroyHook != nil) && cfg.Kind == "" {
		return nil, fmt.Errorf("%w: background hooks need a record kind", model.ErrConfiguration)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = func(ext string) string {
			return strings.ReplaceAll(uuid.NewString(), "-", "") + ext
		}
	}
	return &Attachment{cfg: cfg}, nil
}

// Name returns the attachment name.
func (a *Attachment) Name() string { return a.cfg.Name }

// Kind returns the record kind.
func (a *Attachment) Kind() string { return a.cfg.Kind }

// Column returns the record column holding the serialized attachment.
func (a *Attachment) Column() string { return model.AttachmentColumn(a.cfg.Name) }

// CacheKey returns the temporary storage key.
func (a *Attachment) CacheKey() string { return a.cfg.Cache }

// StoreKey returns the permanent storage key.
func (a *Attachment) StoreKey() string { return a.cfg.Store }

// Logger returns the configured logger.
func (a *Attachment) Logger() *log.Logger { return a.cfg.Logger }

// Storage looks up a registered storage.
func (a *Attachment) Storage(key string) (blob.Storage, error) {
	s, ok := a.cfg.Storages[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownStorage, key)
	}
	return s, nil
}

// Attacher loads the attachment state from rec.
func (a *Attachment) Attacher(rec Record) (*Attacher, error) {
	at := a.newAttacher(rec)
	if err := at.LoadColumn(rec.Column(a.Column())); err != nil {
		return nil, err
	}
	return at, nil
}

// Detached returns an attacher with no backing record. It can upload,
// validate and promote, but not persist.
func (a *Attachment) Detached() *Attacher {
	return a.newAttacher(nil)
}

func (a *Attachment) newAttacher(rec Record) *Attacher {
	return &Attacher{
		att:         a,
		record:      rec,
		derivatives: model.NewDerivatives(),
	}
}
