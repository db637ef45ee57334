// Package config loads .stow/config.yaml: where cached and stored files
// live, how promotion runs and which files attachments accept.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/blob"
	"github.com/user/stow/internal/model"
)

// FileName is the config file inside the stow directory.
const FileName = "config.yaml"

// Storage kinds.
const (
	KindFilesystem = "filesystem"
	KindMemory     = "memory"
	KindBadger     = "badger"
	KindS3         = "s3"
)

// StorageConfig describes one blob storage.
type StorageConfig struct {
	Kind      string `yaml:"kind"`
	Path      string `yaml:"path,omitempty"`
	URLPrefix string `yaml:"url_prefix,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
}

// ValidationConfig holds the file rules applied to every attachment.
type ValidationConfig struct {
	Required   bool     `yaml:"required,omitempty"`
	MaxSize    string   `yaml:"max_size,omitempty"`
	MinSize    string   `yaml:"min_size,omitempty"`
	MimeTypes  []string `yaml:"mime_types,omitempty"`
	Extensions []string `yaml:"extensions,omitempty"`
}

// Config is the parsed config file. It is not modified after Load.
type Config struct {
	Cache       StorageConfig  `yaml:"cache"`
	Store       StorageConfig  `yaml:"store"`
	Derivatives *StorageConfig `yaml:"derivatives,omitempty"`

	// Background defers promotion and deletion to the worker.
	Background      bool `yaml:"background"`
	IgnoreConflicts bool `yaml:"ignore_conflicts"`
	Workers         int  `yaml:"workers"`
	MaxAttempts     int  `yaml:"max_attempts"`

	Validation ValidationConfig `yaml:"validation,omitempty"`
}

// Default returns the configuration used when no file exists: both
// storages on disk under the stow directory.
func Default() *Config {
	return &Config{
		Cache:       StorageConfig{Kind: KindFilesystem, Path: filepath.Join("files", "cache")},
		Store:       StorageConfig{Kind: KindFilesystem, Path: filepath.Join("files", "store")},
		Workers:     4,
		MaxAttempts: 5,
	}
}

// EnvLookup matches os.LookupEnv.
type EnvLookup func(string) (string, bool)

type loadOptions struct {
	envLookup EnvLookup
	readFile  func(string) ([]byte, error)
}

// Option customises Load.
type Option func(*loadOptions)

// WithEnv replaces the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// Load reads <baseDir>/config.yaml, expanding ${VAR} references. A missing
// or empty file yields Default. STOW_BACKGROUND and STOW_WORKERS override
// the file.
func Load(baseDir string, opts ...Option) (*Config, error) {
	options := loadOptions{envLookup: os.LookupEnv, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()
	data, err := options.readFile(filepath.Join(baseDir, FileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file: %w", err)
	case len(bytes.TrimSpace(data)) > 0:
		expanded := os.Expand(string(data), func(key string) string {
			v, _ := options.envLookup(key)
			return v
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config file: %v", model.ErrConfiguration, err)
		}
	}

	if v, ok := options.envLookup("STOW_BACKGROUND"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: STOW_BACKGROUND: %v", model.ErrConfiguration, err)
		}
		cfg.Background = b
	}
	if v, ok := options.envLookup("STOW_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: STOW_WORKERS: %v", model.ErrConfiguration, err)
		}
		cfg.Workers = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to <baseDir>/config.yaml.
func Save(baseDir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return fmt.Errorf("create stow directory: %w", err)
	}
	return os.WriteFile(filepath.Join(baseDir, FileName), data, 0644)
}

// Validate checks storage kinds and size expressions.
func (c *Config) Validate() error {
	var result *multierror.Error
	check := func(key string, s StorageConfig) {
		switch s.Kind {
		case KindFilesystem, KindMemory, KindBadger:
		case KindS3:
			if s.Bucket == "" {
				result = multierror.Append(result, fmt.Errorf("%s: s3 storage requires a bucket", key))
			}
		case "":
			result = multierror.Append(result, fmt.Errorf("%s: storage kind is required", key))
		default:
			result = multierror.Append(result, fmt.Errorf("%s: unknown storage kind %q", key, s.Kind))
		}
	}
	check(attacher.DefaultCache, c.Cache)
	check(attacher.DefaultStore, c.Store)
	if c.Derivatives != nil {
		check(derivativesKey, *c.Derivatives)
	}
	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be at least 1"))
	}
	if c.MaxAttempts < 1 {
		result = multierror.Append(result, fmt.Errorf("max_attempts must be at least 1"))
	}
	if _, err := c.Validation.Validators(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	return nil
}

// Validators builds the attacher validators for the rules.
func (v ValidationConfig) Validators() ([]attacher.Validator, error) {
	var out []attacher.Validator
	if v.Required {
		out = append(out, attacher.Required())
	}
	if v.MaxSize != "" {
		n, err := humanize.ParseBytes(v.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("max_size: %w", err)
		}
		out = append(out, attacher.MaxSize(int64(n)))
	}
	if v.MinSize != "" {
		n, err := humanize.ParseBytes(v.MinSize)
		if err != nil {
			return nil, fmt.Errorf("min_size: %w", err)
		}
		out = append(out, attacher.MinSize(int64(n)))
	}
	if len(v.MimeTypes) > 0 {
		out = append(out, attacher.MimeTypeIn(v.MimeTypes...))
	}
	if len(v.Extensions) > 0 {
		out = append(out, attacher.ExtensionIn(v.Extensions...))
	}
	return out, nil
}

const derivativesKey = "derivatives"

// Storages are the opened blob storages, keyed as the attacher expects.
type Storages struct {
	byKey   map[string]blob.Storage
	closers []interface{ Close() error }
}

// Map returns the storages by key.
func (s *Storages) Map() map[string]blob.Storage { return s.byKey }

// Close releases storages that hold resources.
func (s *Storages) Close() error {
	var result *multierror.Error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Build opens the configured storages. Relative paths resolve against
// baseDir.
func (c *Config) Build(ctx context.Context, baseDir string) (*Storages, error) {
	out := &Storages{byKey: map[string]blob.Storage{}}
	defs := map[string]StorageConfig{
		attacher.DefaultCache: c.Cache,
		attacher.DefaultStore: c.Store,
	}
	if c.Derivatives != nil {
		defs[derivativesKey] = *c.Derivatives
	}
	for key, def := range defs {
		s, err := open(ctx, baseDir, key, def)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("storage %s: %w", key, err)
		}
		out.byKey[key] = s
		if closer, ok := s.(interface{ Close() error }); ok {
			out.closers = append(out.closers, closer)
		}
	}
	return out, nil
}

func open(ctx context.Context, baseDir, key string, def StorageConfig) (blob.Storage, error) {
	path := def.Path
	if path == "" {
		path = filepath.Join("files", key)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	var fsOpts []blob.FileSystemOption
	if def.URLPrefix != "" {
		fsOpts = append(fsOpts, blob.WithURLPrefix(def.URLPrefix))
	}

	switch def.Kind {
	case KindFilesystem:
		return blob.NewDisk(path, fsOpts...), nil
	case KindMemory:
		return blob.NewMemory(fsOpts...), nil
	case KindBadger:
		return blob.OpenBadger(path)
	case KindS3:
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:   def.Bucket,
			Prefix:   def.Prefix,
			Region:   def.Region,
			Endpoint: def.Endpoint,
		})
	default:
		return nil, fmt.Errorf("%w: unknown storage kind %q", model.ErrConfiguration, def.Kind)
	}
}

// Attachment returns the attacher config for one attachment of a stash.
func (c *Config) Attachment(name, stash string, storages *Storages) (attacher.Config, error) {
	validators, err := c.Validation.Validators()
	if err != nil {
		return attacher.Config{}, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	ac := attacher.Config{
		Name:            name,
		Kind:            stash,
		Storages:        storages.Map(),
		Validators:      validators,
		IgnoreConflicts: c.IgnoreConflicts,
		Concurrency:     c.Workers,
	}
	if c.Derivatives != nil {
		ac.DerivativeStorage = derivativesKey
	}
	return ac, nil
}
