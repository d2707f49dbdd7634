// Package config loads savegraph tool settings.
//
// Settings come from an optional YAML file, are then overridden by
// SAVEGRAPH_* environment variables, and finally validated. Command-line
// flags are applied by the caller on top of the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/savegraph/pkg/backend"
	"github.com/roach88/savegraph/pkg/wire"
)

// Backend kinds.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrInvalid is returned for settings that fail validation.
var ErrInvalid = errors.New("config: invalid")

// Config selects where capsule documents live and how they are framed.
type Config struct {
	Backend   string `yaml:"backend"   env:"SAVEGRAPH_BACKEND"`
	Root      string `yaml:"root"      env:"SAVEGRAPH_ROOT"`
	Extension string `yaml:"extension" env:"SAVEGRAPH_EXTENSION"`
	Encoding  string `yaml:"encoding"  env:"SAVEGRAPH_ENCODING"`
	Database  string `yaml:"database"  env:"SAVEGRAPH_DATABASE"`
}

// Default returns the settings used when nothing overrides them: plain
// documents in the working directory.
func Default() Config {
	return Config{
		Backend:   BackendFile,
		Root:      ".",
		Extension: backend.DefaultExtension,
		Encoding:  string(wire.EncodingNone),
		Database:  "savegraph.db",
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeYAML fills cfg from data, rejecting unknown keys.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks that the settings describe a usable backend.
func (c Config) Validate() error {
	if _, err := wire.ParseEncoding(c.Encoding); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch c.Backend {
	case BackendFile:
		if c.Root == "" {
			return fmt.Errorf("%w: file backend needs a root directory", ErrInvalid)
		}
	case BackendSQLite:
		if c.Database == "" {
			return fmt.Errorf("%w: sqlite backend needs a database path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (want %s or %s)", ErrInvalid, c.Backend, BackendFile, BackendSQLite)
	}
	return nil
}

// Store is an opened backend together with its document codec.
type Store struct {
	Backend backend.Backend
	Codec   wire.Codec

	closer io.Closer
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Open builds the Backend and Codec that cfg describes.
func Open(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, _ := wire.ParseEncoding(cfg.Encoding)
	store := &Store{Codec: wire.Codec{Encoding: enc}}

	switch cfg.Backend {
	case BackendSQLite:
		db, err := backend.OpenSQLite(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		store.Backend = db
		store.closer = db
	default:
		var opts []backend.FileOption
		if cfg.Extension != "" {
			opts = append(opts, backend.WithExtension(cfg.Extension))
		}
		fb, err := backend.OpenDir(cfg.Root, opts...)
		if err != nil {
			return nil, fmt.Errorf("open file backend: %w", err)
		}
		store.Backend = fb
	}
	return store, nil
}
