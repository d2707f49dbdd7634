// Package capsule orchestrates loading and saving of save graphs.
//
// An Engine owns a fixed set of capsules, each the root of an object
// graph persisted as one document. Documents are read lazily into an
// in-memory record cache the first time a capsule is loaded or read. Save
// rebuilds the cache from the live objects; Flush writes the cache out.
//
// Every Load and Save pass opens a fresh resolver session per capsule.
// Reference IDs are only unique inside one capsule, so references never
// cross capsules.
//
// The Engine is not safe for concurrent use.
package capsule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/savegraph/pkg/backend"
	"github.com/roach88/savegraph/pkg/migrate"
	"github.com/roach88/savegraph/pkg/record"
	"github.com/roach88/savegraph/pkg/registry"
	"github.com/roach88/savegraph/pkg/wire"
)

// ErrInvalidCapsule is returned by New for nil, unnamed or duplicate
// capsules.
var ErrInvalidCapsule = errors.New("capsule: invalid capsule registration")

// Engine loads, saves and flushes registered capsules.
type Engine struct {
	backend  backend.Backend
	registry *registry.Registry
	codec    wire.Codec
	logger   *slog.Logger
	migrator *migrate.Migrator

	capsules map[string]record.Capsule
	order    []string
	cache    map[string]record.Set
}

// Option configures an Engine.
type Option func(*Engine)

// WithCodec sets the document codec. The default applies no transform.
func WithCodec(c wire.Codec) Option {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMigrations registers migration steps, in order.
func WithMigrations(ms ...migrate.Migration) Option {
	return func(e *Engine) {
		e.migrator.Register(ms...)
	}
}

// New creates an Engine for capsules. Capsule IDs must be unique and
// non-empty.
func New(b backend.Backend, reg *registry.Registry, capsules []record.Capsule, opts ...Option) (*Engine, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidCapsule)
	}
	if reg == nil {
		reg = registry.New()
	}

	e := &Engine{
		backend:  b,
		registry: reg,
		codec:    wire.Codec{Encoding: wire.EncodingNone},
		logger:   slog.Default(),
		migrator: migrate.New(),
		capsules: make(map[string]record.Capsule, len(capsules)),
		cache:    make(map[string]record.Set),
	}
	for _, opt := range opts {
		opt(e)
	}

	for i, c := range capsules {
		if c == nil {
			return nil, fmt.Errorf("%w: capsule %d is nil", ErrInvalidCapsule, i)
		}
		id := c.ID()
		if err := backend.ValidateID(id); err != nil {
			return nil, fmt.Errorf("%w: capsule %d: %w", ErrInvalidCapsule, i, err)
		}
		if _, dup := e.capsules[id]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidCapsule, id)
		}
		if !isComparable(c) {
			return nil, fmt.Errorf("%w: capsule %q has a non-comparable type %T", ErrInvalidCapsule, id, c)
		}
		e.capsules[id] = c
		e.order = append(e.order, id)
	}
	return e, nil
}

// Capsules returns the registered capsule IDs in registration order.
func (e *Engine) Capsules() []string {
	return append([]string(nil), e.order...)
}

// selectIDs resolves an ID selection. No IDs selects every capsule.
func (e *Engine) selectIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return e.Capsules(), nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := e.capsules[id]; !ok {
			return nil, &Error{Code: CodeUnknownCapsule, CapsuleID: id, Message: "capsule is not registered"}
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// populate returns the cached records of id, reading and migrating the
// stored document on first use. A document that cannot be decoded is
// logged and treated as empty.
func (e *Engine) populate(ctx context.Context, id string) (record.Set, error) {
	if set, ok := e.cache[id]; ok {
		return set, nil
	}

	data, found, err := e.backend.Read(ctx, id)
	if err != nil {
		return nil, &Error{Code: CodeIO, CapsuleID: id, Message: "read document", Err: err}
	}

	set := record.Set{}
	if found {
		decoded, err := e.codec.DecodeSet(id, data)
		if err != nil {
			e.logger.Warn("corrupt capsule document, starting empty",
				"capsule", id,
				"error", err,
			)
		} else {
			set = decoded
		}
	}
	e.logger.Debug("capsule populated",
		"capsule", id,
		"found", found,
		"records", len(set),
	)

	before := migrate.Index(set)
	migrated, idx, err := e.migrator.Apply(id, set)
	if err != nil {
		return nil, &Error{Code: CodeMigration, CapsuleID: id, Message: "apply migrations", Err: err}
	}
	e.cache[id] = migrated

	if idx != before {
		e.logger.Info("capsule migrated",
			"capsule", id,
			"from", before,
			"to", idx,
		)
		if err := e.flushOne(ctx, id, migrated); err != nil {
			return nil, err
		}
	}
	return migrated, nil
}

// Read returns raw views of the selected capsules' records. Edits made
// through the views are seen by the next Load and Flush.
func (e *Engine) Read(ctx context.Context, ids ...string) ([]record.View, error) {
	sel, err := e.selectIDs(ids)
	if err != nil {
		return nil, err
	}
	views := make([]record.View, 0, len(sel))
	for _, id := range sel {
		set, err := e.populate(ctx, id)
		if err != nil {
			return nil, err
		}
		views = append(views, record.View{CapsuleID: id, Set: set})
	}
	return views, nil
}

// TryRead returns a raw view of one capsule. ok is false when id is not
// registered.
func (e *Engine) TryRead(ctx context.Context, id string) (record.View, bool, error) {
	if _, registered := e.capsules[id]; !registered {
		return record.View{}, false, nil
	}
	set, err := e.populate(ctx, id)
	if err != nil {
		return record.View{}, false, err
	}
	return record.View{CapsuleID: id, Set: set}, true, nil
}

// Flush writes the cached records of the selected capsules. Capsules that
// were never loaded, read or saved are skipped. Failures are collected per
// capsule; the cache is left as it is.
func (e *Engine) Flush(ctx context.Context, ids ...string) error {
	sel, err := e.selectIDs(ids)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range sel {
		set, ok := e.cache[id]
		if !ok {
			continue
		}
		if err := e.flushOne(ctx, id, set); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) flushOne(ctx context.Context, id string, set record.Set) error {
	data, err := e.codec.EncodeSet(id, set)
	if err != nil {
		return &Error{Code: CodeIO, CapsuleID: id, Message: "encode document", Err: err}
	}
	if err := e.backend.Write(ctx, id, data); err != nil {
		return &Error{Code: CodeIO, CapsuleID: id, Message: "write document", Err: err}
	}
	e.logger.Info("capsule flushed",
		"capsule", id,
		"records", len(set),
		"bytes", len(data),
	)
	return nil
}

// Clear empties the selected capsules. With removeFiles the stored
// documents are deleted; otherwise the empty state is written. A capsule
// whose delete or write fails keeps its cached records.
func (e *Engine) Clear(ctx context.Context, removeFiles bool, ids ...string) error {
	sel, err := e.selectIDs(ids)
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range sel {
		empty := record.Set{}
		if removeFiles {
			if err := e.backend.Delete(ctx, id); err != nil {
				errs = append(errs, &Error{Code: CodeIO, CapsuleID: id, Message: "delete document", Err: err})
				continue
			}
			e.logger.Info("capsule cleared", "capsule", id, "removed", true)
		} else if err := e.flushOne(ctx, id, empty); err != nil {
			errs = append(errs, err)
			continue
		}
		e.cache[id] = empty
	}
	return errors.Join(errs...)
}

// Migrate applies any pending migrations of capsule id and returns the
// resulting index. Documents are migrated when first read, so this only
// does work for capsules cleared or edited since.
func (e *Engine) Migrate(ctx context.Context, id string) (int, error) {
	if _, err := e.selectIDs([]string{id}); err != nil {
		return -1, err
	}
	set, err := e.populate(ctx, id)
	if err != nil {
		return -1, err
	}
	before := migrate.Index(set)
	migrated, idx, err := e.migrator.Apply(id, set)
	if err != nil {
		return idx, &Error{Code: CodeMigration, CapsuleID: id, Message: "apply migrations", Err: err}
	}
	if idx == before {
		return idx, nil
	}
	e.cache[id] = migrated
	return idx, e.flushOne(ctx, id, migrated)
}

// Rollback undoes migrations of capsule id down to index to and writes
// the result. The pending steps run again the next time a process first
// reads the document.
func (e *Engine) Rollback(ctx context.Context, id string, to int) (int, error) {
	if _, err := e.selectIDs([]string{id}); err != nil {
		return -1, err
	}
	set, err := e.populate(ctx, id)
	if err != nil {
		return -1, err
	}
	rolled, idx, rerr := e.migrator.Rollback(id, set, to)
	e.cache[id] = rolled
	if rerr != nil {
		return idx, &Error{Code: CodeMigration, CapsuleID: id, Message: "roll back migrations", Err: rerr}
	}
	e.logger.Info("capsule rolled back", "capsule", id, "to", idx)
	return idx, e.flushOne(ctx, id, rolled)
}
