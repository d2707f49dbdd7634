package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/savegraph/internal/config"
	"github.com/roach88/savegraph/pkg/capsule"
	"github.com/roach88/savegraph/pkg/record"
	"github.com/roach88/savegraph/pkg/registry"
)

// rawCapsule stands in for an application capsule. The CLI only touches
// records through Read, TryRead and Clear, so it never saves or loads.
type rawCapsule struct{ id string }

func (c *rawCapsule) ID() string                { return c.id }
func (c *rawCapsule) Save(*record.Writer) error { return nil }
func (c *rawCapsule) Load(*record.Reader)       {}
func (c *rawCapsule) LoadingCompleted()         {}

// session bundles what a command needs to reach the documents.
type session struct {
	store  *config.Store
	engine *capsule.Engine
	ids    []string
}

func (s *session) Close() error { return s.store.Close() }

// resolveConfig loads the config file and env, then applies flags.
func resolveConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Root != "" {
		cfg.Root = opts.Root
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Encoding != "" {
		cfg.Encoding = opts.Encoding
	}
	return cfg, cfg.Validate()
}

func newLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openSession opens the configured backend and an engine over ids, or
// over every stored capsule when ids is empty.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions, formatter *OutputFormatter, ids []string) (*session, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	formatter.VerboseLog("Backend: %s (root=%s db=%s encoding=%s)", cfg.Backend, cfg.Root, cfg.Database, cfg.Encoding)

	store, err := config.Open(cfg)
	if err != nil {
		return nil, formatter.fail(ExitCommandError, ErrCodeBackend, "open backend", err)
	}

	if len(ids) == 0 {
		ids, err = store.Backend.List(ctx)
		if err != nil {
			store.Close()
			return nil, formatter.fail(ExitCommandError, ErrCodeBackend, "list capsules", err)
		}
	}

	capsules := make([]record.Capsule, 0, len(ids))
	for _, id := range ids {
		capsules = append(capsules, &rawCapsule{id: id})
	}
	eng, err := capsule.New(store.Backend, registry.New(), capsules,
		capsule.WithCodec(store.Codec),
		capsule.WithLogger(newLogger(cmd, opts.Verbose)),
	)
	if err != nil {
		store.Close()
		return nil, formatter.fail(ExitCommandError, ErrCodeGeneric, "invalid capsule selection", err)
	}
	return &session{store: store, engine: eng, ids: eng.Capsules()}, nil
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
