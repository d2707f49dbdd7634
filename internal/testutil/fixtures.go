// Package testutil provides sample capsule and node types for tests.
//
// The sample graph is a World capsule whose two heroes reference each
// other, one of them pointing back at the World, plus a Coin that is
// rebuilt by a constructor reading its own record. Vault is a second,
// flat capsule whose Save can be made to fail.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/savegraph/pkg/backend"
	"github.com/roach88/savegraph/pkg/capsule"
	"github.com/roach88/savegraph/pkg/record"
	"github.com/roach88/savegraph/pkg/registry"
)

// Registry tags of the sample node types.
const (
	HeroTag = "game.hero"
	CoinTag = "game.coin"
)

// Capsule IDs of the sample capsules.
const (
	WorldID = "world"
	VaultID = "vault"
)

// World is the sample root capsule.
type World struct {
	Name  string
	Hero  *Hero
	Party []*Hero
	Purse *Coin

	// Log collects LoadingCompleted calls when set.
	Log *[]string
}

func (w *World) ID() string { return WorldID }

func (w *World) Save(wr *record.Writer) error {
	record.SaveValue(wr, "name", w.Name)
	record.SaveRef(wr, "hero", w.Hero, true)
	record.SaveRefs(wr, "party", w.Party, true)
	record.SaveRef(wr, "purse", w.Purse, true)
	return nil
}

func (w *World) Load(r *record.Reader) {
	w.Name, _ = record.LoadValue[string](r, "name")
	record.LoadRef(r, "hero", func(h *Hero, _ bool) { w.Hero = h })
	record.LoadRefs(r, "party", func(hs []*Hero) { w.Party = hs })
	record.LoadRef(r, "purse", func(c *Coin, _ bool) { w.Purse = c })
}

func (w *World) LoadingCompleted() {
	if w.Log != nil {
		*w.Log = append(*w.Log, "world")
	}
}

// Hero is a node that can reference another hero and its world.
type Hero struct {
	Name   string
	Friend *Hero
	Home   *World

	Log *[]string
}

func (h *Hero) Save(w *record.Writer) error {
	record.SaveValue(w, "name", h.Name)
	record.SaveRef(w, "friend", h.Friend, true)
	record.SaveRef(w, "home", h.Home, true)
	return nil
}

func (h *Hero) Load(r *record.Reader) {
	h.Name, _ = record.LoadValue[string](r, "name")
	record.LoadRef(r, "friend", func(f *Hero, _ bool) { h.Friend = f })
	record.LoadRef(r, "home", func(w *World, _ bool) { h.Home = w })
}

func (h *Hero) LoadingCompleted() {
	if h.Log != nil {
		*h.Log = append(*h.Log, "hero:"+h.Name)
	}
}

// Coin has no Load; ReadCoin builds it from its record.
type Coin struct{ Value int }

func (c *Coin) Save(w *record.Writer) error {
	record.SaveValue(w, "value", c.Value)
	return nil
}

func (c *Coin) LoadingCompleted() {}

// ReadCoin is the reader constructor registered for CoinTag.
func ReadCoin(r *record.Reader) *Coin {
	v, _ := record.LoadValue[int](r, "value")
	return &Coin{Value: v}
}

// Vault is a flat capsule. FailWith makes Save return that error; BadKey
// makes Save write an extra value under that key.
type Vault struct {
	Secret   string
	FailWith error
	BadKey   string
}

func (v *Vault) ID() string { return VaultID }

func (v *Vault) Save(w *record.Writer) error {
	if v.FailWith != nil {
		return v.FailWith
	}
	if v.BadKey != "" {
		record.SaveValue(w, v.BadKey, 1)
	}
	record.SaveValue(w, "secret", v.Secret)
	return nil
}

func (v *Vault) Load(r *record.Reader) { v.Secret, _ = record.LoadValue[string](r, "secret") }

func (v *Vault) LoadingCompleted() {}

// NewRegistry registers Hero and Coin. Heroes built on load share log.
func NewRegistry(log *[]string) *registry.Registry {
	reg := registry.New()
	registry.MustRegister(reg, HeroTag, func() *Hero { return &Hero{Log: log} })
	if err := registry.RegisterReader(reg, CoinTag, ReadCoin); err != nil {
		panic(err)
	}
	return reg
}

// SampleWorld builds the sample graph: heroes a and b are friends, b's
// home is the world, and the purse holds 7.
func SampleWorld() *World {
	w := &World{Name: "overworld"}
	a := &Hero{Name: "a"}
	b := &Hero{Name: "b"}
	a.Friend = b
	b.Friend = a
	b.Home = w
	w.Hero = a
	w.Party = []*Hero{a, b}
	w.Purse = &Coin{Value: 7}
	return w
}

// QuietLogger discards everything.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewEngine builds an engine over b with a quiet logger.
func NewEngine(t testing.TB, b backend.Backend, reg *registry.Registry, capsules []record.Capsule, opts ...capsule.Option) *capsule.Engine {
	t.Helper()
	opts = append([]capsule.Option{capsule.WithLogger(QuietLogger())}, opts...)
	e, err := capsule.New(b, reg, capsules, opts...)
	require.NoError(t, err)
	return e
}

// SaveSample saves and flushes the sample world and a vault into b.
func SaveSample(t testing.TB, b backend.Backend, opts ...capsule.Option) {
	t.Helper()
	e := NewEngine(t, b, NewRegistry(nil), []record.Capsule{SampleWorld(), &Vault{Secret: "hunter2"}}, opts...)
	require.NoError(t, e.Save(context.Background(), true))
}
