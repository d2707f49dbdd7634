package record

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/savegraph/pkg/codec"
	"github.com/roach88/savegraph/pkg/resolver"
)

type thing struct {
	name string
	peer *thing
}

func (t *thing) Save(w *Writer) error {
	SaveValue(w, "name", t.name)
	SaveRef(w, "peer", t.peer, true)
	return nil
}

func (t *thing) LoadingCompleted() {}

type other struct{}

func (*other) Save(*Writer) error { return nil }
func (*other) LoadingCompleted()  {}

// listNode implements Node on a non-comparable value type.
type listNode []int

func (listNode) Save(*Writer) error { return nil }
func (listNode) LoadingCompleted()  {}

// holder hides a node inside a plain struct.
type holder struct {
	Label string
	Peer  *thing
}

type wrapper struct {
	Inner *holder
}

// chain is plain data that can point back at itself.
type chain struct {
	Name string
	Next *chain
}

type stats struct {
	HP  int `json:"hp"`
	Atk int `json:"atk"`
}

func newWriter(t *testing.T) (*Writer, *resolver.Session[Node]) {
	t.Helper()
	s := resolver.New[Node]()
	t.Cleanup(s.Close)
	return NewWriter(New(), "7", s), s
}

func TestWriter_Values(t *testing.T) {
	w, _ := newWriter(t)

	SaveValue(w, "hp", 10)
	SaveValue(w, "name", "bob")
	SaveValues(w, "scores", []float64{1.5, 2})
	SaveStruct(w, "stats", stats{HP: 3, Atk: 4})
	SaveStructs(w, "history", []stats{{HP: 1}})
	SaveDict(w, "inv", map[string]int{"potion": 2})
	require.NoError(t, w.Err())

	assert.Equal(t, []string{"history", "hp", "inv", "name", "scores", "stats"}, w.Record().ValueKeys())
	assert.Empty(t, w.Record().RefKeys())

	hp, ok := w.Record().Value("hp")
	require.True(t, ok)
	assert.Equal(t, codec.Section{ValueString: "10", ValueType: "int"}, hp)
}

func TestWriter_UsageViolations(t *testing.T) {
	tests := []struct {
		name string
		save func(w *Writer)
	}{
		{"empty key", func(w *Writer) { SaveValue(w, "", 1) }},
		{"reserved key", func(w *Writer) { SaveValue(w, TypeKey, "x") }},
		{"reserved key on ref", func(w *Writer) { SaveRef(w, "__sg.peer", &thing{}, false) }},
		{"duplicate value key", func(w *Writer) {
			SaveValue(w, "a", 1)
			SaveValue(w, "a", 2)
		}},
		{"duplicate across spaces", func(w *Writer) {
			SaveValue(w, "a", 1)
			SaveRef(w, "a", &thing{}, false)
		}},
		{"duplicate after normalization", func(w *Writer) {
			SaveValue(w, "caf\u00e9", 1)
			SaveValue(w, "cafe\u0301", 2)
		}},
		{"node as struct", func(w *Writer) { SaveStruct(w, "n", &thing{}) }},
		{"node inside list", func(w *Writer) { SaveStructs(w, "n", []any{1, &thing{}}) }},
		{"node inside dict", func(w *Writer) { SaveDict(w, "n", map[string]any{"x": &thing{}}) }},
		{"node inside struct", func(w *Writer) { SaveStruct(w, "n", holder{Label: "x", Peer: &thing{name: "n"}}) }},
		{"node behind struct pointer", func(w *Writer) { SaveStruct(w, "n", wrapper{Inner: &holder{Peer: &thing{}}}) }},
		{"node struct by value", func(w *Writer) { SaveStructs(w, "n", []thing{{name: "n"}}) }},
		{"nil ref not allowed", func(w *Writer) { SaveRef[*thing](w, "peer", nil, false) }},
		{"nil member not allowed", func(w *Writer) { SaveRefs(w, "peers", []*thing{{}, nil}, false) }},
		{"non-comparable node", func(w *Writer) { SaveRef(w, "l", listNode{1}, false) }},
		{"unsupported value", func(w *Writer) { SaveStruct(w, "ch", make(chan int)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newWriter(t)
			tt.save(w)
			require.ErrorIs(t, w.Err(), ErrUsage)
		})
	}
}

func TestHoldsNode_Cycles(t *testing.T) {
	c := &chain{Name: "a"}
	c.Next = c
	assert.False(t, holdsNode(reflect.ValueOf(c), make(map[uintptr]bool)))
	assert.False(t, holdsNode(reflect.ValueOf(stats{HP: 1}), make(map[uintptr]bool)))
	assert.True(t, holdsNode(reflect.ValueOf([]*holder{{Peer: &thing{}}}), make(map[uintptr]bool)))
}

func TestWriter_FirstViolationSticks(t *testing.T) {
	w, _ := newWriter(t)
	SaveValue(w, "", 1)
	SaveValue(w, TypeKey, 1)
	require.ErrorIs(t, w.Err(), ErrUsage)
	assert.Contains(t, w.Err().Error(), "empty key")
}

func TestWriter_Refs(t *testing.T) {
	w, s := newWriter(t)

	var created []string
	s.OnIDCreated(func(id string, n Node) { created = append(created, id) })

	a, b := &thing{name: "a"}, &thing{name: "b"}
	SaveRef(w, "first", a, false)
	SaveRefs(w, "all", []*thing{a, nil, b}, true)
	SaveRef[*thing](w, "none", nil, true)
	require.NoError(t, w.Err())

	first, ok := w.Record().Ref("first")
	require.True(t, ok)
	assert.Equal(t, Single("0"), first)

	all, ok := w.Record().Ref("all")
	require.True(t, ok)
	assert.Equal(t, Multiple("0", "1"), all)

	_, ok = w.Record().Ref("none")
	assert.False(t, ok, "allowed nil stores nothing")
	assert.Equal(t, []string{"0", "1"}, created)
}

func TestWriter_EmptyRefList(t *testing.T) {
	w, _ := newWriter(t)
	SaveRefs[*thing](w, "none", nil, false)
	require.NoError(t, w.Err())

	ref, ok := w.Record().Ref("none")
	require.True(t, ok)
	assert.True(t, ref.Multi)
	assert.Empty(t, ref.IDs)
}

func TestReader_Values(t *testing.T) {
	w, s := newWriter(t)
	SaveValue(w, "hp", 10)
	SaveStruct(w, "stats", stats{HP: 3})
	SaveDict(w, "inv", map[string]int{"potion": 2})
	SaveValues(w, "tags", []string{"a", "b"})
	require.NoError(t, w.Err())

	r := NewReader(w.Record(), "7", s)

	hp, ok := LoadValue[int](r, "hp")
	require.True(t, ok)
	assert.Equal(t, 10, hp)

	_, ok = LoadValue[string](r, "hp")
	assert.False(t, ok, "type mismatch is absent")

	_, ok = LoadValue[int](r, "missing")
	assert.False(t, ok)

	st, ok := LoadStruct[stats](r, "stats")
	require.True(t, ok)
	assert.Equal(t, stats{HP: 3}, st)

	inv, ok := LoadDict[string, int](r, "inv")
	require.True(t, ok)
	assert.Equal(t, map[string]int{"potion": 2}, inv)

	tags, ok := LoadValues[string](r, "tags")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, tags)

	assert.True(t, r.Has("hp"))
	assert.False(t, r.Has("nope"))
	require.NoError(t, r.Err())
}

func TestReader_UsageViolations(t *testing.T) {
	s := resolver.New[Node]()
	defer s.Close()

	r := NewReader(New(), "1", s)
	_, _ = LoadValue[int](r, MigrationIndexKey)
	require.ErrorIs(t, r.Err(), ErrUsage)

	r = NewReader(New(), "1", s)
	_, _ = LoadStruct[*thing](r, "n")
	require.ErrorIs(t, r.Err(), ErrUsage)
}

func TestReader_LoadRef(t *testing.T) {
	s := resolver.New[Node]()
	defer s.Close()

	rec := New()
	rec.SetRef("peer", Single("3"))
	rec.SetRef("list", Multiple("3"))
	r := NewReader(rec, "1", s)

	t.Run("missing key fires absent", func(t *testing.T) {
		calls := 0
		exists := LoadRef(r, "gone", func(n *thing, ok bool) {
			calls++
			assert.False(t, ok)
			assert.Nil(t, n)
		})
		assert.False(t, exists)
		assert.Equal(t, 1, calls)
	})

	t.Run("deferred until ready", func(t *testing.T) {
		var got *thing
		exists := LoadRef(r, "peer", func(n *thing, ok bool) {
			require.True(t, ok)
			got = n
		})
		assert.True(t, exists)
		assert.Nil(t, got)

		target := &thing{name: "t"}
		s.MarkReady("3", target)
		assert.Same(t, target, got)
	})

	t.Run("type mismatch is absent", func(t *testing.T) {
		fired := false
		LoadRef(r, "peer", func(n *other, ok bool) {
			fired = true
			assert.False(t, ok)
		})
		assert.True(t, fired)
	})

	t.Run("multi ref through single load is absent", func(t *testing.T) {
		fired := false
		assert.True(t, LoadRef(r, "list", func(n *thing, ok bool) {
			fired = true
			assert.False(t, ok)
		}))
		assert.True(t, fired)
	})

	require.NoError(t, r.Err())
}

func TestReader_LoadRefs(t *testing.T) {
	s := resolver.New[Node]()
	defer s.Close()

	rec := New()
	rec.SetRef("party", Multiple("1", "2", "3"))
	r := NewReader(rec, "0", s)

	a, c := &thing{name: "a"}, &other{}
	s.MarkReady("1", a)

	var got []*thing
	fired := 0
	assert.True(t, LoadRefs(r, "party", func(ns []*thing) {
		fired++
		got = ns
	}))
	assert.Zero(t, fired)

	s.MarkReady("3", c)
	s.ResolveRemainingAsAbsent()

	require.Equal(t, 1, fired)
	assert.Equal(t, []*thing{a}, got, "absent and mismatched members are dropped")

	var missing []*thing
	assert.False(t, LoadRefs(r, "nobody", func(ns []*thing) { missing = ns }))
	assert.Empty(t, missing)
	require.NoError(t, r.Err())
}

func TestReader_LoadRefsAligned(t *testing.T) {
	s := resolver.New[Node]()
	defer s.Close()

	rec := New()
	rec.SetRef("party", Multiple("1", "2", "3"))
	r := NewReader(rec, "0", s)

	a := &thing{name: "a"}
	s.MarkReady("1", a)
	s.MarkReady("3", &other{})

	var refs []*thing
	var ok []bool
	assert.True(t, LoadRefsAligned(r, "party", func(ts []*thing, oks []bool) {
		refs, ok = ts, oks
	}))
	s.ResolveRemainingAsAbsent()

	assert.Equal(t, []*thing{a, nil, nil}, refs)
	assert.Equal(t, []bool{true, false, false}, ok, "dangling and mismatched positions stay in place")

	fired := false
	assert.False(t, LoadRefsAligned(r, "nobody", func(ts []*thing, oks []bool) {
		fired = true
		assert.Nil(t, ts)
		assert.Nil(t, oks)
	}))
	assert.True(t, fired)
	require.NoError(t, r.Err())
}

func TestRecord_RawEditing(t *testing.T) {
	rec := New()
	assert.True(t, rec.Empty())

	rec.SetValue("old", codec.Section{ValueString: "1", ValueType: "int"})
	rec.SetValue("taken", codec.Section{ValueString: "2", ValueType: "int"})
	assert.False(t, rec.RelocateValue("old", "taken"))
	assert.True(t, rec.RelocateValue("old", "new"))
	assert.False(t, rec.RelocateValue("old", "other"))
	_, ok := rec.Value("new")
	assert.True(t, ok)

	rec.SetRef("r", Single("4"))
	assert.True(t, rec.RelocateRef("r", "s"))
	assert.True(t, rec.RemoveRef("s"))
	assert.False(t, rec.RemoveRef("s"))
	assert.True(t, rec.RemoveValue("taken"))

	rec.SetType("game.enemy")
	tag, ok := rec.Type()
	require.True(t, ok)
	assert.Equal(t, "game.enemy", tag)

	_, ok = rec.MigrationIndex()
	assert.False(t, ok)
	rec.SetMigrationIndex(2)
	idx, ok := rec.MigrationIndex()
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestRecord_CloneIsDeep(t *testing.T) {
	rec := New()
	rec.SetRef("party", Multiple("1", "2"))
	rec.SetValue("hp", codec.Section{ValueString: "1", ValueType: "int"})

	cp := rec.Clone()
	cp.SetValue("hp", codec.Section{ValueString: "9", ValueType: "int"})
	ref, _ := cp.Ref("party")
	ref.IDs[0] = "changed"

	hp, _ := rec.Value("hp")
	assert.Equal(t, "1", hp.ValueString)
	orig, _ := rec.Ref("party")
	assert.Equal(t, []string{"1", "2"}, orig.IDs)
}

func TestView(t *testing.T) {
	set := Set{}
	v := View{CapsuleID: "world", Set: set}
	assert.True(t, v.Empty())

	root := v.Root()
	assert.Same(t, root, v.Root())

	id, rec := v.NewReference("game.enemy")
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	tag, _ := rec.Type()
	assert.Equal(t, "game.enemy", tag)

	set["0"] = New()
	set["0"].SetType("game.item")
	set["1"] = New()
	set["1"].SetType("game.enemy")

	assert.Equal(t, RootID, set.IDs()[0])
	assert.Len(t, v.References(), 3)
	assert.ElementsMatch(t, []string{id, "1"}, v.OfType("game.enemy"))

	assert.False(t, v.RemoveReference(RootID))
	assert.True(t, v.RemoveReference("0"))
	_, ok := v.Reference("0")
	assert.False(t, ok)
}
