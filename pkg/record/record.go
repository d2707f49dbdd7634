// Package record holds the per-object storage of a save graph.
//
// A Record keeps two disjoint maps: plain values, each a codec.Section,
// and references, each one ID or an ordered list of IDs. Nodes write their
// state through a Writer and read it back through a Reader; tooling and
// migrations edit Records directly.
package record

import (
	"errors"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/savegraph/pkg/codec"
)

// Reserved identifiers.
const (
	// RootID is the reference ID of a capsule's root record. Counting IDs
	// are decimal numbers and on-the-fly IDs are UUIDs, so it never collides.
	RootID = "capsule.root"

	// ReservedPrefix marks keys owned by the library.
	ReservedPrefix = "__sg."
	// TypeKey holds the registry tag used to rebuild a non-root record.
	TypeKey = ReservedPrefix + "type"
	// MigrationIndexKey holds the last applied migration index on the root.
	MigrationIndexKey = ReservedPrefix + "migration_index"
)

// ErrUsage marks a programming error in a node's Save or Load.
var ErrUsage = errors.New("record: usage violation")

// Ref is a stored reference: a single ID, or an ordered list for
// multi-reference keys.
type Ref struct {
	IDs   []string
	Multi bool
}

// Single returns a single-ID reference.
func Single(id string) Ref {
	return Ref{IDs: []string{id}}
}

// Multiple returns a multi-reference over ids.
func Multiple(ids ...string) Ref {
	return Ref{IDs: append([]string{}, ids...), Multi: true}
}

// Record is the storage of one object.
type Record struct {
	values map[string]codec.Section
	refs   map[string]Ref
}

// New returns an empty Record.
func New() *Record {
	return &Record{
		values: make(map[string]codec.Section),
		refs:   make(map[string]Ref),
	}
}

// NormalizeKey returns the canonical form of a key.
func NormalizeKey(key string) string {
	return norm.NFC.String(key)
}

// IsReserved reports whether key belongs to the library.
func IsReserved(key string) bool {
	return strings.HasPrefix(NormalizeKey(key), ReservedPrefix)
}

// Value returns the section stored under key.
func (r *Record) Value(key string) (codec.Section, bool) {
	s, ok := r.values[NormalizeKey(key)]
	return s, ok
}

// SetValue stores s under key, replacing any value there.
func (r *Record) SetValue(key string, s codec.Section) {
	r.values[NormalizeKey(key)] = s
}

// RemoveValue deletes the value under key and reports whether it existed.
func (r *Record) RemoveValue(key string) bool {
	key = NormalizeKey(key)
	_, ok := r.values[key]
	delete(r.values, key)
	return ok
}

// RelocateValue moves a value to a new key. It reports false when from is
// missing or to is already taken.
func (r *Record) RelocateValue(from, to string) bool {
	from, to = NormalizeKey(from), NormalizeKey(to)
	s, ok := r.values[from]
	if !ok {
		return false
	}
	if _, taken := r.values[to]; taken {
		return false
	}
	delete(r.values, from)
	r.values[to] = s
	return true
}

// Ref returns the reference stored under key.
func (r *Record) Ref(key string) (Ref, bool) {
	ref, ok := r.refs[NormalizeKey(key)]
	return ref, ok
}

// SetRef stores ref under key, replacing any reference there. IDs of a
// multi-reference are stored comma-joined, so they must not contain a
// comma; wire.Codec refuses to encode such a set.
func (r *Record) SetRef(key string, ref Ref) {
	ref.IDs = append([]string{}, ref.IDs...)
	r.refs[NormalizeKey(key)] = ref
}

// RemoveRef deletes the reference under key and reports whether it existed.
func (r *Record) RemoveRef(key string) bool {
	key = NormalizeKey(key)
	_, ok := r.refs[key]
	delete(r.refs, key)
	return ok
}

// RelocateRef moves a reference to a new key. It reports false when from
// is missing or to is already taken.
func (r *Record) RelocateRef(from, to string) bool {
	from, to = NormalizeKey(from), NormalizeKey(to)
	ref, ok := r.refs[from]
	if !ok {
		return false
	}
	if _, taken := r.refs[to]; taken {
		return false
	}
	delete(r.refs, from)
	r.refs[to] = ref
	return true
}

// ValueKeys returns the value keys, sorted.
func (r *Record) ValueKeys() []string {
	return sortedKeys(r.values)
}

// RefKeys returns the reference keys, sorted.
func (r *Record) RefKeys() []string {
	return sortedKeys(r.refs)
}

// Has reports whether key is used in either space.
func (r *Record) Has(key string) bool {
	key = NormalizeKey(key)
	_, v := r.values[key]
	_, ref := r.refs[key]
	return v || ref
}

// Type returns the registry tag stored in the record.
func (r *Record) Type() (string, bool) {
	s, ok := r.values[TypeKey]
	if !ok {
		return "", false
	}
	return codec.Decode[string](s)
}

// SetType stores the registry tag.
func (r *Record) SetType(tag string) {
	r.values[TypeKey] = codec.Section{ValueString: tag, ValueType: codec.NameOf[string]()}
}

// MigrationIndex returns the stored migration index.
func (r *Record) MigrationIndex() (int, bool) {
	s, ok := r.values[MigrationIndexKey]
	if !ok {
		return 0, false
	}
	return codec.Decode[int](s)
}

// SetMigrationIndex stores the migration index.
func (r *Record) SetMigrationIndex(i int) {
	s, _ := codec.Encode(i)
	r.values[MigrationIndexKey] = s
}

// Empty reports whether the record holds nothing.
func (r *Record) Empty() bool {
	return len(r.values) == 0 && len(r.refs) == 0
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := &Record{
		values: make(map[string]codec.Section, len(r.values)),
		refs:   make(map[string]Ref, len(r.refs)),
	}
	for k, v := range r.values {
		out.values[k] = v
	}
	for k, ref := range r.refs {
		ref.IDs = append([]string{}, ref.IDs...)
		out.refs[k] = ref
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
