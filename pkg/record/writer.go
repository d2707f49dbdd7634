package record

import (
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/roach88/savegraph/pkg/codec"
	"github.com/roach88/savegraph/pkg/resolver"
)

var nodeType = reflect.TypeFor[Node]()

// Writer is the save side of a Record. It is handed to Node.Save.
//
// Usage violations (reserved or repeated keys, nodes passed as values,
// nil references that were not allowed) do not stop the save at the call
// site; the first one is kept and reported by Err.
type Writer struct {
	rec     *Record
	id      string
	session *resolver.Session[Node]
	err     error
}

// NewWriter returns a Writer filling rec, the record stored under id.
func NewWriter(rec *Record, id string, session *resolver.Session[Node]) *Writer {
	return &Writer{rec: rec, id: id, session: session}
}

// ID returns the reference ID of the record being written.
func (w *Writer) ID() string { return w.id }

// Record returns the record being written.
func (w *Writer) Record() *Record { return w.rec }

// Err returns the first usage violation, if any.
func (w *Writer) Err() error { return w.err }

func (w *Writer) fail(key string, format string, args ...any) {
	if w.err != nil {
		return
	}
	w.err = fmt.Errorf("%w: record %s key %q: %s", ErrUsage, w.id, key, fmt.Sprintf(format, args...))
}

// claim validates key and returns its normalized form.
func (w *Writer) claim(key string) (string, bool) {
	k := NormalizeKey(key)
	switch {
	case k == "":
		w.fail(key, "empty key")
		return "", false
	case !utf8.ValidString(k):
		w.fail(key, "key is not valid UTF-8")
		return "", false
	case IsReserved(k):
		w.fail(key, "reserved prefix %q", ReservedPrefix)
		return "", false
	case w.rec.Has(k):
		w.fail(key, "saved twice")
		return "", false
	}
	return k, true
}

// idFor returns the reference ID of n, assigning one on first sight.
func (w *Writer) idFor(key string, n Node) (string, bool) {
	if !reflect.TypeOf(n).Comparable() {
		w.fail(key, "node type %T is not comparable; pass a pointer", n)
		return "", false
	}
	return w.session.GetOrAssignID(n), true
}

func saveSection[T any](w *Writer, key string, v T) {
	k, ok := w.claim(key)
	if !ok {
		return
	}
	if holdsNode(reflect.ValueOf(&v).Elem(), make(map[uintptr]bool)) {
		w.fail(key, "node passed as a value; use SaveRef")
		return
	}
	s, err := codec.Encode(v)
	if err != nil {
		if w.err == nil {
			w.err = fmt.Errorf("%w: record %s key %q: %w", ErrUsage, w.id, key, err)
		}
		return
	}
	w.rec.values[k] = s
}

// SaveValue stores a scalar.
func SaveValue[T codec.Scalar](w *Writer, key string, v T) {
	saveSection(w, key, v)
}

// SaveValues stores a list of scalars.
func SaveValues[T codec.Scalar](w *Writer, key string, vs []T) {
	saveSection(w, key, vs)
}

// SaveStruct stores a plain data value: a struct, or anything the codec
// can render, including interface values.
func SaveStruct[T any](w *Writer, key string, v T) {
	saveSection(w, key, v)
}

// SaveStructs stores a list of plain data values.
func SaveStructs[T any](w *Writer, key string, vs []T) {
	saveSection(w, key, vs)
}

// SaveDict stores a map of plain data values.
func SaveDict[K comparable, V any](w *Writer, key string, m map[K]V) {
	saveSection(w, key, m)
}

// SaveRef stores a reference to n. A nil n stores nothing when allowNil is
// set and is a usage violation otherwise.
func SaveRef[T Node](w *Writer, key string, n T, allowNil bool) {
	k, ok := w.claim(key)
	if !ok {
		return
	}
	if isNil(n) {
		if !allowNil {
			w.fail(key, "nil reference")
		}
		return
	}
	id, ok := w.idFor(key, n)
	if !ok {
		return
	}
	w.rec.refs[k] = Single(id)
}

// SaveRefs stores an ordered list of references. Nil members are dropped
// when allowNil is set and are a usage violation otherwise.
func SaveRefs[T Node](w *Writer, key string, ns []T, allowNil bool) {
	k, ok := w.claim(key)
	if !ok {
		return
	}
	ids := make([]string, 0, len(ns))
	for i, n := range ns {
		if isNil(n) {
			if !allowNil {
				w.fail(key, "nil reference at %d", i)
				return
			}
			continue
		}
		id, ok := w.idFor(key, n)
		if !ok {
			return
		}
		ids = append(ids, id)
	}
	w.rec.refs[k] = Ref{IDs: ids, Multi: true}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// holdsNode reports whether rv is a Node or holds one: in a collection,
// an exported struct field or behind a pointer. A struct stored by value
// whose pointer type is a Node counts too, since its identity would be
// lost.
func holdsNode(rv reflect.Value, seen map[uintptr]bool) bool {
	if !rv.IsValid() {
		return false
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Type().Implements(nodeType) {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() || seen[rv.Pointer()] {
			return false
		}
		seen[rv.Pointer()] = true
		return holdsNode(rv.Elem(), seen)
	case reflect.Struct:
		if reflect.PointerTo(rv.Type()).Implements(nodeType) {
			return true
		}
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() && holdsNode(rv.Field(i), seen) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if holdsNode(rv.Index(i), seen) {
				return true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if holdsNode(iter.Key(), seen) || holdsNode(iter.Value(), seen) {
				return true
			}
		}
	}
	return false
}
