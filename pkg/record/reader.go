package record

import (
	"fmt"
	"reflect"

	"github.com/roach88/savegraph/pkg/codec"
	"github.com/roach88/savegraph/pkg/resolver"
)

// Reader is the load side of a Record. It is handed to Loader.Load and to
// reader constructors.
//
// Value loads report false for a missing key or a type mismatch.
// Reference loads deliver through callbacks, which may fire after Load
// returns when the target has not been built yet.
type Reader struct {
	rec     *Record
	id      string
	session *resolver.Session[Node]
	err     error
}

// NewReader returns a Reader over rec, the record stored under id.
func NewReader(rec *Record, id string, session *resolver.Session[Node]) *Reader {
	return &Reader{rec: rec, id: id, session: session}
}

// ID returns the reference ID of the record being read.
func (r *Reader) ID() string { return r.id }

// Record returns the record being read.
func (r *Reader) Record() *Record { return r.rec }

// Err returns the first usage violation, if any.
func (r *Reader) Err() error { return r.err }

// Has reports whether key holds a value or a reference.
func (r *Reader) Has(key string) bool {
	k, ok := r.key(key)
	return ok && r.rec.Has(k)
}

func (r *Reader) fail(key string, format string, args ...any) {
	if r.err != nil {
		return
	}
	r.err = fmt.Errorf("%w: record %s key %q: %s", ErrUsage, r.id, key, fmt.Sprintf(format, args...))
}

func (r *Reader) key(key string) (string, bool) {
	k := NormalizeKey(key)
	switch {
	case k == "":
		r.fail(key, "empty key")
		return "", false
	case IsReserved(k):
		r.fail(key, "reserved prefix %q", ReservedPrefix)
		return "", false
	}
	return k, true
}

func loadSection[T any](r *Reader, key string) (T, bool) {
	var zero T
	k, ok := r.key(key)
	if !ok {
		return zero, false
	}
	if typ := reflect.TypeFor[T](); typ.Kind() != reflect.Interface && typ.Implements(nodeType) {
		r.fail(key, "node loaded as a value; use LoadRef")
		return zero, false
	}
	s, ok := r.rec.values[k]
	if !ok {
		return zero, false
	}
	return codec.Decode[T](s)
}

// LoadValue reads a scalar.
func LoadValue[T codec.Scalar](r *Reader, key string) (T, bool) {
	return loadSection[T](r, key)
}

// LoadValues reads a list of scalars.
func LoadValues[T codec.Scalar](r *Reader, key string) ([]T, bool) {
	return loadSection[[]T](r, key)
}

// LoadStruct reads a plain data value.
func LoadStruct[T any](r *Reader, key string) (T, bool) {
	return loadSection[T](r, key)
}

// LoadStructs reads a list of plain data values.
func LoadStructs[T any](r *Reader, key string) ([]T, bool) {
	return loadSection[[]T](r, key)
}

// LoadDict reads a map of plain data values.
func LoadDict[K comparable, V any](r *Reader, key string) (map[K]V, bool) {
	return loadSection[map[K]V](r, key)
}

// LoadRef requests the node referenced under key and reports whether the
// key exists. cb fires exactly once: with ok false for a missing key, a
// dangling ID, a node that could not be rebuilt, or a node that is not a T.
func LoadRef[T any](r *Reader, key string, cb func(T, bool)) bool {
	var zero T
	if cb == nil {
		cb = func(T, bool) {}
	}
	k, ok := r.key(key)
	if !ok {
		cb(zero, false)
		return false
	}
	ref, ok := r.rec.refs[k]
	if !ok {
		cb(zero, false)
		return false
	}
	if ref.Multi || len(ref.IDs) != 1 {
		cb(zero, false)
		return true
	}

	r.session.RequestReference(ref.IDs[0], func(n Node, ok bool) {
		if !ok {
			cb(zero, false)
			return
		}
		t, ok := any(n).(T)
		cb(t, ok)
	})
	return true
}

// LoadRefs requests every node referenced under key and reports whether
// the key exists. cb fires exactly once, after all members settled, with
// the members that resolved to a T in stored order. Absent members are
// dropped; use LoadRefsAligned to see which positions they held.
func LoadRefs[T any](r *Reader, key string, cb func([]T)) bool {
	if cb == nil {
		cb = func([]T) {}
	}
	return LoadRefsAligned(r, key, func(refs []T, ok []bool) {
		if refs == nil {
			cb(nil)
			return
		}
		out := make([]T, 0, len(refs))
		for i, t := range refs {
			if ok[i] {
				out = append(out, t)
			}
		}
		cb(out)
	})
}

// LoadRefsAligned is LoadRefs keeping positions: refs and ok have one
// entry per stored ID, and an absent or mismatched member is the zero T
// with ok false. A missing key delivers nil slices.
func LoadRefsAligned[T any](r *Reader, key string, cb func(refs []T, ok []bool)) bool {
	if cb == nil {
		cb = func([]T, []bool) {}
	}
	k, found := r.key(key)
	if !found {
		cb(nil, nil)
		return false
	}
	ref, found := r.rec.refs[k]
	if !found {
		cb(nil, nil)
		return false
	}

	err := r.session.RequestReferences(r.id+"/"+k, ref.IDs, func(results []resolver.Result[Node]) {
		refs := make([]T, len(results))
		ok := make([]bool, len(results))
		for i, res := range results {
			if !res.OK {
				continue
			}
			refs[i], ok[i] = any(res.Ref).(T)
		}
		cb(refs, ok)
	})
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%w: record %s key %q: %w", ErrUsage, r.id, key, err)
		}
		cb(nil, nil)
	}
	return true
}
