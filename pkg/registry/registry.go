// Package registry maps node tags to constructors.
//
// Every node type that can be reached by reference must be registered
// under a stable tag. The tag is written into the node's record and used
// on load to build a fresh instance, either with an empty constructor
// followed by Load, or with a constructor that reads the record itself.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/roach88/savegraph/pkg/record"
)

var (
	// ErrEmptyTag is returned when a tag is empty.
	ErrEmptyTag = errors.New("registry: empty tag")
	// ErrNilConstructor is returned when a constructor is nil.
	ErrNilConstructor = errors.New("registry: nil constructor")
	// ErrNotLoader is returned when an empty-constructor type does not
	// implement record.Loader.
	ErrNotLoader = errors.New("registry: type does not implement record.Loader")
	// ErrNotComparable is returned for node types that cannot serve as
	// identity keys. Register pointer types.
	ErrNotComparable = errors.New("registry: node type is not comparable")
	// ErrConflictingRegistration indicates a tag or type is already bound
	// to something else.
	ErrConflictingRegistration = errors.New("registry: conflicting registration")
)

var loaderType = reflect.TypeFor[record.Loader]()

// Factory builds nodes of one registered type.
type Factory struct {
	Tag  string
	Type reflect.Type

	empty  func() record.Node
	reader func(*record.Reader) record.Node
}

// TakesReader reports whether the constructor reads the record itself.
func (f Factory) TakesReader() bool { return f.reader != nil }

// New builds an empty node. The node implements record.Loader.
func (f Factory) New() record.Node { return f.empty() }

// Read builds a node from its record.
func (f Factory) Read(r *record.Reader) record.Node { return f.reader(r) }

// Registry is a tag to Factory table. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byTag  map[string]Factory
	byType map[reflect.Type]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byTag:  make(map[string]Factory),
		byType: make(map[reflect.Type]string),
	}
}

// Register binds tag to T, built with ctor and populated through Load.
// Registering the same (type, tag) pair again is a no-op.
func Register[T record.Node](reg *Registry, tag string, ctor func() T) error {
	if ctor == nil {
		return fmt.Errorf("%w: %q", ErrNilConstructor, tag)
	}
	typ := reflect.TypeFor[T]()
	if !typ.Implements(loaderType) {
		return fmt.Errorf("%w: %s", ErrNotLoader, typ)
	}
	return reg.add(Factory{
		Tag:   tag,
		Type:  typ,
		empty: func() record.Node { return ctor() },
	})
}

// RegisterReader binds tag to T, built by a constructor that reads the
// record itself.
func RegisterReader[T record.Node](reg *Registry, tag string, ctor func(*record.Reader) T) error {
	if ctor == nil {
		return fmt.Errorf("%w: %q", ErrNilConstructor, tag)
	}
	return reg.add(Factory{
		Tag:    tag,
		Type:   reflect.TypeFor[T](),
		reader: func(r *record.Reader) record.Node { return ctor(r) },
	})
}

// MustRegister is like Register but panics on error.
func MustRegister[T record.Node](reg *Registry, tag string, ctor func() T) {
	if err := Register(reg, tag, ctor); err != nil {
		panic(err)
	}
}

func (r *Registry) add(f Factory) error {
	if f.Tag == "" {
		return ErrEmptyTag
	}
	if f.Type.Kind() != reflect.Interface && !f.Type.Comparable() {
		return fmt.Errorf("%w: %s", ErrNotComparable, f.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byType[f.Type]; ok {
		if old == f.Tag {
			return nil
		}
		return fmt.Errorf("%w: %s already tagged %q", ErrConflictingRegistration, f.Type, old)
	}
	if old, ok := r.byTag[f.Tag]; ok {
		return fmt.Errorf("%w: %q already bound to %s", ErrConflictingRegistration, f.Tag, old.Type)
	}

	r.byTag[f.Tag] = f
	r.byType[f.Type] = f.Tag
	return nil
}

// Lookup returns the Factory registered under tag.
func (r *Registry) Lookup(tag string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byTag[tag]
	return f, ok
}

// TagOf returns the tag to record for n. A record.Tagger names its own
// tag; otherwise the dynamic type of n is looked up. The tag must be
// registered either way.
func (r *Registry) TagOf(n record.Node) (string, bool) {
	if n == nil {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if tg, ok := n.(record.Tagger); ok {
		tag := tg.NodeTag()
		_, known := r.byTag[tag]
		return tag, known
	}
	tag, ok := r.byType[reflect.TypeOf(n)]
	return tag, ok
}

// Tags returns every registered tag, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
