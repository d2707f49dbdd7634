package codec

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrEmptyName is returned when Register is given an empty name.
	ErrEmptyName = errors.New("codec: empty type name")
	// ErrReservedName is returned when Register is given a collection tag.
	ErrReservedName = errors.New("codec: reserved type name")
	// ErrConflictingRegistration indicates a type or name is already bound
	// to something else.
	ErrConflictingRegistration = errors.New("codec: conflicting type registration")
)

// typeTable maps type names to Go types and back.
type typeTable struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

var table = newTypeTable()

func newTypeTable() *typeTable {
	t := &typeTable{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	builtins := []reflect.Type{
		reflect.TypeFor[bool](),
		reflect.TypeFor[string](),
		reflect.TypeFor[int](),
		reflect.TypeFor[int8](),
		reflect.TypeFor[int16](),
		reflect.TypeFor[int32](),
		reflect.TypeFor[int64](),
		reflect.TypeFor[uint](),
		reflect.TypeFor[uint8](),
		reflect.TypeFor[uint16](),
		reflect.TypeFor[uint32](),
		reflect.TypeFor[uint64](),
		reflect.TypeFor[float32](),
		reflect.TypeFor[float64](),
	}
	for _, bt := range builtins {
		t.byName[bt.String()] = bt
		t.byType[bt] = bt.String()
	}
	return t
}

// Register binds T to name so values of T can be decoded by name alone.
// Registering the same (type, name) pair again is a no-op.
func Register[T any](name string) error {
	return table.register(reflect.TypeFor[T](), name)
}

// MustRegister is like Register but panics on error.
// Intended for package init blocks.
func MustRegister[T any](name string) {
	if err := Register[T](name); err != nil {
		panic(err)
	}
}

func (t *typeTable) register(typ reflect.Type, name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if name == TypeArray || name == TypeDict {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byType[typ]; ok {
		if old == name {
			return nil
		}
		return fmt.Errorf("%w: %s already named %q", ErrConflictingRegistration, typ, old)
	}
	if old, ok := t.byName[name]; ok {
		return fmt.Errorf("%w: %q already bound to %s", ErrConflictingRegistration, name, old)
	}

	t.byName[name] = typ
	t.byType[typ] = name
	return nil
}

func (t *typeTable) nameOf(typ reflect.Type) string {
	t.mu.RLock()
	name, ok := t.byType[typ]
	t.mu.RUnlock()
	if ok {
		return name
	}
	return typ.String()
}

func (t *typeTable) lookup(name string) (reflect.Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, ok := t.byName[name]
	return typ, ok
}

// NameOf returns the type name recorded for values of T.
func NameOf[T any]() string {
	return table.nameOf(reflect.TypeFor[T]())
}

// Known reports whether name can be decoded without a static type.
func Known(name string) bool {
	if name == TypeArray || name == TypeDict {
		return true
	}
	_, ok := table.lookup(name)
	return ok
}

// Names returns all registered type names, sorted.
func Names() []string {
	table.mu.RLock()
	defer table.mu.RUnlock()
	names := make([]string, 0, len(table.byName))
	for name := range table.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
