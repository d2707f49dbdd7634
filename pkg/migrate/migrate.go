// Package migrate runs ordered, reversible transforms over a capsule's raw
// records.
//
// Migrations are registered per capsule; their position in registration
// order is their index. The index of the last applied step is stored in
// the capsule's root record, so each step runs once per stored document.
package migrate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/savegraph/pkg/record"
)

var (
	// ErrNoStep is returned when a stored index names a step that is not
	// registered.
	ErrNoStep = errors.New("migrate: no such step")
	// ErrBadTarget is returned for rollback targets outside the stored range.
	ErrBadTarget = errors.New("migrate: invalid rollback target")
)

// Migration transforms the records of one capsule.
type Migration interface {
	CapsuleID() string
	Do(v record.View) error
	Undo(v record.View) error
}

// Step adapts plain functions to Migration. A nil UndoFunc makes the step
// irreversible.
type Step struct {
	Capsule  string
	DoFunc   func(record.View) error
	UndoFunc func(record.View) error
}

// CapsuleID implements Migration.
func (s Step) CapsuleID() string { return s.Capsule }

// Do implements Migration.
func (s Step) Do(v record.View) error {
	if s.DoFunc == nil {
		return nil
	}
	return s.DoFunc(v)
}

// Undo implements Migration.
func (s Step) Undo(v record.View) error {
	if s.UndoFunc == nil {
		return errors.New("step cannot be undone")
	}
	return s.UndoFunc(v)
}

// Migrator holds the registered migrations. It is safe for concurrent use.
type Migrator struct {
	mu    sync.RWMutex
	steps map[string][]Migration
}

// New returns a Migrator holding ms in order.
func New(ms ...Migration) *Migrator {
	m := &Migrator{steps: make(map[string][]Migration)}
	m.Register(ms...)
	return m
}

// Register appends ms to their capsules' step lists.
func (m *Migrator) Register(ms ...Migration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mig := range ms {
		id := mig.CapsuleID()
		m.steps[id] = append(m.steps[id], mig)
	}
}

// Latest returns the index of the last registered step for capsuleID, or
// -1 when it has none.
func (m *Migrator) Latest(capsuleID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.steps[capsuleID]) - 1
}

func (m *Migrator) stepsFor(capsuleID string) []Migration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Migration(nil), m.steps[capsuleID]...)
}

// Index returns the migration index stored in set, or -1 when none is.
func Index(set record.Set) int {
	root, ok := set[record.RootID]
	if !ok {
		return -1
	}
	i, ok := root.MigrationIndex()
	if !ok {
		return -1
	}
	return i
}

// Apply runs every step after the stored index, in order. Each step works
// on a copy that replaces the set only when the step succeeds. On error
// the result of the last successful step is returned with its index.
// An empty set is returned untouched.
func (m *Migrator) Apply(capsuleID string, set record.Set) (record.Set, int, error) {
	cur := Index(set)
	if len(set) == 0 {
		return set, cur, nil
	}

	steps := m.stepsFor(capsuleID)
	for i := cur + 1; i < len(steps); i++ {
		work := set.Clone()
		view := record.View{CapsuleID: capsuleID, Set: work}
		if err := steps[i].Do(view); err != nil {
			return set, cur, fmt.Errorf("migration %d of %s: %w", i, capsuleID, err)
		}
		view.Root().SetMigrationIndex(i)
		set, cur = work, i
	}
	return set, cur, nil
}

// Rollback undoes steps from the stored index down to, but not including,
// to. A to of -1 undoes every step and removes the stored index.
func (m *Migrator) Rollback(capsuleID string, set record.Set, to int) (record.Set, int, error) {
	cur := Index(set)
	if to < -1 || to > cur {
		return set, cur, fmt.Errorf("%w: %d (stored index %d)", ErrBadTarget, to, cur)
	}

	steps := m.stepsFor(capsuleID)
	if cur >= len(steps) {
		return set, cur, fmt.Errorf("%w: %s has no step %d", ErrNoStep, capsuleID, cur)
	}

	for i := cur; i > to; i-- {
		work := set.Clone()
		view := record.View{CapsuleID: capsuleID, Set: work}
		if err := steps[i].Undo(view); err != nil {
			return set, cur, fmt.Errorf("undo migration %d of %s: %w", i, capsuleID, err)
		}
		if i-1 >= 0 {
			view.Root().SetMigrationIndex(i - 1)
		} else {
			view.Root().RemoveValue(record.MigrationIndexKey)
		}
		set, cur = work, i-1
	}
	return set, cur, nil
}
