package capsule

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/savegraph/pkg/record"
	"github.com/roach88/savegraph/pkg/resolver"
)

// Load rebuilds the selected capsules from their stored records. No IDs
// loads every capsule.
//
// For each capsule the root Load runs first. Every referenced record is
// then built on demand, marked ready before its own Load runs, so cycles
// terminate. References that cannot be built resolve as absent. Once
// everything settled, LoadingCompleted fires on every built node in
// reverse build order; the capsule root completes last.
func (e *Engine) Load(ctx context.Context, ids ...string) error {
	sel, err := e.selectIDs(ids)
	if err != nil {
		return err
	}
	for _, id := range sel {
		set, err := e.populate(ctx, id)
		if err != nil {
			return err
		}
		if err := e.loadCapsule(id, e.capsules[id], set); err != nil {
			return err
		}
	}
	return nil
}

// loader carries the state of one capsule's load pass.
type loader struct {
	engine    *Engine
	capsuleID string
	set       record.Set
	session   *resolver.Session[record.Node]

	queue  []string
	queued map[string]bool
	built  []record.Node
}

func (e *Engine) loadCapsule(id string, c record.Capsule, set record.Set) error {
	session := resolver.New[record.Node]()
	defer session.Close()

	l := &loader{
		engine:    e,
		capsuleID: id,
		set:       set,
		session:   session,
		queued:    make(map[string]bool),
	}
	session.OnReferenceRequested(l.enqueue)

	session.MarkReady(record.RootID, c)
	rootRec, ok := set[record.RootID]
	if !ok {
		rootRec = record.New()
	}
	r := record.NewReader(rootRec, record.RootID, session)
	c.Load(r)
	if err := r.Err(); err != nil {
		return &Error{Code: CodeUsage, CapsuleID: id, ReferenceID: record.RootID, Message: "load root", Err: err}
	}
	l.built = append(l.built, c)

	for {
		for len(l.queue) > 0 {
			next := l.queue[0]
			l.queue = l.queue[1:]
			if err := l.build(next); err != nil {
				return err
			}
		}
		if session.Pending() == 0 {
			break
		}
		// Settle what is stuck; callbacks may request IDs that still
		// have records, which the next round builds.
		session.ResolveRemainingAsAbsent()
	}

	for i := len(l.built) - 1; i >= 0; i-- {
		l.built[i].LoadingCompleted()
	}

	e.logger.Debug("capsule loaded",
		"capsule", id,
		"nodes", len(l.built),
	)
	return nil
}

func (l *loader) enqueue(id string) {
	if l.queued[id] {
		return
	}
	l.queued[id] = true
	l.queue = append(l.queue, id)
}

// build constructs the node stored under id and marks it ready.
func (l *loader) build(id string) error {
	if _, ok := l.session.Resolved(id); ok {
		return nil
	}

	rec, ok := l.set[id]
	if !ok {
		l.absent(id, "dangling reference")
		return nil
	}
	tag, ok := rec.Type()
	if !ok {
		l.absent(id, "record has no type tag")
		return nil
	}
	f, ok := l.engine.registry.Lookup(tag)
	if !ok {
		l.absent(id, "unknown type tag", "tag", tag)
		return nil
	}

	r := record.NewReader(rec, id, l.session)
	var n record.Node
	if f.TakesReader() {
		n = f.Read(r)
		if err := r.Err(); err != nil {
			return l.usage(id, err)
		}
		if n == nil || !isComparable(n) {
			return l.usage(id, fmt.Errorf("%w: constructor for %q returned %T", record.ErrUsage, tag, n))
		}
		l.session.MarkReady(id, n)
	} else {
		n = f.New()
		if n == nil || !isComparable(n) {
			return l.usage(id, fmt.Errorf("%w: constructor for %q returned %T", record.ErrUsage, tag, n))
		}
		l.session.MarkReady(id, n)
		n.(record.Loader).Load(r)
		if err := r.Err(); err != nil {
			return l.usage(id, err)
		}
	}
	l.built = append(l.built, n)
	return nil
}

func (l *loader) absent(id, reason string, args ...any) {
	l.engine.logger.Warn("reference resolved as absent",
		append([]any{"capsule", l.capsuleID, "ref", id, "reason", reason}, args...)...,
	)
	l.session.ResolveAbsent(id)
}

func (l *loader) usage(id string, err error) error {
	return &Error{Code: CodeUsage, CapsuleID: l.capsuleID, ReferenceID: id, Message: "load node", Err: err}
}

func isComparable(v any) bool {
	return v != nil && reflect.TypeOf(v).Comparable()
}
