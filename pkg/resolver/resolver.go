// Package resolver maps live object identities to stable string IDs and back.
//
// A Session is a single-use transaction scoped to one save or load pass.
//
// Save side: GetOrAssignID hands out monotonically increasing IDs ("0",
// "1", ...) keyed by identity. The mapping is recorded before the
// id-created hook runs, so an instance reached again while its own fields
// are being written gets the same ID and is never written twice.
//
// Load side: RequestReference either answers immediately (the ID is
// already materialized) or queues the callback under the ID and raises the
// reference-requested hook so the caller can construct that object.
// MarkReady registers an instance and fires every queued callback. An
// instance must be marked ready as soon as it exists, before its own
// fields are read; that is what lets A -> B -> A terminate. Anything still
// queued at the end of the pass is settled by ResolveRemainingAsAbsent.
//
// Hooks may call back into the Session before the outer call returns.
// Callback lists are snapshotted before they are invoked, so re-entrant
// requests never mutate a list that is being iterated.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	// ErrSessionClosed is the panic value for use of a closed Session.
	ErrSessionClosed = errors.New("resolver: session closed")
	// ErrDuplicateBatch is returned when a batch owner key is reused while
	// its previous batch is still pending.
	ErrDuplicateBatch = errors.New("resolver: duplicate batch owner")
)

// Callback receives a resolved reference. ok is false for an absent
// reference; ref is then the zero value.
type Callback[N comparable] func(ref N, ok bool)

// Result is one member of a batch request.
type Result[N comparable] struct {
	ID  string
	Ref N
	OK  bool
}

// BatchCallback receives every member of a batch, in request order.
type BatchCallback[N comparable] func(results []Result[N])

// Session resolves references for one save or load pass.
// It is not safe for concurrent use.
type Session[N comparable] struct {
	onIDCreated func(id string, ref N)
	onRequested func(id string)

	refToID map[N]string
	idToRef map[string]N
	pending map[string][]Callback[N]
	batches map[string]*batch[N]

	next   int64
	closed bool
}

// New creates an empty Session.
func New[N comparable]() *Session[N] {
	return &Session[N]{
		refToID: make(map[N]string),
		idToRef: make(map[string]N),
		pending: make(map[string][]Callback[N]),
		batches: make(map[string]*batch[N]),
	}
}

// OnIDCreated sets the hook raised when GetOrAssignID allocates an ID.
func (s *Session[N]) OnIDCreated(fn func(id string, ref N)) {
	s.mustOpen()
	s.onIDCreated = fn
}

// OnReferenceRequested sets the hook raised when a requested ID is not yet
// materialized.
func (s *Session[N]) OnReferenceRequested(fn func(id string)) {
	s.mustOpen()
	s.onRequested = fn
}

// GetOrAssignID returns the ID for ref, allocating the next one on first
// sight and raising the id-created hook.
func (s *Session[N]) GetOrAssignID(ref N) string {
	s.mustOpen()
	if id, ok := s.refToID[ref]; ok {
		return id
	}

	id := strconv.FormatInt(s.next, 10)
	s.next++
	s.refToID[ref] = id
	s.idToRef[id] = ref

	if s.onIDCreated != nil {
		s.onIDCreated(id, ref)
	}
	return id
}

// Assign binds ref to a caller-chosen id without raising any hook.
// Used for reserved IDs such as the capsule root.
func (s *Session[N]) Assign(id string, ref N) {
	s.mustOpen()
	s.refToID[ref] = id
	s.idToRef[id] = ref
}

// LookupID returns the ID already assigned to ref.
func (s *Session[N]) LookupID(ref N) (string, bool) {
	s.mustOpen()
	id, ok := s.refToID[ref]
	return id, ok
}

// Resolved returns the instance materialized under id.
func (s *Session[N]) Resolved(id string) (N, bool) {
	s.mustOpen()
	ref, ok := s.idToRef[id]
	return ref, ok
}

// RequestReference delivers the instance for id to cb, now if it is
// materialized, otherwise once MarkReady or ResolveRemainingAsAbsent
// settles it.
func (s *Session[N]) RequestReference(id string, cb Callback[N]) {
	s.mustOpen()
	if cb == nil {
		return
	}
	if ref, ok := s.idToRef[id]; ok {
		cb(ref, true)
		return
	}

	s.pending[id] = append(s.pending[id], cb)
	if s.onRequested != nil {
		s.onRequested(id)
	}
}

// MarkReady registers ref under id and fires every callback queued for id.
// The first registration of an id wins; later ones only flush callbacks.
func (s *Session[N]) MarkReady(id string, ref N) {
	s.mustOpen()
	if existing, ok := s.idToRef[id]; ok {
		ref = existing
	} else {
		s.idToRef[id] = ref
		if _, assigned := s.refToID[ref]; !assigned {
			s.refToID[ref] = id
		}
	}

	callbacks := s.pending[id]
	delete(s.pending, id)
	for _, cb := range callbacks {
		cb(ref, true)
	}
}

// RequestReferences resolves every id and then calls cb exactly once with
// the results aligned to ids. owner identifies the batch and must be
// unique among pending batches.
func (s *Session[N]) RequestReferences(owner string, ids []string, cb BatchCallback[N]) error {
	s.mustOpen()
	if cb == nil {
		return nil
	}
	if len(ids) == 0 {
		cb(nil)
		return nil
	}
	if _, ok := s.batches[owner]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateBatch, owner)
	}

	b := &batch[N]{
		results:   make([]Result[N], len(ids)),
		remaining: len(ids),
		done:      cb,
	}
	s.batches[owner] = b

	for i, id := range ids {
		b.results[i].ID = id
		s.RequestReference(id, func(ref N, ok bool) {
			if b.settle(i, ref, ok) {
				delete(s.batches, owner)
				b.fire()
			}
		})
	}
	return nil
}

// ResolveAbsent settles the callbacks queued for id as absent, for an ID
// whose instance cannot be built. Later requests for id queue again.
func (s *Session[N]) ResolveAbsent(id string) {
	s.mustOpen()
	var zero N
	callbacks := s.pending[id]
	delete(s.pending, id)
	for _, cb := range callbacks {
		cb(zero, false)
	}
}

// ResolveRemainingAsAbsent settles, in ID order, every callback queued
// when it is called. Requests made by those callbacks stay pending so the
// caller can build them first; call it again while Pending is non-zero.
func (s *Session[N]) ResolveRemainingAsAbsent() {
	s.mustOpen()
	var zero N
	settled := s.pending
	s.pending = make(map[string][]Callback[N])

	ids := make([]string, 0, len(settled))
	for id := range settled {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, cb := range settled[id] {
			cb(zero, false)
		}
	}
}

// Pending returns the number of IDs with queued callbacks.
func (s *Session[N]) Pending() int {
	s.mustOpen()
	return len(s.pending)
}

// Close releases all state. The Session must not be used afterwards.
func (s *Session[N]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.refToID = nil
	s.idToRef = nil
	s.pending = nil
	s.batches = nil
	s.onIDCreated = nil
	s.onRequested = nil
	s.next = 0
}

func (s *Session[N]) mustOpen() {
	if s.closed {
		panic(ErrSessionClosed)
	}
}

// batch counts down the members of one RequestReferences call.
type batch[N comparable] struct {
	results   []Result[N]
	remaining int
	done      BatchCallback[N]
	fired     bool
}

// settle records member i and reports whether the batch just completed.
func (b *batch[N]) settle(i int, ref N, ok bool) bool {
	if b.fired {
		return false
	}
	b.results[i].Ref = ref
	b.results[i].OK = ok
	b.remaining--
	return b.remaining == 0
}

func (b *batch[N]) fire() {
	b.fired = true
	b.done(b.results)
}
