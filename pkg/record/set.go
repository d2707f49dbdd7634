package record

import (
	"sort"

	"github.com/google/uuid"
)

// Set is every record of one capsule, keyed by reference ID.
type Set map[string]*Record

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for id, rec := range s {
		out[id] = rec.Clone()
	}
	return out
}

// IDs returns the reference IDs with the root first and the rest sorted.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		if id != RootID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if _, ok := s[RootID]; ok {
		ids = append([]string{RootID}, ids...)
	}
	return ids
}

// View is raw access to a capsule's records, used by tooling and
// migrations. Edits made through a View are seen by the next load or
// flush of the capsule.
type View struct {
	CapsuleID string
	Set       Set
}

// Root returns the root record, creating it if the capsule has none.
func (v View) Root() *Record {
	rec, ok := v.Set[RootID]
	if !ok {
		rec = New()
		v.Set[RootID] = rec
	}
	return rec
}

// References returns the IDs of all non-root records, sorted.
func (v View) References() []string {
	ids := v.Set.IDs()
	if len(ids) > 0 && ids[0] == RootID {
		ids = ids[1:]
	}
	return ids
}

// Reference returns the record stored under id.
func (v View) Reference(id string) (*Record, bool) {
	rec, ok := v.Set[id]
	return rec, ok
}

// OfType returns the IDs of non-root records tagged tag, sorted.
func (v View) OfType(tag string) []string {
	var ids []string
	for _, id := range v.References() {
		if t, ok := v.Set[id].Type(); ok && t == tag {
			ids = append(ids, id)
		}
	}
	return ids
}

// NewReference adds an empty record tagged tag under a fresh UUID and
// returns its ID.
func (v View) NewReference(tag string) (string, *Record) {
	id := uuid.Must(uuid.NewV7()).String()
	rec := New()
	rec.SetType(tag)
	v.Set[id] = rec
	return id, rec
}

// RemoveReference deletes a non-root record and reports whether it existed.
// References to it elsewhere are left in place and load as absent.
func (v View) RemoveReference(id string) bool {
	if id == RootID {
		return false
	}
	_, ok := v.Set[id]
	delete(v.Set, id)
	return ok
}

// Empty reports whether the capsule holds no records.
func (v View) Empty() bool {
	return len(v.Set) == 0
}
