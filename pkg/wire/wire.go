// Package wire converts a capsule's record set to and from its stored
// document.
//
// The text form is canonical JSON of a SaveData. The document wraps that
// text with an integrity tag and passes both through the configured
// transform:
//
//	document = encode(canonical({"integrity": tag, "payload": encode(text)}))
//	tag      = encode(hex(SHA-256("savegraph/document/v1" 0x00 encode(text) text)))
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/savegraph/pkg/codec"
	"github.com/roach88/savegraph/pkg/record"
)

// Reference item type names.
const (
	TypeRef  = "ref"
	TypeRefs = "refs"
)

var (
	// ErrCorrupt is returned for documents that cannot be decoded or whose
	// integrity tag does not match.
	ErrCorrupt = errors.New("wire: corrupt document")
	// ErrUnstorable is returned for sets whose multi-references hold IDs
	// the comma-joined form cannot carry.
	ErrUnstorable = errors.New("wire: set cannot be stored")
)

// Item is one stored key.
type Item struct {
	Key           string `json:"key"`
	ValueTypeName string `json:"value_type_name"`
	ValueAsString string `json:"value_as_string"`
}

// Reference is the stored form of one record.
type Reference struct {
	ReferenceID string `json:"reference_id"`
	ValueItems  []Item `json:"value_items"`
	RefItems    []Item `json:"ref_items"`
}

// SaveData is the stored form of one capsule.
type SaveData struct {
	CapsuleID  string      `json:"capsule_id"`
	References []Reference `json:"references"`
}

// FromSet builds the stored form of set. References are ordered root
// first, then by ID; items are ordered by key.
func FromSet(capsuleID string, set record.Set) SaveData {
	data := SaveData{CapsuleID: capsuleID, References: make([]Reference, 0, len(set))}
	for _, id := range set.IDs() {
		rec := set[id]
		ref := Reference{
			ReferenceID: id,
			ValueItems:  []Item{},
			RefItems:    []Item{},
		}
		for _, key := range rec.ValueKeys() {
			s, _ := rec.Value(key)
			ref.ValueItems = append(ref.ValueItems, Item{
				Key:           key,
				ValueTypeName: s.ValueType,
				ValueAsString: s.ValueString,
			})
		}
		for _, key := range rec.RefKeys() {
			r, _ := rec.Ref(key)
			typ := TypeRef
			if r.Multi {
				typ = TypeRefs
			}
			ref.RefItems = append(ref.RefItems, Item{
				Key:           key,
				ValueTypeName: typ,
				ValueAsString: strings.Join(r.IDs, ","),
			})
		}
		data.References = append(data.References, ref)
	}
	return data
}

// ToSet rebuilds the record set.
func (d SaveData) ToSet() (record.Set, error) {
	set := make(record.Set, len(d.References))
	for _, ref := range d.References {
		if ref.ReferenceID == "" {
			return nil, fmt.Errorf("%w: empty reference id", ErrCorrupt)
		}
		if _, dup := set[ref.ReferenceID]; dup {
			return nil, fmt.Errorf("%w: duplicate reference %q", ErrCorrupt, ref.ReferenceID)
		}

		rec := record.New()
		for _, item := range ref.ValueItems {
			rec.SetValue(item.Key, codec.Section{ValueString: item.ValueAsString, ValueType: item.ValueTypeName})
		}
		for _, item := range ref.RefItems {
			switch item.ValueTypeName {
			case TypeRef:
				rec.SetRef(item.Key, record.Single(item.ValueAsString))
			case TypeRefs:
				rec.SetRef(item.Key, record.Multiple(splitIDs(item.ValueAsString)...))
			default:
				return nil, fmt.Errorf("%w: reference %q key %q: unknown ref type %q",
					ErrCorrupt, ref.ReferenceID, item.Key, item.ValueTypeName)
			}
		}
		set[ref.ReferenceID] = rec
	}
	return set, nil
}

// checkRefs rejects multi-reference IDs that would not split back to
// themselves.
func checkRefs(set record.Set) error {
	for _, id := range set.IDs() {
		rec := set[id]
		for _, key := range rec.RefKeys() {
			r, _ := rec.Ref(key)
			if !r.Multi {
				continue
			}
			for i, rid := range r.IDs {
				if rid == "" || strings.Contains(rid, ",") {
					return fmt.Errorf("%w: reference %q key %q: id %q at %d", ErrUnstorable, id, key, rid, i)
				}
			}
		}
	}
	return nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Text returns the canonical JSON text of d.
func (d SaveData) Text() ([]byte, error) {
	refs := make([]any, len(d.References))
	sorted := append([]Reference{}, d.References...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ReferenceID, sorted[j].ReferenceID
		if a == record.RootID || b == record.RootID {
			return a == record.RootID && b != record.RootID
		}
		return a < b
	})
	for i, ref := range sorted {
		refs[i] = map[string]any{
			"reference_id": ref.ReferenceID,
			"value_items":  itemsValue(ref.ValueItems),
			"ref_items":    itemsValue(ref.RefItems),
		}
	}
	text, err := marshalCanonical(map[string]any{
		"capsule_id": d.CapsuleID,
		"references": refs,
	})
	if err != nil {
		return nil, fmt.Errorf("canonical text: %w", err)
	}
	return text, nil
}

func itemsValue(items []Item) []any {
	sorted := append([]Item{}, items...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	out := make([]any, len(sorted))
	for i, item := range sorted {
		out[i] = map[string]any{
			"key":             item.Key,
			"value_type_name": item.ValueTypeName,
			"value_as_string": item.ValueAsString,
		}
	}
	return out
}

// ParseText reads the canonical JSON text of a SaveData.
func ParseText(text []byte) (SaveData, error) {
	var d SaveData
	if err := json.Unmarshal(text, &d); err != nil {
		return SaveData{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return d, nil
}
