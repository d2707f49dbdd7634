// Package schema checks stored capsule records against CUE constraints.
//
// A schema source declares two structs. roots holds one constraint per
// capsule ID, applied to that capsule's root record; types holds one
// constraint per registry tag, applied to every record carrying the tag:
//
//	roots: world: {
//		values: name: string
//		refs: hero?: string
//	}
//	types: "game.hero": close({
//		values: {name: string, hp?: int & >=0}
//		refs: friend?: string
//	})
//
// Each record is projected to {values: {...}, refs: {...}} before it is
// unified with its constraint. Values are decoded through the codec
// type table; single references project to their ID and reference lists
// to a list of IDs. Reserved keys are not projected.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/savegraph/pkg/codec"
	"github.com/roach88/savegraph/pkg/record"
)

// Issue codes (E200-E209).
const (
	ErrCodeInvalidSchema = "E201" // schema source does not compile
	ErrCodeViolation     = "E202" // record does not satisfy its constraint
	ErrCodeUndecodable   = "E203" // stored value cannot be decoded
	ErrCodeUntyped       = "E204" // record has no tag, or its tag has no constraint
)

// Issue is one schema finding.
type Issue struct {
	Capsule   string `json:"capsule" yaml:"capsule"`
	Reference string `json:"reference" yaml:"reference"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`
	Code      string `json:"code" yaml:"code"`
	Message   string `json:"message" yaml:"message"`
}

// Error implements the error interface.
func (i Issue) Error() string {
	where := i.Capsule + "/" + i.Reference
	if i.Path != "" {
		where += ": " + i.Path
	}
	return fmt.Sprintf("[%s] %s: %s", i.Code, where, i.Message)
}

// CompileError is returned when a schema source is invalid.
type CompileError struct {
	Code    string
	Message string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Schema holds compiled constraints.
type Schema struct {
	ctx   *cue.Context
	roots map[string]cue.Value
	types map[string]cue.Value

	// Strict reports records whose tag has no constraint.
	Strict bool
}

// Compile builds a Schema from CUE source. filename is used in positions.
func Compile(src []byte, filename string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, &CompileError{Code: ErrCodeInvalidSchema, Message: "compile " + filename, Err: err}
	}

	s := &Schema{
		ctx:   ctx,
		roots: make(map[string]cue.Value),
		types: make(map[string]cue.Value),
	}
	for field, dst := range map[string]map[string]cue.Value{"roots": s.roots, "types": s.types} {
		fv := v.LookupPath(cue.ParsePath(field))
		if !fv.Exists() {
			continue
		}
		iter, err := fv.Fields()
		if err != nil {
			return nil, &CompileError{Code: ErrCodeInvalidSchema, Message: field + " must be a struct", Err: err}
		}
		for iter.Next() {
			dst[iter.Selector().Unquoted()] = iter.Value()
		}
	}
	return s, nil
}

// LoadFile compiles the schema stored at path.
func LoadFile(path string) (*Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Compile(src, path)
}

// Tags returns the registry tags the schema constrains, sorted.
func (s *Schema) Tags() []string {
	tags := make([]string, 0, len(s.types))
	for tag := range s.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Validate checks every record of v. Records are visited root first, then
// by ID.
func (s *Schema) Validate(v record.View) []Issue {
	var issues []Issue
	for _, id := range v.Set.IDs() {
		rec := v.Set[id]
		constraint, ok, issue := s.constraintFor(v.CapsuleID, id, rec)
		if issue != nil {
			issues = append(issues, *issue)
			continue
		}
		if !ok {
			continue
		}
		issues = append(issues, s.check(v.CapsuleID, id, rec, constraint)...)
	}
	return issues
}

func (s *Schema) constraintFor(capsuleID, id string, rec *record.Record) (cue.Value, bool, *Issue) {
	if id == record.RootID {
		c, ok := s.roots[capsuleID]
		return c, ok, nil
	}
	tag, ok := rec.Type()
	if !ok {
		return cue.Value{}, false, &Issue{
			Capsule:   capsuleID,
			Reference: id,
			Code:      ErrCodeUntyped,
			Message:   "record has no type tag",
		}
	}
	c, ok := s.types[tag]
	if !ok && s.Strict {
		return cue.Value{}, false, &Issue{
			Capsule:   capsuleID,
			Reference: id,
			Code:      ErrCodeUntyped,
			Message:   fmt.Sprintf("no constraint for type %q", tag),
		}
	}
	return c, ok, nil
}

func (s *Schema) check(capsuleID, id string, rec *record.Record, constraint cue.Value) []Issue {
	data, issues := project(capsuleID, id, rec)
	if len(issues) > 0 {
		return issues
	}

	encoded := s.ctx.Encode(data)
	if err := encoded.Err(); err != nil {
		return []Issue{{Capsule: capsuleID, Reference: id, Code: ErrCodeUndecodable, Message: err.Error()}}
	}
	err := constraint.Unify(encoded).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		issues = append(issues, Issue{
			Capsule:   capsuleID,
			Reference: id,
			Path:      strings.Join(e.Path(), "."),
			Code:      ErrCodeViolation,
			Message:   fmt.Sprintf(format, args...),
		})
	}
	return issues
}

// project converts rec into the plain structure constraints apply to.
func project(capsuleID, id string, rec *record.Record) (map[string]any, []Issue) {
	values := make(map[string]any)
	var issues []Issue
	for _, key := range rec.ValueKeys() {
		if record.IsReserved(key) {
			continue
		}
		sec, _ := rec.Value(key)
		v, err := codec.DecodeAny(sec)
		if err != nil {
			issues = append(issues, Issue{
				Capsule:   capsuleID,
				Reference: id,
				Path:      "values." + key,
				Code:      ErrCodeUndecodable,
				Message:   err.Error(),
			})
			continue
		}
		values[key] = plain(v)
	}

	refs := make(map[string]any)
	for _, key := range rec.RefKeys() {
		ref, _ := rec.Ref(key)
		if !ref.Multi && len(ref.IDs) == 1 {
			refs[key] = ref.IDs[0]
			continue
		}
		ids := make([]any, len(ref.IDs))
		for i, rid := range ref.IDs {
			ids[i] = rid
		}
		refs[key] = ids
	}
	return map[string]any{"values": values, "refs": refs}, issues
}

// plain rewrites decoded dicts to string-keyed maps so they encode as CUE
// structs.
func plain(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = plain(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[fmt.Sprint(k)] = plain(item)
		}
		return out
	}
	return v
}
