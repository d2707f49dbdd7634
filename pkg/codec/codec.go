package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"unicode/utf8"
)

// Collection tags. They never name a Go type.
const (
	TypeArray = "array"
	TypeDict  = "dict"
)

var (
	// ErrUnknownType is returned when a section names a type that is not
	// in the type table (renamed or removed types).
	ErrUnknownType = errors.New("codec: unknown type name")
	// ErrUnsupported is returned for values that have no text form
	// (channels, funcs, complex numbers, nil interfaces).
	ErrUnsupported = errors.New("codec: unsupported value")
	// ErrMalformed is returned when a section's text does not parse as
	// its declared type.
	ErrMalformed = errors.New("codec: malformed value")
	// ErrInvalidText is returned for strings that are not valid UTF-8.
	// Document text cannot carry them without replacing bytes.
	ErrInvalidText = errors.New("codec: string is not valid UTF-8")
)

// Section is the at-rest form of one value: its text and its type name.
type Section struct {
	ValueString string `json:"value_string"`
	ValueType   string `json:"value_type"`
}

// DictItem is one key/value pair of a dict section.
type DictItem struct {
	Key   Section `json:"key"`
	Value Section `json:"value"`
}

// Scalar is the set of kinds rendered as plain text.
type Scalar interface {
	~bool | ~string |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Encode renders v as a Section. When T is an interface type the dynamic
// type of v is recorded.
func Encode[T any](v T) (Section, error) {
	rv := concrete(reflect.ValueOf(&v).Elem())
	if !rv.IsValid() {
		return Section{}, fmt.Errorf("%w: nil %s", ErrUnsupported, reflect.TypeFor[T]())
	}
	return encodeValue(rv)
}

// Decode reads s back as a T. It reports false when s does not hold a T:
// a different type name, an unknown type name, or malformed text.
func Decode[T any](s Section) (T, bool) {
	var zero T
	rv, ok := decodeInto(reflect.TypeFor[T](), s)
	if !ok {
		return zero, false
	}
	out, ok := rv.Interface().(T)
	return out, ok
}

// DecodeAny reads s using only its recorded type name. Arrays decode to
// []any and dicts to map[any]any.
func DecodeAny(s Section) (any, error) {
	switch s.ValueType {
	case TypeArray:
		var items []Section
		if err := json.Unmarshal([]byte(s.ValueString), &items); err != nil {
			return nil, fmt.Errorf("%w: array: %v", ErrMalformed, err)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := DecodeAny(item)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case TypeDict:
		var items []DictItem
		if err := json.Unmarshal([]byte(s.ValueString), &items); err != nil {
			return nil, fmt.Errorf("%w: dict: %v", ErrMalformed, err)
		}
		out := make(map[any]any, len(items))
		for i, item := range items {
			k, err := DecodeAny(item.Key)
			if err != nil {
				return nil, fmt.Errorf("dict[%d] key: %w", i, err)
			}
			if k != nil && !reflect.TypeOf(k).Comparable() {
				return nil, fmt.Errorf("%w: dict[%d] key %s is not comparable", ErrMalformed, i, reflect.TypeOf(k))
			}
			v, err := DecodeAny(item.Value)
			if err != nil {
				return nil, fmt.Errorf("dict[%d] value: %w", i, err)
			}
			out[k] = v
		}
		return out, nil
	}

	typ, ok := table.lookup(s.ValueType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, s.ValueType)
	}
	rv, ok := decodeInto(typ, s)
	if !ok {
		return nil, fmt.Errorf("%w: %q as %s", ErrMalformed, s.ValueString, s.ValueType)
	}
	return rv.Interface(), nil
}

func encodeValue(rv reflect.Value) (Section, error) {
	name := table.nameOf(rv.Type())
	if rv.Kind() == reflect.String && !utf8.ValidString(rv.String()) {
		return Section{}, fmt.Errorf("%w: %q", ErrInvalidText, rv.String())
	}
	if text, ok := formatScalar(rv); ok {
		return Section{ValueString: text, ValueType: name}, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return encodeJSON(rv, name)
		}
		return encodeArray(rv)
	case reflect.Map:
		return encodeDict(rv)
	case reflect.Struct, reflect.Pointer:
		return encodeJSON(rv, name)
	default:
		return Section{}, fmt.Errorf("%w: %s", ErrUnsupported, rv.Type())
	}
}

func encodeJSON(rv reflect.Value, name string) (Section, error) {
	if hasInvalidText(rv, make(map[uintptr]bool)) {
		return Section{}, fmt.Errorf("%w: inside %s", ErrInvalidText, name)
	}
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return Section{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Section{ValueString: string(data), ValueType: name}, nil
}

// hasInvalidText reports whether any string json.Marshal would write for
// rv is not valid UTF-8.
func hasInvalidText(rv reflect.Value, seen map[uintptr]bool) bool {
	switch rv.Kind() {
	case reflect.String:
		return !utf8.ValidString(rv.String())
	case reflect.Interface:
		return !rv.IsNil() && hasInvalidText(rv.Elem(), seen)
	case reflect.Pointer:
		if rv.IsNil() || seen[rv.Pointer()] {
			return false
		}
		seen[rv.Pointer()] = true
		return hasInvalidText(rv.Elem(), seen)
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() && hasInvalidText(rv.Field(i), seen) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if hasInvalidText(rv.Index(i), seen) {
				return true
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if hasInvalidText(iter.Key(), seen) || hasInvalidText(iter.Value(), seen) {
				return true
			}
		}
	}
	return false
}

// decodeInto decodes s into a fresh value of typ.
func decodeInto(typ reflect.Type, s Section) (reflect.Value, bool) {
	if typ.Kind() == reflect.Interface {
		v, err := DecodeAny(s)
		if err != nil || v == nil {
			return reflect.Value{}, false
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(typ) {
			return reflect.Value{}, false
		}
		out := reflect.New(typ).Elem()
		out.Set(rv)
		return out, true
	}

	switch s.ValueType {
	case TypeArray:
		return decodeArray(typ, s)
	case TypeDict:
		return decodeDict(typ, s)
	}

	if table.nameOf(typ) != s.ValueType {
		return reflect.Value{}, false
	}
	if isScalarKind(typ.Kind()) {
		return parseScalar(typ, s.ValueString)
	}

	ptr := reflect.New(typ)
	if err := json.Unmarshal([]byte(s.ValueString), ptr.Interface()); err != nil {
		return reflect.Value{}, false
	}
	return ptr.Elem(), true
}

// concrete unwraps interface values down to their dynamic value.
func concrete(rv reflect.Value) reflect.Value {
	for rv.IsValid() && rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func formatScalar(rv reflect.Value) (string, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.String:
		return rv.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), true
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), true
	}
	return "", false
}

func parseScalar(typ reflect.Type, text string) (reflect.Value, bool) {
	out := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return reflect.Value{}, false
		}
		out.SetBool(b)
	case reflect.String:
		out.SetString(text)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(text, 10, typ.Bits())
		if err != nil {
			return reflect.Value{}, false
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, typ.Bits())
		if err != nil {
			return reflect.Value{}, false
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, typ.Bits())
		if err != nil {
			return reflect.Value{}, false
		}
		out.SetFloat(f)
	default:
		return reflect.Value{}, false
	}
	return out, true
}
