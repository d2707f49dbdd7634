package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type level int

type unregistered struct {
	Name string
}

func init() {
	MustRegister[vec2]("codec.test.vec2")
}

func TestEncodeDecode_Scalars(t *testing.T) {
	t.Run("int", func(t *testing.T) {
		s, err := Encode(42)
		require.NoError(t, err)
		assert.Equal(t, Section{ValueString: "42", ValueType: "int"}, s)
		got, ok := Decode[int](s)
		require.True(t, ok)
		assert.Equal(t, 42, got)
	})

	t.Run("negative int64", func(t *testing.T) {
		s, err := Encode(int64(-7))
		require.NoError(t, err)
		got, ok := Decode[int64](s)
		require.True(t, ok)
		assert.Equal(t, int64(-7), got)
	})

	t.Run("uint8", func(t *testing.T) {
		s, err := Encode(uint8(255))
		require.NoError(t, err)
		got, ok := Decode[uint8](s)
		require.True(t, ok)
		assert.Equal(t, uint8(255), got)
	})

	t.Run("float64 keeps precision", func(t *testing.T) {
		s, err := Encode(0.1)
		require.NoError(t, err)
		assert.Equal(t, "0.1", s.ValueString)
		got, ok := Decode[float64](s)
		require.True(t, ok)
		assert.Equal(t, 0.1, got)
	})

	t.Run("float32", func(t *testing.T) {
		s, err := Encode(float32(0.1))
		require.NoError(t, err)
		got, ok := Decode[float32](s)
		require.True(t, ok)
		assert.Equal(t, float32(0.1), got)
	})

	t.Run("bool", func(t *testing.T) {
		s, err := Encode(true)
		require.NoError(t, err)
		assert.Equal(t, "true", s.ValueString)
		got, ok := Decode[bool](s)
		require.True(t, ok)
		assert.True(t, got)
	})

	t.Run("string is stored verbatim", func(t *testing.T) {
		s, err := Encode("hello, \"world\"")
		require.NoError(t, err)
		assert.Equal(t, "hello, \"world\"", s.ValueString)
		assert.Equal(t, "string", s.ValueType)
	})

	t.Run("named scalar uses Go type string", func(t *testing.T) {
		s, err := Encode(level(3))
		require.NoError(t, err)
		assert.Equal(t, "codec.level", s.ValueType)
		got, ok := Decode[level](s)
		require.True(t, ok)
		assert.Equal(t, level(3), got)
	})
}

func TestDecode_TypeMismatchIsNotFound(t *testing.T) {
	s, err := Encode(5)
	require.NoError(t, err)

	_, ok := Decode[string](s)
	assert.False(t, ok)
	_, ok = Decode[int64](s)
	assert.False(t, ok, "int and int64 are distinct type names")
	_, ok = Decode[level](s)
	assert.False(t, ok)
}

func TestDecode_MalformedText(t *testing.T) {
	_, ok := Decode[int](Section{ValueString: "forty", ValueType: "int"})
	assert.False(t, ok)

	_, ok = Decode[vec2](Section{ValueString: "{not json", ValueType: "codec.test.vec2"})
	assert.False(t, ok)
}

func TestEncodeDecode_Struct(t *testing.T) {
	s, err := Encode(vec2{X: 1, Y: 2.5})
	require.NoError(t, err)
	assert.Equal(t, "codec.test.vec2", s.ValueType)
	assert.JSONEq(t, `{"x":1,"y":2.5}`, s.ValueString)

	got, ok := Decode[vec2](s)
	require.True(t, ok)
	assert.Equal(t, vec2{X: 1, Y: 2.5}, got)
}

func TestDecodeAny(t *testing.T) {
	t.Run("registered struct", func(t *testing.T) {
		s, err := Encode(vec2{X: 3})
		require.NoError(t, err)
		v, err := DecodeAny(s)
		require.NoError(t, err)
		assert.Equal(t, vec2{X: 3}, v)
	})

	t.Run("unknown type name", func(t *testing.T) {
		_, err := DecodeAny(Section{ValueString: "{}", ValueType: "gone.Type"})
		require.ErrorIs(t, err, ErrUnknownType)

		_, ok := Decode[any](Section{ValueString: "{}", ValueType: "gone.Type"})
		assert.False(t, ok)
	})

	t.Run("unregistered struct cannot decode without static type", func(t *testing.T) {
		s, err := Encode(unregistered{Name: "x"})
		require.NoError(t, err)
		assert.Equal(t, "codec.unregistered", s.ValueType)

		_, err = DecodeAny(s)
		require.ErrorIs(t, err, ErrUnknownType)

		got, ok := Decode[unregistered](s)
		require.True(t, ok)
		assert.Equal(t, "x", got.Name)
	})
}

func TestEncodeDecode_Array(t *testing.T) {
	s, err := Encode([]int{3, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, TypeArray, s.ValueType)

	got, ok := Decode[[]int](s)
	require.True(t, ok)
	assert.Equal(t, []int{3, 1, 2}, got)

	_, ok = Decode[[]string](s)
	assert.False(t, ok, "element type names must match")

	_, ok = Decode[int](s)
	assert.False(t, ok)
}

func TestEncodeDecode_HeterogeneousArray(t *testing.T) {
	in := []any{1, "a", vec2{X: 1, Y: 2}, true}
	s, err := Encode(in)
	require.NoError(t, err)

	got, ok := Decode[[]any](s)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestEncodeDecode_Dict(t *testing.T) {
	in := map[string]int{"b": 2, "a": 1, "c": 3}
	s1, err := Encode(in)
	require.NoError(t, err)
	s2, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, s1, s2, "dict encoding must be deterministic")
	assert.Equal(t, TypeDict, s1.ValueType)

	got, ok := Decode[map[string]int](s1)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestEncodeDecode_DictOfInterfaces(t *testing.T) {
	in := map[string]any{"pos": vec2{X: 1}, "hp": 10, "name": "bob"}
	s, err := Encode(in)
	require.NoError(t, err)

	got, ok := Decode[map[string]any](s)
	require.True(t, ok)
	assert.Equal(t, in, got)

	v, err := DecodeAny(s)
	require.NoError(t, err)
	assert.Equal(t, map[any]any{"pos": vec2{X: 1}, "hp": 10, "name": "bob"}, v)
}

func TestEncodeDecode_DictWithUnknownElementFails(t *testing.T) {
	s := Section{
		ValueType:   TypeDict,
		ValueString: `[{"key":{"value_string":"k","value_type":"string"},"value":{"value_string":"{}","value_type":"gone.Type"}}]`,
	}
	_, ok := Decode[map[string]any](s)
	assert.False(t, ok)
}

func TestEncode_Unsupported(t *testing.T) {
	_, err := Encode[any](nil)
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = Encode(make(chan int))
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = Encode([]any{1, nil})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestEncode_InvalidText(t *testing.T) {
	type note struct {
		Title string
		Tags  map[string]int
	}
	tests := []struct {
		name   string
		encode func() error
	}{
		{"string", func() error { _, err := Encode("a\xffb"); return err }},
		{"list member", func() error { _, err := Encode([]string{"ok", "\xc3"}); return err }},
		{"dict key", func() error { _, err := Encode(map[string]int{"\xff": 1}); return err }},
		{"struct field", func() error { _, err := Encode(note{Title: "\xfe"}); return err }},
		{"struct map key", func() error { _, err := Encode(&note{Tags: map[string]int{"\xff": 1}}); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.encode(), ErrInvalidText)
		})
	}

	_, err := Encode(note{Title: "caf\u00e9", Tags: map[string]int{"\u2028": 1}})
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	require.NoError(t, Register[vec2]("codec.test.vec2"), "same pair is idempotent")

	err := Register[vec2]("codec.test.other")
	require.ErrorIs(t, err, ErrConflictingRegistration)

	err = Register[level]("codec.test.vec2")
	require.ErrorIs(t, err, ErrConflictingRegistration)

	require.ErrorIs(t, Register[level](""), ErrEmptyName)
	require.ErrorIs(t, Register[level](TypeArray), ErrReservedName)

	assert.True(t, Known("codec.test.vec2"))
	assert.True(t, Known("int"))
	assert.True(t, Known(TypeDict))
	assert.False(t, Known("codec.level"))
	assert.Contains(t, Names(), "codec.test.vec2")
}
