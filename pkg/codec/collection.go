package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

func encodeArray(rv reflect.Value) (Section, error) {
	items := make([]Section, rv.Len())
	for i := range items {
		elem := concrete(rv.Index(i))
		if !elem.IsValid() {
			return Section{}, fmt.Errorf("%w: array[%d] is nil", ErrUnsupported, i)
		}
		item, err := encodeValue(elem)
		if err != nil {
			return Section{}, fmt.Errorf("array[%d]: %w", i, err)
		}
		items[i] = item
	}
	data, err := json.Marshal(items)
	if err != nil {
		return Section{}, fmt.Errorf("encode array: %w", err)
	}
	return Section{ValueString: string(data), ValueType: TypeArray}, nil
}

// encodeDict renders a map with its items sorted by encoded key so the
// same map always produces the same text.
func encodeDict(rv reflect.Value) (Section, error) {
	items := make([]DictItem, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := concrete(iter.Key())
		v := concrete(iter.Value())
		if !k.IsValid() || !v.IsValid() {
			return Section{}, fmt.Errorf("%w: dict holds a nil key or value", ErrUnsupported)
		}
		key, err := encodeValue(k)
		if err != nil {
			return Section{}, fmt.Errorf("dict key: %w", err)
		}
		value, err := encodeValue(v)
		if err != nil {
			return Section{}, fmt.Errorf("dict[%s]: %w", key.ValueString, err)
		}
		items = append(items, DictItem{Key: key, Value: value})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Key.ValueType != items[j].Key.ValueType {
			return items[i].Key.ValueType < items[j].Key.ValueType
		}
		return items[i].Key.ValueString < items[j].Key.ValueString
	})

	data, err := json.Marshal(items)
	if err != nil {
		return Section{}, fmt.Errorf("encode dict: %w", err)
	}
	return Section{ValueString: string(data), ValueType: TypeDict}, nil
}

func decodeArray(typ reflect.Type, s Section) (reflect.Value, bool) {
	if typ.Kind() != reflect.Slice && typ.Kind() != reflect.Array {
		return reflect.Value{}, false
	}
	var items []Section
	if err := json.Unmarshal([]byte(s.ValueString), &items); err != nil {
		return reflect.Value{}, false
	}

	var out reflect.Value
	if typ.Kind() == reflect.Array {
		if typ.Len() != len(items) {
			return reflect.Value{}, false
		}
		out = reflect.New(typ).Elem()
	} else {
		out = reflect.MakeSlice(typ, len(items), len(items))
	}
	for i, item := range items {
		elem, ok := decodeInto(typ.Elem(), item)
		if !ok {
			return reflect.Value{}, false
		}
		out.Index(i).Set(elem)
	}
	return out, true
}

func decodeDict(typ reflect.Type, s Section) (reflect.Value, bool) {
	if typ.Kind() != reflect.Map {
		return reflect.Value{}, false
	}
	var items []DictItem
	if err := json.Unmarshal([]byte(s.ValueString), &items); err != nil {
		return reflect.Value{}, false
	}

	out := reflect.MakeMapWithSize(typ, len(items))
	for _, item := range items {
		k, ok := decodeInto(typ.Key(), item.Key)
		if !ok || !isComparable(k) {
			return reflect.Value{}, false
		}
		v, ok := decodeInto(typ.Elem(), item.Value)
		if !ok {
			return reflect.Value{}, false
		}
		out.SetMapIndex(k, v)
	}
	return out, true
}

func isComparable(v reflect.Value) bool {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return false
		}
		return v.Elem().Type().Comparable()
	}
	return v.Type().Comparable()
}
