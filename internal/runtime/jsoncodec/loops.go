package jsoncodec

import (
	"encoding"
	"encoding/json"
	"reflect"
	"unsafe"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// marshalIgnoringLoops encodes v like Marshal, except that a pointer, map or
// slice that refers back to one of its own ancestors is written as its zero
// value (null) instead of recursing forever. Shared references that do not
// form a cycle are encoded in full at every occurrence.
func marshalIgnoringLoops(v any) ([]byte, error) {
	if v == nil {
		return api.Marshal(nil)
	}
	c := &loopCutter{onPath: make(map[loopKey]struct{})}
	return api.Marshal(c.copy(reflect.ValueOf(v)).Interface())
}

type loopKey struct {
	ptr uintptr
	typ reflect.Type
}

type loopCutter struct {
	onPath map[loopKey]struct{}
}

func (c *loopCutter) enter(v reflect.Value) (loopKey, bool) {
	key := loopKey{ptr: v.Pointer(), typ: v.Type()}
	if _, seen := c.onPath[key]; seen {
		return key, false
	}
	c.onPath[key] = struct{}{}
	return key, true
}

func (c *loopCutter) leave(key loopKey) {
	delete(c.onPath, key)
}

// copy returns a value of the same type as v with every cycle cut.
func (c *loopCutter) copy(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	t := v.Type()
	if t.Kind() != reflect.Interface && (t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)) {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key, ok := c.enter(v)
		if !ok {
			return reflect.Zero(t)
		}
		defer c.leave(key)
		out := reflect.New(t.Elem())
		out.Elem().Set(c.copy(v.Elem()))
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(t).Elem()
		out.Set(c.copy(v.Elem()))
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		key, ok := c.enter(v)
		if !ok {
			return reflect.Zero(t)
		}
		defer c.leave(key)
		out := reflect.MakeMapWithSize(t, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), c.copy(iter.Value()))
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		if t.Elem().Kind() == reflect.Uint8 {
			return v
		}
		key, ok := c.enter(v)
		if !ok {
			return reflect.Zero(t)
		}
		defer c.leave(key)
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out

	case reflect.Array:
		out := reflect.New(t).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(c.copy(v.Index(i)))
		}
		return out

	case reflect.Struct:
		// src is addressable so embedded unexported fields can be read.
		src := reflect.New(t).Elem()
		src.Set(v)
		out := reflect.New(t).Elem()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			switch {
			case field.IsExported():
				out.Field(i).Set(c.copy(src.Field(i)))
			case field.Anonymous:
				// encoding promotes the exported fields of an embedded
				// unexported struct, so they have to survive the copy.
				from := reflect.NewAt(field.Type, unsafe.Pointer(src.Field(i).UnsafeAddr())).Elem()
				to := reflect.NewAt(field.Type, unsafe.Pointer(out.Field(i).UnsafeAddr())).Elem()
				to.Set(c.copy(from))
			}
		}
		return out

	default:
		return v
	}
}
