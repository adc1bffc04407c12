package bridge

import (
	"encoding"
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	timeType          = reflect.TypeOf(time.Time{})
	rawMessageType    = reflect.TypeOf(json.RawMessage(nil))
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Normalize rebuilds v into a graph that can cross the plugin boundary:
// booleans, numbers, strings, []byte, time.Time, []any and map[string]any.
//
// Pointers and interfaces are dereferenced; funcs, channels, unsafe pointers
// and complex numbers are dropped, as are map entries, struct fields and slice
// elements holding them. Structs become objects keyed by their json names.
// Text marshalers are replaced by their text. A reference seen twice reuses
// the first normalized result. A reference that leads back to one of its own
// ancestors is cut to nil so the result is always finite; whatever that branch
// held is lost, so callers needing the data must break the cycle themselves.
func Normalize(v any) any {
	n := &normalizer{
		done:   make(map[refKey]any),
		active: make(map[refKey]bool),
	}
	out, keep := n.value(reflect.ValueOf(v))
	if !keep {
		return nil
	}
	return out
}

type refKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type normalizer struct {
	done   map[refKey]any
	active map[refKey]bool
}

// enter reports a previously normalized result for key, or marks key active.
// cut is true when key is already on the current path.
func (n *normalizer) enter(key refKey) (prev any, found, cut bool) {
	if n.active[key] {
		return nil, false, true
	}
	if prev, ok := n.done[key]; ok {
		return prev, true, false
	}
	n.active[key] = true
	return nil, false, false
}

func (n *normalizer) leave(key refKey, result any) {
	delete(n.active, key)
	n.done[key] = result
}

func (n *normalizer) value(v reflect.Value) (any, bool) {
	if !v.IsValid() {
		return nil, true
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, true
		}
		return n.value(v.Elem())
	}

	switch {
	case v.Type() == timeType && v.CanInterface():
		return v.Interface(), true
	case v.Type() == rawMessageType:
		if v.IsNil() {
			return nil, true
		}
		var decoded any
		if err := json.Unmarshal(v.Bytes(), &decoded); err != nil {
			return nil, false
		}
		return n.value(reflect.ValueOf(decoded))
	case v.Type().Implements(textMarshalerType) && v.CanInterface():
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil, true
		}
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, false
		}
		return string(text), true
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, false
	case reflect.Bool:
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.String:
		return v.String(), true
	case reflect.Pointer:
		if v.IsNil() {
			return nil, true
		}
		key := refKey{ptr: v.Pointer(), typ: v.Type()}
		prev, found, cut := n.enter(key)
		if cut {
			return nil, true
		}
		if found {
			return prev, true
		}
		out, keep := n.value(v.Elem())
		if !keep {
			out = nil
		}
		n.leave(key, out)
		return out, keep
	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte(nil), v.Bytes()...), true
		}
		key := refKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		prev, found, cut := n.enter(key)
		if cut {
			return nil, true
		}
		if found {
			return prev, true
		}
		out := n.list(v)
		n.leave(key, out)
		return out, true
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(buf), v)
			return buf, true
		}
		return n.list(v), true
	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		key := refKey{ptr: v.Pointer(), typ: v.Type()}
		prev, found, cut := n.enter(key)
		if cut {
			return nil, true
		}
		if found {
			return prev, true
		}
		out := n.mapValue(v)
		n.leave(key, out)
		return out, true
	case reflect.Struct:
		out := make(map[string]any)
		n.structFields(v, out)
		return out, true
	}
	return nil, false
}

func (n *normalizer) list(v reflect.Value) []any {
	out := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		elem, keep := n.value(v.Index(i))
		if !keep {
			continue
		}
		out = append(out, elem)
	}
	return out
}

func (n *normalizer) mapValue(v reflect.Value) map[string]any {
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, ok := mapKeyString(iter.Key())
		if !ok {
			continue
		}
		elem, keep := n.value(iter.Value())
		if !keep {
			continue
		}
		out[key] = elem
	}
	return out
}

func mapKeyString(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "", false
		}
		k = k.Elem()
	}
	if k.Type().Implements(textMarshalerType) && k.CanInterface() {
		text, err := k.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", false
		}
		return string(text), true
	}
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	case reflect.Bool:
		return strconv.FormatBool(k.Bool()), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(k.Float(), 'g', -1, 64), true
	}
	return "", false
}

func (n *normalizer) structFields(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, omitEmpty, skip := jsonFieldName(field)
		if skip {
			continue
		}
		fv := v.Field(i)

		// Untagged embedded structs are flattened like encoding/json does.
		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				n.structFields(fv, out)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		elem, keep := n.value(fv)
		if !keep {
			continue
		}
		out[name] = elem
	}
}

func jsonFieldName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag, ok := field.Tag.Lookup("json")
	if !ok {
		return "", false, false
	}
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty, false
}
