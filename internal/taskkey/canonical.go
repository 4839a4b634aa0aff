package taskkey

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/taskgrid/internal/taskerr"
)

// RefEncoder substitutes graph references (futures) found inside task
// arguments with a plain-data canonical form, typically built around the key
// of the node the reference points to. It reports ok=false for values that
// are not references.
type RefEncoder func(v any) (norm any, ok bool, err error)

// Canonicalize derives the Key for a task instance from its registered type
// name and constructor arguments.
//
// Normal form (one canonical encoding per semantic container type):
//   - every ordered sequence encodes as a single array; the argument vector
//     itself is one array, so there is no separate fixed-arity tuple form
//   - maps encode with all keys coerced to strings; only string and integer
//     keys are accepted
//   - all numeric types normalize through cty.Number
//
// Arguments that are neither primitives, containers of the above, nor graph
// references fail with *taskerr.InvalidArgumentError.
func Canonicalize(typeName string, args []any, resolve RefEncoder) (Key, error) {
	norm := make([]any, len(args))
	for i, a := range args {
		na, err := normalize(typeName, a, resolve)
		if err != nil {
			return Key{}, err
		}
		norm[i] = na
	}
	data, err := encMode.Marshal(norm)
	if err != nil {
		return Key{}, &taskerr.InvalidArgumentError{TaskType: typeName, Reason: "arguments are not canonically encodable", Err: err}
	}
	return Key{Type: typeName, Canon: string(data)}, nil
}

func normalize(typeName string, v any, resolve RefEncoder) (any, error) {
	if v == nil {
		return nil, nil
	}

	if resolve != nil {
		sub, ok, err := resolve(v)
		if err != nil {
			return nil, err
		}
		if ok {
			return normalize(typeName, sub, resolve)
		}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := normalize(typeName, rv.Index(i).Interface(), resolve)
			if err != nil {
				return nil, err
			}
			out[i] = elem
		}
		return out, nil

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ks, err := mapKeyString(typeName, iter.Key())
			if err != nil {
				return nil, err
			}
			elem, err := normalize(typeName, iter.Value().Interface(), resolve)
			if err != nil {
				return nil, err
			}
			out[ks] = elem
		}
		return out, nil

	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(typeName, rv.Elem().Interface(), resolve)
	}

	return normalizePrimitive(typeName, v)
}

// normalizePrimitive funnels scalar values through the cty type system so
// structurally equal values of different Go types (int vs int64 vs float64)
// collide to the same canonical form.
func normalizePrimitive(typeName string, v any) (any, error) {
	ty, err := gocty.ImpliedType(v)
	if err != nil {
		return nil, &taskerr.InvalidArgumentError{TaskType: typeName, Reason: fmt.Sprintf("unsupported argument type %T", v), Err: err}
	}
	val, err := gocty.ToCtyValue(v, ty)
	if err != nil {
		return nil, &taskerr.InvalidArgumentError{TaskType: typeName, Reason: fmt.Sprintf("cannot convert argument of type %T", v), Err: err}
	}
	out, err := ctyValueToInterface(val)
	if err != nil {
		return nil, &taskerr.InvalidArgumentError{TaskType: typeName, Reason: "argument is not canonically encodable", Err: err}
	}
	return out, nil
}

// mapKeyString coerces a map key to its canonical string form. Only string
// and integer keys are allowed.
func mapKeyString(typeName string, k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10), nil
	case reflect.Interface:
		return mapKeyString(typeName, k.Elem())
	}
	return "", &taskerr.InvalidArgumentError{TaskType: typeName, Reason: fmt.Sprintf("map key of type %s is not a string or integer", k.Type())}
}

// ctyValueToInterface converts a cty.Value back into a plain Go value.
func ctyValueToInterface(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	if val.Type().IsPrimitiveType() {
		switch val.Type() {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", val.Type().FriendlyName())
		}
	}
	if val.Type().IsObjectType() || val.Type().IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			elem, err := ctyValueToInterface(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = elem
		}
		return out, nil
	}
	if val.Type().IsTupleType() || val.Type().IsListType() || val.Type().IsSetType() {
		var out []any
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			elem, err := ctyValueToInterface(v)
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", val.Type().FriendlyName())
}
