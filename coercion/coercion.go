// Package coercion converts loosely typed pipeline output into the type a
// caller asked for. Conversion is best effort and never raises: failure is a
// boolean, and the executor falls back to writing the raw value to the host
// default sink.
package coercion

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dnielsn/go-pssession/objects"
)

// Discard is the marker target for invocations whose results do not matter.
// Every value coerces to it, so nothing is diverted to the host sink.
type Discard struct{}

var discardType = reflect.TypeFor[Discard]()

// As coerces value to T.
func As[T any](value any) (T, bool) {
	var zero T
	out, ok := Coerce(value, reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	if out == nil {
		// Typed zero for reference-kind targets.
		return zero, true
	}
	t, ok := out.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// Coerce attempts to shape value into target. The rules apply in order:
//
//  1. the Discard marker target accepts anything
//  2. a nil value fits only reference-kind targets, as the typed zero
//  3. a value already assignable to the target is returned as-is
//  4. a boxed *objects.Object is unwrapped once and retried from rule 3
//  5. a Go conversion to the target type is attempted
//  6. the value's string form is parsed into string, bool, and numeric targets
//  7. otherwise the coercion fails
func Coerce(value any, target reflect.Type) (any, bool) {
	if target == nil {
		return nil, false
	}
	if target == discardType {
		return Discard{}, true
	}
	if value == nil {
		if isReferenceKind(target.Kind()) {
			return reflect.Zero(target).Interface(), true
		}
		return nil, false
	}
	return coerce(reflect.ValueOf(value), target, true)
}

func coerce(v reflect.Value, target reflect.Type, allowUnwrap bool) (any, bool) {
	if v.Type().AssignableTo(target) {
		return v.Interface(), true
	}

	if allowUnwrap {
		if obj, ok := v.Interface().(*objects.Object); ok {
			inner := obj.Value
			if inner == nil {
				inner = obj.String()
			}
			return coerce(reflect.ValueOf(inner), target, false)
		}
	}

	if convertible(v.Type(), target) {
		return v.Convert(target).Interface(), true
	}

	return fromString(Stringify(v.Interface()), target)
}

// convertible reports whether a Go conversion produces a sensible value.
// Integer to string is excluded: Go converts the code point, not the decimal
// rendering, so 42 would come back as "*".
func convertible(src, dst reflect.Type) bool {
	if !src.ConvertibleTo(dst) {
		return false
	}
	if dst.Kind() == reflect.String {
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return false
		}
	}
	return true
}

func fromString(s string, target reflect.Type) (any, bool) {
	out := reflect.New(target).Elem()
	switch target.Kind() {
	case reflect.String:
		out.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, false
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, target.Bits())
		if err != nil {
			return nil, false
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(strings.TrimSpace(s), 10, target.Bits())
		if err != nil {
			return nil, false
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), target.Bits())
		if err != nil {
			return nil, false
		}
		out.SetFloat(f)
	default:
		return nil, false
	}
	return out.Interface(), true
}

func isReferenceKind(k reflect.Kind) bool {
	switch k {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice,
		reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	}
	return false
}

// Stringify renders a value the way the host sinks display it.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *objects.Object:
		return t.String()
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return fmt.Sprintf("%v", v)
	}
}
