// Package types provides core data types for the Tabulon engine.
package types

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Type identifies the storage type of a column. The set is closed: every
// column in a schema carries exactly one of these for its whole lifetime.
type Type uint8

const (
	TypeInt Type = iota
	TypeFloat
	TypeString
	TypeBool
	TypeDate
	TypeBinary
	TypeLink
	TypeMixed
)

// String returns the lowercase name of the type.
func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeDate:
		return "date"
	case TypeBinary:
		return "binary"
	case TypeLink:
		return "link"
	case TypeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType parses a type name as produced by Type.String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return TypeInt, nil
	case "float", "real", "double":
		return TypeFloat, nil
	case "string", "text":
		return TypeString, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "date", "datetime":
		return TypeDate, nil
	case "binary", "blob":
		return TypeBinary, nil
	case "link":
		return TypeLink, nil
	case "mixed", "any":
		return TypeMixed, nil
	default:
		return 0, NewSchemaError(CodeTypeMismatch, fmt.Sprintf("unknown column type %q", s))
	}
}

// Canonical converts a Go value into its canonical storage representation
// and reports the value's Type. Integers widen to int64 and floats to
// float64 so that values of the same column compare without reflection.
func Canonical(v interface{}) (interface{}, Type, error) {
	switch x := v.(type) {
	case int:
		return int64(x), TypeInt, nil
	case int8:
		return int64(x), TypeInt, nil
	case int16:
		return int64(x), TypeInt, nil
	case int32:
		return int64(x), TypeInt, nil
	case int64:
		return x, TypeInt, nil
	case uint8:
		return int64(x), TypeInt, nil
	case uint16:
		return int64(x), TypeInt, nil
	case uint32:
		return int64(x), TypeInt, nil
	case float32:
		return float64(x), TypeFloat, nil
	case float64:
		return x, TypeFloat, nil
	case string:
		return x, TypeString, nil
	case bool:
		return x, TypeBool, nil
	case time.Time:
		return x, TypeDate, nil
	case []byte:
		return x, TypeBinary, nil
	case RowID:
		return x, TypeLink, nil
	default:
		return nil, 0, NewSchemaError(CodeTypeMismatch,
			fmt.Sprintf("unsupported value type %T", v))
	}
}

// AssignableTo reports whether a value of type vt can be stored in (or
// compared against) a column of type ct. Mixed columns accept any
// canonical value; an int literal is acceptable for a float column.
func AssignableTo(vt, ct Type) bool {
	if ct == TypeMixed {
		return true
	}
	if vt == ct {
		return true
	}
	return vt == TypeInt && ct == TypeFloat
}

// Compare orders two canonical values of the same column type. For mixed
// columns, values order first by Type and then by value within the type.
// The result is negative, zero, or positive in the usual way.
func Compare(a, b interface{}) int {
	_, at, _ := Canonical(a)
	_, bt, _ := Canonical(b)

	// Int and float compare numerically against each other. Two ints
	// compare exactly to avoid float rounding on large values.
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			default:
				return 0
			}
		}
	}
	an, aNum := asFloat(a)
	bn, bNum := asFloat(b)
	if aNum && bNum {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}

	if at != bt {
		return int(at) - int(bt)
	}

	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case time.Time:
		return x.Compare(b.(time.Time))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	case RowID:
		return x.Compare(b.(RowID))
	default:
		return 0
	}
}

// asFloat reports a numeric value as float64.
func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}
