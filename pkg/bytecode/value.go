package bytecode

import (
	"fmt"
	"strconv"
)

// ValueType tags the dynamic type of a Value.
type ValueType uint8

const (
	ValNull   ValueType = 0
	ValBool   ValueType = 1
	ValNumber ValueType = 2
)

// String returns a human-readable name for ValueType.
func (t ValueType) String() string {
	switch t {
	case ValNull:
		return "null"
	case ValBool:
		return "bool"
	case ValNumber:
		return "number"
	default:
		return fmt.Sprintf("ValueType(%d)", t)
	}
}

// Value is a dynamically typed script value. Values are small and copied
// freely; the zero Value is null.
type Value struct {
	typ ValueType
	b   bool
	n   float64
}

// NullValue returns the null value.
func NullValue() Value { return Value{} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{typ: ValBool, b: b} }

// NumberValue wraps a number.
func NumberValue(n float64) Value { return Value{typ: ValNumber, n: n} }

func (v Value) Type() ValueType { return v.typ }
func (v Value) IsNull() bool    { return v.typ == ValNull }
func (v Value) IsBool() bool    { return v.typ == ValBool }
func (v Value) IsNumber() bool  { return v.typ == ValNumber }

// AsBool returns the boolean payload. Only meaningful if IsBool.
func (v Value) AsBool() bool { return v.b }

// AsNumber returns the numeric payload. Only meaningful if IsNumber.
func (v Value) AsNumber() float64 { return v.n }

// Equal reports whether v and o have the same type and payload.
// Numbers compare with IEEE semantics, so NaN is not equal to itself.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case ValNull:
		return true
	case ValBool:
		return v.b == o.b
	case ValNumber:
		return v.n == o.n
	default:
		return false
	}
}

// String renders the value the way the REPL prints it.
func (v Value) String() string {
	switch v.typ {
	case ValNull:
		return "null"
	case ValBool:
		if v.b {
			return "true"
		}
		return "false"
	case ValNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	default:
		return fmt.Sprintf("<invalid %d>", v.typ)
	}
}
