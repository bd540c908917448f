package schema

import (
	"fmt"
	"math"

	"github.com/devrev/groove/internal/data"
)

// FidelityPolicy restricts which fidelities a column accepts on write
type FidelityPolicy uint8

const (
	PolicyInvalid FidelityPolicy = iota
	// PolicyOnlyValidValue requires every row to be Valid
	PolicyOnlyValidValue
	// PolicyOnlyValidOrEmpty accepts Valid and NoData rows
	PolicyOnlyValidOrEmpty
	PolicyAnyFidelityAllowed
)

func (p FidelityPolicy) String() string {
	switch p {
	case PolicyOnlyValidValue:
		return "only-valid-value"
	case PolicyOnlyValidOrEmpty:
		return "only-valid-or-empty"
	case PolicyAnyFidelityAllowed:
		return "any-fidelity-allowed"
	default:
		return "invalid"
	}
}

// Allows reports whether a datum of fidelity f may be written
func (p FidelityPolicy) Allows(f data.Fidelity) bool {
	switch p {
	case PolicyOnlyValidValue:
		return f == data.FidelityValid
	case PolicyOnlyValidOrEmpty:
		return f == data.FidelityValid || f == data.FidelityNoData
	case PolicyAnyFidelityAllowed:
		return f.IsValid()
	default:
		return false
	}
}

// AttrKind is the type tag of an AttrValue
type AttrKind uint8

const (
	AttrNil AttrKind = iota
	AttrBool
	AttrInt64
	AttrFloat64
	AttrUInt64
	AttrUInt32
	AttrUInt16
	AttrUInt8
	AttrString
)

func (k AttrKind) String() string {
	switch k {
	case AttrNil:
		return "nil"
	case AttrBool:
		return "bool"
	case AttrInt64:
		return "int64"
	case AttrFloat64:
		return "float64"
	case AttrUInt64:
		return "uint64"
	case AttrUInt32:
		return "uint32"
	case AttrUInt16:
		return "uint16"
	case AttrUInt8:
		return "uint8"
	case AttrString:
		return "string"
	default:
		return fmt.Sprintf("AttrKind(%d)", uint8(k))
	}
}

// AttrValue is a tagged scalar attached to models and columns. Numeric
// kinds share the bits field.
type AttrValue struct {
	kind AttrKind
	bits uint64
	str  string
}

func NilValue() AttrValue { return AttrValue{kind: AttrNil} }

func BoolValue(b bool) AttrValue {
	v := AttrValue{kind: AttrBool}
	if b {
		v.bits = 1
	}
	return v
}

func Int64Value(i int64) AttrValue { return AttrValue{kind: AttrInt64, bits: uint64(i)} }
func Float64Value(f float64) AttrValue { return AttrValue{kind: AttrFloat64, bits: math.Float64bits(f)} }
func UInt64Value(u uint64) AttrValue { return AttrValue{kind: AttrUInt64, bits: u} }
func UInt32Value(u uint32) AttrValue { return AttrValue{kind: AttrUInt32, bits: uint64(u)} }
func UInt16Value(u uint16) AttrValue { return AttrValue{kind: AttrUInt16, bits: uint64(u)} }
func UInt8Value(u uint8) AttrValue { return AttrValue{kind: AttrUInt8, bits: uint64(u)} }
func StringValue(s string) AttrValue { return AttrValue{kind: AttrString, str: s} }

func (v AttrValue) Kind() AttrKind { return v.kind }
func (v AttrValue) Bool() bool { return v.bits != 0 }
func (v AttrValue) Int64() int64 { return int64(v.bits) }
func (v AttrValue) Float64() float64 { return math.Float64frombits(v.bits) }
func (v AttrValue) UInt64() uint64 { return v.bits }
func (v AttrValue) UInt32() uint32 { return uint32(v.bits) }
func (v AttrValue) UInt16() uint16 { return uint16(v.bits) }
func (v AttrValue) UInt8() uint8 { return uint8(v.bits) }
func (v AttrValue) StringValue() string { return v.str }

func (v AttrValue) String() string {
	switch v.kind {
	case AttrNil:
		return "nil"
	case AttrBool:
		return fmt.Sprint(v.Bool())
	case AttrInt64:
		return fmt.Sprint(v.Int64())
	case AttrFloat64:
		return fmt.Sprint(v.Float64())
	case AttrString:
		return fmt.Sprintf("%q", v.str)
	default:
		return fmt.Sprint(v.bits)
	}
}

func (v AttrValue) Equal(other AttrValue) bool {
	return v.kind == other.kind && v.bits == other.bits && v.str == other.str
}

// AttrID names an attribute by namespace URL and a namespace-defined type
type AttrID struct {
	Namespace string
	Type      uint32
}

func (id AttrID) String() string { return fmt.Sprintf("%s#%d", id.Namespace, id.Type) }
