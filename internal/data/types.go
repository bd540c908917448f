package data

import (
	"fmt"
	"math"
)

// KeyType identifies the key column type of a vector or frame
type KeyType uint8

const (
	KeyUnknown KeyType = iota
	KeyCategory
	KeyDouble
	KeyInt64
)

func (k KeyType) String() string {
	switch k {
	case KeyCategory:
		return "category"
	case KeyDouble:
		return "double"
	case KeyInt64:
		return "int64"
	default:
		return "unknown"
	}
}

// ValueType identifies the value column type of a vector
type ValueType uint8

const (
	ValueUnknown ValueType = iota
	ValueDouble
	ValueInt64
	ValueString
)

func (v ValueType) String() string {
	switch v {
	case ValueDouble:
		return "double"
	case ValueInt64:
		return "int64"
	case ValueString:
		return "string"
	default:
		return "unknown"
	}
}

// Collation describes how the keys of a column are ordered on disk
type Collation uint8

const (
	CollationUnknown Collation = iota
	// CollationSorted keys are ordered but may repeat
	CollationSorted
	// CollationIndexed keys are ordered and unique
	CollationIndexed
)

func (c Collation) String() string {
	switch c {
	case CollationSorted:
		return "sorted"
	case CollationIndexed:
		return "indexed"
	default:
		return "unknown"
	}
}

// Fidelity annotates a datum independently of its value
type Fidelity uint8

const (
	// FidelityUnknown is never stored; reads of uncovered keys report it
	FidelityUnknown Fidelity = iota
	// FidelityNoData means no value will ever exist for the key
	FidelityNoData
	// FidelityValid means the value is final and exact
	FidelityValid
	// FidelityApproximate means the value is final but not exact
	FidelityApproximate
	// FidelityMissing means the value may be determined later
	FidelityMissing
	// FidelityInvalid means the value exists but is not representable
	FidelityInvalid
)

func (f Fidelity) String() string {
	switch f {
	case FidelityNoData:
		return "nodata"
	case FidelityValid:
		return "valid"
	case FidelityApproximate:
		return "approximate"
	case FidelityMissing:
		return "missing"
	case FidelityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// IsValid reports whether f is one of the storable fidelity states
func (f Fidelity) IsValid() bool {
	return f >= FidelityNoData && f <= FidelityInvalid
}

// VectorType names one of the nine key/value combinations
type VectorType struct {
	Key   KeyType
	Value ValueType
}

func (t VectorType) String() string {
	return fmt.Sprintf("%s/%s", t.Key, t.Value)
}

// Key is the closed set of key types
type Key interface {
	Category | float64 | int64
}

// Value is the closed set of value types
type Value interface {
	float64 | int64 | string
}

// KeyTypeOf returns the tag for the key type parameter K
func KeyTypeOf[K Key]() KeyType {
	var zero K
	switch any(zero).(type) {
	case Category:
		return KeyCategory
	case float64:
		return KeyDouble
	case int64:
		return KeyInt64
	}
	return KeyUnknown
}

// ValueTypeOf returns the tag for the value type parameter V
func ValueTypeOf[V Value]() ValueType {
	var zero V
	switch any(zero).(type) {
	case float64:
		return ValueDouble
	case int64:
		return ValueInt64
	case string:
		return ValueString
	}
	return ValueUnknown
}

// CompareKeys orders two keys of the same type
func CompareKeys[K Key](a, b K) int {
	switch x := any(a).(type) {
	case Category:
		return x.Compare(any(b).(Category))
	case float64:
		y := any(b).(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case int64:
		y := any(b).(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	panic("unreachable key type")
}

// IsValidKey rejects keys that have no place in a total order (NaN)
func IsValidKey[K Key](k K) bool {
	if f, ok := any(k).(float64); ok {
		return !math.IsNaN(f)
	}
	return true
}

// Datum is one (key, value, fidelity) triple
type Datum[K Key, V Value] struct {
	Key      K
	Value    V
	Fidelity Fidelity
}
