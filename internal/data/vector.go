package data

import (
	"fmt"

	"github.com/devrev/groove/internal/errors"
)

// Vector is an immutable columnar run of (key, value, fidelity) triples for
// one column. Keys are sorted; for indexed collation they are also unique.
type Vector[K Key, V Value] struct {
	columnID string
	keys     []K
	values   []V
	fids     []Fidelity
}

// AnyVector is the type-erased view used where a single dispatch point over
// the nine vector kinds is unavoidable
type AnyVector interface {
	ColumnID() string
	KeyType() KeyType
	ValueType() ValueType
	VectorType() VectorType
	Size() int
	IsEmpty() bool
	Fidelities() []Fidelity
}

type (
	CategoryDoubleVector = Vector[Category, float64]
	CategoryInt64Vector  = Vector[Category, int64]
	CategoryStringVector = Vector[Category, string]
	DoubleDoubleVector   = Vector[float64, float64]
	DoubleInt64Vector    = Vector[float64, int64]
	DoubleStringVector   = Vector[float64, string]
	Int64DoubleVector    = Vector[int64, float64]
	Int64Int64Vector     = Vector[int64, int64]
	Int64StringVector    = Vector[int64, string]
)

// NewVector builds a vector from parallel slices. A nil fids slice marks
// every datum FidelityValid. Keys must be sorted (duplicates allowed).
func NewVector[K Key, V Value](columnID string, keys []K, values []V, fids []Fidelity) (*Vector[K, V], error) {
	if len(keys) != len(values) {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("column %s has %d keys but %d values", columnID, len(keys), len(values)), nil)
	}
	if fids == nil {
		fids = make([]Fidelity, len(keys))
		for i := range fids {
			fids[i] = FidelityValid
		}
	} else if len(fids) != len(keys) {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("column %s has %d keys but %d fidelities", columnID, len(keys), len(fids)), nil)
	}
	for i := range keys {
		if !IsValidKey(keys[i]) {
			return nil, errors.InvalidArgument(
				fmt.Sprintf("column %s has an invalid key at row %d", columnID, i), nil)
		}
		if i > 0 && CompareKeys(keys[i-1], keys[i]) > 0 {
			return nil, errors.InvalidArgument(
				fmt.Sprintf("column %s keys are not sorted at row %d", columnID, i), nil)
		}
	}
	for i, f := range fids {
		if !f.IsValid() {
			return nil, errors.InvalidArgument(
				fmt.Sprintf("column %s row %d has unstorable fidelity %s", columnID, i, f), nil)
		}
	}
	return newVectorUnchecked(columnID, keys, values, fids), nil
}

// NewIndexedVector is NewVector plus a uniqueness check on keys
func NewIndexedVector[K Key, V Value](columnID string, keys []K, values []V, fids []Fidelity) (*Vector[K, V], error) {
	v, err := NewVector(columnID, keys, values, fids)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(keys); i++ {
		if CompareKeys(keys[i-1], keys[i]) == 0 {
			return nil, errors.InvalidArgument(
				fmt.Sprintf("column %s has duplicate key at row %d", columnID, i), nil)
		}
	}
	return v, nil
}

// FromDatums builds a vector from a sorted datum slice
func FromDatums[K Key, V Value](columnID string, datums []Datum[K, V]) (*Vector[K, V], error) {
	keys := make([]K, len(datums))
	values := make([]V, len(datums))
	fids := make([]Fidelity, len(datums))
	for i, d := range datums {
		keys[i], values[i], fids[i] = d.Key, d.Value, d.Fidelity
	}
	return NewVector(columnID, keys, values, fids)
}

// EmptyVector returns a vector with no rows
func EmptyVector[K Key, V Value](columnID string) *Vector[K, V] {
	return newVectorUnchecked[K, V](columnID, nil, nil, nil)
}

func newVectorUnchecked[K Key, V Value](columnID string, keys []K, values []V, fids []Fidelity) *Vector[K, V] {
	return &Vector[K, V]{columnID: columnID, keys: keys, values: values, fids: fids}
}

func (v *Vector[K, V]) ColumnID() string { return v.columnID }

func (v *Vector[K, V]) KeyType() KeyType { return KeyTypeOf[K]() }

func (v *Vector[K, V]) ValueType() ValueType { return ValueTypeOf[V]() }

func (v *Vector[K, V]) VectorType() VectorType {
	return VectorType{Key: v.KeyType(), Value: v.ValueType()}
}

func (v *Vector[K, V]) Size() int { return len(v.keys) }

func (v *Vector[K, V]) IsEmpty() bool { return len(v.keys) == 0 }

// Key returns the key at row i
func (v *Vector[K, V]) Key(i int) K { return v.keys[i] }

// Value returns the value at row i
func (v *Vector[K, V]) Value(i int) V { return v.values[i] }

// Fidelity returns the fidelity at row i
func (v *Vector[K, V]) Fidelity(i int) Fidelity { return v.fids[i] }

// Datum returns row i as a triple
func (v *Vector[K, V]) Datum(i int) Datum[K, V] {
	return Datum[K, V]{Key: v.keys[i], Value: v.values[i], Fidelity: v.fids[i]}
}

// Keys exposes the key column; callers must not modify it
func (v *Vector[K, V]) Keys() []K { return v.keys }

// Values exposes the value column; callers must not modify it
func (v *Vector[K, V]) Values() []V { return v.values }

// Fidelities exposes the fidelity column; callers must not modify it
func (v *Vector[K, V]) Fidelities() []Fidelity { return v.fids }

// Datums copies the rows out as triples
func (v *Vector[K, V]) Datums() []Datum[K, V] {
	out := make([]Datum[K, V], v.Size())
	for i := range out {
		out[i] = v.Datum(i)
	}
	return out
}

// Smallest returns the first datum, ok is false when the vector is empty
func (v *Vector[K, V]) Smallest() (Datum[K, V], bool) {
	if v.IsEmpty() {
		return Datum[K, V]{}, false
	}
	return v.Datum(0), true
}

// Largest returns the last datum, ok is false when the vector is empty
func (v *Vector[K, V]) Largest() (Datum[K, V], bool) {
	if v.IsEmpty() {
		return Datum[K, V]{}, false
	}
	return v.Datum(v.Size() - 1), true
}

// Slice returns the rows whose key falls in r. A range that does not
// intersect the vector yields an empty vector, never an error.
func (v *Vector[K, V]) Slice(r Range[K]) *Vector[K, V] {
	start := FindStartIndex(v, r)
	end := FindEndIndex(v, r)
	if start < 0 || end < 0 || start > end {
		return EmptyVector[K, V](v.columnID)
	}
	return v.SliceRows(start, end+1)
}

// SliceRows returns rows [from, to) sharing the underlying storage
func (v *Vector[K, V]) SliceRows(from, to int) *Vector[K, V] {
	return newVectorUnchecked(v.columnID, v.keys[from:to:to], v.values[from:to:to], v.fids[from:to:to])
}

// WithColumnID returns the same rows under a different column id
func (v *Vector[K, V]) WithColumnID(columnID string) *Vector[K, V] {
	return newVectorUnchecked(columnID, v.keys, v.values, v.fids)
}

// Concat joins vectors of the same column in order. Inputs are assumed to
// be non-overlapping and already ordered.
func Concat[K Key, V Value](columnID string, vectors ...*Vector[K, V]) *Vector[K, V] {
	var n int
	for _, vec := range vectors {
		n += vec.Size()
	}
	keys := make([]K, 0, n)
	values := make([]V, 0, n)
	fids := make([]Fidelity, 0, n)
	for _, vec := range vectors {
		keys = append(keys, vec.keys...)
		values = append(values, vec.values...)
		fids = append(fids, vec.fids...)
	}
	return newVectorUnchecked(columnID, keys, values, fids)
}
