package data

import (
	"fmt"

	"github.com/devrev/groove/internal/errors"
)

// Frame is a row-aligned bundle of vectors that share one key column
type Frame[K Key] struct {
	keys    []K
	order   []string
	vectors map[string]AnyVector
}

// AnyFrame is the type-erased view of a frame
type AnyFrame interface {
	KeyType() KeyType
	NumRows() int
	ColumnIDs() []string
	Vector(columnID string) (AnyVector, bool)
}

type (
	CategoryFrame = Frame[Category]
	DoubleFrame   = Frame[float64]
	Int64Frame    = Frame[int64]
)

// NewFrame creates a frame over sorted keys with no columns yet
func NewFrame[K Key](keys []K) (*Frame[K], error) {
	for i := range keys {
		if !IsValidKey(keys[i]) {
			return nil, errors.InvalidArgument(fmt.Sprintf("frame has an invalid key at row %d", i), nil)
		}
		if i > 0 && CompareKeys(keys[i-1], keys[i]) > 0 {
			return nil, errors.InvalidArgument(fmt.Sprintf("frame keys are not sorted at row %d", i), nil)
		}
	}
	return &Frame[K]{keys: keys, vectors: make(map[string]AnyVector)}, nil
}

// AddColumn attaches a value column to f. A nil fids slice marks every
// datum FidelityValid.
func AddColumn[K Key, V Value](f *Frame[K], columnID string, values []V, fids []Fidelity) error {
	if columnID == "" {
		return errors.InvalidArgument("frame column id cannot be empty", nil)
	}
	if _, exists := f.vectors[columnID]; exists {
		return errors.AlreadyExists("column", columnID)
	}
	vec, err := NewVector(columnID, f.keys, values, fids)
	if err != nil {
		return err
	}
	f.order = append(f.order, columnID)
	f.vectors[columnID] = vec
	return nil
}

// FrameColumn returns the typed vector for columnID
func FrameColumn[K Key, V Value](f *Frame[K], columnID string) (*Vector[K, V], error) {
	vec, ok := f.vectors[columnID]
	if !ok {
		return nil, errors.ColumnNotFound("", columnID)
	}
	typed, ok := vec.(*Vector[K, V])
	if !ok {
		return nil, errors.TypeMismatch("column "+columnID, ValueTypeOf[V]().String(), vec.ValueType().String())
	}
	return typed, nil
}

func (f *Frame[K]) KeyType() KeyType { return KeyTypeOf[K]() }

func (f *Frame[K]) NumRows() int { return len(f.keys) }

func (f *Frame[K]) Keys() []K { return f.keys }

// ColumnIDs lists columns in insertion order
func (f *Frame[K]) ColumnIDs() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func (f *Frame[K]) Vector(columnID string) (AnyVector, bool) {
	vec, ok := f.vectors[columnID]
	return vec, ok
}

// SmallestKey returns the first key, ok is false for an empty frame
func (f *Frame[K]) SmallestKey() (K, bool) {
	if len(f.keys) == 0 {
		var zero K
		return zero, false
	}
	return f.keys[0], true
}

// LargestKey returns the last key, ok is false for an empty frame
func (f *Frame[K]) LargestKey() (K, bool) {
	if len(f.keys) == 0 {
		var zero K
		return zero, false
	}
	return f.keys[len(f.keys)-1], true
}
