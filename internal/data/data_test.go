package data

import (
	"math"
	"testing"

	"github.com/devrev/groove/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Vector(t *testing.T, keys ...int64) *Int64DoubleVector {
	t.Helper()
	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = float64(k) * 10
	}
	v, err := NewIndexedVector("col", keys, values, nil)
	require.NoError(t, err)
	return v
}

func TestCategoryOrdering(t *testing.T) {
	a := NewCategory("a")
	bc := NewCategory("b", "c")
	bde := NewCategory("b", "d", "e")
	b := NewCategory("b")

	assert.Equal(t, -1, a.Compare(bc))
	assert.Equal(t, -1, bc.Compare(bde))
	assert.Equal(t, -1, b.Compare(bc), "a prefix sorts before its children")
	assert.Equal(t, 0, bde.Compare(NewCategory("b", "d", "e")))
	assert.True(t, bde.HasPrefix(b))
	assert.False(t, a.HasPrefix(b))
	assert.Equal(t, "/b/d/e", bde.String())
	assert.Equal(t, bde, ParseCategory("/b/d/e"))
}

func TestCategoryFrameSmallestLargest(t *testing.T) {
	keys := []Category{NewCategory("a"), NewCategory("b", "c"), NewCategory("b", "d", "e")}
	frame, err := NewFrame(keys)
	require.NoError(t, err)
	require.NoError(t, AddColumn(frame, "temp", []float64{1, 2, 3}, nil))

	smallest, ok := frame.SmallestKey()
	require.True(t, ok)
	largest, ok := frame.LargestKey()
	require.True(t, ok)

	assert.Equal(t, NewCategory("a"), smallest)
	assert.Equal(t, NewCategory("b", "d", "e"), largest)
	assert.Equal(t, -1, CompareKeys(keys[1], keys[2]))

	vec, err := FrameColumn[Category, float64](frame, "temp")
	require.NoError(t, err)
	assert.Equal(t, 3, vec.Size())
	assert.Equal(t, KeyCategory, vec.KeyType())

	_, err = FrameColumn[Category, int64](frame, "temp")
	assert.Equal(t, errors.ErrCodeTypeMismatch, errors.GetCode(err))
	_, err = FrameColumn[Category, float64](frame, "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestFrameRejectsBadColumns(t *testing.T) {
	frame, err := NewFrame([]int64{1, 2})
	require.NoError(t, err)

	assert.Error(t, AddColumn(frame, "", []int64{1, 2}, nil))
	assert.Error(t, AddColumn(frame, "a", []int64{1}, nil))
	require.NoError(t, AddColumn(frame, "a", []int64{1, 2}, nil))
	assert.Equal(t, errors.ErrCodeAlreadyExists, errors.GetCode(AddColumn(frame, "a", []string{"x", "y"}, nil)))
	require.NoError(t, AddColumn(frame, "b", []string{"x", "y"}, []Fidelity{FidelityValid, FidelityMissing}))
	assert.Equal(t, []string{"a", "b"}, frame.ColumnIDs())

	_, err = NewFrame([]int64{2, 1})
	assert.Error(t, err)
}

func TestNewVectorValidation(t *testing.T) {
	tests := []struct {
		name    string
		keys    []float64
		values  []int64
		fids    []Fidelity
		indexed bool
		wantErr bool
	}{
		{"valid", []float64{-1, 0, 2.5}, []int64{1, 2, 3}, nil, true, false},
		{"length mismatch", []float64{1, 2}, []int64{1}, nil, false, true},
		{"fidelity mismatch", []float64{1, 2}, []int64{1, 2}, []Fidelity{FidelityValid}, false, true},
		{"unsorted", []float64{2, 1}, []int64{1, 2}, nil, false, true},
		{"nan key", []float64{math.NaN()}, []int64{1}, nil, false, true},
		{"unknown fidelity", []float64{1}, []int64{1}, []Fidelity{FidelityUnknown}, false, true},
		{"duplicates allowed when sorted", []float64{1, 1}, []int64{1, 2}, nil, false, false},
		{"duplicates rejected when indexed", []float64{1, 1}, []int64{1, 2}, nil, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.indexed {
				_, err = NewIndexedVector("c", tt.keys, tt.values, tt.fids)
			} else {
				_, err = NewVector("c", tt.keys, tt.values, tt.fids)
			}
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSliceOpenEndedRange(t *testing.T) {
	v := int64Vector(t, 0, 1, 2)
	sliced := v.Slice(Int64Range{Start: ptr(int64(1))})
	require.Equal(t, 2, sliced.Size())
	assert.Equal(t, []int64{1, 2}, sliced.Keys())
	assert.Equal(t, "col", sliced.ColumnID())
}

func TestSliceBounds(t *testing.T) {
	v := int64Vector(t, 0, 2, 4, 6, 8)

	tests := []struct {
		name string
		r    Int64Range
		want []int64
	}{
		{"all", All[int64](), []int64{0, 2, 4, 6, 8}},
		{"closed exact", Closed[int64](2, 6), []int64{2, 4, 6}},
		{"closed between", Closed[int64](1, 7), []int64{2, 4, 6}},
		{"half open", HalfOpen[int64](2, 6), []int64{2, 4}},
		{"exclusive start", Int64Range{Start: ptr(int64(2)), StartExclusive: true}, []int64{4, 6, 8}},
		{"until", Until[int64](3), []int64{0, 2}},
		{"exclusive end at first key", Int64Range{End: ptr(int64(0)), EndExclusive: true}, nil},
		{"exclusive end before first key", Int64Range{End: ptr(int64(-5)), EndExclusive: true}, nil},
		{"start past end", From[int64](9), nil},
		{"inverted", Closed[int64](6, 2), nil},
		{"gap", Closed[int64](5, 5), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Slice(tt.r)
			if tt.want == nil {
				assert.True(t, got.IsEmpty())
				return
			}
			assert.Equal(t, tt.want, got.Keys())
			for i := 0; i < got.Size(); i++ {
				assert.Equal(t, float64(got.Key(i))*10, got.Value(i))
			}
		})
	}
}

func TestSearchPrimitives(t *testing.T) {
	v := int64Vector(t, 10, 20, 30)

	assert.Equal(t, 1, Search(v, 20))
	assert.Equal(t, -1, Search(v, 25))

	idx, found := LowerBound(v, 20)
	assert.Equal(t, 1, idx)
	assert.True(t, found)
	idx, found = LowerBound(v, 35)
	assert.Equal(t, 3, idx)
	assert.False(t, found)

	idx, found = UpperBound(v, 20)
	assert.Equal(t, 2, idx)
	assert.True(t, found)
	idx, found = UpperBound(v, 5)
	assert.Equal(t, 0, idx)
	assert.False(t, found)

	assert.Equal(t, -1, FindEndIndex(v, Int64Range{End: ptr(int64(10)), EndExclusive: true}))
	assert.Equal(t, 0, FindEndIndex(v, Int64Range{End: ptr(int64(10))}))
	assert.Equal(t, -1, FindStartIndex(v, Int64Range{Start: ptr(int64(30)), StartExclusive: true}))
	assert.Equal(t, -1, FindStartIndex(EmptyVector[int64, float64]("x"), All[int64]()))
}

func TestRangeContains(t *testing.T) {
	r := Range[float64]{Start: ptr(-1.5), StartExclusive: true, End: ptr(2.0)}
	assert.False(t, r.Contains(-1.5))
	assert.True(t, r.Contains(0))
	assert.True(t, r.Contains(2))
	assert.False(t, r.Contains(2.5))
	assert.False(t, r.IsEmpty())
	assert.True(t, HalfOpen(1.0, 1.0).IsEmpty())
}

func TestConcatAndDatums(t *testing.T) {
	a := int64Vector(t, 1, 2)
	b := int64Vector(t, 5)
	joined := Concat("col", a, b)
	assert.Equal(t, []int64{1, 2, 5}, joined.Keys())

	datums := joined.Datums()
	require.Len(t, datums, 3)
	assert.Equal(t, Datum[int64, float64]{Key: 5, Value: 50, Fidelity: FidelityValid}, datums[2])

	rebuilt, err := FromDatums("col", datums)
	require.NoError(t, err)
	assert.Equal(t, joined.Keys(), rebuilt.Keys())

	smallest, ok := joined.Smallest()
	require.True(t, ok)
	assert.Equal(t, int64(1), smallest.Key)
	_, ok = EmptyVector[int64, float64]("x").Largest()
	assert.False(t, ok)
}

func TestTypeTags(t *testing.T) {
	assert.Equal(t, KeyCategory, KeyTypeOf[Category]())
	assert.Equal(t, KeyDouble, KeyTypeOf[float64]())
	assert.Equal(t, KeyInt64, KeyTypeOf[int64]())
	assert.Equal(t, ValueString, ValueTypeOf[string]())
	assert.Equal(t, "int64/double", (&Int64DoubleVector{}).VectorType().String())
}

func ptr[T any](v T) *T { return &v }
