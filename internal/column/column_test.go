package column

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testRef = Ref{DatasetURL: "dev.groove://test/column", ModelID: "weather", ColumnID: "temp"}

func newWriter(st store.PageStore, maxPageRows int) *IndexedColumnWriter[int64, float64] {
	return NewIndexedColumnWriter[int64, float64](st, testRef, config.ColumnConfig{MaxPageRows: maxPageRows}, zap.NewNop(), nil)
}

func vector(t *testing.T, keys []int64, values []float64) *data.Int64DoubleVector {
	t.Helper()
	v, err := data.NewIndexedVector(testRef.ColumnID, keys, values, nil)
	require.NoError(t, err)
	return v
}

func collect(t *testing.T, c *IndexedColumn[int64, float64], r data.Int64Range) ([]int64, []float64) {
	t.Helper()
	it, err := c.GetValues(r)
	require.NoError(t, err)
	var keys []int64
	var values []float64
	for it.Next() {
		keys = append(keys, it.Key())
		values = append(values, it.Value())
	}
	return keys, values
}

func TestMergeWriteScenario(t *testing.T) {
	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry("test", reg)
	w := NewIndexedColumnWriter[int64, float64](st, testRef, config.ColumnConfig{}, zap.NewNop(), m)

	require.NoError(t, w.SetValues(vector(t, []int64{0, 1, 2}, []float64{7, 8, 9})))
	firstIDs, err := w.PageIDs()
	require.NoError(t, err)
	require.Len(t, firstIDs, 1)

	require.NoError(t, w.SetValues(vector(t, []int64{1, 3}, []float64{99, 10})))

	ids, err := w.PageIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1, "the update replaces the overlapping page with one merged page")

	keys, values := collect(t, w.IndexedColumn, data.All[int64]())
	assert.Equal(t, []int64{0, 1, 2, 3}, keys)
	assert.Equal(t, []float64{7, 99, 9, 10}, values)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MergeWritesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesReplacedTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransactionsTotal.WithLabelValues("applied")))
}

func TestPointReads(t *testing.T) {
	st := store.NewMemoryStore()
	w := newWriter(st, 0)
	fids := []data.Fidelity{data.FidelityValid, data.FidelityApproximate}
	v, err := data.NewIndexedVector(testRef.ColumnID, []int64{10, 20}, []float64{1, 2}, fids)
	require.NoError(t, err)
	require.NoError(t, w.SetValues(v))

	value, fid, err := w.GetValue(20)
	require.NoError(t, err)
	assert.Equal(t, 2.0, value)
	assert.Equal(t, data.FidelityApproximate, fid)

	tests := []struct {
		name string
		key  int64
	}{
		{"before every page", 5},
		{"gap inside page", 15},
		{"after last key", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fid, err := w.GetFidelity(tt.key)
			require.NoError(t, err)
			assert.Equal(t, data.FidelityUnknown, fid)
		})
	}

	empty := NewIndexedColumn[int64, float64](st, Ref{DatasetURL: testRef.DatasetURL, ModelID: "weather", ColumnID: "other"}, nil, nil)
	_, ok, err := empty.GetDatum(1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRangeReadAcrossPages(t *testing.T) {
	st := store.NewMemoryStore()
	w := newWriter(st, 0)
	// a page extends up to the next page start, so only writes landing
	// before every existing page create new pages
	require.NoError(t, w.SetValues(vector(t, []int64{20, 22}, []float64{20, 22})))
	require.NoError(t, w.SetValues(vector(t, []int64{10, 12}, []float64{10, 12})))
	require.NoError(t, w.SetValues(vector(t, []int64{0, 2, 4}, []float64{0, 2, 4})))

	ids, err := w.PageIDs()
	require.NoError(t, err)
	require.Len(t, ids, 3)

	tests := []struct {
		name string
		r    data.Int64Range
		want []int64
	}{
		{"all", data.All[int64](), []int64{0, 2, 4, 10, 12, 20, 22}},
		{"start in gap after first page", data.From[int64](5), []int64{10, 12, 20, 22}},
		{"start before first page", data.Closed[int64](-5, 3), []int64{0, 2}},
		{"spanning", data.Closed[int64](3, 20), []int64{4, 10, 12, 20}},
		{"exclusive start at page end", data.Int64Range{Start: ptr(int64(12)), StartExclusive: true}, []int64{20, 22}},
		{"end in gap", data.Until[int64](15), []int64{0, 2, 4, 10, 12}},
		{"range in gap", data.Closed[int64](13, 19), nil},
		{"range after data", data.From[int64](100), nil},
		{"range before data", data.Until[int64](-1), nil},
		{"empty range", data.HalfOpen[int64](4, 4), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys, _ := collect(t, w.IndexedColumn, tt.r)
			assert.Equal(t, tt.want, keys)
		})
	}

	it, err := w.GetValues(data.Closed[int64](3, 20))
	require.NoError(t, err)
	assert.Len(t, it.PageIDs(), 3)
	assert.Equal(t, 4, it.Len())
	assert.Equal(t, []int64{4, 10, 12, 20}, it.Collect("x").Keys())
}

func TestMergeIdempotence(t *testing.T) {
	st := store.NewMemoryStore()
	w := newWriter(st, 0)
	v := vector(t, []int64{1, 5, 9}, []float64{1, 5, 9})

	require.NoError(t, w.SetValues(v))
	ids1, err := w.PageIDs()
	require.NoError(t, err)
	buf1, err := st.GetPageData(ids1[0])
	require.NoError(t, err)

	require.NoError(t, w.SetValues(v))
	ids2, err := w.PageIDs()
	require.NoError(t, err)
	require.Len(t, ids2, 1)
	buf2, err := st.GetPageData(ids2[0])
	require.NoError(t, err)

	assert.True(t, ids1[0].Equal(ids2[0]))
	assert.Equal(t, buf1, buf2)
}

func TestMaxPageRowsSplits(t *testing.T) {
	st := store.NewMemoryStore()
	w := newWriter(st, 2)

	require.NoError(t, w.SetValues(vector(t, []int64{1, 2, 3, 4, 5}, []float64{1, 2, 3, 4, 5})))
	ids, err := w.PageIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	require.NoError(t, w.SetValues(vector(t, []int64{0, 6}, []float64{0, 6})))
	keys, _ := collect(t, w.IndexedColumn, data.All[int64]())
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6}, keys)
	assertPartition(t, st, w.IndexedColumn)
}

func TestSetValuesRejectsDuplicates(t *testing.T) {
	w := newWriter(store.NewMemoryStore(), 0)
	dup, err := data.NewVector(testRef.ColumnID, []int64{1, 1}, []float64{1, 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(w.SetValues(dup)))
	assert.NoError(t, w.SetValues(data.EmptyVector[int64, float64]("temp")))
}

func TestFailedApplyLeavesPagesIntact(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	w := newWriter(st, 0)
	require.NoError(t, w.SetValues(vector(t, []int64{1, 2}, []float64{1, 2})))

	st.fail = true
	err := w.SetValues(vector(t, []int64{2, 3}, []float64{20, 30}))
	assert.Equal(t, errors.ErrCodeTransactionFailed, errors.GetCode(err))
	assert.True(t, st.aborted)

	keys, values := collect(t, w.IndexedColumn, data.All[int64]())
	assert.Equal(t, []int64{1, 2}, keys)
	assert.Equal(t, []float64{1, 2}, values)
}

// TestRandomWritesKeepPartition checks that after arbitrary merge-writes
// the pages stay disjoint, every written key is covered once, and range
// reads return the latest value of every key in range.
func TestRandomWritesKeepPartition(t *testing.T) {
	for _, maxRows := range []int{0, 3} {
		rng := rand.New(rand.NewSource(int64(42 + maxRows)))
		st := store.NewMemoryStore()
		w := newWriter(st, maxRows)
		expected := make(map[int64]float64)

		for round := 0; round < 40; round++ {
			n := 1 + rng.Intn(6)
			seen := make(map[int64]bool)
			var keys []int64
			for len(keys) < n {
				k := int64(rng.Intn(60) - 10)
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
			sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
			values := make([]float64, n)
			for i, k := range keys {
				values[i] = float64(round*1000) + float64(k)
				expected[k] = values[i]
			}
			require.NoError(t, w.SetValues(vector(t, keys, values)))
		}

		assertPartition(t, st, w.IndexedColumn)

		for trial := 0; trial < 30; trial++ {
			lo := int64(rng.Intn(70) - 15)
			hi := lo + int64(rng.Intn(30))
			r := data.Closed(lo, hi)
			if rng.Intn(2) == 0 {
				r.StartExclusive = true
			}
			keys, values := collect(t, w.IndexedColumn, r)

			var wantKeys []int64
			for k := range expected {
				if r.Contains(k) {
					wantKeys = append(wantKeys, k)
				}
			}
			sort.Slice(wantKeys, func(i, j int) bool { return wantKeys[i] < wantKeys[j] })
			var wantValues []float64
			for _, k := range wantKeys {
				wantValues = append(wantValues, expected[k])
			}
			assert.Equal(t, wantKeys, keys, "range %d..%d", lo, hi)
			assert.Equal(t, wantValues, values, "range %d..%d", lo, hi)
		}
	}
}

func assertPartition(t *testing.T, st store.PageCache, c *IndexedColumn[int64, float64]) {
	t.Helper()
	ids, err := c.PageIDs()
	require.NoError(t, err)

	var previousLargest *int64
	for _, id := range ids {
		p, err := store.LoadIndexedPage[int64, float64](st, id)
		require.NoError(t, err)
		start, ok, err := pageid.DecodePageKey[int64](id)
		require.NoError(t, err)
		require.True(t, ok)

		smallest, ok := p.Vector().Smallest()
		require.True(t, ok, "stored pages are never empty")
		assert.Equal(t, start, smallest.Key, "page id carries the smallest key")
		if previousLargest != nil {
			assert.Less(t, *previousLargest, start, "pages overlap")
		}
		largest, _ := p.Vector().Largest()
		previousLargest = &largest.Key
	}
}

func TestFrameIterator(t *testing.T) {
	st := store.NewMemoryStore()
	temp := newWriter(st, 0)
	require.NoError(t, temp.SetValues(vector(t, []int64{1, 2, 4}, []float64{10, 20, 40})))

	label := NewIndexedColumnWriter[int64, string](st, Ref{DatasetURL: testRef.DatasetURL, ModelID: testRef.ModelID, ColumnID: "label"}, config.ColumnConfig{}, nil, nil)
	lv, err := data.NewIndexedVector("label", []int64{2, 3}, []string{"b", "c"}, nil)
	require.NoError(t, err)
	require.NoError(t, label.SetValues(lv))

	specs := []Spec{{ID: "temp", ValueType: data.ValueDouble}, {ID: "label", ValueType: data.ValueString}}
	frame, err := ReadFrame(st, testRef.DatasetURL, testRef.ModelID, specs, data.All[int64](), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, frame.Keys())

	tv, err := data.FrameColumn[int64, float64](frame, "temp")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 0, 40}, tv.Values())
	assert.Equal(t, data.FidelityNoData, tv.Fidelity(2))

	lvOut, err := data.FrameColumn[int64, string](frame, "label")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "b", "c", ""}, lvOut.Values())
	assert.Equal(t, data.FidelityValid, lvOut.Fidelity(1))

	it, err := NewFrameIterator(st, testRef.DatasetURL, testRef.ModelID, specs, data.All[int64](), 3, nil, nil)
	require.NoError(t, err)
	var sizes []int
	for it.Next() {
		sizes = append(sizes, it.Frame().NumRows())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int{3, 1}, sizes)

	empty, err := ReadFrame(st, testRef.DatasetURL, testRef.ModelID, specs, data.From[int64](100), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.NumRows())
	assert.Equal(t, []string{"temp", "label"}, empty.ColumnIDs())

	_, err = NewFrameIterator(st, testRef.DatasetURL, testRef.ModelID, append(specs, specs[0]), data.All[int64](), 0, nil, nil)
	assert.Error(t, err)
}

type failingStore struct {
	*store.MemoryStore
	fail    bool
	aborted bool
}

func (s *failingStore) StartTransaction() (store.Transaction, error) {
	tx, err := s.MemoryStore.StartTransaction()
	if err != nil {
		return nil, err
	}
	return &failingTransaction{Transaction: tx, owner: s}, nil
}

type failingTransaction struct {
	store.Transaction
	owner *failingStore
}

func (t *failingTransaction) Apply() error {
	if t.owner.fail {
		return errors.TransactionFailed("injected failure", nil)
	}
	return t.Transaction.Apply()
}

func (t *failingTransaction) Abort() {
	t.owner.aborted = true
	t.Transaction.Abort()
}

func ptr[T any](v T) *T { return &v }
