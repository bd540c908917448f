package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/model"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testURL = "dev.groove://test/prices"

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.NewState()
	m, err := s.PutModel("prices", data.KeyInt64, data.CollationIndexed)
	require.NoError(t, err)
	_, err = m.AddColumn("close", data.ValueDouble, schema.PolicyOnlyValidValue)
	require.NoError(t, err)
	_, err = m.AddColumn("volume", data.ValueInt64, schema.PolicyAnyFidelityAllowed)
	require.NoError(t, err)
	_, err = m.AddColumn("ticker", data.ValueString, schema.PolicyAnyFidelityAllowed)
	require.NoError(t, err)
	_, err = s.PutModel("empty", data.KeyInt64, data.CollationIndexed)
	require.NoError(t, err)

	sch, err := s.ToSchema(false)
	require.NoError(t, err)
	return sch
}

func newWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(testURL, testSchema(t), zap.NewNop(), nil)
	require.NoError(t, err)
	return w
}

func mustVector[V data.Value](t *testing.T, id string, keys []int64, values []V) *data.Vector[int64, V] {
	t.Helper()
	vec, err := data.NewIndexedVector(id, keys, values, nil)
	require.NoError(t, err)
	return vec
}

// writeSample produces two close pages and one frame holding volume and
// ticker
func writeSample(t *testing.T) string {
	t.Helper()
	w := newWriter(t)
	require.NoError(t, PutVector(w, "prices", mustVector(t, "close", []int64{1, 2, 3}, []float64{10, 20, 30})))
	require.NoError(t, PutVector(w, "prices", mustVector(t, "close", []int64{10, 11}, []float64{100, 110})))

	f, err := data.NewFrame([]int64{2, 4, 6})
	require.NoError(t, err)
	require.NoError(t, data.AddColumn(f, "volume", []int64{200, 400, 600},
		[]data.Fidelity{data.FidelityValid, data.FidelityMissing, data.FidelityValid}))
	require.NoError(t, data.AddColumn(f, "ticker", []string{"a", "b", "c"}, nil))
	require.NoError(t, PutFrame(w, "prices", f))
	assert.Equal(t, 3, w.NumFrames())
	assert.Equal(t, 4, w.NumVectors())

	path := filepath.Join(t.TempDir(), "prices.gds")
	require.NoError(t, w.WriteDataset(path))
	return path
}

func TestWriterRejectsOverlaps(t *testing.T) {
	w := newWriter(t)
	require.NoError(t, PutVector(w, "prices", mustVector(t, "close", []int64{10, 20}, []float64{1, 2})))

	tests := []struct {
		name string
		keys []int64
		msg  string
	}{
		{"same start", []int64{10, 12}, "page id already exists"},
		{"starts inside prior page", []int64{15, 30}, "prior page overlaps"},
		{"ends inside next page", []int64{5, 10}, "subsequent page overlaps"},
		{"covers next page", []int64{5, 25}, "subsequent page overlaps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := PutVector(w, "prices", mustVector(t, "close", tt.keys, make([]float64, len(tt.keys))))
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvariant, errors.GetCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
	assert.Equal(t, 1, w.NumVectors())

	require.NoError(t, PutVector(w, "prices", mustVector(t, "close", []int64{21, 30}, []float64{1, 2})))
	require.NoError(t, PutVector(w, "prices", mustVector(t, "volume", []int64{10, 20}, []int64{1, 2})))
}

func TestWriterChecksSchema(t *testing.T) {
	w := newWriter(t)

	err := PutVector(w, "missing", mustVector(t, "close", []int64{1}, []float64{1}))
	assert.Equal(t, errors.ErrCodeModelNotFound, errors.GetCode(err))

	err = PutVector(w, "empty", mustVector(t, "close", []int64{1}, []float64{1}))
	assert.Equal(t, errors.ErrCodeInvariant, errors.GetCode(err))

	err = PutVector(w, "prices", mustVector(t, "open", []int64{1}, []float64{1}))
	assert.Equal(t, errors.ErrCodeColumnNotFound, errors.GetCode(err))

	err = PutVector(w, "prices", mustVector(t, "close", []int64{1}, []int64{1}))
	assert.Equal(t, errors.ErrCodeTypeMismatch, errors.GetCode(err))

	dv, err := data.NewIndexedVector("close", []float64{1}, []float64{1}, nil)
	require.NoError(t, err)
	assert.Equal(t, errors.ErrCodeTypeMismatch, errors.GetCode(PutVector(w, "prices", dv)))

	err = PutVector(w, "prices", data.EmptyVector[int64, float64]("close"))
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	assert.Equal(t, 0, w.NumFrames())
}

func TestPutFrameIsAllOrNothing(t *testing.T) {
	w := newWriter(t)
	require.NoError(t, PutVector(w, "prices", mustVector(t, "ticker", []int64{1, 5}, []string{"x", "y"})))

	f, err := data.NewFrame([]int64{3, 4})
	require.NoError(t, err)
	require.NoError(t, data.AddColumn(f, "volume", []int64{3, 4}, nil))
	require.NoError(t, data.AddColumn(f, "ticker", []string{"c", "d"}, nil))

	err = PutFrame(w, "prices", f)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvariant, errors.GetCode(err))
	assert.Equal(t, 1, w.NumFrames())
	assert.Equal(t, 1, w.NumVectors())

	// volume was never committed, so it can still be written
	require.NoError(t, PutVector(w, "prices", mustVector(t, "volume", []int64{3, 4}, []int64{3, 4})))
}

func TestWriteDatasetRefusesExistingFile(t *testing.T) {
	w := newWriter(t)
	require.NoError(t, PutVector(w, "prices", mustVector(t, "close", []int64{1}, []float64{1})))

	path := filepath.Join(t.TempDir(), "taken.gds")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o644))

	err := w.WriteDataset(path)
	assert.Equal(t, errors.ErrCodeAlreadyExists, errors.GetCode(err))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(content))
}

func TestReaderRoundTrip(t *testing.T) {
	r, err := OpenReader(writeSample(t), zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, testURL, r.URL())
	assert.Equal(t, 4, r.NumVectors())
	assert.Equal(t, 3, r.NumFrames())
	assert.Equal(t, []string{"prices", "empty"}, r.Schema().Walker().ModelIDs())
	require.NoError(t, r.Verify())

	empty, err := r.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	ids, err := r.PageIDs()
	require.NoError(t, err)
	require.Len(t, ids, 4)
	for i := 1; i < len(ids); i++ {
		assert.Negative(t, ids[i-1].Compare(ids[i]))
	}

	volumeID, err := pageid.Create(testURL, "prices", "volume", data.ValueInt64, data.CollationIndexed, ptr(int64(2)))
	require.NoError(t, err)
	volume, err := ReadVector[int64, int64](r, volumeID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 6}, volume.Keys())
	assert.Equal(t, []int64{200, 400, 600}, volume.Values())
	assert.Equal(t, data.FidelityMissing, volume.Fidelity(1))

	_, err = ReadVector[int64, float64](r, volumeID)
	assert.Equal(t, errors.ErrCodeTypeMismatch, errors.GetCode(err))
}

func TestReaderNeighbours(t *testing.T) {
	r, err := OpenReader(writeSample(t), zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	closeID := func(k int64) pageid.PageID {
		id, err := pageid.Create(testURL, "prices", "close", data.ValueDouble, data.CollationIndexed, &k)
		require.NoError(t, err)
		return id
	}

	tests := []struct {
		name      string
		key       int64
		before    bool
		exclusive bool
		want      int64
		found     bool
	}{
		{"before inside first page", 2, true, false, 1, true},
		{"before exact start", 10, true, false, 10, true},
		{"before exact start exclusive", 10, true, true, 1, true},
		{"before first page", 0, true, false, 0, false},
		{"after exact start", 1, false, false, 1, true},
		{"after exact start exclusive", 1, false, true, 10, true},
		{"after gap", 5, false, false, 10, true},
		{"after last page", 11, false, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got pageid.PageID
			var err error
			if tt.before {
				got, err = r.GetPageIDBefore(closeID(tt.key), tt.exclusive)
			} else {
				got, err = r.GetPageIDAfter(closeID(tt.key), tt.exclusive)
			}
			if !tt.found {
				assert.True(t, errors.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, closeID(tt.want).Bytes(), got.Bytes())
		})
	}

	exists, err := r.PageExists(closeID(10))
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = r.PageExists(closeID(11))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOpenFileServesColumns(t *testing.T) {
	path := writeSample(t)
	for _, opts := range []model.Options{{}, {Column: config.ColumnConfig{MaxPageRows: 1}}} {
		f, err := OpenFile(path, "", opts)
		require.NoError(t, err)

		assert.Equal(t, testURL, f.URL())
		assert.True(t, f.IsImmutable())
		assert.Equal(t, []string{"empty", "prices"}, f.ModelIDs())
		_, err = f.GetModel("missing")
		assert.Equal(t, errors.ErrCodeModelNotFound, errors.GetCode(err))

		prices, err := f.GetModel("prices")
		require.NoError(t, err)
		col, err := model.IndexedColumnOf[int64, float64](prices, "close")
		require.NoError(t, err)

		v, fid, err := col.GetValue(11)
		require.NoError(t, err)
		assert.Equal(t, 110.0, v)
		assert.Equal(t, data.FidelityValid, fid)

		it, err := col.GetValues(data.Closed[int64](2, 10))
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3, 10}, it.Collect("close").Keys())

		frame, err := model.ReadFrame(prices, []string{"close", "ticker"}, data.Closed[int64](1, 4))
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 4}, frame.Keys())
		ticker, err := data.FrameColumn[int64, string](frame, "ticker")
		require.NoError(t, err)
		assert.Equal(t, []string{"", "a", "", "b"}, ticker.Values())

		_, err = model.IndexedWriterOf[int64, float64](prices, "close")
		assert.Equal(t, errors.ErrCodeUnsupported, errors.GetCode(err))

		require.NoError(t, f.Close())
	}
}

func TestOpenFileOverrideURL(t *testing.T) {
	f, err := OpenFile(writeSample(t), "dev.groove://mirror/prices", model.Options{})
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "dev.groove://mirror/prices", f.URL())
	prices, err := f.GetModel("prices")
	require.NoError(t, err)
	col, err := model.IndexedColumnOf[int64, float64](prices, "close")
	require.NoError(t, err)
	v, _, err := col.GetValue(1)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)
}

func TestReaderRejectsCorruptFiles(t *testing.T) {
	good, err := os.ReadFile(writeSample(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		code   errors.ErrorCode
	}{
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }, errors.ErrCodeCorruptedData},
		{"future version", func(b []byte) []byte { b[4] = 9; return b }, errors.ErrCodeUnsupported},
		{"truncated header", func(b []byte) []byte { return b[:6] }, errors.ErrCodeCorruptedData},
		{"index flipped", func(b []byte) []byte { b[fileHeaderSize+5] ^= 0xFF; return b }, errors.ErrCodeCorruptedData},
		{"truncated frames", func(b []byte) []byte { return b[:len(b)-10] }, errors.ErrCodeCorruptedData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.gds")
			require.NoError(t, os.WriteFile(path, tt.mutate(append([]byte(nil), good...)), 0o644))
			_, err := OpenReader(path, nil)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}

	_, err = OpenReader(filepath.Join(t.TempDir(), "missing.gds"), nil)
	assert.Equal(t, errors.ErrCodeDatasetNotFound, errors.GetCode(err))
}

func TestVerifyCatchesCorruptFrame(t *testing.T) {
	path := writeSample(t)
	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	buf[len(buf)-20] ^= 0xFF
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	r, err := OpenReader(path, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(r.Verify()))
}

func TestClosedReader(t *testing.T) {
	r, err := OpenReader(writeSample(t), nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.IsEmpty()
	assert.Equal(t, errors.ErrCodeUnavailable, errors.GetCode(err))
}

func ptr[T any](v T) *T { return &v }
