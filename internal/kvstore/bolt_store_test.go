package kvstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/devrev/groove/internal/column"
	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDataset = "dev.groove://test/kv"

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(Options{Path: filepath.Join(t.TempDir(), "groove.db"), NoSync: true}, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func writePage(t *testing.T, s store.PageStore, columnID string, keys ...int64) pageid.PageID {
	t.Helper()
	values := make([]int64, len(keys))
	copy(values, keys)
	vec, err := data.NewIndexedVector(columnID, keys, values, nil)
	require.NoError(t, err)
	p, err := page.NewIndexedPage(testDataset, "m", vec)
	require.NoError(t, err)
	buf, err := p.Encode()
	require.NoError(t, err)

	tx, err := s.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.WritePage(p.ID(), buf))
	require.NoError(t, tx.Apply())
	return p.ID()
}

func searchID(t *testing.T, columnID string, key int64) pageid.PageID {
	t.Helper()
	id, err := store.SearchID[int64, int64](testDataset, "m", columnID, &key)
	require.NoError(t, err)
	return id
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Options{}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func TestNeighbours(t *testing.T) {
	s := openTestStore(t)
	empty, err := s.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	writePage(t, s, "a", 100)
	p10 := writePage(t, s, "b", 10, 11)
	p20 := writePage(t, s, "b", 20, 25)
	writePage(t, s, "c", 0)
	require.NoError(t, s.SetMeta("zzz", []byte("after every page")))

	empty, err = s.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	tests := []struct {
		name      string
		key       int64
		before    bool
		exclusive bool
		want      *pageid.PageID
	}{
		{"before exact inclusive", 20, true, false, &p20},
		{"before exact exclusive", 20, true, true, &p10},
		{"before between", 15, true, false, &p10},
		{"before past last", 99, true, false, &p20},
		{"before first wanders into other column", 5, true, false, nil},
		{"after exact inclusive", 10, false, false, &p10},
		{"after exact exclusive", 10, false, true, &p20},
		{"after between", 12, false, false, &p20},
		{"after last wanders into other column", 21, false, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := searchID(t, "b", tt.key)
			var (
				got pageid.PageID
				err error
			)
			if tt.before {
				got, err = s.GetPageIDBefore(id, tt.exclusive)
			} else {
				got, err = s.GetPageIDAfter(id, tt.exclusive)
			}
			if tt.want == nil {
				require.Error(t, err)
				assert.True(t, errors.IsNotFound(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestLastPageInBucket(t *testing.T) {
	s := openTestStore(t)
	p := writePage(t, s, "z", 1, 2, 3)

	got, err := s.GetPageIDBefore(searchID(t, "z", 50), false)
	require.NoError(t, err)
	assert.True(t, p.Equal(got))

	_, err = s.GetPageIDAfter(searchID(t, "z", 50), false)
	assert.True(t, errors.IsNotFound(err))
}

func TestPageData(t *testing.T) {
	s := openTestStore(t)
	id := writePage(t, s, "b", 1, 2)

	ok, err := s.PageExists(id)
	require.NoError(t, err)
	assert.True(t, ok)

	buf, err := s.GetPageData(id)
	require.NoError(t, err)
	vec, err := page.DecodeVector[int64, int64](buf, "b")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, vec.Keys())

	missing := searchID(t, "b", 7)
	_, err = s.GetPageData(missing)
	assert.True(t, errors.IsNotFound(err))
	ok, err = s.PageExists(missing)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionAtomicity(t *testing.T) {
	s := openTestStore(t)
	old := writePage(t, s, "b", 1)

	tx := s.Begin()
	require.NoError(t, tx.RemovePage(old))
	tx.SetMeta("k", []byte("v"))

	// Nothing is visible before Apply.
	ok, err := s.PageExists(old)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MetaExists("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tx.Apply())
	ok, err = s.PageExists(old)
	require.NoError(t, err)
	assert.False(t, ok)
	v, err := s.GetMeta("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	err = tx.Apply()
	assert.Equal(t, errors.ErrCodeTransactionFailed, errors.GetCode(err))
}

func TestTransactionAbort(t *testing.T) {
	s := openTestStore(t)
	tx, err := s.StartTransaction()
	require.NoError(t, err)
	id := searchID(t, "b", 1)
	require.NoError(t, tx.WritePage(id, []byte("x")))
	tx.Abort()

	assert.Error(t, tx.WritePage(id, []byte("y")))
	ok, err := s.PageExists(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemovePagesWithPrefix(t *testing.T) {
	s := openTestStore(t)
	writePage(t, s, "a", 1)
	writePage(t, s, "b", 2)
	require.NoError(t, s.SetMeta("dataset/x", []byte("schema")))

	tx := s.Begin()
	require.NoError(t, tx.RemovePagesWithPrefix(pageid.DatasetPrefix(testDataset)))
	tx.RemoveMeta("dataset/x")
	require.NoError(t, tx.Apply())

	empty, err := s.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
	_, err = s.GetMeta("dataset/x")
	assert.True(t, errors.IsNotFound(err))
}

func TestMetadata(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetMeta("missing")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, s.SetMeta("dataset/b", []byte("2")))
	require.NoError(t, s.SetMeta("dataset/a", []byte("1")))
	require.NoError(t, s.SetMeta("other", []byte("3")))

	keys, err := s.MetaKeys("dataset/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dataset/a", "dataset/b"}, keys)

	require.NoError(t, s.RemoveMeta("dataset/a"))
	keys, err = s.MetaKeys("dataset/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dataset/b"}, keys)
}

func TestPaginatedIteration(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 7; i++ {
		require.NoError(t, s.SetMeta(fmt.Sprintf("k%d", i), []byte{byte(i)}))
	}
	require.NoError(t, s.SetMeta("other", []byte("x")))

	collect := func(next func(token string) (Page, error)) []string {
		var (
			keys  []string
			token string
		)
		for {
			p, err := next(token)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(p.Entries), 3)
			for _, e := range p.Entries {
				keys = append(keys, string(e.Key))
			}
			if p.Token == "" {
				return keys
			}
			token = p.Token
		}
	}

	prefix := collect(func(token string) (Page, error) {
		return s.IteratePrefix([]byte(metaPrefix+"k"), 3, token)
	})
	assert.Len(t, prefix, 7)
	assert.Equal(t, metaPrefix+"k0", prefix[0])
	assert.Equal(t, metaPrefix+"k6", prefix[6])

	bounded := collect(func(token string) (Page, error) {
		return s.IterateBounds([]byte(metaPrefix+"k2"), []byte(metaPrefix+"k5"), 3, token)
	})
	assert.Equal(t, []string{metaPrefix + "k2", metaPrefix + "k3", metaPrefix + "k4"}, bounded)

	forward := collect(func(token string) (Page, error) {
		return s.IterateForward([]byte(metaPrefix+"k5"), 3, token)
	})
	assert.Equal(t, []string{metaPrefix + "k5", metaPrefix + "k6", metaPrefix + "other"}, forward)

	_, err := s.IterateForward(nil, 0, "")
	assert.Error(t, err)
	_, err = s.IterateForward(nil, 1, "%%%")
	assert.Error(t, err)
}

func TestReopenKeepsPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "groove.db")
	s, err := Open(Options{Path: path}, nil, nil)
	require.NoError(t, err)
	id := writePage(t, s, "b", 4, 5)
	require.NoError(t, s.Close())

	ro, err := Open(Options{Path: path, ReadOnly: true}, nil, nil)
	require.NoError(t, err)
	defer ro.Close()
	ok, err := ro.PageExists(id)
	require.NoError(t, err)
	assert.True(t, ok)

	tx := ro.Begin()
	require.NoError(t, tx.RemovePage(id))
	assert.Error(t, tx.Apply())
}

func TestColumnMergeOverBolt(t *testing.T) {
	s := openTestStore(t)
	ref := column.Ref{DatasetURL: testDataset, ModelID: "m", ColumnID: "price"}
	w := column.NewIndexedColumnWriter[int64, float64](s, ref, config.ColumnConfig{MaxPageRows: 2}, nil, nil)

	first, err := data.NewIndexedVector("x", []int64{1, 3, 5}, []float64{1, 3, 5}, nil)
	require.NoError(t, err)
	require.NoError(t, w.SetValues(first))
	second, err := data.NewIndexedVector("x", []int64{3, 4}, []float64{30, 40}, nil)
	require.NoError(t, err)
	require.NoError(t, w.SetValues(second))

	it, err := w.GetValues(data.All[int64]())
	require.NoError(t, err)
	got := it.Collect("price")
	assert.Equal(t, []int64{1, 3, 4, 5}, got.Keys())
	assert.Equal(t, []float64{1, 30, 40, 5}, got.Values())

	// [1 3] [5] before the second write, then [1 3] [4] [5]
	ids, err := w.PageIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}
