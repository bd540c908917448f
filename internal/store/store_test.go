package store

import (
	"sync"
	"testing"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDataset = "dev.groove://test/store"

func writePage(t *testing.T, s PageStore, column string, keys ...int64) pageid.PageID {
	t.Helper()
	values := make([]float64, len(keys))
	for i, k := range keys {
		values[i] = float64(k)
	}
	vec, err := data.NewIndexedVector(column, keys, values, nil)
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

func searchID(t *testing.T, column string, key int64) pageid.PageID {
	t.Helper()
	id, err := SearchID[int64, float64](testDataset, "m", column, &key)
	require.NoError(t, err)
	return id
}

func TestMemoryStoreNeighbours(t *testing.T) {
	s := NewMemoryStore()
	empty, err := s.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	writePage(t, s, "a", 100)
	p10 := writePage(t, s, "b", 10, 11)
	p20 := writePage(t, s, "b", 20, 25)
	writePage(t, s, "c", 0)

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
		{"before first wanders into other column", 5, true, false, nil},
		{"after exact inclusive", 10, false, false, &p10},
		{"after exact exclusive", 10, false, true, &p20},
		{"after between", 12, false, false, &p20},
		{"after last wanders into other column", 21, false, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := searchID(t, "b", tt.key)
			var got pageid.PageID
			var err error
			if tt.before {
				got, err = s.GetPageIDBefore(id, tt.exclusive)
			} else {
				got, err = s.GetPageIDAfter(id, tt.exclusive)
			}
			if tt.want == nil {
				assert.Equal(t, errors.ErrCodePageNotFound, errors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestGetIndexedPage(t *testing.T) {
	s := NewMemoryStore()
	writePage(t, s, "b", 10, 11)
	writePage(t, s, "b", 20, 25)

	first, err := GetFirstPage[int64, float64](s, testDataset, "m", "b")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, first.Vector().Keys())

	key := int64(22)
	covering, err := GetIndexedPage[int64, float64](s, testDataset, "m", "b", &key, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 25}, covering.Vector().Keys())

	key = 10
	next, err := GetIndexedPage[int64, float64](s, testDataset, "m", "b", &key, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 25}, next.Vector().Keys())

	_, err = GetFirstPage[int64, float64](s, testDataset, "m", "missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = GetFirstPage[int64, int64](s, testDataset, "m", "b")
	assert.True(t, errors.IsNotFound(err), "a different value type is a different column")
}

func TestTransactionAbortAndReuse(t *testing.T) {
	s := NewMemoryStore()
	id := writePage(t, s, "b", 1)

	tx, err := s.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.RemovePage(id))
	tx.Abort()

	exists, err := s.PageExists(id)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Error(t, tx.Apply())
	assert.Error(t, tx.WritePage(id, nil))
}

func TestCachingPageCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry("test", reg)
	inner := NewMemoryStore()
	p1 := writePage(t, inner, "b", 1, 2)
	p2 := writePage(t, inner, "b", 5)

	cache := NewCachingPageStore(inner, config.CacheConfig{
		MaxBytes: 1 << 20, FrequencyWeight: 0.5, RecencyWeight: 0.5,
	}, zap.NewNop(), m)

	_, err := cache.GetPageData(p1)
	require.NoError(t, err)
	_, err = cache.GetPageData(p1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 1, cache.Stats().EntryCount)

	tx, err := cache.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.RemovePage(p1))
	require.NoError(t, tx.Apply())
	assert.Equal(t, 0, cache.Stats().EntryCount)

	_, err = cache.GetPageData(p1)
	assert.True(t, errors.IsNotFound(err))

	_, err = cache.GetPageData(p2)
	require.NoError(t, err)
	cache.AdjustWeights()
	assert.Equal(t, 1, cache.Stats().EntryCount)
}

// blockingStore parks the first GetPageData after it has read the page
// until release is closed
type blockingStore struct {
	*MemoryStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *blockingStore) GetPageData(id pageid.PageID) ([]byte, error) {
	buf, err := s.MemoryStore.GetPageData(id)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return buf, err
}

func TestCachingPageStoreSkipsFillRacingCommit(t *testing.T) {
	inner := &blockingStore{
		MemoryStore: NewMemoryStore(),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	id := writePage(t, inner.MemoryStore, "b", 1)
	tx, err := inner.MemoryStore.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.WritePage(id, []byte("old")))
	require.NoError(t, tx.Apply())

	cache := NewCachingPageStore(inner, config.CacheConfig{MaxBytes: 1 << 20}, nil, nil)

	done := make(chan []byte)
	go func() {
		buf, err := cache.GetPageData(id)
		assert.NoError(t, err)
		done <- buf
	}()
	<-inner.read

	tx, err = cache.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, tx.WritePage(id, []byte("new")))
	require.NoError(t, tx.Apply())

	close(inner.release)
	assert.Equal(t, []byte("old"), <-done)
	assert.Equal(t, 0, cache.Stats().EntryCount)

	for i := 0; i < 2; i++ {
		buf, err := cache.GetPageData(id)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), buf)
	}
	assert.Equal(t, 1, cache.Stats().EntryCount)
}

func TestCachingPageCacheEvicts(t *testing.T) {
	inner := NewMemoryStore()
	p1 := writePage(t, inner, "b", 1)
	p2 := writePage(t, inner, "b", 2)
	buf, err := inner.GetPageData(p1)
	require.NoError(t, err)

	cache := NewCachingPageCache(inner, config.CacheConfig{
		MaxBytes: int64(len(p1.Bytes())+len(buf)+entryOverhead) + 8, FrequencyWeight: 0.5, RecencyWeight: 0.5,
	}, nil, nil)

	_, err = cache.GetPageData(p1)
	require.NoError(t, err)
	_, err = cache.GetPageData(p2)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Stats().EntryCount)
}

func TestCachingPageCacheEvictsStalestOnTie(t *testing.T) {
	inner := NewMemoryStore()
	ids := []pageid.PageID{
		writePage(t, inner, "b", 1),
		writePage(t, inner, "b", 2),
		writePage(t, inner, "b", 3),
	}
	buf, err := inner.GetPageData(ids[0])
	require.NoError(t, err)
	entrySize := int64(len(ids[0].Bytes()) + len(buf) + entryOverhead)

	cache := NewCachingPageCache(inner, config.CacheConfig{
		MaxBytes: 2*entrySize + 8, FrequencyWeight: 0.5, RecencyWeight: 0.5,
	}, nil, nil)

	for _, id := range ids[:2] {
		_, err := cache.GetPageData(id)
		require.NoError(t, err)
	}
	cache.mu.Lock()
	cache.entries[ids[0].Bytes()].lastAccess = time.Now().Add(-time.Hour)
	cache.mu.Unlock()

	_, err = cache.GetPageData(ids[2])
	require.NoError(t, err)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.NotContains(t, cache.entries, ids[0].Bytes())
	assert.Contains(t, cache.entries, ids[1].Bytes())
	assert.Contains(t, cache.entries, ids[2].Bytes())
}

func TestCachingPageCacheStartAdjustsWeights(t *testing.T) {
	inner := NewMemoryStore()
	id := writePage(t, inner, "b", 1)

	cache := NewCachingPageCache(inner, config.CacheConfig{
		MaxBytes: 1 << 20, FrequencyWeight: 0.5, RecencyWeight: 0.5, AdaptiveWindow: 10 * time.Millisecond,
	}, nil, nil)
	_, err := cache.GetPageData(id)
	require.NoError(t, err)

	cache.Start()
	defer cache.Stop()
	require.Eventually(t, func() bool {
		frequency, recency := cache.Weights()
		return frequency != 0.5 && recency != 0.5
	}, time.Second, 5*time.Millisecond)

	cache.Stop()
	cache.Stop()
}

func TestCachingPageCacheIsReadOnly(t *testing.T) {
	var pc PageCache = NewCachingPageCache(NewMemoryStore(), config.CacheConfig{MaxBytes: 1 << 20}, nil, nil)
	_, ok := pc.(PageStore)
	assert.False(t, ok)

	pc = NewCachingPageStore(NewMemoryStore(), config.CacheConfig{MaxBytes: 1 << 20}, nil, nil)
	_, ok = pc.(PageStore)
	assert.True(t, ok)
}
