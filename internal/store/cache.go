package store

import (
	"strings"
	"sync"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/pageid"
	"go.uber.org/zap"
)

// entryOverhead approximates the bookkeeping cost of one cached page
const entryOverhead = 64

type cacheEntry struct {
	id          string
	buf         []byte
	accessCount int64
	lastAccess  time.Time
}

func (e *cacheEntry) size() int64 { return int64(len(e.id) + len(e.buf) + entryOverhead) }

// CachingPageCache keeps recently and frequently read page bytes in memory
// in front of another PageCache. Eviction uses an adaptive score mixing
// access frequency and recency. Id lookups always go to the inner cache;
// only page data is cached.
//
// A CachingPageCache is read-only even when inner is writable; use
// CachingPageStore to write through the cache.
type CachingPageCache struct {
	inner   PageCache
	cfg     config.CacheConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu              sync.Mutex
	entries         map[string]*cacheEntry
	currentSize     int64
	frequencyWeight float64
	recencyWeight   float64
	// generation advances on every invalidation; a miss only fills the
	// cache when no invalidation happened while it read the inner cache
	generation uint64

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewCachingPageCache wraps inner. A non-positive cfg.MaxBytes disables
// caching and every read passes through.
func NewCachingPageCache(inner PageCache, cfg config.CacheConfig, logger *zap.Logger, m *metrics.Metrics) *CachingPageCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingPageCache{
		inner:           inner,
		cfg:             cfg,
		logger:          logger,
		metrics:         m,
		entries:         make(map[string]*cacheEntry),
		frequencyWeight: cfg.FrequencyWeight,
		recencyWeight:   cfg.RecencyWeight,
		stopChan:        make(chan struct{}),
	}
}

// CachingPageStore is a CachingPageCache over a PageStore. Its
// transactions invalidate every page they touch once applied.
type CachingPageStore struct {
	*CachingPageCache
	store PageStore
}

var _ PageStore = (*CachingPageStore)(nil)

func NewCachingPageStore(inner PageStore, cfg config.CacheConfig, logger *zap.Logger, m *metrics.Metrics) *CachingPageStore {
	return &CachingPageStore{
		CachingPageCache: NewCachingPageCache(inner, cfg, logger, m),
		store:            inner,
	}
}

func (c *CachingPageCache) IsEmpty() (bool, error) { return c.inner.IsEmpty() }

func (c *CachingPageCache) GetPageIDBefore(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	return c.inner.GetPageIDBefore(id, exclusive)
}

func (c *CachingPageCache) GetPageIDAfter(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	return c.inner.GetPageIDAfter(id, exclusive)
}

func (c *CachingPageCache) PageExists(id pageid.PageID) (bool, error) {
	c.mu.Lock()
	_, ok := c.entries[id.Bytes()]
	c.mu.Unlock()
	if ok {
		return true, nil
	}
	return c.inner.PageExists(id)
}

func (c *CachingPageCache) GetPageData(id pageid.PageID) ([]byte, error) {
	if buf, ok := c.get(id.Bytes()); ok {
		c.metrics.RecordCacheHit()
		return buf, nil
	}
	c.metrics.RecordCacheMiss()

	gen := c.currentGeneration()
	buf, err := c.inner.GetPageData(id)
	if err != nil {
		return nil, err
	}
	c.put(id.Bytes(), buf, gen)
	return buf, nil
}

// StartTransaction returns a transaction that invalidates every touched id
// once it applies
func (s *CachingPageStore) StartTransaction() (Transaction, error) {
	tx, err := s.store.StartTransaction()
	if err != nil {
		return nil, err
	}
	return &invalidatingTransaction{Transaction: tx, cache: s.CachingPageCache}, nil
}

func (c *CachingPageCache) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Invalidate drops id from the cache
func (c *CachingPageCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if entry, ok := c.entries[id]; ok {
		delete(c.entries, id)
		c.currentSize -= entry.size()
	}
}

// InvalidatePrefix drops every cached page whose id begins with prefix
func (c *CachingPageCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for id, entry := range c.entries {
		if strings.HasPrefix(id, prefix) {
			delete(c.entries, id)
			c.currentSize -= entry.size()
		}
	}
	c.metrics.UpdateCacheSize(c.currentSize, int64(len(c.entries)))
}

func (c *CachingPageCache) get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	entry.accessCount++
	entry.lastAccess = time.Now()
	return entry.buf, true
}

// put caches buf unless an invalidation ran after gen was read
func (c *CachingPageCache) put(id string, buf []byte, gen uint64) {
	if c.cfg.MaxBytes <= 0 {
		return
	}
	entry := &cacheEntry{id: id, buf: buf, accessCount: 1, lastAccess: time.Now()}
	if entry.size() > c.cfg.MaxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		return
	}
	if existing, ok := c.entries[id]; ok {
		c.currentSize -= existing.size()
		delete(c.entries, id)
	}
	for c.currentSize+entry.size() > c.cfg.MaxBytes && len(c.entries) > 0 {
		c.evictLowestScore()
	}
	c.entries[id] = entry
	c.currentSize += entry.size()
	c.metrics.UpdateCacheSize(c.currentSize, int64(len(c.entries)))
}

// calculateScore computes the adaptive score at now; higher survives longer
func (c *CachingPageCache) calculateScore(entry *cacheEntry, now time.Time) float64 {
	frequencyScore := float64(entry.accessCount)
	recencyScore := now.Sub(entry.lastAccess).Seconds()
	return c.frequencyWeight*frequencyScore - c.recencyWeight*recencyScore
}

func (c *CachingPageCache) evictLowestScore() {
	now := time.Now()
	var lowest *cacheEntry
	var lowestScore float64
	for _, entry := range c.entries {
		if score := c.calculateScore(entry, now); lowest == nil || score < lowestScore {
			lowest, lowestScore = entry, score
		}
	}
	if lowest == nil {
		return
	}
	delete(c.entries, lowest.id)
	c.currentSize -= lowest.size()
	c.metrics.RecordCacheEviction()

	c.logger.Debug("Evicted cached page",
		zap.String("page_id", lowest.id),
		zap.Float64("score", lowestScore))
}

// Start re-tunes the eviction weights every adaptive window until Stop.
// It does nothing when caching or the window is disabled.
func (c *CachingPageCache) Start() {
	if c.cfg.MaxBytes <= 0 || c.cfg.AdaptiveWindow <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.cfg.AdaptiveWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.AdjustWeights()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop ends the loop started by Start; it is safe to call more than once
func (c *CachingPageCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// AdjustWeights shifts eviction towards LRU when most entries were touched
// within the adaptive window and towards LFU when few were
func (c *CachingPageCache) AdjustWeights() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == 0 {
		return
	}
	var recent int
	threshold := time.Now().Add(-c.cfg.AdaptiveWindow)
	for _, entry := range c.entries {
		if entry.lastAccess.After(threshold) {
			recent++
		}
	}

	hotnessRatio := float64(recent) / float64(len(c.entries))
	switch {
	case hotnessRatio > 0.7:
		c.recencyWeight, c.frequencyWeight = 0.7, 0.3
	case hotnessRatio < 0.3:
		c.recencyWeight, c.frequencyWeight = 0.3, 0.7
	default:
		c.recencyWeight, c.frequencyWeight = 0.5, 0.5
	}

	c.logger.Debug("Adjusted page cache weights",
		zap.Float64("recency_weight", c.recencyWeight),
		zap.Float64("frequency_weight", c.frequencyWeight),
		zap.Float64("hotness_ratio", hotnessRatio))
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size         int64
	MaxSize      int64
	EntryCount   int
	UsagePercent float64
}

// Weights returns the current frequency and recency weights
func (c *CachingPageCache) Weights() (frequency, recency float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frequencyWeight, c.recencyWeight
}

func (c *CachingPageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{Size: c.currentSize, MaxSize: c.cfg.MaxBytes, EntryCount: len(c.entries)}
	if c.cfg.MaxBytes > 0 {
		stats.UsagePercent = float64(c.currentSize) / float64(c.cfg.MaxBytes) * 100
	}
	return stats
}

type invalidatingTransaction struct {
	Transaction
	cache   *CachingPageCache
	touched []string
}

func (t *invalidatingTransaction) RemovePage(id pageid.PageID) error {
	if err := t.Transaction.RemovePage(id); err != nil {
		return err
	}
	t.touched = append(t.touched, id.Bytes())
	return nil
}

func (t *invalidatingTransaction) WritePage(id pageid.PageID, buf []byte) error {
	if err := t.Transaction.WritePage(id, buf); err != nil {
		return err
	}
	t.touched = append(t.touched, id.Bytes())
	return nil
}

func (t *invalidatingTransaction) Apply() error {
	err := t.Transaction.Apply()
	for _, id := range t.touched {
		t.cache.Invalidate(id)
	}
	return err
}
