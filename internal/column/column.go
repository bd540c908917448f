package column

import (
	"time"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/store"
	"go.uber.org/zap"
)

// Ref addresses one column of one model of one dataset
type Ref struct {
	DatasetURL string
	ModelID    string
	ColumnID   string
}

// IndexedColumn reads an Indexed column from any PageCache. Pages of the
// column are contiguous and never overlap, so a range is served by seeking
// the page covering its start and walking forward.
type IndexedColumn[K data.Key, V data.Value] struct {
	cache   store.PageCache
	ref     Ref
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewIndexedColumn creates a reader for ref over cache
func NewIndexedColumn[K data.Key, V data.Value](cache store.PageCache, ref Ref, logger *zap.Logger, m *metrics.Metrics) *IndexedColumn[K, V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexedColumn[K, V]{cache: cache, ref: ref, logger: logger, metrics: m}
}

func (c *IndexedColumn[K, V]) Ref() Ref { return c.ref }

func (c *IndexedColumn[K, V]) pageAt(key *K, exclusive bool) (*page.IndexedPage[K, V], error) {
	return store.GetIndexedPage[K, V](c.cache, c.ref.DatasetURL, c.ref.ModelID, c.ref.ColumnID, key, exclusive)
}

// GetDatum returns the stored datum for key. A key no page covers is not
// an error: it comes back with FidelityUnknown and ok=false.
func (c *IndexedColumn[K, V]) GetDatum(key K) (d data.Datum[K, V], ok bool, err error) {
	start := time.Now()
	defer func() { c.metrics.RecordPageRead(time.Since(start).Seconds()) }()

	d.Key = key
	if !data.IsValidKey(key) {
		return d, false, errors.InvalidArgument("lookup key is not a valid key", nil)
	}
	p, err := c.pageAt(&key, false)
	if errors.IsNotFound(err) {
		return d, false, nil
	}
	if err != nil {
		return d, false, err
	}
	idx := data.Search(p.Vector(), key)
	if idx < 0 {
		return d, false, nil
	}
	return p.Vector().Datum(idx), true, nil
}

// GetValue returns the value and fidelity stored for key
func (c *IndexedColumn[K, V]) GetValue(key K) (V, data.Fidelity, error) {
	d, _, err := c.GetDatum(key)
	return d.Value, d.Fidelity, err
}

// GetFidelity returns only the fidelity stored for key
func (c *IndexedColumn[K, V]) GetFidelity(key K) (data.Fidelity, error) {
	d, _, err := c.GetDatum(key)
	return d.Fidelity, err
}

// GetVectors returns the slices of every page intersecting r, in key order,
// and the ids of the pages they came from. Any failure aborts the whole
// read so a missing page is never mistaken for the end of the data.
func (c *IndexedColumn[K, V]) GetVectors(r data.Range[K]) ([]*data.Vector[K, V], []pageid.PageID, error) {
	if r.IsEmpty() {
		return nil, nil, nil
	}

	var (
		p   *page.IndexedPage[K, V]
		err error
	)
	if r.Start != nil {
		p, err = c.pageAt(r.Start, false)
		if errors.IsNotFound(err) {
			p, err = c.pageAt(nil, false)
		}
	} else {
		p, err = c.pageAt(nil, false)
	}
	if errors.IsNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		vectors []*data.Vector[K, V]
		ids     []pageid.PageID
		walked  int
	)
	for first := true; ; first = false {
		walked++
		sliced := p.Vector().Slice(r)
		var next K
		if sliced.IsEmpty() {
			largest, ok := p.Vector().Largest()
			if !first || !ok || !beforeStart(largest.Key, r) {
				break
			}
			next = largest.Key
		} else {
			vectors = append(vectors, sliced)
			ids = append(ids, p.ID())
			largest, _ := sliced.Largest()
			next = largest.Key
		}

		c.logger.Debug("Walked column page",
			zap.String("page_id", p.ID().String()),
			zap.Int("rows", sliced.Size()))

		p, err = c.pageAt(&next, true)
		if errors.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
	}

	c.metrics.RecordRangeRead(walked)
	return vectors, ids, nil
}

// GetValues returns an iterator over every datum in r
func (c *IndexedColumn[K, V]) GetValues(r data.Range[K]) (*Iterator[K, V], error) {
	vectors, ids, err := c.GetVectors(r)
	if err != nil {
		return nil, err
	}
	return newIterator(vectors, ids), nil
}

// PageIDs lists every page id of the column in order
func (c *IndexedColumn[K, V]) PageIDs() ([]pageid.PageID, error) {
	search, err := store.SearchID[K, V](c.ref.DatasetURL, c.ref.ModelID, c.ref.ColumnID, nil)
	if err != nil {
		return nil, err
	}
	var ids []pageid.PageID
	id, err := c.cache.GetPageIDAfter(search, false)
	for err == nil {
		ids = append(ids, id)
		id, err = c.cache.GetPageIDAfter(id, true)
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return ids, nil
}

// beforeStart reports whether key lies entirely before the start of r
func beforeStart[K data.Key](key K, r data.Range[K]) bool {
	if r.Start == nil {
		return false
	}
	cmp := data.CompareKeys(key, *r.Start)
	return cmp < 0 || (cmp == 0 && r.StartExclusive)
}
