package column

import (
	"fmt"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/store"
	"go.uber.org/zap"
)

// Spec names a column to read into a frame together with its value type
type Spec struct {
	ID        string
	ValueType data.ValueType
}

// cursor is the type-erased view of one column iterator with one datum of
// lookahead
type cursor[K data.Key] interface {
	peek() (K, bool)
	// take appends the current datum when its key equals key, otherwise a
	// NoData fill row
	take(key K)
	flush(f *data.Frame[K]) error
}

type typedCursor[K data.Key, V data.Value] struct {
	id     string
	it     *Iterator[K, V]
	has    bool
	values []V
	fids   []data.Fidelity
}

func newTypedCursor[K data.Key, V data.Value](id string, it *Iterator[K, V]) *typedCursor[K, V] {
	return &typedCursor[K, V]{id: id, it: it, has: it.Next()}
}

func (c *typedCursor[K, V]) peek() (K, bool) {
	if !c.has {
		var zero K
		return zero, false
	}
	return c.it.Key(), true
}

func (c *typedCursor[K, V]) take(key K) {
	if c.has && data.CompareKeys(c.it.Key(), key) == 0 {
		c.values = append(c.values, c.it.Value())
		c.fids = append(c.fids, c.it.Fidelity())
		c.has = c.it.Next()
		return
	}
	var zero V
	c.values = append(c.values, zero)
	c.fids = append(c.fids, data.FidelityNoData)
}

func (c *typedCursor[K, V]) flush(f *data.Frame[K]) error {
	err := data.AddColumn(f, c.id, c.values, c.fids)
	c.values, c.fids = nil, nil
	return err
}

// FrameIterator outer-joins several columns of one model on their key and
// yields row-aligned frames. Cells a column has no datum for are filled
// with the zero value and FidelityNoData.
type FrameIterator[K data.Key] struct {
	cursors   []cursor[K]
	batchSize int
	current   *data.Frame[K]
	err       error
}

// NewFrameIterator reads every requested column over r from cache. batchSize
// bounds the rows per frame; 0 yields a single frame.
func NewFrameIterator[K data.Key](cache store.PageCache, datasetURL, modelID string, specs []Spec, r data.Range[K], batchSize int, logger *zap.Logger, m *metrics.Metrics) (*FrameIterator[K], error) {
	if len(specs) == 0 {
		return nil, errors.InvalidArgument("frame read needs at least one column", nil)
	}
	seen := make(map[string]bool, len(specs))
	cursors := make([]cursor[K], 0, len(specs))
	for _, spec := range specs {
		if seen[spec.ID] {
			return nil, errors.InvalidArgument(fmt.Sprintf("column %s requested twice", spec.ID), nil)
		}
		seen[spec.ID] = true

		ref := Ref{DatasetURL: datasetURL, ModelID: modelID, ColumnID: spec.ID}
		var (
			c   cursor[K]
			err error
		)
		switch spec.ValueType {
		case data.ValueDouble:
			c, err = openCursor[K, float64](cache, ref, r, logger, m)
		case data.ValueInt64:
			c, err = openCursor[K, int64](cache, ref, r, logger, m)
		case data.ValueString:
			c, err = openCursor[K, string](cache, ref, r, logger, m)
		default:
			err = errors.Unsupported(fmt.Sprintf("column %s has value type %s", spec.ID, spec.ValueType))
		}
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, c)
	}
	return &FrameIterator[K]{cursors: cursors, batchSize: batchSize}, nil
}

func openCursor[K data.Key, V data.Value](cache store.PageCache, ref Ref, r data.Range[K], logger *zap.Logger, m *metrics.Metrics) (cursor[K], error) {
	it, err := NewIndexedColumn[K, V](cache, ref, logger, m).GetValues(r)
	if err != nil {
		return nil, err
	}
	return newTypedCursor(ref.ColumnID, it), nil
}

// Next builds the next frame; it returns false when the columns are
// exhausted or an error occurred
func (it *FrameIterator[K]) Next() bool {
	if it.err != nil {
		return false
	}
	var keys []K
	for it.batchSize <= 0 || len(keys) < it.batchSize {
		key, ok := it.minKey()
		if !ok {
			break
		}
		keys = append(keys, key)
		for _, c := range it.cursors {
			c.take(key)
		}
	}
	if len(keys) == 0 {
		it.current = nil
		return false
	}

	frame, err := data.NewFrame(keys)
	if err == nil {
		for _, c := range it.cursors {
			if err = c.flush(frame); err != nil {
				break
			}
		}
	}
	if err != nil {
		it.err = err
		it.current = nil
		return false
	}
	it.current = frame
	return true
}

func (it *FrameIterator[K]) minKey() (K, bool) {
	var (
		smallest K
		found    bool
	)
	for _, c := range it.cursors {
		key, ok := c.peek()
		if ok && (!found || data.CompareKeys(key, smallest) < 0) {
			smallest, found = key, true
		}
	}
	return smallest, found
}

// Frame returns the frame produced by the last successful Next
func (it *FrameIterator[K]) Frame() *data.Frame[K] { return it.current }

func (it *FrameIterator[K]) Err() error { return it.err }

// ReadFrame reads the requested columns over r into one frame. An empty range
// yields a frame with no rows.
func ReadFrame[K data.Key](cache store.PageCache, datasetURL, modelID string, specs []Spec, r data.Range[K], logger *zap.Logger, m *metrics.Metrics) (*data.Frame[K], error) {
	it, err := NewFrameIterator(cache, datasetURL, modelID, specs, r, 0, logger, m)
	if err != nil {
		return nil, err
	}
	if it.Next() {
		return it.Frame(), nil
	}
	if it.Err() != nil {
		return nil, it.Err()
	}
	frame, err := data.NewFrame[K](nil)
	if err != nil {
		return nil, err
	}
	for _, c := range it.cursors {
		if err := c.flush(frame); err != nil {
			return nil, err
		}
	}
	return frame, nil
}
