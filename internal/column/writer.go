package column

import (
	"fmt"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/store"
	"go.uber.org/zap"
)

// IndexedColumnWriter merge-writes an Indexed column. Each SetValues call
// replaces every page overlapping the incoming keys with freshly merged
// pages in one transaction.
type IndexedColumnWriter[K data.Key, V data.Value] struct {
	*IndexedColumn[K, V]
	store       store.PageStore
	maxPageRows int
}

// NewIndexedColumnWriter creates a writer for ref over st
func NewIndexedColumnWriter[K data.Key, V data.Value](st store.PageStore, ref Ref, cfg config.ColumnConfig, logger *zap.Logger, m *metrics.Metrics) *IndexedColumnWriter[K, V] {
	return &IndexedColumnWriter[K, V]{
		IndexedColumn: NewIndexedColumn[K, V](st, ref, logger, m),
		store:         st,
		maxPageRows:   cfg.MaxPageRows,
	}
}

// SetValues merges incoming into the column. Incoming datums win over
// stored datums with the same key. Nothing is persisted on failure.
func (w *IndexedColumnWriter[K, V]) SetValues(incoming *data.Vector[K, V]) error {
	start := time.Now()
	if incoming.IsEmpty() {
		return nil
	}
	for i := 1; i < incoming.Size(); i++ {
		if data.CompareKeys(incoming.Key(i-1), incoming.Key(i)) == 0 {
			return errors.InvalidArgument(
				fmt.Sprintf("column %s: indexed write has duplicate key at row %d", w.ref.ColumnID, i), nil)
		}
	}
	incoming = incoming.WithColumnID(w.ref.ColumnID)

	current, oldIDs, err := w.gather(incoming)
	if err != nil {
		return err
	}
	merged, err := mergeVectors(w.ref.ColumnID, current, incoming)
	if err != nil {
		return err
	}

	pages, err := w.buildPages(merged)
	if err != nil {
		return err
	}
	if err := w.commit(oldIDs, pages); err != nil {
		return err
	}

	w.metrics.RecordMergeWrite(time.Since(start).Seconds(), merged.Size(), len(oldIDs))
	w.logger.Debug("Merged column write",
		zap.String("dataset", w.ref.DatasetURL),
		zap.String("model", w.ref.ModelID),
		zap.String("column", w.ref.ColumnID),
		zap.Int("incoming_rows", incoming.Size()),
		zap.Int("merged_rows", merged.Size()),
		zap.Int("pages_removed", len(oldIDs)),
		zap.Int("pages_written", len(pages)))
	return nil
}

// gather loads the full content of every page whose key range intersects
// [smallest, largest] of incoming. The page covering smallest is always
// included even when none of its keys fall in the range, since its range
// extends up to the next page start.
func (w *IndexedColumnWriter[K, V]) gather(incoming *data.Vector[K, V]) (*data.Vector[K, V], []pageid.PageID, error) {
	smallest, _ := incoming.Smallest()
	largest, _ := incoming.Largest()

	p, err := w.pageAt(&smallest.Key, false)
	if errors.IsNotFound(err) {
		p, err = w.pageAt(nil, false)
		if err == nil && !startsAtOrBefore(p.ID(), largest.Key) {
			p, err = nil, errors.PageNotFound(p.ID().Bytes())
		}
	}
	if errors.IsNotFound(err) {
		return data.EmptyVector[K, V](w.ref.ColumnID), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		vectors []*data.Vector[K, V]
		ids     []pageid.PageID
	)
	for {
		vectors = append(vectors, p.Vector())
		ids = append(ids, p.ID())

		nextID, err := w.cache.GetPageIDAfter(p.ID(), true)
		if errors.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if !startsAtOrBefore(nextID, largest.Key) {
			break
		}
		if p, err = store.LoadIndexedPage[K, V](w.cache, nextID); err != nil {
			return nil, nil, err
		}
	}
	return data.Concat(w.ref.ColumnID, vectors...), ids, nil
}

// startsAtOrBefore reports whether the page id's start key is <= key
func startsAtOrBefore[K data.Key](id pageid.PageID, key K) bool {
	start, ok, err := pageid.DecodePageKey[K](id)
	if err != nil || !ok {
		return err == nil
	}
	return data.CompareKeys(start, key) <= 0
}

// mergeVectors is a two-pointer merge of two sorted, unique-key vectors.
// On equal keys the incoming datum replaces the current one.
func mergeVectors[K data.Key, V data.Value](columnID string, current, incoming *data.Vector[K, V]) (*data.Vector[K, V], error) {
	n := current.Size() + incoming.Size()
	keys := make([]K, 0, n)
	values := make([]V, 0, n)
	fids := make([]data.Fidelity, 0, n)
	emit := func(v *data.Vector[K, V], i int) {
		keys = append(keys, v.Key(i))
		values = append(values, v.Value(i))
		fids = append(fids, v.Fidelity(i))
	}

	i, j := 0, 0
	for i < current.Size() && j < incoming.Size() {
		switch cmp := data.CompareKeys(current.Key(i), incoming.Key(j)); {
		case cmp < 0:
			emit(current, i)
			i++
		case cmp > 0:
			emit(incoming, j)
			j++
		default:
			emit(incoming, j)
			i++
			j++
		}
	}
	for ; i < current.Size(); i++ {
		emit(current, i)
	}
	for ; j < incoming.Size(); j++ {
		emit(incoming, j)
	}

	merged, err := data.NewIndexedVector(columnID, keys, values, fids)
	if err != nil {
		return nil, errors.NewStorageError(errors.ErrCodeInvariant,
			fmt.Sprintf("column %s: stored pages overlap", columnID), err)
	}
	return merged, nil
}

type encodedPage struct {
	id  pageid.PageID
	buf []byte
}

// buildPages serializes merged, split into runs of at most maxPageRows
func (w *IndexedColumnWriter[K, V]) buildPages(merged *data.Vector[K, V]) ([]encodedPage, error) {
	step := merged.Size()
	if w.maxPageRows > 0 && w.maxPageRows < step {
		step = w.maxPageRows
	}
	var out []encodedPage
	for from := 0; from < merged.Size(); from += step {
		to := from + step
		if to > merged.Size() {
			to = merged.Size()
		}
		p, err := page.NewIndexedPage(w.ref.DatasetURL, w.ref.ModelID, merged.SliceRows(from, to))
		if err != nil {
			return nil, err
		}
		buf, err := p.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, encodedPage{id: p.ID(), buf: buf})
	}
	return out, nil
}

func (w *IndexedColumnWriter[K, V]) commit(oldIDs []pageid.PageID, pages []encodedPage) (err error) {
	tx, err := w.store.StartTransaction()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Abort()
		}
	}()

	for _, id := range oldIDs {
		if err = tx.RemovePage(id); err != nil {
			return err
		}
	}
	for _, p := range pages {
		if err = tx.WritePage(p.id, p.buf); err != nil {
			return err
		}
	}
	err = tx.Apply()
	w.metrics.RecordTransaction(err)
	return err
}
