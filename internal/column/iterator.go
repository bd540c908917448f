package column

import (
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/pageid"
)

// Iterator walks datums across the vectors returned by a range read.
//
//	for it.Next() {
//		d := it.Datum()
//	}
type Iterator[K data.Key, V data.Value] struct {
	vectors []*data.Vector[K, V]
	pageIDs []pageid.PageID
	vec     int
	row     int
}

func newIterator[K data.Key, V data.Value](vectors []*data.Vector[K, V], ids []pageid.PageID) *Iterator[K, V] {
	return &Iterator[K, V]{vectors: vectors, pageIDs: ids, row: -1}
}

// Next advances to the next datum and reports whether one exists
func (it *Iterator[K, V]) Next() bool {
	for it.vec < len(it.vectors) {
		if it.row+1 < it.vectors[it.vec].Size() {
			it.row++
			return true
		}
		it.vec++
		it.row = -1
	}
	return false
}

func (it *Iterator[K, V]) Datum() data.Datum[K, V] { return it.vectors[it.vec].Datum(it.row) }

func (it *Iterator[K, V]) Key() K { return it.vectors[it.vec].Key(it.row) }

func (it *Iterator[K, V]) Value() V { return it.vectors[it.vec].Value(it.row) }

func (it *Iterator[K, V]) Fidelity() data.Fidelity { return it.vectors[it.vec].Fidelity(it.row) }

// PageIDs returns the ids of the pages the range touched
func (it *Iterator[K, V]) PageIDs() []pageid.PageID { return it.pageIDs }

// Vectors returns the per-page slices backing the iterator
func (it *Iterator[K, V]) Vectors() []*data.Vector[K, V] { return it.vectors }

// Len is the total number of datums, independent of position
func (it *Iterator[K, V]) Len() int {
	var n int
	for _, v := range it.vectors {
		n += v.Size()
	}
	return n
}

// Collect concatenates every slice into one vector
func (it *Iterator[K, V]) Collect(columnID string) *data.Vector[K, V] {
	return data.Concat(columnID, it.vectors...)
}
