package store

import (
	"strings"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
)

// PageCache is the read contract shared by every page backend.
//
// GetPageIDBefore with exclusive=false returns id itself when it exists,
// otherwise the nearest smaller id of the same column. GetPageIDAfter
// mirrors it. A missing page is reported as a PageNotFound error, which
// callers tell apart from backend failures with errors.IsNotFound.
type PageCache interface {
	IsEmpty() (bool, error)
	GetPageIDBefore(id pageid.PageID, exclusive bool) (pageid.PageID, error)
	GetPageIDAfter(id pageid.PageID, exclusive bool) (pageid.PageID, error)
	GetPageData(id pageid.PageID) ([]byte, error)
	PageExists(id pageid.PageID) (bool, error)
}

// PageStore is a PageCache that can be modified through transactions
type PageStore interface {
	PageCache
	StartTransaction() (Transaction, error)
}

// Transaction batches page removals and writes. Apply makes all of them
// visible at once or none of them; Abort discards the batch. A transaction
// is finished after either call.
type Transaction interface {
	RemovePage(id pageid.PageID) error
	WritePage(id pageid.PageID, buf []byte) error
	Apply() error
	Abort()
}

// SearchID builds the id used to seek the page holding key. A nil key
// seeks the "no data" sentinel, which sorts before every page.
func SearchID[K data.Key, V data.Value](datasetURL, modelID, columnID string, key *K) (pageid.PageID, error) {
	return pageid.Create(datasetURL, modelID, columnID, data.ValueTypeOf[V](), data.CollationIndexed, key)
}

// GetIndexedPage returns the page holding key. With exclusive=false this is
// the page whose start key is the nearest at or below key; with
// exclusive=true it is the page strictly after the one starting at key.
// A nil key seeks the first page of the column.
func GetIndexedPage[K data.Key, V data.Value](cache PageCache, datasetURL, modelID, columnID string, key *K, exclusive bool) (*page.IndexedPage[K, V], error) {
	search, err := SearchID[K, V](datasetURL, modelID, columnID, key)
	if err != nil {
		return nil, err
	}

	var id pageid.PageID
	switch {
	case key == nil:
		id, err = cache.GetPageIDAfter(search, false)
	case exclusive:
		id, err = cache.GetPageIDAfter(search, true)
	default:
		id, err = cache.GetPageIDBefore(search, false)
	}
	if err != nil {
		return nil, err
	}
	return LoadIndexedPage[K, V](cache, id)
}

// GetFirstPage returns the first page of a column
func GetFirstPage[K data.Key, V data.Value](cache PageCache, datasetURL, modelID, columnID string) (*page.IndexedPage[K, V], error) {
	return GetIndexedPage[K, V](cache, datasetURL, modelID, columnID, nil, false)
}

// LoadIndexedPage fetches and decodes the page stored under id
func LoadIndexedPage[K data.Key, V data.Value](cache PageCache, id pageid.PageID) (*page.IndexedPage[K, V], error) {
	buf, err := cache.GetPageData(id)
	if err != nil {
		return nil, err
	}
	return page.DecodeIndexedPage[K, V](id, buf)
}

// CheckNeighbour validates a before/after lookup result: found must sit on
// the requested side of id and belong to the same column. Backends call it
// so a seek never wanders into another column's pages.
func CheckNeighbour(id pageid.PageID, found string, before, exclusive bool) (pageid.PageID, error) {
	cmp := strings.Compare(found, id.Bytes())
	switch {
	case cmp == 0 && exclusive:
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	case before && cmp > 0, !before && cmp < 0:
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	if len(found) < len(id.ColumnPrefix()) || found[:len(id.ColumnPrefix())] != id.ColumnPrefix() {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return pageid.FromString(found)
}
