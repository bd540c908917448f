package page

import (
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/pageid"
)

// IndexedPage is a decoded page of an Indexed column: its id and the
// vector it stores. The id's key is always the vector's smallest key.
type IndexedPage[K data.Key, V data.Value] struct {
	id     pageid.PageID
	vector *data.Vector[K, V]
}

// NewIndexedPage derives the page id of vec from its smallest key. An empty
// vector gets the "no data" sentinel id.
func NewIndexedPage[K data.Key, V data.Value](datasetURL, modelID string, vec *data.Vector[K, V]) (*IndexedPage[K, V], error) {
	var key *K
	if smallest, ok := vec.Smallest(); ok {
		key = &smallest.Key
	}
	id, err := pageid.Create(datasetURL, modelID, vec.ColumnID(), data.ValueTypeOf[V](), data.CollationIndexed, key)
	if err != nil {
		return nil, err
	}
	return &IndexedPage[K, V]{id: id, vector: vec}, nil
}

// DecodeIndexedPage decodes stored page bytes addressed by id
func DecodeIndexedPage[K data.Key, V data.Value](id pageid.PageID, buf []byte) (*IndexedPage[K, V], error) {
	if id.Collation() != data.CollationIndexed {
		return nil, errors.TypeMismatch("page collation", data.CollationIndexed.String(), id.Collation().String())
	}
	if want := data.ValueTypeOf[V](); id.ValueType() != want {
		return nil, errors.TypeMismatch("page value", want.String(), id.ValueType().String())
	}
	vec, err := DecodeVector[K, V](buf, id.ColumnID())
	if err != nil {
		return nil, errors.CorruptedData("failed to decode page "+id.String(), err)
	}
	return &IndexedPage[K, V]{id: id, vector: vec}, nil
}

func (p *IndexedPage[K, V]) ID() pageid.PageID { return p.id }

func (p *IndexedPage[K, V]) Vector() *data.Vector[K, V] { return p.vector }

// Encode serializes the page vector
func (p *IndexedPage[K, V]) Encode() ([]byte, error) {
	return EncodeVector(p.vector)
}
