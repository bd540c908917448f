package shard

import (
	"fmt"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/validation"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldDeclareURL    protowire.Number = 1
	fieldDeclareSchema protowire.Number = 2

	fieldPutURL   protowire.Number = 1
	fieldPutModel protowire.Number = 2
	fieldPutFrame protowire.Number = 3

	fieldFailedColumn protowire.Number = 1
)

// DeclareRequest asks a node to declare a live dataset. Schema is a blob
// carrying the schema identifier.
type DeclareRequest struct {
	DatasetURL string
	Schema     []byte
}

func (r *DeclareRequest) Encode() []byte {
	var b []byte
	b = appendString(b, fieldDeclareURL, r.DatasetURL)
	b = protowire.AppendTag(b, fieldDeclareSchema, protowire.BytesType)
	return protowire.AppendBytes(b, r.Schema)
}

func DecodeDeclareRequest(b []byte) (*DeclareRequest, error) {
	r := &DeclareRequest{}
	err := consumeBytesFields(b, "declare request", func(num protowire.Number, v []byte) {
		switch num {
		case fieldDeclareURL:
			r.DatasetURL = string(v)
		case fieldDeclareSchema:
			r.Schema = append([]byte{}, v...)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := validation.Default().ValidateDatasetURL(r.DatasetURL); err != nil {
		return nil, err
	}
	if len(r.Schema) == 0 {
		return nil, errors.InvalidArgument("declare request has no schema", nil)
	}
	return r, nil
}

// PutRequest carries one frame for a model of a live dataset. Frame is an
// encoded page table.
type PutRequest struct {
	DatasetURL string
	ModelID    string
	Frame      []byte
}

// NewPutRequest encodes f for modelID of datasetURL
func NewPutRequest[K data.Key](datasetURL, modelID string, f *data.Frame[K]) (*PutRequest, error) {
	v := validation.Default()
	if err := v.ValidateDatasetURL(datasetURL); err != nil {
		return nil, err
	}
	if err := v.ValidateIdentifier("model id", modelID); err != nil {
		return nil, err
	}
	buf, err := page.EncodeFrame(f)
	if err != nil {
		return nil, err
	}
	return &PutRequest{DatasetURL: datasetURL, ModelID: modelID, Frame: buf}, nil
}

func (r *PutRequest) Encode() []byte {
	var b []byte
	b = appendString(b, fieldPutURL, r.DatasetURL)
	b = appendString(b, fieldPutModel, r.ModelID)
	b = protowire.AppendTag(b, fieldPutFrame, protowire.BytesType)
	return protowire.AppendBytes(b, r.Frame)
}

func DecodePutRequest(b []byte) (*PutRequest, error) {
	r := &PutRequest{}
	err := consumeBytesFields(b, "put request", func(num protowire.Number, v []byte) {
		switch num {
		case fieldPutURL:
			r.DatasetURL = string(v)
		case fieldPutModel:
			r.ModelID = string(v)
		case fieldPutFrame:
			r.Frame = append([]byte{}, v...)
		}
	})
	if err != nil {
		return nil, err
	}
	v := validation.Default()
	if err := v.ValidateDatasetURL(r.DatasetURL); err != nil {
		return nil, err
	}
	if err := v.ValidateIdentifier("model id", r.ModelID); err != nil {
		return nil, err
	}
	if len(r.Frame) == 0 {
		return nil, errors.InvalidArgument("put request has no frame", nil)
	}
	return r, nil
}

// EncodeColumnList writes the column ids a put skipped
func EncodeColumnList(ids []string) []byte {
	var b []byte
	for _, id := range ids {
		b = appendString(b, fieldFailedColumn, id)
	}
	return b
}

func DecodeColumnList(b []byte) ([]string, error) {
	var ids []string
	err := consumeBytesFields(b, "column list", func(num protowire.Number, v []byte) {
		if num == fieldFailedColumn {
			ids = append(ids, string(v))
		}
	})
	return ids, err
}

// consumeBytesFields hands every length delimited field of b to fn and
// skips the rest
func consumeBytesFields(b []byte, what string, fn func(protowire.Number, []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.CorruptedData(what+" has a malformed tag", protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.CorruptedData(fmt.Sprintf("%s field %d is malformed", what, num), protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return errors.CorruptedData(fmt.Sprintf("%s field %d is malformed", what, num), protowire.ParseError(n))
		}
		b = b[n:]
		fn(num, v)
	}
	return nil
}
