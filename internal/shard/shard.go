// Package shard describes a bounded slice of one column, as requested by
// remote peers that synchronize a dataset piece by piece, and the wire
// messages peers use to declare live datasets and write frames into them.
package shard

import (
	"fmt"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/validation"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldDatasetURL     protowire.Number = 1
	fieldModelID        protowire.Number = 2
	fieldColumnID       protowire.Number = 3
	fieldKeyType        protowire.Number = 4
	fieldValueType      protowire.Number = 5
	fieldStart          protowire.Number = 6
	fieldEnd            protowire.Number = 7
	fieldStartExclusive protowire.Number = 8
	fieldEndExclusive   protowire.Number = 9
)

// Shard names a key interval of one column. Start and End hold keys in the
// order preserving page id encoding; nil leaves that side unbounded.
type Shard struct {
	DatasetURL     string
	ModelID        string
	ColumnID       string
	KeyType        data.KeyType
	ValueType      data.ValueType
	Start          []byte
	End            []byte
	StartExclusive bool
	EndExclusive   bool
}

// New describes r over the given column
func New[K data.Key](datasetURL, modelID, columnID string, valueType data.ValueType, r data.Range[K]) (*Shard, error) {
	if err := validation.Default().ValidateColumnRef(datasetURL, modelID, columnID); err != nil {
		return nil, err
	}
	s := &Shard{
		DatasetURL:     datasetURL,
		ModelID:        modelID,
		ColumnID:       columnID,
		KeyType:        data.KeyTypeOf[K](),
		ValueType:      valueType,
		StartExclusive: r.StartExclusive,
		EndExclusive:   r.EndExclusive,
	}
	var err error
	if r.Start != nil {
		if s.Start, err = pageid.EncodeKey(*r.Start); err != nil {
			return nil, err
		}
	}
	if r.End != nil {
		if s.End, err = pageid.EncodeKey(*r.End); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Encode serializes s as a protobuf wire message
func (s *Shard) Encode() []byte {
	var b []byte
	b = appendString(b, fieldDatasetURL, s.DatasetURL)
	b = appendString(b, fieldModelID, s.ModelID)
	b = appendString(b, fieldColumnID, s.ColumnID)
	b = appendVarint(b, fieldKeyType, uint64(s.KeyType))
	b = appendVarint(b, fieldValueType, uint64(s.ValueType))
	if s.Start != nil {
		b = protowire.AppendTag(b, fieldStart, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Start)
	}
	if s.End != nil {
		b = protowire.AppendTag(b, fieldEnd, protowire.BytesType)
		b = protowire.AppendBytes(b, s.End)
	}
	if s.StartExclusive {
		b = appendVarint(b, fieldStartExclusive, 1)
	}
	if s.EndExclusive {
		b = appendVarint(b, fieldEndExclusive, 1)
	}
	return b
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Decode parses a shard written by Encode. Unknown fields are skipped.
func Decode(b []byte) (*Shard, error) {
	s := &Shard{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.CorruptedData("shard has a malformed tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldDatasetURL, fieldModelID, fieldColumnID, fieldStart, fieldEnd:
			if typ != protowire.BytesType {
				return nil, errors.CorruptedData(fmt.Sprintf("shard field %d has wire type %d", num, typ), nil)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.CorruptedData(fmt.Sprintf("shard field %d is malformed", num), protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldDatasetURL:
				s.DatasetURL = string(v)
			case fieldModelID:
				s.ModelID = string(v)
			case fieldColumnID:
				s.ColumnID = string(v)
			case fieldStart:
				s.Start = append([]byte{}, v...)
			case fieldEnd:
				s.End = append([]byte{}, v...)
			}
		case fieldKeyType, fieldValueType, fieldStartExclusive, fieldEndExclusive:
			if typ != protowire.VarintType {
				return nil, errors.CorruptedData(fmt.Sprintf("shard field %d has wire type %d", num, typ), nil)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.CorruptedData(fmt.Sprintf("shard field %d is malformed", num), protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldKeyType:
				s.KeyType = data.KeyType(v)
			case fieldValueType:
				s.ValueType = data.ValueType(v)
			case fieldStartExclusive:
				s.StartExclusive = v != 0
			case fieldEndExclusive:
				s.EndExclusive = v != 0
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.CorruptedData(fmt.Sprintf("shard field %d is malformed", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if err := validation.Default().ValidateColumnRef(s.DatasetURL, s.ModelID, s.ColumnID); err != nil {
		return nil, errors.CorruptedData("shard names an invalid column", err)
	}
	if s.KeyType == data.KeyUnknown || s.ValueType == data.ValueUnknown {
		return nil, errors.CorruptedData("shard has an unknown key or value type", nil)
	}
	return s, nil
}

// ToRange decodes the shard bounds as keys of type K
func ToRange[K data.Key](s *Shard) (data.Range[K], error) {
	if kt := data.KeyTypeOf[K](); kt != s.KeyType {
		return data.Range[K]{}, errors.TypeMismatch("shard key", s.KeyType.String(), kt.String())
	}
	r := data.Range[K]{StartExclusive: s.StartExclusive, EndExclusive: s.EndExclusive}
	if s.Start != nil {
		k, err := pageid.DecodeKey[K](s.Start)
		if err != nil {
			return r, errors.CorruptedData("shard start key is malformed", err)
		}
		r.Start = &k
	}
	if s.End != nil {
		k, err := pageid.DecodeKey[K](s.End)
		if err != nil {
			return r, errors.CorruptedData("shard end key is malformed", err)
		}
		r.End = &k
	}
	return r, nil
}

func (s *Shard) String() string {
	return fmt.Sprintf("%s/%s/%s %s", s.DatasetURL, s.ModelID, s.ColumnID, data.VectorType{Key: s.KeyType, Value: s.ValueType})
}
