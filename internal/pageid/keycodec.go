package pageid

import (
	"encoding/binary"
	"math"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/validation"
)

// Key encodings are order preserving: for keys a < b of one type,
// EncodeKey(a) < EncodeKey(b) byte-lexicographically. Every real key encodes
// to at least one byte so the empty "no key" sentinel sorts first.

const (
	categoryMarker    = 0x01
	segmentEscape     = 0x00
	segmentEscapedNul = 0xFF
	segmentTerminator = 0x01
)

// EncodeKey serializes k with the order preserving encoding for its type
func EncodeKey[K data.Key](k K) ([]byte, error) {
	switch v := any(k).(type) {
	case int64:
		return encodeInt64(v), nil
	case float64:
		return encodeDouble(v)
	case data.Category:
		return encodeCategory(v)
	}
	return nil, errors.InvalidArgument("unsupported key type", nil)
}

// DecodeKey is the inverse of EncodeKey
func DecodeKey[K data.Key](b []byte) (K, error) {
	var zero K
	switch any(zero).(type) {
	case int64:
		v, err := decodeInt64(b)
		return any(v).(K), err
	case float64:
		v, err := decodeDouble(b)
		return any(v).(K), err
	case data.Category:
		v, err := decodeCategory(b)
		return any(v).(K), err
	}
	return zero, errors.InvalidArgument("unsupported key type", nil)
}

func encodeInt64(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v)^(1<<63))
	return out
}

func decodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, errors.CorruptedData("int64 key must be 8 bytes", nil)
	}
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63)), nil
}

func encodeDouble(v float64) ([]byte, error) {
	if math.IsNaN(v) {
		return nil, errors.InvalidArgument("double key cannot be NaN", nil)
	}
	if v == 0 {
		v = 0 // folds -0 into +0
	}
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, bits)
	return out, nil
}

func decodeDouble(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, errors.CorruptedData("double key must be 8 bytes", nil)
	}
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

func encodeCategory(c data.Category) ([]byte, error) {
	size := 1
	for _, seg := range c {
		if err := validation.Default().ValidateSegment(seg); err != nil {
			return nil, err
		}
		size += len(seg) + 2
	}
	out := make([]byte, 0, size)
	out = append(out, categoryMarker)
	for _, seg := range c {
		for i := 0; i < len(seg); i++ {
			if seg[i] == segmentEscape {
				out = append(out, segmentEscape, segmentEscapedNul)
			} else {
				out = append(out, seg[i])
			}
		}
		out = append(out, segmentEscape, segmentTerminator)
	}
	return out, nil
}

func decodeCategory(b []byte) (data.Category, error) {
	if len(b) == 0 || b[0] != categoryMarker {
		return nil, errors.CorruptedData("category key is missing its marker byte", nil)
	}
	out := data.Category{}
	seg := make([]byte, 0, 16)
	for i := 1; i < len(b); i++ {
		if b[i] != segmentEscape {
			seg = append(seg, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, errors.CorruptedData("category key ends inside an escape", nil)
		}
		i++
		switch b[i] {
		case segmentEscapedNul:
			seg = append(seg, 0)
		case segmentTerminator:
			out = append(out, string(seg))
			seg = seg[:0]
		default:
			return nil, errors.CorruptedData("category key has an invalid escape", nil)
		}
	}
	if len(seg) != 0 {
		return nil, errors.CorruptedData("category key has an unterminated segment", nil)
	}
	return out, nil
}
