package shard

import (
	"testing"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

const testURL = "dev.groove://test/shards"

func TestRangeSurvivesEncoding(t *testing.T) {
	tests := []struct {
		name string
		r    data.Range[int64]
	}{
		{"unbounded", data.All[int64]()},
		{"closed", data.Closed[int64](-5, 5)},
		{"half open", data.HalfOpen[int64](0, 100)},
		{"from", data.From[int64](42)},
		{"until", data.Until[int64](-1)},
		{"exclusive start", data.Range[int64]{Start: ptr(int64(3)), StartExclusive: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(testURL, "prices", "close", data.ValueDouble, tt.r)
			require.NoError(t, err)

			decoded, err := Decode(s.Encode())
			require.NoError(t, err)
			assert.Equal(t, testURL, decoded.DatasetURL)
			assert.Equal(t, "prices", decoded.ModelID)
			assert.Equal(t, "close", decoded.ColumnID)
			assert.Equal(t, data.KeyInt64, decoded.KeyType)
			assert.Equal(t, data.ValueDouble, decoded.ValueType)

			r, err := ToRange[int64](decoded)
			require.NoError(t, err)
			assert.Equal(t, tt.r, r)
		})
	}
}

func TestCategoryShard(t *testing.T) {
	r := data.Closed(data.NewCategory("a"), data.NewCategory("b", "c"))
	s, err := New(testURL, "tags", "count", data.ValueInt64, r)
	require.NoError(t, err)

	decoded, err := Decode(s.Encode())
	require.NoError(t, err)
	got, err := ToRange[data.Category](decoded)
	require.NoError(t, err)
	assert.True(t, got.Start.Equal(data.NewCategory("a")))
	assert.True(t, got.End.Equal(data.NewCategory("b", "c")))

	_, err = ToRange[int64](decoded)
	assert.Equal(t, errors.ErrCodeTypeMismatch, errors.GetCode(err))
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	s, err := New(testURL, "prices", "close", data.ValueDouble, data.From[int64](1))
	require.NoError(t, err)
	b := s.Encode()
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, s.Start, decoded.Start)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	good, err := New(testURL, "prices", "close", data.ValueDouble, data.All[int64]())
	require.NoError(t, err)

	wrongType := protowire.AppendTag(nil, fieldDatasetURL, protowire.VarintType)
	wrongType = protowire.AppendVarint(wrongType, 1)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated", good.Encode()[:5]},
		{"wrong wire type", wrongType},
		{"missing types", (&Shard{DatasetURL: testURL, ModelID: "m", ColumnID: "c"}).Encode()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf)
			assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
		})
	}

	_, err = New("", "prices", "close", data.ValueDouble, data.All[int64]())
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
}

func ptr[T any](v T) *T { return &v }

func TestPutRequest(t *testing.T) {
	f, err := data.NewFrame([]int64{1, 2})
	require.NoError(t, err)
	require.NoError(t, data.AddColumn(f, "close", []float64{1.5, 2.5}, nil))

	req, err := NewPutRequest(testURL, "prices", f)
	require.NoError(t, err)
	decoded, err := DecodePutRequest(req.Encode())
	require.NoError(t, err)
	assert.Equal(t, "prices", decoded.ModelID)
	assert.Equal(t, req.Frame, decoded.Frame)

	_, err = NewPutRequest("not a url", "prices", f)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	noFrame := (&PutRequest{DatasetURL: testURL, ModelID: "prices"}).Encode()
	_, err = DecodePutRequest(noFrame)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	_, err = DecodePutRequest([]byte{0xff, 0xff})
	assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
}

func TestDeclareRequestAndColumnList(t *testing.T) {
	_, err := DecodeDeclareRequest((&DeclareRequest{DatasetURL: testURL}).Encode())
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	req, err := DecodeDeclareRequest((&DeclareRequest{DatasetURL: testURL, Schema: []byte("blob")}).Encode())
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), req.Schema)

	ids, err := DecodeColumnList(EncodeColumnList([]string{"wind", "rain"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"wind", "rain"}, ids)

	ids, err = DecodeColumnList(nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
