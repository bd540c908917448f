package schema

import (
	"testing"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

const testNamespace = "dev.groove://ns/test"

func buildState(t *testing.T) *State {
	t.Helper()
	s := NewState()

	m, err := s.PutModel("prices", data.KeyInt64, data.CollationIndexed)
	require.NoError(t, err)
	closeCol, err := m.AddColumn("close", data.ValueDouble, PolicyOnlyValidValue)
	require.NoError(t, err)
	_, err = m.AddColumn("ticker", data.ValueString, PolicyAnyFidelityAllowed)
	require.NoError(t, err)

	unit, err := s.AppendAttr(AttrID{Namespace: testNamespace, Type: 1}, StringValue("usd"))
	require.NoError(t, err)
	require.NoError(t, closeCol.PutAttr(unit))
	scale, err := s.AppendAttr(AttrID{Namespace: testNamespace, Type: 2}, Float64Value(0.01))
	require.NoError(t, err)
	require.NoError(t, m.PutAttr(scale))

	_, err = s.PutModel("tags", data.KeyCategory, data.CollationSorted)
	require.NoError(t, err)
	return s
}

func TestSchemaRoundTrip(t *testing.T) {
	s := buildState(t)
	for _, noIdentifier := range []bool{false, true} {
		sch, err := s.ToSchema(noIdentifier)
		require.NoError(t, err)
		assert.Equal(t, !noIdentifier, sch.HasIdentifier())

		var reparsed *Schema
		if noIdentifier {
			reparsed, err = ParseEmbedded(sch.Bytes())
		} else {
			reparsed, err = Parse(sch.Bytes())
		}
		require.NoError(t, err)
		assert.Equal(t, sch.Embedded(), reparsed.Embedded())

		standalone, err := Parse(sch.Standalone())
		require.NoError(t, err)
		assert.Equal(t, sch.Embedded(), standalone.Embedded())

		w := reparsed.Walker()
		assert.Equal(t, []string{"prices", "tags"}, w.ModelIDs())
		assert.Equal(t, 1, w.NumNamespaces())
		assert.Equal(t, testNamespace, w.Namespace(0).URL())

		prices := w.FindModel("prices")
		require.True(t, prices.IsValid())
		assert.Equal(t, data.KeyInt64, prices.KeyType())
		assert.Equal(t, data.CollationIndexed, prices.Collation())
		assert.Equal(t, 2, prices.NumColumns())
		assert.Equal(t, "close", prices.Column(0).ID())
		assert.Equal(t, "ticker", prices.Column(1).ID())
		assert.False(t, prices.Column(2).IsValid())

		closeCol := prices.FindColumn("close")
		require.True(t, closeCol.IsValid())
		assert.Equal(t, data.ValueDouble, closeCol.ValueType())
		assert.Equal(t, PolicyOnlyValidValue, closeCol.FidelityPolicy())
		unit := closeCol.FindAttr(AttrID{Namespace: testNamespace, Type: 1})
		require.True(t, unit.IsValid())
		assert.Equal(t, "usd", unit.Value().StringValue())

		scale := prices.FindAttr(AttrID{Namespace: testNamespace, Type: 2})
		require.True(t, scale.IsValid())
		assert.Equal(t, 0.01, scale.Value().Float64())
		assert.False(t, prices.FindAttr(AttrID{Namespace: testNamespace, Type: 9}).IsValid())

		tags := w.FindModel("tags")
		assert.Equal(t, data.KeyCategory, tags.KeyType())
		assert.Equal(t, 0, tags.NumColumns())
		assert.False(t, w.FindModel("missing").IsValid())
	}
}

func TestAttrValues(t *testing.T) {
	values := []AttrValue{
		NilValue(),
		BoolValue(true),
		BoolValue(false),
		Int64Value(-42),
		Float64Value(3.5),
		UInt64Value(1 << 63),
		UInt32Value(7),
		UInt16Value(65535),
		UInt8Value(255),
		StringValue("hello"),
	}

	s := NewState()
	m, err := s.PutModel("m", data.KeyInt64, data.CollationIndexed)
	require.NoError(t, err)
	for i, v := range values {
		a, err := s.AppendAttr(AttrID{Namespace: testNamespace, Type: uint32(i)}, v)
		require.NoError(t, err)
		require.NoError(t, m.PutAttr(a))
	}

	sch, err := s.ToSchema(false)
	require.NoError(t, err)
	model := sch.Walker().FindModel("m")
	require.Equal(t, len(values), model.NumAttrs())
	for i, want := range values {
		got := model.Attr(i).Value()
		assert.True(t, want.Equal(got), "attr %d: want %s got %s", i, want, got)
		assert.Equal(t, want.Kind(), got.Kind())
	}
	assert.Equal(t, int64(-42), model.Attr(3).Value().Int64())
	assert.Equal(t, uint16(65535), model.Attr(7).Value().UInt16())
}

func TestBuilderDuplicates(t *testing.T) {
	s := NewState()
	ns1, err := s.PutNamespace(testNamespace)
	require.NoError(t, err)
	ns2, err := s.PutNamespace(testNamespace)
	require.NoError(t, err)
	assert.Same(t, ns1, ns2)
	assert.Equal(t, 1, s.NumNamespaces())

	m, err := s.PutModel("m", data.KeyInt64, data.CollationIndexed)
	require.NoError(t, err)
	_, err = s.PutModel("m", data.KeyDouble, data.CollationIndexed)
	assert.Equal(t, errors.ErrCodeAlreadyExists, errors.GetCode(err))

	_, err = m.AddColumn("c", data.ValueInt64, PolicyOnlyValidValue)
	require.NoError(t, err)
	_, err = m.AddColumn("c", data.ValueDouble, PolicyOnlyValidValue)
	assert.Equal(t, errors.ErrCodeAlreadyExists, errors.GetCode(err))

	a, err := s.AppendAttr(AttrID{Namespace: testNamespace, Type: 1}, BoolValue(true))
	require.NoError(t, err)
	b, err := s.AppendAttr(AttrID{Namespace: testNamespace, Type: 1}, BoolValue(false))
	require.NoError(t, err)
	require.NoError(t, m.PutAttr(a))
	assert.Equal(t, errors.ErrCodeAlreadyExists, errors.GetCode(m.PutAttr(b)))
}

func TestBuilderRejectsInvalidDeclarations(t *testing.T) {
	s := NewState()
	tests := []struct {
		name string
		fn   func() error
	}{
		{"empty model id", func() error {
			_, err := s.PutModel("", data.KeyInt64, data.CollationIndexed)
			return err
		}},
		{"unknown key type", func() error {
			_, err := s.PutModel("m1", data.KeyUnknown, data.CollationIndexed)
			return err
		}},
		{"unknown collation", func() error {
			_, err := s.PutModel("m2", data.KeyInt64, data.CollationUnknown)
			return err
		}},
		{"unknown value type", func() error {
			_, err := s.AppendColumn("c", data.ValueUnknown, PolicyOnlyValidValue)
			return err
		}},
		{"invalid policy", func() error {
			_, err := s.AppendColumn("c", data.ValueInt64, PolicyInvalid)
			return err
		}},
		{"relative namespace", func() error {
			_, err := s.PutNamespace("not-a-url")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
		})
	}
}

func TestParseRejectsCorruptBlobs(t *testing.T) {
	sch, err := buildState(t).ToSchema(false)
	require.NoError(t, err)
	blob := sch.Bytes()

	badVersion := append([]byte(Identifier), protowire.AppendTag(nil, fieldVersion, protowire.VarintType)...)
	badVersion = protowire.AppendVarint(badVersion, 9)

	danglingColumn := appendVarintField(nil, fieldVersion, Version)
	model := appendStringField(nil, modelID, "m")
	model = appendVarintField(model, modelKeyType, uint64(data.KeyInt64))
	model = appendVarintField(model, modelCollation, uint64(data.CollationIndexed))
	model = appendVarintField(model, modelColumn, 3)
	danglingColumn = appendMessageField(danglingColumn, fieldModel, model)

	tests := []struct {
		name  string
		blob  []byte
		embed bool
	}{
		{"missing identifier", blob[len(Identifier):], false},
		{"truncated", blob[:len(blob)-3], false},
		{"unsupported version", badVersion, false},
		{"dangling column reference", danglingColumn, true},
		{"empty", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.embed {
				_, err = ParseEmbedded(tt.blob)
			} else {
				_, err = Parse(tt.blob)
			}
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
		})
	}
}

func TestFidelityPolicy(t *testing.T) {
	tests := []struct {
		policy  FidelityPolicy
		allowed []data.Fidelity
		denied  []data.Fidelity
	}{
		{PolicyOnlyValidValue, []data.Fidelity{data.FidelityValid},
			[]data.Fidelity{data.FidelityNoData, data.FidelityMissing, data.FidelityApproximate}},
		{PolicyOnlyValidOrEmpty, []data.Fidelity{data.FidelityValid, data.FidelityNoData},
			[]data.Fidelity{data.FidelityMissing, data.FidelityInvalid}},
		{PolicyAnyFidelityAllowed, []data.Fidelity{data.FidelityValid, data.FidelityMissing, data.FidelityInvalid},
			[]data.Fidelity{data.FidelityUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			for _, f := range tt.allowed {
				assert.True(t, tt.policy.Allows(f), "%s", f)
			}
			for _, f := range tt.denied {
				assert.False(t, tt.policy.Allows(f), "%s", f)
			}
		})
	}
}
