package schema

import (
	"fmt"

	"github.com/devrev/groove/internal/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Identifier prefixes a standalone schema blob
const Identifier = "GMS1"

// Version is the blob layout written by this package
const Version = 1

// Field numbers of the schema message
const (
	fieldVersion   protowire.Number = 1
	fieldNamespace protowire.Number = 2
	fieldAttr      protowire.Number = 3
	fieldColumn    protowire.Number = 4
	fieldModel     protowire.Number = 5
)

// Namespace message
const (
	nsURL protowire.Number = 1
)

// Attr message
const (
	attrNamespace protowire.Number = 1
	attrType      protowire.Number = 2
	attrKind      protowire.Number = 3
	attrBits      protowire.Number = 4
	attrString    protowire.Number = 5
)

// Column message
const (
	colID        protowire.Number = 1
	colValueType protowire.Number = 2
	colPolicy    protowire.Number = 3
	colAttr      protowire.Number = 4
)

// Model message
const (
	modelID        protowire.Number = 1
	modelKeyType   protowire.Number = 2
	modelCollation protowire.Number = 3
	modelColumn    protowire.Number = 4
	modelAttr      protowire.Number = 5
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func encodeState(s *State) []byte {
	b := appendVarintField(nil, fieldVersion, Version)

	for _, ns := range s.namespaces {
		b = appendMessageField(b, fieldNamespace, appendStringField(nil, nsURL, ns.url))
	}
	for _, a := range s.attrs {
		var msg []byte
		msg = appendVarintField(msg, attrNamespace, uint64(a.nsIndex))
		msg = appendVarintField(msg, attrType, uint64(a.id.Type))
		msg = appendVarintField(msg, attrKind, uint64(a.value.kind))
		if a.value.kind == AttrString {
			msg = appendStringField(msg, attrString, a.value.str)
		} else if a.value.kind != AttrNil {
			msg = protowire.AppendTag(msg, attrBits, protowire.Fixed64Type)
			msg = protowire.AppendFixed64(msg, a.value.bits)
		}
		b = appendMessageField(b, fieldAttr, msg)
	}
	for _, c := range s.columns {
		var msg []byte
		msg = appendStringField(msg, colID, c.id)
		msg = appendVarintField(msg, colValueType, uint64(c.valueType))
		msg = appendVarintField(msg, colPolicy, uint64(c.policy))
		for _, a := range c.attrs {
			msg = appendVarintField(msg, colAttr, uint64(a.address))
		}
		b = appendMessageField(b, fieldColumn, msg)
	}
	for _, m := range s.models {
		var msg []byte
		msg = appendStringField(msg, modelID, m.id)
		msg = appendVarintField(msg, modelKeyType, uint64(m.keyType))
		msg = appendVarintField(msg, modelCollation, uint64(m.collation))
		for _, c := range m.columns {
			msg = appendVarintField(msg, modelColumn, uint64(c.address))
		}
		for _, a := range m.attrs {
			msg = appendVarintField(msg, modelAttr, uint64(a.address))
		}
		b = appendMessageField(b, fieldModel, msg)
	}
	return b
}

// field is one decoded protowire field. Varint and fixed64 values land in
// num; bytes values in raw.
type field struct {
	number protowire.Number
	typ    protowire.Type
	num    uint64
	raw    []byte
}

// scan calls fn for every field of msg in order
func scan(msg []byte, fn func(f field) error) error {
	for len(msg) > 0 {
		number, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return corrupt("malformed tag", protowire.ParseError(n))
		}
		msg = msg[n:]

		f := field{number: number, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.num, n = protowire.ConsumeVarint(msg)
		case protowire.Fixed64Type:
			f.num, n = protowire.ConsumeFixed64(msg)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(number, typ, msg)
		}
		if n < 0 {
			return corrupt(fmt.Sprintf("malformed field %d", number), protowire.ParseError(n))
		}
		msg = msg[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// lookup returns the first field numbered number
func lookup(msg []byte, number protowire.Number) (field, bool) {
	var (
		found field
		ok    bool
	)
	_ = scan(msg, func(f field) error {
		if f.number == number && !ok {
			found, ok = f, true
		}
		return nil
	})
	return found, ok
}

// repeated returns the varint values of every field numbered number
func repeated(msg []byte, number protowire.Number) []uint32 {
	var out []uint32
	_ = scan(msg, func(f field) error {
		if f.number == number && f.typ == protowire.VarintType {
			out = append(out, uint32(f.num))
		}
		return nil
	})
	return out
}

func corrupt(msg string, cause error) error {
	return errors.CorruptedData("schema: "+msg, cause)
}
