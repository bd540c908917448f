package page

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/util"
)

// Table layout (little-endian), followed by a CRC32 trailer:
//
//	"GPT1" | version u8 | numRows u32 | numFields u16 | field*
//	field: role u8 | type u8 | nameLen u16 | name | dataLen u32 | data
//
// A table has exactly one key field. Every value column contributes a value
// field and a fidelity field that share the column id as their name. The
// same layout stores a single kv page and a multi-column dataset frame.
const (
	tableMagic   = "GPT1"
	TableVersion = 1
	headerSize   = 4 + 1 + 4 + 2
)

// Role tags a field of a table
type Role uint8

const (
	RoleKey      Role = 1
	RoleValue    Role = 2
	RoleFidelity Role = 3
)

// Field is one column of a decoded table. Data aliases the source buffer.
type Field struct {
	Role Role
	Type uint8
	Name string
	Data []byte
}

// Table is a decoded, still unmaterialized page table
type Table struct {
	numRows int
	fields  []Field
	key     int
}

// ColumnInfo describes one value column stored in a table
type ColumnInfo struct {
	ID        string
	ValueType data.ValueType
}

// EncodeVector serializes a single-column page
func EncodeVector[K data.Key, V data.Value](v *data.Vector[K, V]) ([]byte, error) {
	if v.ColumnID() == "" {
		return nil, errors.InvalidArgument("page vector has no column id", nil)
	}
	enc := newTableEncoder(v.Size(), 3)
	if err := enc.addKeys(v.Keys()); err != nil {
		return nil, err
	}
	addValueColumn(enc, v)
	return enc.finish(), nil
}

// EncodeFrame serializes every column of f into one table
func EncodeFrame[K data.Key](f *data.Frame[K]) ([]byte, error) {
	ids := f.ColumnIDs()
	enc := newTableEncoder(f.NumRows(), 1+2*len(ids))
	if err := enc.addKeys(f.Keys()); err != nil {
		return nil, err
	}
	for _, id := range ids {
		vec, _ := f.Vector(id)
		switch vec.ValueType() {
		case data.ValueDouble:
			typed, err := data.FrameColumn[K, float64](f, id)
			if err != nil {
				return nil, err
			}
			addValueColumn(enc, typed)
		case data.ValueInt64:
			typed, err := data.FrameColumn[K, int64](f, id)
			if err != nil {
				return nil, err
			}
			addValueColumn(enc, typed)
		case data.ValueString:
			typed, err := data.FrameColumn[K, string](f, id)
			if err != nil {
				return nil, err
			}
			addValueColumn(enc, typed)
		default:
			return nil, errors.Unsupported(fmt.Sprintf("column %s has value type %s", id, vec.ValueType()))
		}
	}
	return enc.finish(), nil
}

// DecodeTable validates the checksum and splits buf into fields without
// copying column data
func DecodeTable(buf []byte) (*Table, error) {
	payload, err := util.VerifyAndStripChecksum(buf)
	if err != nil {
		return nil, err
	}
	if len(payload) < headerSize || string(payload[:4]) != tableMagic {
		return nil, errors.CorruptedData("page table has a bad header", nil)
	}
	if payload[4] != TableVersion {
		return nil, errors.Unsupported(fmt.Sprintf("page table version %d", payload[4]))
	}
	t := &Table{
		numRows: int(binary.LittleEndian.Uint32(payload[5:])),
		key:     -1,
	}
	numFields := int(binary.LittleEndian.Uint16(payload[9:]))
	t.fields = make([]Field, 0, numFields)

	off := headerSize
	for i := 0; i < numFields; i++ {
		if off+4 > len(payload) {
			return nil, errors.CorruptedData("page table field header is truncated", nil)
		}
		f := Field{Role: Role(payload[off]), Type: payload[off+1]}
		nameLen := int(binary.LittleEndian.Uint16(payload[off+2:]))
		off += 4
		if off+nameLen+4 > len(payload) {
			return nil, errors.CorruptedData("page table field name is truncated", nil)
		}
		f.Name = string(payload[off : off+nameLen])
		off += nameLen
		dataLen := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+dataLen > len(payload) {
			return nil, errors.CorruptedData("page table field data is truncated", nil)
		}
		f.Data = payload[off : off+dataLen : off+dataLen]
		off += dataLen

		switch f.Role {
		case RoleKey:
			if t.key >= 0 {
				return nil, errors.CorruptedData("page table has more than one key field", nil)
			}
			t.key = len(t.fields)
		case RoleValue, RoleFidelity:
		default:
			return nil, errors.CorruptedData(fmt.Sprintf("page table field has unknown role %d", f.Role), nil)
		}
		t.fields = append(t.fields, f)
	}
	if off != len(payload) {
		return nil, errors.CorruptedData("page table has trailing bytes", nil)
	}
	if t.key < 0 {
		return nil, errors.CorruptedData("page table has no key field", nil)
	}
	return t, nil
}

func (t *Table) NumRows() int { return t.numRows }

func (t *Table) KeyType() data.KeyType { return data.KeyType(t.fields[t.key].Type) }

// Fields returns the raw fields in stored order
func (t *Table) Fields() []Field { return t.fields }

// Columns lists the value columns in stored order
func (t *Table) Columns() []ColumnInfo {
	var out []ColumnInfo
	for _, f := range t.fields {
		if f.Role == RoleValue {
			out = append(out, ColumnInfo{ID: f.Name, ValueType: data.ValueType(f.Type)})
		}
	}
	return out
}

// FieldIndex returns the position of the named field with the given role,
// or -1
func (t *Table) FieldIndex(role Role, name string) int {
	for i, f := range t.fields {
		if f.Role == role && f.Name == name {
			return i
		}
	}
	return -1
}

// TableVector materializes one column of t
func TableVector[K data.Key, V data.Value](t *Table, columnID string) (*data.Vector[K, V], error) {
	valIdx := t.FieldIndex(RoleValue, columnID)
	if valIdx < 0 {
		return nil, errors.ColumnNotFound("", columnID)
	}
	return TableVectorAt[K, V](t, columnID, valIdx, t.FieldIndex(RoleFidelity, columnID))
}

// TableVectorAt materializes the column whose value and fidelity fields
// sit at the given positions. A negative fidelity index marks every row
// valid.
func TableVectorAt[K data.Key, V data.Value](t *Table, columnID string, valIdx, fidIdx int) (*data.Vector[K, V], error) {
	if want := data.KeyTypeOf[K](); t.KeyType() != want {
		return nil, errors.TypeMismatch("page key", want.String(), t.KeyType().String())
	}
	if valIdx < 0 || valIdx >= len(t.fields) || t.fields[valIdx].Role != RoleValue {
		return nil, errors.CorruptedData(fmt.Sprintf("page table has no value field at %d", valIdx), nil)
	}
	valField := t.fields[valIdx]
	if want := data.ValueTypeOf[V](); data.ValueType(valField.Type) != want {
		return nil, errors.TypeMismatch("page value", want.String(), data.ValueType(valField.Type).String())
	}
	keys, err := decodeKeys[K](t.fields[t.key].Data, t.numRows)
	if err != nil {
		return nil, err
	}
	values, err := decodeValues[V](valField.Data, t.numRows)
	if err != nil {
		return nil, err
	}
	var fids []data.Fidelity
	if fidIdx >= 0 {
		if fidIdx >= len(t.fields) || t.fields[fidIdx].Role != RoleFidelity {
			return nil, errors.CorruptedData(fmt.Sprintf("page table has no fidelity field at %d", fidIdx), nil)
		}
		raw := t.fields[fidIdx].Data
		if len(raw) != t.numRows {
			return nil, errors.CorruptedData("page table fidelity field has the wrong length", nil)
		}
		fids = make([]data.Fidelity, t.numRows)
		for i, b := range raw {
			fids[i] = data.Fidelity(b)
		}
	}
	vec, err := data.NewVector(columnID, keys, values, fids)
	if err != nil {
		return nil, errors.CorruptedData("page table holds an invalid vector", err)
	}
	return vec, nil
}

// DecodeVector decodes columnID out of a serialized table
func DecodeVector[K data.Key, V data.Value](buf []byte, columnID string) (*data.Vector[K, V], error) {
	t, err := DecodeTable(buf)
	if err != nil {
		return nil, err
	}
	return TableVector[K, V](t, columnID)
}

// DecodeFrame rebuilds every column of a serialized table as a frame
func DecodeFrame[K data.Key](buf []byte) (*data.Frame[K], error) {
	t, err := DecodeTable(buf)
	if err != nil {
		return nil, err
	}
	if want := data.KeyTypeOf[K](); t.KeyType() != want {
		return nil, errors.TypeMismatch("frame key", want.String(), t.KeyType().String())
	}
	keys, err := decodeKeys[K](t.fields[t.key].Data, t.numRows)
	if err != nil {
		return nil, err
	}
	frame, err := data.NewFrame(keys)
	if err != nil {
		return nil, errors.CorruptedData("page table holds invalid frame keys", err)
	}
	for _, col := range t.Columns() {
		switch col.ValueType {
		case data.ValueDouble:
			err = addDecodedColumn[K, float64](frame, t, col.ID)
		case data.ValueInt64:
			err = addDecodedColumn[K, int64](frame, t, col.ID)
		case data.ValueString:
			err = addDecodedColumn[K, string](frame, t, col.ID)
		default:
			err = errors.CorruptedData(fmt.Sprintf("column %s has value type %s", col.ID, col.ValueType), nil)
		}
		if err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func addDecodedColumn[K data.Key, V data.Value](f *data.Frame[K], t *Table, columnID string) error {
	vec, err := TableVector[K, V](t, columnID)
	if err != nil {
		return err
	}
	return data.AddColumn(f, columnID, vec.Values(), vec.Fidelities())
}

type tableEncoder struct {
	buf     []byte
	fields  int
	numRows int
}

func newTableEncoder(numRows, fields int) *tableEncoder {
	buf := make([]byte, headerSize, 64+numRows*16)
	copy(buf, tableMagic)
	buf[4] = TableVersion
	binary.LittleEndian.PutUint32(buf[5:], uint32(numRows))
	return &tableEncoder{buf: buf, numRows: numRows}
}

func (e *tableEncoder) field(role Role, typ uint8, name string, payload []byte) {
	e.buf = append(e.buf, byte(role), typ)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(name)))
	e.buf = append(e.buf, name...)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(payload)))
	e.buf = append(e.buf, payload...)
	e.fields++
}

func (e *tableEncoder) addKeys(keys any) error {
	switch ks := keys.(type) {
	case []int64:
		out := make([]byte, 0, 8*len(ks))
		for _, k := range ks {
			out = binary.LittleEndian.AppendUint64(out, uint64(k))
		}
		e.field(RoleKey, uint8(data.KeyInt64), "", out)
	case []float64:
		out := make([]byte, 0, 8*len(ks))
		for _, k := range ks {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(k))
		}
		e.field(RoleKey, uint8(data.KeyDouble), "", out)
	case []data.Category:
		var out []byte
		for _, k := range ks {
			out = binary.AppendUvarint(out, uint64(len(k)))
			for _, seg := range k {
				out = binary.AppendUvarint(out, uint64(len(seg)))
				out = append(out, seg...)
			}
		}
		e.field(RoleKey, uint8(data.KeyCategory), "", out)
	default:
		return errors.Unsupported(fmt.Sprintf("key column of type %T", keys))
	}
	return nil
}

func addValueColumn[K data.Key, V data.Value](e *tableEncoder, v *data.Vector[K, V]) {
	var out []byte
	switch vs := any(v.Values()).(type) {
	case []float64:
		out = make([]byte, 0, 8*len(vs))
		for _, x := range vs {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(x))
		}
	case []int64:
		out = make([]byte, 0, 8*len(vs))
		for _, x := range vs {
			out = binary.LittleEndian.AppendUint64(out, uint64(x))
		}
	case []string:
		for _, x := range vs {
			out = binary.AppendUvarint(out, uint64(len(x)))
			out = append(out, x...)
		}
	}
	e.field(RoleValue, uint8(v.ValueType()), v.ColumnID(), out)

	fids := make([]byte, v.Size())
	for i, f := range v.Fidelities() {
		fids[i] = byte(f)
	}
	e.field(RoleFidelity, 0, v.ColumnID(), fids)
}

func (e *tableEncoder) finish() []byte {
	binary.LittleEndian.PutUint16(e.buf[9:], uint16(e.fields))
	return util.AppendChecksum(e.buf)
}

func decodeKeys[K data.Key](raw []byte, n int) ([]K, error) {
	var zero K
	switch any(zero).(type) {
	case int64:
		if len(raw) != 8*n {
			return nil, errors.CorruptedData("int64 key field has the wrong length", nil)
		}
		keys := make([]int64, n)
		for i := range keys {
			keys[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return any(keys).([]K), nil
	case float64:
		if len(raw) != 8*n {
			return nil, errors.CorruptedData("double key field has the wrong length", nil)
		}
		keys := make([]float64, n)
		for i := range keys {
			keys[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return any(keys).([]K), nil
	case data.Category:
		keys := make([]data.Category, n)
		r := byteReader{buf: raw}
		for i := range keys {
			depth, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if depth > uint64(len(raw)) {
				return nil, errors.CorruptedData("category key depth is out of range", nil)
			}
			c := make(data.Category, depth)
			for j := range c {
				if c[j], err = r.lengthPrefixed(); err != nil {
					return nil, err
				}
			}
			keys[i] = c
		}
		if !r.done() {
			return nil, errors.CorruptedData("category key field has trailing bytes", nil)
		}
		return any(keys).([]K), nil
	}
	return nil, errors.Unsupported("key type")
}

func decodeValues[V data.Value](raw []byte, n int) ([]V, error) {
	var zero V
	switch any(zero).(type) {
	case float64:
		if len(raw) != 8*n {
			return nil, errors.CorruptedData("double value field has the wrong length", nil)
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return any(values).([]V), nil
	case int64:
		if len(raw) != 8*n {
			return nil, errors.CorruptedData("int64 value field has the wrong length", nil)
		}
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		return any(values).([]V), nil
	case string:
		values := make([]string, n)
		r := byteReader{buf: raw}
		for i := range values {
			s, err := r.lengthPrefixed()
			if err != nil {
				return nil, err
			}
			values[i] = s
		}
		if !r.done() {
			return nil, errors.CorruptedData("string value field has trailing bytes", nil)
		}
		return any(values).([]V), nil
	}
	return nil, errors.Unsupported("value type")
}

type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, errors.CorruptedData("page table has a malformed varint", nil)
	}
	r.off += n
	return v, nil
}

func (r *byteReader) lengthPrefixed() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(len(r.buf)-r.off) {
		return "", errors.CorruptedData("page table string runs past its field", nil)
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *byteReader) done() bool { return r.off == len(r.buf) }
