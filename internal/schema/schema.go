package schema

import (
	"bytes"
	"fmt"

	"github.com/devrev/groove/internal/data"
	"google.golang.org/protobuf/encoding/protowire"
)

// Schema is an immutable, verified schema blob. Walkers read fields from
// the blob on demand; only the message boundaries are indexed.
type Schema struct {
	blob         []byte
	noIdentifier bool
	version      uint64

	namespaces [][]byte
	attrs      [][]byte
	columns    [][]byte
	models     [][]byte
	modelIndex map[string]uint32
}

// Parse verifies a standalone blob carrying the leading identifier
func Parse(blob []byte) (*Schema, error) {
	return parse(blob, false)
}

// ParseEmbedded verifies a blob written without the identifier
func ParseEmbedded(blob []byte) (*Schema, error) {
	return parse(blob, true)
}

func parse(blob []byte, noIdentifier bool) (*Schema, error) {
	body := blob
	if !noIdentifier {
		if !bytes.HasPrefix(blob, []byte(Identifier)) {
			return nil, corrupt("missing schema identifier", nil)
		}
		body = blob[len(Identifier):]
	}

	s := &Schema{blob: blob, noIdentifier: noIdentifier, modelIndex: make(map[string]uint32)}
	err := scan(body, func(f field) error {
		switch f.number {
		case fieldVersion:
			s.version = f.num
		case fieldNamespace:
			s.namespaces = append(s.namespaces, f.raw)
		case fieldAttr:
			s.attrs = append(s.attrs, f.raw)
		case fieldColumn:
			s.columns = append(s.columns, f.raw)
		case fieldModel:
			s.models = append(s.models, f.raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.version != Version {
		return nil, corrupt(fmt.Sprintf("unsupported schema version %d", s.version), nil)
	}
	if err := s.verify(); err != nil {
		return nil, err
	}
	return s, nil
}

// verify checks every cross reference and enum so walkers never fail
func (s *Schema) verify() error {
	for _, group := range [][][]byte{s.namespaces, s.attrs, s.columns, s.models} {
		for _, msg := range group {
			if err := scan(msg, func(field) error { return nil }); err != nil {
				return err
			}
		}
	}
	for i, msg := range s.namespaces {
		if _, ok := lookup(msg, nsURL); !ok {
			return corrupt(fmt.Sprintf("namespace %d has no url", i), nil)
		}
	}
	for i, msg := range s.attrs {
		ns, ok := lookup(msg, attrNamespace)
		if !ok || ns.num >= uint64(len(s.namespaces)) {
			return corrupt(fmt.Sprintf("attr %d has invalid namespace", i), nil)
		}
		kind, ok := lookup(msg, attrKind)
		if !ok || kind.num > uint64(AttrString) {
			return corrupt(fmt.Sprintf("attr %d has invalid kind", i), nil)
		}
	}
	checkAttrs := func(owner string, indices []uint32) error {
		seen := make(map[AttrID]bool, len(indices))
		for _, idx := range indices {
			if idx >= uint32(len(s.attrs)) {
				return corrupt(fmt.Sprintf("%s references missing attr %d", owner, idx), nil)
			}
			id := s.attr(idx).ID()
			if seen[id] {
				return corrupt(fmt.Sprintf("%s has duplicate attr %s", owner, id), nil)
			}
			seen[id] = true
		}
		return nil
	}
	for i, msg := range s.columns {
		c := ColumnWalker{s: s, msg: msg}
		if c.ID() == "" {
			return corrupt(fmt.Sprintf("column %d has no id", i), nil)
		}
		if vt := c.ValueType(); vt == data.ValueUnknown || vt > data.ValueString {
			return corrupt(fmt.Sprintf("column %s has invalid value type", c.ID()), nil)
		}
		if p := c.FidelityPolicy(); p == PolicyInvalid || p > PolicyAnyFidelityAllowed {
			return corrupt(fmt.Sprintf("column %s has invalid fidelity policy", c.ID()), nil)
		}
		if err := checkAttrs("column "+c.ID(), repeated(msg, colAttr)); err != nil {
			return err
		}
	}
	for i, msg := range s.models {
		m := ModelWalker{s: s, msg: msg}
		id := m.ID()
		if id == "" {
			return corrupt(fmt.Sprintf("model %d has no id", i), nil)
		}
		if _, ok := s.modelIndex[id]; ok {
			return corrupt("duplicate model "+id, nil)
		}
		s.modelIndex[id] = uint32(i)
		if kt := m.KeyType(); kt == data.KeyUnknown || kt > data.KeyInt64 {
			return corrupt(fmt.Sprintf("model %s has invalid key type", id), nil)
		}
		if c := m.Collation(); c == data.CollationUnknown || c > data.CollationIndexed {
			return corrupt(fmt.Sprintf("model %s has invalid collation", id), nil)
		}
		columns := make(map[string]bool)
		for _, idx := range repeated(msg, modelColumn) {
			if idx >= uint32(len(s.columns)) {
				return corrupt(fmt.Sprintf("model %s references missing column %d", id, idx), nil)
			}
			colID := s.column(idx).ID()
			if columns[colID] {
				return corrupt(fmt.Sprintf("model %s has duplicate column %s", id, colID), nil)
			}
			columns[colID] = true
		}
		if err := checkAttrs("model "+id, repeated(msg, modelAttr)); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the blob exactly as parsed
func (s *Schema) Bytes() []byte { return s.blob }

// HasIdentifier reports whether the blob carries the leading identifier
func (s *Schema) HasIdentifier() bool { return !s.noIdentifier }

func (s *Schema) Version() uint64 { return s.version }

// Embedded returns the blob without the leading identifier
func (s *Schema) Embedded() []byte {
	if s.noIdentifier {
		return s.blob
	}
	return s.blob[len(Identifier):]
}

// Standalone returns the blob with the leading identifier
func (s *Schema) Standalone() []byte {
	if !s.noIdentifier {
		return s.blob
	}
	return append([]byte(Identifier), s.blob...)
}

func (s *Schema) Walker() SchemaWalker { return SchemaWalker{s: s} }

func (s *Schema) column(idx uint32) ColumnWalker {
	return ColumnWalker{s: s, msg: s.columns[idx]}
}

func (s *Schema) attr(idx uint32) AttrWalker {
	return AttrWalker{s: s, msg: s.attrs[idx]}
}

// SchemaWalker is the root of the read-only schema view
type SchemaWalker struct {
	s *Schema
}

func (w SchemaWalker) IsValid() bool { return w.s != nil }

func (w SchemaWalker) NumNamespaces() int { return len(w.s.namespaces) }

func (w SchemaWalker) Namespace(i int) NamespaceWalker {
	if i < 0 || i >= len(w.s.namespaces) {
		return NamespaceWalker{}
	}
	return NamespaceWalker{msg: w.s.namespaces[i]}
}

func (w SchemaWalker) NumModels() int { return len(w.s.models) }

func (w SchemaWalker) Model(i int) ModelWalker {
	if i < 0 || i >= len(w.s.models) {
		return ModelWalker{}
	}
	return ModelWalker{s: w.s, msg: w.s.models[i]}
}

// FindModel returns an invalid walker when id is not declared
func (w SchemaWalker) FindModel(id string) ModelWalker {
	idx, ok := w.s.modelIndex[id]
	if !ok {
		return ModelWalker{}
	}
	return w.Model(int(idx))
}

// ModelIDs lists the declared models in declaration order
func (w SchemaWalker) ModelIDs() []string {
	ids := make([]string, len(w.s.models))
	for i := range w.s.models {
		ids[i] = w.Model(i).ID()
	}
	return ids
}

type NamespaceWalker struct {
	msg []byte
}

func (w NamespaceWalker) IsValid() bool { return w.msg != nil }

func (w NamespaceWalker) URL() string { return stringField(w.msg, nsURL) }

type ModelWalker struct {
	s   *Schema
	msg []byte
}

func (w ModelWalker) IsValid() bool { return w.s != nil }

func (w ModelWalker) ID() string { return stringField(w.msg, modelID) }

func (w ModelWalker) KeyType() data.KeyType {
	return data.KeyType(varintField(w.msg, modelKeyType))
}

func (w ModelWalker) Collation() data.Collation {
	return data.Collation(varintField(w.msg, modelCollation))
}

func (w ModelWalker) NumColumns() int { return len(repeated(w.msg, modelColumn)) }

func (w ModelWalker) Column(i int) ColumnWalker {
	indices := repeated(w.msg, modelColumn)
	if i < 0 || i >= len(indices) {
		return ColumnWalker{}
	}
	return w.s.column(indices[i])
}

// FindColumn returns an invalid walker when the model has no column id
func (w ModelWalker) FindColumn(id string) ColumnWalker {
	for _, idx := range repeated(w.msg, modelColumn) {
		if c := w.s.column(idx); c.ID() == id {
			return c
		}
	}
	return ColumnWalker{}
}

func (w ModelWalker) HasColumn(id string) bool { return w.FindColumn(id).IsValid() }

func (w ModelWalker) NumAttrs() int { return len(repeated(w.msg, modelAttr)) }

func (w ModelWalker) Attr(i int) AttrWalker {
	return attrAt(w.s, repeated(w.msg, modelAttr), i)
}

func (w ModelWalker) FindAttr(id AttrID) AttrWalker {
	return findAttr(w.s, repeated(w.msg, modelAttr), id)
}

type ColumnWalker struct {
	s   *Schema
	msg []byte
}

func (w ColumnWalker) IsValid() bool { return w.s != nil }

func (w ColumnWalker) ID() string { return stringField(w.msg, colID) }

func (w ColumnWalker) ValueType() data.ValueType {
	return data.ValueType(varintField(w.msg, colValueType))
}

func (w ColumnWalker) FidelityPolicy() FidelityPolicy {
	return FidelityPolicy(varintField(w.msg, colPolicy))
}

func (w ColumnWalker) NumAttrs() int { return len(repeated(w.msg, colAttr)) }

func (w ColumnWalker) Attr(i int) AttrWalker {
	return attrAt(w.s, repeated(w.msg, colAttr), i)
}

func (w ColumnWalker) FindAttr(id AttrID) AttrWalker {
	return findAttr(w.s, repeated(w.msg, colAttr), id)
}

type AttrWalker struct {
	s   *Schema
	msg []byte
}

func (w AttrWalker) IsValid() bool { return w.s != nil }

func (w AttrWalker) ID() AttrID {
	ns := w.s.namespaces[varintField(w.msg, attrNamespace)]
	return AttrID{
		Namespace: stringField(ns, nsURL),
		Type:      uint32(varintField(w.msg, attrType)),
	}
}

func (w AttrWalker) Value() AttrValue {
	v := AttrValue{kind: AttrKind(varintField(w.msg, attrKind))}
	switch v.kind {
	case AttrString:
		v.str = stringField(w.msg, attrString)
	case AttrNil:
	default:
		v.bits = varintField(w.msg, attrBits)
	}
	return v
}

func attrAt(s *Schema, indices []uint32, i int) AttrWalker {
	if i < 0 || i >= len(indices) {
		return AttrWalker{}
	}
	return s.attr(indices[i])
}

func findAttr(s *Schema, indices []uint32, id AttrID) AttrWalker {
	for _, idx := range indices {
		if a := s.attr(idx); a.ID() == id {
			return a
		}
	}
	return AttrWalker{}
}

func stringField(msg []byte, number protowire.Number) string {
	f, ok := lookup(msg, number)
	if !ok {
		return ""
	}
	return string(f.raw)
}

func varintField(msg []byte, number protowire.Number) uint64 {
	f, _ := lookup(msg, number)
	return f.num
}
