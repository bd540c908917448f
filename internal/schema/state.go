package schema

import (
	"fmt"
	"net/url"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/validation"
)

// State accumulates namespaces, attrs, columns and models and serializes
// them into an immutable Schema. It is not safe for concurrent use.
type State struct {
	namespaces []*Namespace
	attrs      []*Attr
	columns    []*Column
	models     []*Model

	namespaceIndex map[string]*Namespace
	modelIndex     map[string]*Model
	validator      *validation.Validator
}

// Namespace is an interned URL that qualifies attr types
type Namespace struct {
	url     string
	address uint32
}

func (n *Namespace) URL() string { return n.url }

// Attr is a typed value qualified by a namespace
type Attr struct {
	id      AttrID
	nsIndex uint32
	value   AttrValue
	address uint32
}

func (a *Attr) ID() AttrID { return a.id }
func (a *Attr) Value() AttrValue { return a.value }

// Column describes one value column. Columns are owned by the state and
// referenced by models.
type Column struct {
	id        string
	valueType data.ValueType
	policy    FidelityPolicy
	attrs     []*Attr
	attrIndex map[AttrID]bool
	address   uint32
}

func (c *Column) ID() string { return c.id }
func (c *Column) ValueType() data.ValueType { return c.valueType }
func (c *Column) FidelityPolicy() FidelityPolicy { return c.policy }

// PutAttr attaches a to the column; an attr id may appear once
func (c *Column) PutAttr(a *Attr) error {
	if c.attrIndex[a.id] {
		return errors.AlreadyExists("column attr", a.id.String()).WithDetail("column", c.id)
	}
	c.attrIndex[a.id] = true
	c.attrs = append(c.attrs, a)
	return nil
}

// Model describes a keyed set of columns
type Model struct {
	id          string
	keyType     data.KeyType
	collation   data.Collation
	columns     []*Column
	columnIndex map[string]*Column
	attrs       []*Attr
	attrIndex   map[AttrID]bool
	state       *State
	address     uint32
}

func (m *Model) ID() string { return m.id }
func (m *Model) KeyType() data.KeyType { return m.keyType }
func (m *Model) Collation() data.Collation { return m.collation }
func (m *Model) NumColumns() int { return len(m.columns) }

func (m *Model) HasColumn(id string) bool {
	_, ok := m.columnIndex[id]
	return ok
}

// AppendColumn binds an existing column to the model
func (m *Model) AppendColumn(c *Column) error {
	if _, ok := m.columnIndex[c.id]; ok {
		return errors.AlreadyExists("column", c.id).WithDetail("model", m.id)
	}
	m.columnIndex[c.id] = c
	m.columns = append(m.columns, c)
	return nil
}

// AddColumn creates a column in the owning state and binds it
func (m *Model) AddColumn(id string, valueType data.ValueType, policy FidelityPolicy) (*Column, error) {
	if m.HasColumn(id) {
		return nil, errors.AlreadyExists("column", id).WithDetail("model", m.id)
	}
	c, err := m.state.AppendColumn(id, valueType, policy)
	if err != nil {
		return nil, err
	}
	return c, m.AppendColumn(c)
}

// PutAttr attaches a to the model; an attr id may appear once
func (m *Model) PutAttr(a *Attr) error {
	if m.attrIndex[a.id] {
		return errors.AlreadyExists("model attr", a.id.String()).WithDetail("model", m.id)
	}
	m.attrIndex[a.id] = true
	m.attrs = append(m.attrs, a)
	return nil
}

func NewState() *State {
	return &State{
		namespaceIndex: make(map[string]*Namespace),
		modelIndex:     make(map[string]*Model),
		validator:      validation.Default(),
	}
}

// PutNamespace interns nsURL, returning the existing entry when present
func (s *State) PutNamespace(nsURL string) (*Namespace, error) {
	if ns, ok := s.namespaceIndex[nsURL]; ok {
		return ns, nil
	}
	u, err := url.Parse(nsURL)
	if err != nil || u.Scheme == "" {
		return nil, errors.InvalidArgument(fmt.Sprintf("invalid namespace url %q", nsURL), err)
	}
	ns := &Namespace{url: nsURL, address: uint32(len(s.namespaces))}
	s.namespaces = append(s.namespaces, ns)
	s.namespaceIndex[nsURL] = ns
	return ns, nil
}

func (s *State) Namespace(nsURL string) (*Namespace, bool) {
	ns, ok := s.namespaceIndex[nsURL]
	return ns, ok
}

func (s *State) NumNamespaces() int { return len(s.namespaces) }

// AppendAttr creates an attr, interning its namespace
func (s *State) AppendAttr(id AttrID, value AttrValue) (*Attr, error) {
	ns, err := s.PutNamespace(id.Namespace)
	if err != nil {
		return nil, err
	}
	if value.kind > AttrString {
		return nil, errors.InvalidArgument(fmt.Sprintf("attr %s has unknown kind %s", id, value.kind), nil)
	}
	a := &Attr{id: id, nsIndex: ns.address, value: value, address: uint32(len(s.attrs))}
	s.attrs = append(s.attrs, a)
	return a, nil
}

func (s *State) NumAttrs() int { return len(s.attrs) }

// PutModel declares a model; a model id may be declared once
func (s *State) PutModel(id string, keyType data.KeyType, collation data.Collation) (*Model, error) {
	if err := s.validator.ValidateIdentifier("model id", id); err != nil {
		return nil, err
	}
	if _, ok := s.modelIndex[id]; ok {
		return nil, errors.AlreadyExists("model", id)
	}
	if keyType == data.KeyUnknown || keyType > data.KeyInt64 {
		return nil, errors.InvalidArgument(fmt.Sprintf("model %s has invalid key type %s", id, keyType), nil)
	}
	if collation == data.CollationUnknown || collation > data.CollationIndexed {
		return nil, errors.InvalidArgument(fmt.Sprintf("model %s has invalid collation %s", id, collation), nil)
	}
	m := &Model{
		id:          id,
		keyType:     keyType,
		collation:   collation,
		columnIndex: make(map[string]*Column),
		attrIndex:   make(map[AttrID]bool),
		state:       s,
		address:     uint32(len(s.models)),
	}
	s.models = append(s.models, m)
	s.modelIndex[id] = m
	return m, nil
}

func (s *State) Model(id string) (*Model, bool) {
	m, ok := s.modelIndex[id]
	return m, ok
}

func (s *State) NumModels() int { return len(s.models) }

// AppendColumn creates a column that models can bind with AppendColumn
func (s *State) AppendColumn(id string, valueType data.ValueType, policy FidelityPolicy) (*Column, error) {
	if err := s.validator.ValidateIdentifier("column id", id); err != nil {
		return nil, err
	}
	if valueType == data.ValueUnknown || valueType > data.ValueString {
		return nil, errors.InvalidArgument(fmt.Sprintf("column %s has invalid value type %s", id, valueType), nil)
	}
	if policy == PolicyInvalid || policy > PolicyAnyFidelityAllowed {
		return nil, errors.InvalidArgument(fmt.Sprintf("column %s has invalid fidelity policy", id), nil)
	}
	c := &Column{
		id:        id,
		valueType: valueType,
		policy:    policy,
		attrIndex: make(map[AttrID]bool),
		address:   uint32(len(s.columns)),
	}
	s.columns = append(s.columns, c)
	return c, nil
}

func (s *State) NumColumns() int { return len(s.columns) }

// ToSchema serializes the state. With noIdentifier the leading identifier
// is omitted, for embedding in a container that frames the blob itself.
func (s *State) ToSchema(noIdentifier bool) (*Schema, error) {
	blob := encodeState(s)
	if !noIdentifier {
		blob = append([]byte(Identifier), blob...)
	}
	return parse(blob, noIdentifier)
}
