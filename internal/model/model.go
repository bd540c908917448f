package model

import (
	"fmt"
	"sort"

	"github.com/devrev/groove/internal/column"
	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/store"
	"go.uber.org/zap"
)

// ColumnDef is the declared shape of one model column
type ColumnDef struct {
	ID        string
	Collation data.Collation
	KeyType   data.KeyType
	ValueType data.ValueType
	Policy    schema.FidelityPolicy
}

// VectorType returns the key/value combination of the column
func (d ColumnDef) VectorType() data.VectorType {
	return data.VectorType{Key: d.KeyType, Value: d.ValueType}
}

// Options carries the collaborators shared by every model of a dataset
type Options struct {
	Column  config.ColumnConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Model binds a schema model to the page cache of its dataset
type Model struct {
	datasetURL string
	id         string
	keyType    data.KeyType
	collation  data.Collation
	columns    map[string]ColumnDef
	order      []string
	cache      store.PageCache
	opts       Options
}

// FromSchema builds the model described by w. Every column inherits the
// model's key type and collation.
func FromSchema(datasetURL string, w schema.ModelWalker, cache store.PageCache, opts Options) *Model {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m := &Model{
		datasetURL: datasetURL,
		id:         w.ID(),
		keyType:    w.KeyType(),
		collation:  w.Collation(),
		columns:    make(map[string]ColumnDef, w.NumColumns()),
		cache:      cache,
		opts:       opts,
	}
	for i := 0; i < w.NumColumns(); i++ {
		c := w.Column(i)
		m.columns[c.ID()] = ColumnDef{
			ID:        c.ID(),
			Collation: m.collation,
			KeyType:   m.keyType,
			ValueType: c.ValueType(),
			Policy:    c.FidelityPolicy(),
		}
		m.order = append(m.order, c.ID())
	}
	return m
}

// BuildModels creates one Model per schema model
func BuildModels(datasetURL string, sch *schema.Schema, cache store.PageCache, opts Options) map[string]*Model {
	w := sch.Walker()
	models := make(map[string]*Model, w.NumModels())
	for i := 0; i < w.NumModels(); i++ {
		m := FromSchema(datasetURL, w.Model(i), cache, opts)
		models[m.ID()] = m
	}
	return models
}

func (m *Model) DatasetURL() string { return m.datasetURL }

func (m *Model) ID() string { return m.id }

func (m *Model) KeyType() data.KeyType { return m.keyType }

func (m *Model) Collation() data.Collation { return m.collation }

func (m *Model) Cache() store.PageCache { return m.cache }

func (m *Model) HasColumn(id string) bool {
	_, ok := m.columns[id]
	return ok
}

func (m *Model) HasColumnOfType(id string, valueType data.ValueType) bool {
	def, ok := m.columns[id]
	return ok && def.ValueType == valueType
}

func (m *Model) ColumnDef(id string) (ColumnDef, bool) {
	def, ok := m.columns[id]
	return def, ok
}

// ColumnIDs returns the column ids in declaration order
func (m *Model) ColumnIDs() []string {
	return append([]string(nil), m.order...)
}

func (m *Model) ref(columnID string) column.Ref {
	return column.Ref{DatasetURL: m.datasetURL, ModelID: m.id, ColumnID: columnID}
}

// checkColumn verifies the column exists with the collation and vector type
// requested by the caller
func checkColumn[K data.Key, V data.Value](m *Model, id string) error {
	def, ok := m.columns[id]
	if !ok {
		return errors.ColumnNotFound(m.id, id)
	}
	want := data.VectorType{Key: data.KeyTypeOf[K](), Value: data.ValueTypeOf[V]()}
	if def.Collation != data.CollationIndexed || def.VectorType() != want {
		return errors.ColumnNotFound(m.id, id).
			WithDetail("declared", fmt.Sprintf("%s %s", def.Collation, def.VectorType())).
			WithDetail("requested", fmt.Sprintf("%s %s", data.CollationIndexed, want))
	}
	return nil
}

// IndexedColumnOf returns a reader for an Indexed column of type K/V
func IndexedColumnOf[K data.Key, V data.Value](m *Model, id string) (*column.IndexedColumn[K, V], error) {
	if err := checkColumn[K, V](m, id); err != nil {
		return nil, err
	}
	return column.NewIndexedColumn[K, V](m.cache, m.ref(id), m.opts.Logger, m.opts.Metrics), nil
}

// IndexedWriterOf returns a merge-writer for an Indexed column of type K/V.
// It fails with Unsupported when the model's cache is read-only.
func IndexedWriterOf[K data.Key, V data.Value](m *Model, id string) (*column.IndexedColumnWriter[K, V], error) {
	if err := checkColumn[K, V](m, id); err != nil {
		return nil, err
	}
	st, ok := m.cache.(store.PageStore)
	if !ok {
		return nil, errors.Unsupported(fmt.Sprintf("model %s is read-only", m.id))
	}
	return column.NewIndexedColumnWriter[K, V](st, m.ref(id), m.opts.Column, m.opts.Logger, m.opts.Metrics), nil
}

func (m *Model) specs(keyType data.KeyType, columnIDs []string) ([]column.Spec, error) {
	if keyType != m.keyType {
		return nil, errors.TypeMismatch("model "+m.id+" key", m.keyType.String(), keyType.String())
	}
	if m.collation != data.CollationIndexed {
		return nil, errors.Unsupported(fmt.Sprintf("model %s has %s collation", m.id, m.collation))
	}
	if len(columnIDs) == 0 {
		columnIDs = m.order
	}
	specs := make([]column.Spec, 0, len(columnIDs))
	for _, id := range columnIDs {
		def, ok := m.columns[id]
		if !ok {
			return nil, errors.ColumnNotFound(m.id, id)
		}
		specs = append(specs, column.Spec{ID: id, ValueType: def.ValueType})
	}
	return specs, nil
}

// ReadFrame reads columnIDs over r into one row-aligned frame. An empty
// columnIDs reads every column.
func ReadFrame[K data.Key](m *Model, columnIDs []string, r data.Range[K]) (*data.Frame[K], error) {
	specs, err := m.specs(data.KeyTypeOf[K](), columnIDs)
	if err != nil {
		return nil, err
	}
	return column.ReadFrame(m.cache, m.datasetURL, m.id, specs, r, m.opts.Logger, m.opts.Metrics)
}

// NewFrameIterator reads columnIDs over r in frames of at most batchSize rows
func NewFrameIterator[K data.Key](m *Model, columnIDs []string, r data.Range[K], batchSize int) (*column.FrameIterator[K], error) {
	specs, err := m.specs(data.KeyTypeOf[K](), columnIDs)
	if err != nil {
		return nil, err
	}
	return column.NewFrameIterator(m.cache, m.datasetURL, m.id, specs, r, batchSize, m.opts.Logger, m.opts.Metrics)
}

// SortedIDs returns the keys of models in order
func SortedIDs(models map[string]*Model) []string {
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
