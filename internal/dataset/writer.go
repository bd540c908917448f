package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/validation"
	"go.uber.org/zap"
)

// Writer accumulates vectors and frames for one dataset and writes them as
// a single immutable file. Pages of one column must not overlap.
type Writer struct {
	url     string
	schema  *schema.Schema
	logger  *zap.Logger
	metrics *metrics.Metrics

	frames [][]byte
	// pages holds every accepted page range ordered by start id
	pages   []pageRange
	vectors []vectorEntry
}

type pageRange struct {
	start string
	end   string
}

// pending is a validated vector not yet committed to the writer
type pending struct {
	rng      pageRange
	valField uint32
	fidField uint32
}

// NewWriter creates a writer for datasetURL described by sch
func NewWriter(datasetURL string, sch *schema.Schema, logger *zap.Logger, m *metrics.Metrics) (*Writer, error) {
	if err := validation.Default().ValidateDatasetURL(datasetURL); err != nil {
		return nil, err
	}
	if sch == nil {
		return nil, errors.InvalidArgument("dataset writer needs a schema", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{url: datasetURL, schema: sch, logger: logger, metrics: m}, nil
}

func (w *Writer) URL() string { return w.url }

func (w *Writer) NumFrames() int { return len(w.frames) }

func (w *Writer) NumVectors() int { return len(w.vectors) }

// PutVector stores vec as its own frame
func PutVector[K data.Key, V data.Value](w *Writer, modelID string, vec *data.Vector[K, V]) error {
	p, err := prepareVector(w, modelID, vec.ColumnID(), data.ValueTypeOf[V](), vec.Keys())
	if err != nil {
		return err
	}
	buf, err := page.EncodeVector(vec)
	if err != nil {
		return err
	}
	p.valField, p.fidField = 1, 2
	w.commit(buf, []pending{p})
	return nil
}

// PutFrame stores f as one frame with an index entry per column. Either
// every column is accepted or none is.
func PutFrame[K data.Key](w *Writer, modelID string, f *data.Frame[K]) error {
	ids := f.ColumnIDs()
	if len(ids) == 0 {
		return errors.InvalidArgument("dataset frame has no columns", nil)
	}
	batch := make([]pending, 0, len(ids))
	for i, id := range ids {
		vec, _ := f.Vector(id)
		p, err := prepareVector(w, modelID, id, vec.ValueType(), f.Keys())
		if err != nil {
			return err
		}
		p.valField = uint32(1 + 2*i)
		p.fidField = uint32(2 + 2*i)
		batch = append(batch, p)
	}
	buf, err := page.EncodeFrame(f)
	if err != nil {
		return err
	}
	w.commit(buf, batch)
	return nil
}

// prepareVector checks a column write against the schema and the pages
// already accepted and returns its page range
func prepareVector[K data.Key](w *Writer, modelID, columnID string, valueType data.ValueType, keys []K) (pending, error) {
	m := w.schema.Walker().FindModel(modelID)
	if !m.IsValid() {
		return pending{}, errors.ModelNotFound(w.url, modelID)
	}
	if m.NumColumns() == 0 {
		return pending{}, errors.InvariantViolation(fmt.Sprintf("model %s has no columns", modelID))
	}
	if kt := data.KeyTypeOf[K](); kt != m.KeyType() {
		return pending{}, errors.TypeMismatch("model "+modelID+" key", m.KeyType().String(), kt.String())
	}
	c := m.FindColumn(columnID)
	if !c.IsValid() {
		return pending{}, errors.ColumnNotFound(modelID, columnID)
	}
	if c.ValueType() != valueType {
		return pending{}, errors.TypeMismatch("column "+columnID+" value", c.ValueType().String(), valueType.String())
	}
	if len(keys) == 0 {
		return pending{}, errors.InvalidArgument(fmt.Sprintf("column %s: dataset vectors cannot be empty", columnID), nil)
	}
	collation := m.Collation()
	if collation == data.CollationIndexed {
		for i := 1; i < len(keys); i++ {
			if data.CompareKeys(keys[i-1], keys[i]) == 0 {
				return pending{}, errors.InvalidArgument(
					fmt.Sprintf("column %s: indexed vector has duplicate key at row %d", columnID, i), nil)
			}
		}
	}

	start, err := pageid.Create(w.url, modelID, columnID, valueType, collation, &keys[0])
	if err != nil {
		return pending{}, err
	}
	end, err := pageid.Create(w.url, modelID, columnID, valueType, collation, &keys[len(keys)-1])
	if err != nil {
		return pending{}, err
	}
	rng := pageRange{start: start.Bytes(), end: end.Bytes()}
	if err := w.checkOverlap(rng); err != nil {
		return pending{}, err
	}
	return pending{rng: rng}, nil
}

// checkOverlap looks at the accepted pages on either side of the
// insertion point of rng
func (w *Writer) checkOverlap(rng pageRange) error {
	i := sort.Search(len(w.pages), func(i int) bool { return w.pages[i].start >= rng.start })
	if i < len(w.pages) && w.pages[i].start == rng.start {
		return errors.InvariantViolation("page id already exists").WithDetail("page", rng.start)
	}
	if i > 0 && w.pages[i-1].end >= rng.start {
		return errors.InvariantViolation("prior page overlaps").WithDetail("page", rng.start)
	}
	if i < len(w.pages) && w.pages[i].start <= rng.end {
		return errors.InvariantViolation("subsequent page overlaps").WithDetail("page", rng.start)
	}
	return nil
}

func (w *Writer) commit(frame []byte, batch []pending) {
	frameIndex := uint32(len(w.frames))
	w.frames = append(w.frames, frame)
	for _, p := range batch {
		i := sort.Search(len(w.pages), func(i int) bool { return w.pages[i].start >= p.rng.start })
		w.pages = append(w.pages, pageRange{})
		copy(w.pages[i+1:], w.pages[i:])
		w.pages[i] = p.rng
		w.vectors = append(w.vectors, vectorEntry{
			id:         p.rng.start,
			frameIndex: frameIndex,
			valField:   p.valField,
			fidField:   p.fidField,
		})
	}
}

// WriteDataset writes the accumulated dataset to path. The file must not
// exist; a failed write removes the partial file.
func (w *Writer) WriteDataset(path string) (err error) {
	vectors := append([]vectorEntry(nil), w.vectors...)
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].id < vectors[j].id })

	idx := &index{url: w.url, vectors: vectors, frames: make([]frameEntry, len(w.frames))}
	var offset uint64
	for i, frame := range w.frames {
		idx.frames[i] = frameEntry{keyField: 0, offset: offset, size: uint64(len(frame))}
		offset += uint64(len(frame))
	}
	indexBytes, err := encodeIndex(idx)
	if err != nil {
		return err
	}
	schemaBytes := w.schema.Embedded()
	if len(schemaBytes) > maxSectionLength {
		return errors.InvalidArgument("dataset schema is too large", nil)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return errors.AlreadyExists("dataset file", path)
		}
		return errors.BackendFailure("failed to create dataset file", err).WithDetail("path", path)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	write := func(what string, b []byte) error {
		if _, err := bw.Write(b); err != nil {
			return errors.BackendFailure("failed to write dataset "+what, err).WithDetail("path", path)
		}
		return nil
	}
	if err = write("header", encodeFileHeader(0, len(indexBytes))); err != nil {
		return err
	}
	if err = write("index", indexBytes); err != nil {
		return err
	}
	if err = write("schema size", binary.LittleEndian.AppendUint32(nil, uint32(len(schemaBytes)))); err != nil {
		return err
	}
	if err = write("schema", schemaBytes); err != nil {
		return err
	}
	for _, frame := range w.frames {
		if err = write("frame", frame); err != nil {
			return err
		}
	}
	if err = bw.Flush(); err != nil {
		return errors.BackendFailure("failed to flush dataset file", err)
	}
	if err = f.Sync(); err != nil {
		return errors.BackendFailure("failed to sync dataset file", err)
	}
	if err = f.Close(); err != nil {
		return errors.BackendFailure("failed to close dataset file", err)
	}

	total := fileHeaderSize + len(indexBytes) + 4 + len(schemaBytes) + int(offset)
	w.metrics.RecordDatasetWrite(len(w.vectors), int64(total))
	w.logger.Info("Wrote dataset",
		zap.String("dataset", w.url),
		zap.String("path", path),
		zap.Int("vectors", len(w.vectors)),
		zap.Int("frames", len(w.frames)),
		zap.Int("bytes", total))
	return nil
}
