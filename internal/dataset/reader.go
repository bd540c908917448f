package dataset

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/store"
	"go.uber.org/zap"
)

// Reader serves a dataset file as a read-only page cache. The file is
// memory-mapped; page data returned by GetPageData aliases the mapping and
// stays valid until Close.
type Reader struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	data   []byte
	unmap  func() error
	file   *os.File
	idx    *index
	schema *schema.Schema
	frames []byte
	flags  uint8
}

var _ store.PageCache = (*Reader)(nil)

// OpenReader maps path and validates its header, index and schema. Frame
// checksums are checked lazily on decode, or eagerly by Verify.
func OpenReader(path string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewStorageError(errors.ErrCodeDatasetNotFound, "dataset file does not exist", err).
				WithDetail("path", path)
		}
		return nil, errors.BackendFailure("failed to open dataset file", err).WithDetail("path", path)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.BackendFailure("failed to stat dataset file", err).WithDetail("path", path)
	}
	if fi.Size() < fileHeaderSize {
		f.Close()
		return nil, errors.CorruptedData(fmt.Sprintf("dataset file %s is too short", path), nil)
	}

	buf, unmap, err := mapFile(f, int(fi.Size()))
	if err != nil {
		f.Close()
		return nil, errors.BackendFailure("failed to map dataset file", err).WithDetail("path", path)
	}
	r := &Reader{path: path, logger: logger, data: buf, unmap: unmap, file: f}
	if err := r.parse(); err != nil {
		r.Close()
		return nil, err
	}

	logger.Info("Opened dataset file",
		zap.String("path", path),
		zap.String("dataset", r.idx.url),
		zap.Int("vectors", len(r.idx.vectors)),
		zap.Int("frames", len(r.idx.frames)),
		zap.Int64("bytes", fi.Size()))
	return r, nil
}

func (r *Reader) parse() error {
	buf := r.data
	if string(buf[:4]) != Magic {
		return errors.CorruptedData("dataset file has a bad magic", nil).WithDetail("path", r.path)
	}
	if buf[4] != FormatVersion {
		return errors.Unsupported(fmt.Sprintf("dataset file version %d", buf[4]))
	}
	r.flags = buf[5]
	indexSize := int(binary.LittleEndian.Uint32(buf[6:]))
	off := fileHeaderSize
	if indexSize > len(buf)-off {
		return errors.CorruptedData("dataset index is truncated", nil).WithDetail("path", r.path)
	}
	idx, err := decodeIndex(buf[off : off+indexSize])
	if err != nil {
		return errors.CorruptedData("failed to decode dataset index", err).WithDetail("path", r.path)
	}
	off += indexSize

	if len(buf)-off < 4 {
		return errors.CorruptedData("dataset schema size is truncated", nil).WithDetail("path", r.path)
	}
	schemaSize := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if schemaSize > len(buf)-off {
		return errors.CorruptedData("dataset schema is truncated", nil).WithDetail("path", r.path)
	}
	// the schema outlives the mapping, so it gets its own copy
	blob := append([]byte(nil), buf[off:off+schemaSize]...)
	sch, err := schema.ParseEmbedded(blob)
	if err != nil {
		return errors.CorruptedData("failed to parse dataset schema", err).WithDetail("path", r.path)
	}
	off += schemaSize

	frames := buf[off:]
	for i, fe := range idx.frames {
		if fe.offset > uint64(len(frames)) || fe.size > uint64(len(frames))-fe.offset {
			return errors.CorruptedData(fmt.Sprintf("dataset frame %d is out of bounds", i), nil).WithDetail("path", r.path)
		}
	}
	r.idx, r.schema, r.frames = idx, sch, frames
	return nil
}

func (r *Reader) Path() string { return r.path }

// URL is the dataset url recorded by the writer
func (r *Reader) URL() string { return r.idx.url }

func (r *Reader) Schema() *schema.Schema { return r.schema }

func (r *Reader) NumVectors() int { return len(r.idx.vectors) }

func (r *Reader) NumFrames() int { return len(r.idx.frames) }

// PageIDs returns every page id in the file in order
func (r *Reader) PageIDs() ([]pageid.PageID, error) {
	ids := make([]pageid.PageID, 0, len(r.idx.vectors))
	for _, v := range r.idx.vectors {
		id, err := pageid.FromString(v.id)
		if err != nil {
			return nil, errors.CorruptedData("dataset index holds an invalid page id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close unmaps the file. Page data handed out earlier must not be used
// afterwards.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil
	}
	var err error
	if r.unmap != nil {
		err = r.unmap()
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	r.data, r.frames, r.unmap = nil, nil, nil
	if err != nil {
		return errors.BackendFailure("failed to close dataset file", err).WithDetail("path", r.path)
	}
	return nil
}

func (r *Reader) checkOpen() error {
	if r.data == nil {
		return errors.Unavailable("dataset file is closed", nil).WithDetail("path", r.path)
	}
	return nil
}

// search returns the position of the first vector whose id is >= id
func (r *Reader) search(id string) int {
	vs := r.idx.vectors
	return sort.Search(len(vs), func(i int) bool { return vs[i].id >= id })
}

func (r *Reader) find(id pageid.PageID) (*vectorEntry, bool) {
	i := r.search(id.Bytes())
	if i < len(r.idx.vectors) && r.idx.vectors[i].id == id.Bytes() {
		return &r.idx.vectors[i], true
	}
	return nil, false
}

func (r *Reader) frame(v *vectorEntry) []byte {
	fe := r.idx.frames[v.frameIndex]
	return r.frames[fe.offset : fe.offset+fe.size : fe.offset+fe.size]
}

func (r *Reader) IsEmpty() (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return false, err
	}
	return len(r.idx.vectors) == 0, nil
}

func (r *Reader) GetPageIDBefore(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return pageid.PageID{}, err
	}
	i := r.search(id.Bytes())
	if !exclusive && i < len(r.idx.vectors) && r.idx.vectors[i].id == id.Bytes() {
		return store.CheckNeighbour(id, id.Bytes(), true, false)
	}
	if i == 0 {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return store.CheckNeighbour(id, r.idx.vectors[i-1].id, true, exclusive)
}

func (r *Reader) GetPageIDAfter(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return pageid.PageID{}, err
	}
	i := r.search(id.Bytes())
	if exclusive && i < len(r.idx.vectors) && r.idx.vectors[i].id == id.Bytes() {
		i++
	}
	if i == len(r.idx.vectors) {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return store.CheckNeighbour(id, r.idx.vectors[i].id, false, exclusive)
}

// GetPageData returns the frame holding id without copying it
func (r *Reader) GetPageData(id pageid.PageID) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	v, ok := r.find(id)
	if !ok {
		return nil, errors.PageNotFound(id.Bytes())
	}
	return r.frame(v), nil
}

func (r *Reader) PageExists(id pageid.PageID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return false, err
	}
	_, ok := r.find(id)
	return ok, nil
}

// ReadVector decodes the vector stored under id using the field positions
// recorded in the index
func ReadVector[K data.Key, V data.Value](r *Reader, id pageid.PageID) (*data.Vector[K, V], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	v, ok := r.find(id)
	if !ok {
		return nil, errors.PageNotFound(id.Bytes())
	}
	t, err := page.DecodeTable(r.frame(v))
	if err != nil {
		return nil, errors.CorruptedData("failed to decode dataset frame", err).WithDetail("page", id.String())
	}
	fid := int(v.fidField)
	if v.fidField == noField {
		fid = -1
	}
	return page.TableVectorAt[K, V](t, id.ColumnID(), int(v.valField), fid)
}

// Verify decodes every frame and checks that each index entry points at
// fields of its own column with the value type recorded in its page id
func (r *Reader) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkOpen(); err != nil {
		return err
	}
	tables := make([]*page.Table, len(r.idx.frames))
	for i := range r.idx.vectors {
		v := &r.idx.vectors[i]
		id, err := pageid.FromString(v.id)
		if err != nil {
			return errors.CorruptedData("dataset index holds an invalid page id", err)
		}
		t := tables[v.frameIndex]
		if t == nil {
			if t, err = page.DecodeTable(r.frame(v)); err != nil {
				return errors.CorruptedData(fmt.Sprintf("dataset frame %d is corrupt", v.frameIndex), err)
			}
			tables[v.frameIndex] = t
		}
		if t.KeyType() != id.KeyType() {
			return errors.CorruptedData("dataset frame key type does not match its page id", nil).
				WithDetail("page", id.String())
		}
		fields := t.Fields()
		if int(v.valField) >= len(fields) {
			return errors.CorruptedData("dataset index value field is out of range", nil).WithDetail("page", id.String())
		}
		val := fields[v.valField]
		if val.Role != page.RoleValue || val.Name != id.ColumnID() || data.ValueType(val.Type) != id.ValueType() {
			return errors.CorruptedData("dataset index value field does not match its page id", nil).
				WithDetail("page", id.String())
		}
		if v.fidField != noField {
			if int(v.fidField) >= len(fields) {
				return errors.CorruptedData("dataset index fidelity field is out of range", nil).WithDetail("page", id.String())
			}
			if fid := fields[v.fidField]; fid.Role != page.RoleFidelity || fid.Name != id.ColumnID() {
				return errors.CorruptedData("dataset index fidelity field does not match its page id", nil).
					WithDetail("page", id.String())
			}
		}
	}
	return nil
}
