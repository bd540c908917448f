package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/database"
	"github.com/devrev/groove/internal/dataset"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/health"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/model"
	"github.com/devrev/groove/internal/page"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/shard"
	"go.uber.org/zap"
)

// CatalogConfig configures how mounted dataset files are opened
type CatalogConfig struct {
	Column config.ColumnConfig
}

// CatalogService resolves dataset urls against the live database and the
// dataset files mounted on this node, and serves shards out of either
type CatalogService struct {
	db      *database.Database
	cfg     CatalogConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	mounts map[string]*dataset.File
}

// NewCatalogService creates a catalog. db may be nil on nodes that only
// serve dataset files.
func NewCatalogService(db *database.Database, cfg CatalogConfig, logger *zap.Logger, m *metrics.Metrics) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		db:      db,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		mounts:  make(map[string]*dataset.File),
	}
}

// Mount opens the dataset file at path and serves it under url, or under
// the url recorded in the file when url is empty
func (s *CatalogService) Mount(path, url string) (*dataset.File, error) {
	f, err := dataset.OpenFile(path, url, model.Options{
		Column:  s.cfg.Column,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mounts[f.URL()]; ok || (s.db != nil && s.db.HasDataset(f.URL())) {
		f.Close()
		return nil, errors.AlreadyExists("dataset", f.URL())
	}
	s.mounts[f.URL()] = f
	s.metrics.SetDatasetsMounted(len(s.mounts))

	s.logger.Info("Mounted dataset file",
		zap.String("path", path),
		zap.String("dataset", f.URL()),
		zap.Int("pages", f.Reader().NumVectors()))
	return f, nil
}

// Unmount closes the dataset file served under url
func (s *CatalogService) Unmount(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.mounts[url]
	if !ok {
		return errors.DatasetNotFound(url)
	}
	delete(s.mounts, url)
	s.metrics.SetDatasetsMounted(len(s.mounts))
	s.logger.Info("Unmounted dataset file", zap.String("dataset", url))
	return f.Close()
}

// Lookup finds url among the mounted files first, then the database
func (s *CatalogService) Lookup(url string) (model.Dataset, error) {
	s.mu.RLock()
	f, ok := s.mounts[url]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}
	if s.db == nil {
		return nil, errors.DatasetNotFound(url)
	}
	return s.db.GetDataset(url)
}

// DatasetURLs lists every dataset the catalog can serve, in order
func (s *CatalogService) DatasetURLs() []string {
	s.mu.RLock()
	urls := make([]string, 0, len(s.mounts))
	for url := range s.mounts {
		urls = append(urls, url)
	}
	s.mu.RUnlock()
	if s.db != nil {
		urls = append(urls, s.db.DatasetURLs()...)
	}
	sort.Strings(urls)
	return urls
}

// Describe returns the schema blob of url, always with its identifier
func (s *CatalogService) Describe(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Unavailable("describe cancelled", err)
	}
	ds, err := s.Lookup(url)
	if err != nil {
		return nil, err
	}
	return ds.Schema().Standalone(), nil
}

// GetShard reads the datums of the shard's range and returns them as one
// encoded page table
func (s *CatalogService) GetShard(ctx context.Context, sh *shard.Shard) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Unavailable("shard read cancelled", err)
	}
	start := time.Now()
	ds, err := s.Lookup(sh.DatasetURL)
	if err != nil {
		return nil, err
	}
	m, err := ds.GetModel(sh.ModelID)
	if err != nil {
		return nil, err
	}
	if m.KeyType() != sh.KeyType {
		return nil, errors.TypeMismatch("shard key", m.KeyType().String(), sh.KeyType.String())
	}
	def, ok := m.ColumnDef(sh.ColumnID)
	if !ok {
		return nil, errors.ColumnNotFound(sh.ModelID, sh.ColumnID)
	}
	if def.ValueType != sh.ValueType {
		return nil, errors.TypeMismatch("shard value", def.ValueType.String(), sh.ValueType.String())
	}

	var out []byte
	switch sh.KeyType {
	case data.KeyInt64:
		out, err = readShardKeyed[int64](m, sh)
	case data.KeyDouble:
		out, err = readShardKeyed[float64](m, sh)
	case data.KeyCategory:
		out, err = readShardKeyed[data.Category](m, sh)
	default:
		err = errors.Unsupported(fmt.Sprintf("shard key type %s", sh.KeyType))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Served shard",
		zap.String("shard", sh.String()),
		zap.Int("bytes", len(out)),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

func readShardKeyed[K data.Key](m *model.Model, sh *shard.Shard) ([]byte, error) {
	switch sh.ValueType {
	case data.ValueDouble:
		return readShard[K, float64](m, sh)
	case data.ValueInt64:
		return readShard[K, int64](m, sh)
	case data.ValueString:
		return readShard[K, string](m, sh)
	}
	return nil, errors.Unsupported(fmt.Sprintf("shard value type %s", sh.ValueType))
}

func readShard[K data.Key, V data.Value](m *model.Model, sh *shard.Shard) ([]byte, error) {
	r, err := shard.ToRange[K](sh)
	if err != nil {
		return nil, err
	}
	col, err := model.IndexedColumnOf[K, V](m, sh.ColumnID)
	if err != nil {
		return nil, err
	}
	vectors, _, err := col.GetVectors(r)
	if err != nil {
		return nil, err
	}
	return page.EncodeVector(data.Concat(sh.ColumnID, vectors...))
}

// DeclareDataset declares url in the live database with the schema in blob.
// Urls served by a mounted file cannot be declared.
func (s *CatalogService) DeclareDataset(ctx context.Context, url string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Unavailable("declare cancelled", err)
	}
	if s.db == nil {
		return errors.Unsupported("node has no live database")
	}
	sch, err := schema.Parse(blob)
	if err != nil {
		return errors.InvalidArgument("declare needs a valid schema", err)
	}

	s.mu.RLock()
	_, mounted := s.mounts[url]
	s.mu.RUnlock()
	if mounted {
		return errors.AlreadyExists("dataset", url)
	}
	if _, err := s.db.DeclareDataset(url, sch); err != nil {
		return err
	}
	s.logger.Info("Declared dataset",
		zap.String("dataset", url),
		zap.Strings("models", sch.Walker().ModelIDs()))
	return nil
}

// PutData decodes the frame of req and merge-writes it into the live
// dataset. It returns the columns the model refused.
func (s *CatalogService) PutData(ctx context.Context, req *shard.PutRequest) ([]string, error) {
	if s.db == nil {
		return nil, errors.Unsupported("node has no live database")
	}
	s.mu.RLock()
	_, mounted := s.mounts[req.DatasetURL]
	s.mu.RUnlock()
	if mounted {
		return nil, errors.Unsupported(fmt.Sprintf("dataset %s is a read-only file", req.DatasetURL))
	}

	t, err := page.DecodeTable(req.Frame)
	if err != nil {
		return nil, errors.InvalidArgument("put carries a malformed frame", err)
	}
	switch t.KeyType() {
	case data.KeyInt64:
		return putFrame[int64](ctx, s.db, req)
	case data.KeyDouble:
		return putFrame[float64](ctx, s.db, req)
	case data.KeyCategory:
		return putFrame[data.Category](ctx, s.db, req)
	}
	return nil, errors.Unsupported(fmt.Sprintf("frame key type %s", t.KeyType()))
}

func putFrame[K data.Key](ctx context.Context, db *database.Database, req *shard.PutRequest) ([]string, error) {
	f, err := page.DecodeFrame[K](req.Frame)
	if err != nil {
		return nil, errors.InvalidArgument("put carries a malformed frame", err)
	}
	return database.PutData(ctx, db, req.DatasetURL, req.ModelID, f)
}

// CheckHealth probes the database backend and every mounted file
func (s *CatalogService) CheckHealth() (string, string) {
	if s.db != nil {
		if _, err := s.db.Store().IsEmpty(); err != nil {
			return health.StatusCritical, fmt.Sprintf("Database backend unavailable: %v", err)
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for url, f := range s.mounts {
		if _, err := f.Reader().IsEmpty(); err != nil {
			return health.StatusWarning, fmt.Sprintf("Mounted dataset %s unavailable: %v", url, err)
		}
	}
	return health.StatusHealthy, fmt.Sprintf("%d mounted datasets", len(s.mounts))
}

// Close unmounts every dataset file. The database is owned by the caller.
func (s *CatalogService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for url, f := range s.mounts {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.mounts, url)
	}
	s.metrics.SetDatasetsMounted(0)
	return firstErr
}
