package database

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/kvstore"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/model"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/storage/diskmanager"
	"github.com/devrev/groove/internal/store"
	"github.com/devrev/groove/internal/util/workerpool"
	"github.com/devrev/groove/internal/validation"
	"go.uber.org/zap"
)

// datasetMetaPrefix namespaces declared schemas in the backend metadata
const datasetMetaPrefix = "dataset/"

// Options configures a Database
type Options struct {
	Storage config.StorageConfig
	Column  config.ColumnConfig
	Cache   config.CacheConfig
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Disk guards PutData against filling the data directory; nil disables
	// the check
	Disk *diskmanager.DiskManager
}

// Database holds the live, writable datasets of one node. Declarations are
// persisted with their schema and reloaded by Open.
type Database struct {
	mu       sync.RWMutex
	kv       *kvstore.BoltStore
	pages    store.PageStore
	cache    *store.CachingPageStore
	pool     *workerpool.WorkerPool
	datasets map[string]*Dataset
	opts     Options
	logger   *zap.Logger
}

// Open opens the bolt file named by opts.Storage and reloads every declared
// dataset
func Open(opts Options) (*Database, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	kv, err := kvstore.Open(kvstore.OptionsFromConfig(opts.Storage), opts.Logger, opts.Metrics)
	if err != nil {
		return nil, err
	}

	db := &Database{
		kv:       kv,
		pages:    kv,
		datasets: make(map[string]*Dataset),
		opts:     opts,
		logger:   opts.Logger,
	}
	if opts.Cache.MaxBytes > 0 {
		db.cache = store.NewCachingPageStore(kv, opts.Cache, opts.Logger, opts.Metrics)
		db.pages = db.cache
	}
	if err := db.reload(); err != nil {
		kv.Close()
		return nil, err
	}
	db.pool = workerpool.NewWorkerPool(workerpool.Config{
		Name:       "put-data",
		MaxWorkers: opts.Storage.WriteWorkers,
		Logger:     opts.Logger,
	})

	if db.cache != nil {
		db.cache.Start()
	}

	db.logger.Info("Database opened",
		zap.String("path", kv.Path()),
		zap.Int("datasets", len(db.datasets)),
		zap.Bool("page_cache", db.cache != nil))
	return db, nil
}

func (db *Database) reload() error {
	keys, err := db.kv.MetaKeys(datasetMetaPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		url := strings.TrimPrefix(key, datasetMetaPrefix)
		blob, err := db.kv.GetMeta(key)
		if err != nil {
			return err
		}
		sch, err := schema.Parse(blob)
		if err != nil {
			return errors.CorruptedData("stored schema of dataset "+url+" is corrupt", err)
		}
		db.datasets[url] = db.newDataset(url, sch)
	}
	return nil
}

func (db *Database) newDataset(url string, sch *schema.Schema) *Dataset {
	return &Dataset{
		url:    url,
		schema: sch,
		models: model.BuildModels(url, sch, db.pages, model.Options{
			Column:  db.opts.Column,
			Logger:  db.logger,
			Metrics: db.opts.Metrics,
		}),
	}
}

// Close stops the write workers and closes the backend
func (db *Database) Close() error {
	if db.cache != nil {
		db.cache.Stop()
	}
	if db.pool != nil {
		if err := db.pool.Stop(db.opts.Storage.OpenTimeout + 5*time.Second); err != nil {
			db.logger.Warn("Write workers did not stop", zap.Error(err))
		}
	}
	return db.kv.Close()
}

// Store exposes the page backend, mainly for maintenance tooling
func (db *Database) Store() *kvstore.BoltStore { return db.kv }

// DeclareDataset registers datasetURL with sch. Declaring the same schema
// twice is a no-op; a different schema for a declared url fails with
// AlreadyExists.
func (db *Database) DeclareDataset(datasetURL string, sch *schema.Schema) (*Dataset, error) {
	if err := validation.Default().ValidateDatasetURL(datasetURL); err != nil {
		return nil, err
	}
	if sch == nil {
		return nil, errors.InvalidArgument("dataset declaration needs a schema", nil)
	}
	if !sch.HasIdentifier() {
		var err error
		if sch, err = schema.Parse(append([]byte(schema.Identifier), sch.Embedded()...)); err != nil {
			return nil, err
		}
	}
	blob := sch.Bytes()

	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.datasets[datasetURL]; ok {
		if bytes.Equal(existing.schema.Bytes(), blob) {
			return existing, nil
		}
		return nil, errors.AlreadyExists("dataset", datasetURL)
	}
	if err := db.kv.SetMeta(datasetMetaPrefix+datasetURL, blob); err != nil {
		return nil, err
	}
	ds := db.newDataset(datasetURL, sch)
	db.datasets[datasetURL] = ds

	db.logger.Info("Declared dataset",
		zap.String("dataset", datasetURL),
		zap.Strings("models", ds.ModelIDs()))
	return ds, nil
}

func (db *Database) HasDataset(datasetURL string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.datasets[datasetURL]
	return ok
}

// GetDataset returns the declared dataset or DatasetNotFound
func (db *Database) GetDataset(datasetURL string) (*Dataset, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ds, ok := db.datasets[datasetURL]
	if !ok {
		return nil, errors.DatasetNotFound(datasetURL)
	}
	return ds, nil
}

func (db *Database) GetSchema(datasetURL string) (*schema.Schema, error) {
	ds, err := db.GetDataset(datasetURL)
	if err != nil {
		return nil, err
	}
	return ds.schema, nil
}

// DatasetURLs lists the declared datasets in order
func (db *Database) DatasetURLs() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	urls := make([]string, 0, len(db.datasets))
	for url := range db.datasets {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// DropDataset forgets datasetURL and removes all of its pages in one
// transaction
func (db *Database) DropDataset(datasetURL string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ds, ok := db.datasets[datasetURL]
	if !ok {
		return errors.DatasetNotFound(datasetURL)
	}
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	prefix := pageid.DatasetPrefix(datasetURL)
	tx := db.kv.Begin()
	tx.RemoveMeta(datasetMetaPrefix + datasetURL)
	if err := tx.RemovePagesWithPrefix(prefix); err != nil {
		tx.Abort()
		return err
	}
	err := tx.Apply()
	db.opts.Metrics.RecordTransaction(err)
	if err != nil {
		return err
	}
	if db.cache != nil {
		db.cache.InvalidatePrefix(prefix)
	}
	ds.dropped = true
	delete(db.datasets, datasetURL)

	db.logger.Info("Dropped dataset", zap.String("dataset", datasetURL))
	return nil
}

// Dataset is a live dataset. Its models write through the database's page
// store.
type Dataset struct {
	url    string
	schema *schema.Schema
	models map[string]*model.Model

	// writeMu serializes PutData calls against the dataset and its drop
	writeMu sync.Mutex
	dropped bool
}

var _ model.Dataset = (*Dataset)(nil)

func (d *Dataset) URL() string { return d.url }

func (d *Dataset) Schema() *schema.Schema { return d.schema }

func (d *Dataset) IsImmutable() bool { return false }

func (d *Dataset) HasModel(modelID string) bool {
	_, ok := d.models[modelID]
	return ok
}

func (d *Dataset) GetModel(modelID string) (*model.Model, error) {
	m, ok := d.models[modelID]
	if !ok {
		return nil, errors.ModelNotFound(d.url, modelID)
	}
	return m, nil
}

func (d *Dataset) ModelIDs() []string { return model.SortedIDs(d.models) }
