package kvstore

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/devrev/groove/internal/config"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/pageid"
	"github.com/devrev/groove/internal/store"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Key namespaces inside the single bucket
const (
	pagePrefix = "/v/"
	metaPrefix = "/m/"
)

// Options configures a BoltStore
type Options struct {
	Path        string
	Bucket      string
	NoSync      bool
	ReadOnly    bool
	OpenTimeout time.Duration
	FillPercent float64
}

// OptionsFromConfig maps the storage section of the node config
func OptionsFromConfig(cfg config.StorageConfig) Options {
	return Options{
		Path:        cfg.DatabasePath(),
		NoSync:      cfg.NoSync,
		OpenTimeout: cfg.OpenTimeout,
	}
}

// BoltStore is a persistent PageStore over one bbolt bucket. Pages live
// under "/v/"+pageId and free-form metadata under "/m/"+key.
type BoltStore struct {
	path        string
	bucket      []byte
	db          *bolt.DB
	fillPercent float64
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

var _ store.PageStore = (*BoltStore)(nil)

// Open opens or creates the database file at opts.Path
func Open(opts Options, logger *zap.Logger, m *metrics.Metrics) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Path == "" {
		return nil, errors.InvalidArgument("bolt store path is required", nil)
	}
	bucket := opts.Bucket
	if bucket == "" {
		bucket = "groove"
	}
	fillPercent := opts.FillPercent
	if fillPercent == 0 {
		fillPercent = bolt.DefaultFillPercent
	}
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, errors.BackendFailure("failed to create database directory", err)
		}
	}

	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{
		Timeout:  opts.OpenTimeout,
		ReadOnly: opts.ReadOnly,
		NoSync:   opts.NoSync,
	})
	if err != nil {
		return nil, errors.BackendFailure("failed to open database", err).WithDetail("path", opts.Path)
	}

	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(bucket))
			return err
		})
		if err != nil {
			db.Close()
			return nil, errors.BackendFailure("failed to create bucket", err)
		}
	}

	logger.Info("Opened page store",
		zap.String("path", opts.Path),
		zap.Bool("read_only", opts.ReadOnly))

	return &BoltStore{
		path:        opts.Path,
		bucket:      []byte(bucket),
		db:          db,
		fillPercent: fillPercent,
		logger:      logger,
		metrics:     m,
	}, nil
}

func (s *BoltStore) Path() string { return s.path }

func (s *BoltStore) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.BackendFailure("failed to close database", err)
	}
	return nil
}

// view runs fn against the bucket in a read transaction. A read-only
// store opened before the bucket existed behaves as empty.
func (s *BoltStore) view(fn func(b *bolt.Bucket) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return fn(b)
	})
	if err != nil && !errors.IsStorageError(err) {
		return errors.BackendFailure("read transaction failed", err)
	}
	return err
}

func (s *BoltStore) IsEmpty() (bool, error) {
	empty := true
	err := s.view(func(b *bolt.Bucket) error {
		k, _ := b.Cursor().Seek([]byte(pagePrefix))
		empty = k == nil || !bytes.HasPrefix(k, []byte(pagePrefix))
		return nil
	})
	return empty, err
}

func (s *BoltStore) GetPageIDBefore(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	found, ok, err := s.keyBefore(pagePrefix+id.Bytes(), pagePrefix, exclusive)
	if err != nil {
		return pageid.PageID{}, err
	}
	if !ok {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return store.CheckNeighbour(id, found[len(pagePrefix):], true, exclusive)
}

func (s *BoltStore) GetPageIDAfter(id pageid.PageID, exclusive bool) (pageid.PageID, error) {
	found, ok, err := s.keyAfter(pagePrefix+id.Bytes(), pagePrefix, exclusive)
	if err != nil {
		return pageid.PageID{}, err
	}
	if !ok {
		return pageid.PageID{}, errors.PageNotFound(id.Bytes())
	}
	return store.CheckNeighbour(id, found[len(pagePrefix):], false, exclusive)
}

func (s *BoltStore) GetPageData(id pageid.PageID) ([]byte, error) {
	buf, ok, err := s.get(pagePrefix + id.Bytes())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.PageNotFound(id.Bytes())
	}
	return buf, nil
}

func (s *BoltStore) PageExists(id pageid.PageID) (bool, error) {
	_, ok, err := s.get(pagePrefix + id.Bytes())
	return ok, err
}

// keyBefore seeks to key and steps back once when the exact key must be
// excluded or is absent. The result must share prefix.
func (s *BoltStore) keyBefore(key, prefix string, exclusive bool) (string, bool, error) {
	var (
		found string
		ok    bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		c := b.Cursor()
		k, _ := c.Seek([]byte(key))
		if k == nil {
			k, _ = c.Last()
		} else if exclusive || string(k) != key {
			k, _ = c.Prev()
		}
		if k != nil && bytes.HasPrefix(k, []byte(prefix)) && string(k) <= key {
			found, ok = string(k), true
		}
		return nil
	})
	return found, ok, err
}

// keyAfter seeks to key and steps forward once when the exact key must be
// excluded. The result must share prefix.
func (s *BoltStore) keyAfter(key, prefix string, exclusive bool) (string, bool, error) {
	var (
		found string
		ok    bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		c := b.Cursor()
		k, _ := c.Seek([]byte(key))
		if k != nil && exclusive && string(k) == key {
			k, _ = c.Next()
		}
		if k != nil && bytes.HasPrefix(k, []byte(prefix)) && string(k) >= key {
			found, ok = string(k), true
		}
		return nil
	})
	return found, ok, err
}

func (s *BoltStore) get(key string) ([]byte, bool, error) {
	var (
		value []byte
		ok    bool
	)
	err := s.view(func(b *bolt.Bucket) error {
		if v := b.Get([]byte(key)); v != nil {
			value, ok = cloneBytes(v), true
		}
		return nil
	})
	return value, ok, err
}

// GetMeta returns the metadata stored under key
func (s *BoltStore) GetMeta(key string) ([]byte, error) {
	value, ok, err := s.get(metaPrefix + key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.KeyNotFound(key)
	}
	return value, nil
}

// MetaExists reports whether key has metadata
func (s *BoltStore) MetaExists(key string) (bool, error) {
	_, ok, err := s.get(metaPrefix + key)
	return ok, err
}

// SetMeta stores value under key in its own transaction
func (s *BoltStore) SetMeta(key string, value []byte) error {
	tx := s.Begin()
	tx.SetMeta(key, value)
	err := tx.Apply()
	s.metrics.RecordTransaction(err)
	return err
}

// RemoveMeta deletes key in its own transaction
func (s *BoltStore) RemoveMeta(key string) error {
	tx := s.Begin()
	tx.RemoveMeta(key)
	err := tx.Apply()
	s.metrics.RecordTransaction(err)
	return err
}

// MetaKeys lists metadata keys beginning with prefix, without the
// namespace
func (s *BoltStore) MetaKeys(prefix string) ([]string, error) {
	var keys []string
	err := s.view(func(b *bolt.Bucket) error {
		full := []byte(metaPrefix + prefix)
		c := b.Cursor()
		for k, _ := c.Seek(full); k != nil && bytes.HasPrefix(k, full); k, _ = c.Next() {
			keys = append(keys, string(k[len(metaPrefix):]))
		}
		return nil
	})
	return keys, err
}

func cloneBytes(b []byte) []byte {
	return append([]byte(nil), b...)
}
