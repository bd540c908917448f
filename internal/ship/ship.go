package ship

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/devrev/groove/internal/dataset"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"github.com/devrev/groove/internal/storage/diskmanager"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options configures a Shipper
type Options struct {
	Codec   Codec
	Workers int
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Disk refuses imports while the destination filesystem is full
	Disk *diskmanager.DiskManager
}

// Shipper exports dataset files to a blob store and imports them back
type Shipper struct {
	store   BlobStore
	codec   Codec
	workers int
	logger  *zap.Logger
	metrics *metrics.Metrics
	disk    *diskmanager.DiskManager
}

func NewShipper(store BlobStore, opts Options) *Shipper {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	return &Shipper{
		store:   store,
		codec:   opts.Codec,
		workers: opts.Workers,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		disk:    opts.Disk,
	}
}

func (s *Shipper) Store() BlobStore { return s.store }

// Export verifies the dataset file at path and uploads it as name
func (s *Shipper) Export(ctx context.Context, path, name string) error {
	start := time.Now()
	if err := verifyFile(path, s.logger); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.BackendFailure("failed to open dataset file", err).WithDetail("path", path)
	}
	defer f.Close()

	var written countingWriter
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.compress(io.MultiWriter(pw, &written), f))
	}()
	err = s.store.Put(ctx, name, pr, -1)
	pr.CloseWithError(err)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	s.metrics.RecordShip("export", written.n.Load(), elapsed.Seconds())
	s.logger.Info("Exported dataset",
		zap.String("path", path),
		zap.String("blob", name),
		zap.String("codec", s.codec.String()),
		zap.Int64("bytes", written.n.Load()),
		zap.Duration("duration", elapsed))
	return nil
}

func (s *Shipper) compress(w io.Writer, r io.Reader) error {
	cw, err := s.codec.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cw, r); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// ExportAll exports every path in files (blob name to path) concurrently
// and returns the first failure
func (s *Shipper) ExportAll(ctx context.Context, files map[string]string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for name, path := range files {
		g.Go(func() error {
			if err := s.Export(ctx, path, name); err != nil {
				return fmt.Errorf("export %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Import downloads name into destPath. The file is only moved into place
// after it opens and verifies as a dataset; an existing destPath is never
// replaced.
func (s *Shipper) Import(ctx context.Context, name, destPath string) error {
	start := time.Now()
	if _, err := os.Stat(destPath); err == nil {
		return errors.AlreadyExists("dataset file", destPath)
	}
	if s.disk != nil {
		if err := s.disk.CheckBeforeWrite(0); err != nil {
			return err
		}
	}

	rc, err := s.store.Get(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	var read countingReader
	read.r = rc
	dec, codec, err := NewReader(&read)
	if err != nil {
		return err
	}
	defer dec.Close()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.BackendFailure("failed to create destination directory", err)
	}
	tmp, err := os.CreateTemp(dir, ".import-*")
	if err != nil {
		return errors.BackendFailure("failed to create temporary file", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, contextReader{ctx: ctx, r: dec})
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.IsStorageError(err) || ctx.Err() != nil {
			return err
		}
		return errors.CorruptedData("failed to decompress blob "+name, err)
	}

	if err := verifyFile(tmp.Name(), s.logger); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return errors.BackendFailure("failed to move dataset file into place", err)
	}

	elapsed := time.Since(start)
	s.metrics.RecordShip("import", read.n, elapsed.Seconds())
	s.logger.Info("Imported dataset",
		zap.String("blob", name),
		zap.String("path", destPath),
		zap.String("codec", codec.String()),
		zap.Int64("bytes", read.n),
		zap.Duration("duration", elapsed))
	return nil
}

func verifyFile(path string, logger *zap.Logger) error {
	r, err := dataset.OpenReader(path, logger)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Verify()
}

type countingWriter struct{ n atomic.Int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n.Add(int64(len(p)))
	return len(p), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
