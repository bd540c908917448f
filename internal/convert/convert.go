// Package convert turns JSON lines files described by a YAML model config
// into groove frames, and writes them as a dataset file.
package convert

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/dataset"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/metrics"
	"go.uber.org/zap"
)

// FileURL is the dataset url used when a config names none
func FileURL(outputPath string) (string, error) {
	abs, err := filepath.Abs(outputPath)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// WriteDataset converts every model of cfg and writes the dataset file at
// outputPath, which must not exist yet
func WriteDataset(cfg *Config, outputPath string, logger *zap.Logger, m *metrics.Metrics) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	url := cfg.DatasetURL
	if url == "" {
		var err error
		if url, err = FileURL(outputPath); err != nil {
			return err
		}
	}
	sch, err := BuildSchema(cfg)
	if err != nil {
		return err
	}
	w, err := dataset.NewWriter(url, sch, logger, m)
	if err != nil {
		return err
	}

	var rows int
	for _, mc := range cfg.Models {
		f, err := ReadModelFile(mc)
		if err != nil {
			return err
		}
		if err := PutFrame(w, mc.ModelID, f); err != nil {
			return fmt.Errorf("model %s: %w", mc.ModelID, err)
		}
		rows += f.NumRows()
		logger.Debug("Converted model",
			zap.String("model", mc.ModelID),
			zap.String("data_path", mc.DataPath),
			zap.Int("rows", f.NumRows()))
	}

	if err := w.WriteDataset(outputPath); err != nil {
		return err
	}
	logger.Info("Wrote dataset",
		zap.String("dataset", url),
		zap.String("path", outputPath),
		zap.Int("models", len(cfg.Models)),
		zap.Int("rows", rows),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// PutFrame hands a type-erased frame to the dataset writer
func PutFrame(w *dataset.Writer, modelID string, f data.AnyFrame) error {
	switch typed := f.(type) {
	case *data.Int64Frame:
		return dataset.PutFrame(w, modelID, typed)
	case *data.DoubleFrame:
		return dataset.PutFrame(w, modelID, typed)
	case *data.CategoryFrame:
		return dataset.PutFrame(w, modelID, typed)
	}
	return errors.Unsupported(fmt.Sprintf("frame key type %s", f.KeyType()))
}
