package database

import (
	"context"
	"fmt"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/model"
	"github.com/devrev/groove/internal/util/workerpool"
	"go.uber.org/zap"
)

// estimatedCellBytes approximates one encoded key, value and fidelity
const estimatedCellBytes = 24

// PutData merge-writes every column of f into modelID of datasetURL.
//
// Columns the model does not declare, columns of the wrong value type and
// columns holding a fidelity their policy forbids are skipped and returned
// in failed. The remaining columns are written concurrently, each in its own
// transaction; the first write error is returned after all of them finish.
func PutData[K data.Key](ctx context.Context, db *Database, datasetURL, modelID string, f *data.Frame[K]) (failed []string, err error) {
	if f == nil {
		return nil, errors.InvalidArgument("put data needs a frame", nil)
	}
	ds, err := db.GetDataset(datasetURL)
	if err != nil {
		return nil, err
	}
	return putData(ctx, db, ds, modelID, f)
}

func putData[K data.Key](ctx context.Context, db *Database, ds *Dataset, modelID string, f *data.Frame[K]) (failed []string, err error) {
	datasetURL := ds.url
	m, err := ds.GetModel(modelID)
	if err != nil {
		return nil, err
	}
	if kt := data.KeyTypeOf[K](); kt != m.KeyType() {
		return nil, errors.TypeMismatch("model "+modelID+" key", m.KeyType().String(), kt.String())
	}
	if m.Collation() != data.CollationIndexed {
		return nil, errors.TypeMismatch("model "+modelID+" collation", data.CollationIndexed.String(), m.Collation().String())
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()
	// a drop that won the lock has already removed the dataset's pages
	if ds.dropped {
		return nil, errors.DatasetNotFound(datasetURL)
	}

	var tasks []workerpool.Task
	for _, id := range f.ColumnIDs() {
		vec, _ := f.Vector(id)
		if reason := rejectColumn(m, id, vec); reason != "" {
			db.logger.Info("Skipping column",
				zap.String("dataset", datasetURL),
				zap.String("model", modelID),
				zap.String("column", id),
				zap.String("reason", reason))
			failed = append(failed, id)
			continue
		}
		task, err := columnWrite(m, f, id, vec.ValueType())
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	db.opts.Metrics.RecordFailedColumns(len(failed))
	if db.opts.Disk != nil && len(tasks) > 0 {
		// merged pages are rewritten whole, so the incoming rows are a floor
		if err := db.opts.Disk.CheckBeforeWrite(int64(f.NumRows()) * int64(len(tasks)) * estimatedCellBytes); err != nil {
			return failed, err
		}
	}

	errs := db.pool.Batch(ctx, tasks)
	for _, task := range tasks {
		if err := errs[task.ID]; err != nil {
			if se, ok := err.(*errors.StorageError); ok {
				return failed, se.WithDetail("column", task.ID)
			}
			return failed, errors.InternalError(fmt.Sprintf("column %s write failed", task.ID), err)
		}
	}

	db.logger.Debug("Put data",
		zap.String("dataset", datasetURL),
		zap.String("model", modelID),
		zap.Int("rows", f.NumRows()),
		zap.Int("columns_written", len(tasks)),
		zap.Strings("columns_failed", failed))
	return failed, nil
}

// rejectColumn returns why vec cannot be written to column id of m, or ""
func rejectColumn(m *model.Model, id string, vec data.AnyVector) string {
	def, ok := m.ColumnDef(id)
	if !ok {
		return "column is not declared"
	}
	if def.ValueType != vec.ValueType() {
		return fmt.Sprintf("column has value type %s, frame has %s", def.ValueType, vec.ValueType())
	}
	for _, fid := range vec.Fidelities() {
		if !def.Policy.Allows(fid) {
			return fmt.Sprintf("fidelity %s violates policy %s", fid, def.Policy)
		}
	}
	return ""
}

func columnWrite[K data.Key](m *model.Model, f *data.Frame[K], id string, vt data.ValueType) (workerpool.Task, error) {
	switch vt {
	case data.ValueDouble:
		return typedColumnWrite[K, float64](m, f, id)
	case data.ValueInt64:
		return typedColumnWrite[K, int64](m, f, id)
	case data.ValueString:
		return typedColumnWrite[K, string](m, f, id)
	default:
		return workerpool.Task{}, errors.Unsupported(fmt.Sprintf("column %s has value type %s", id, vt))
	}
}

func typedColumnWrite[K data.Key, V data.Value](m *model.Model, f *data.Frame[K], id string) (workerpool.Task, error) {
	w, err := model.IndexedWriterOf[K, V](m, id)
	if err != nil {
		return workerpool.Task{}, err
	}
	vec, err := data.FrameColumn[K, V](f, id)
	if err != nil {
		return workerpool.Task{}, err
	}
	return workerpool.Task{
		ID: id,
		Fn: func(context.Context) error { return w.SetValues(vec) },
	}, nil
}
