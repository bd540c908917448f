package dataset

import (
	"github.com/devrev/groove/internal/errors"
	"github.com/devrev/groove/internal/model"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/validation"
	"go.uber.org/zap"
)

// File is an immutable dataset served from a dataset file
type File struct {
	url    string
	reader *Reader
	models map[string]*model.Model
	logger *zap.Logger
}

var _ model.Dataset = (*File)(nil)

// OpenFile mounts the dataset file at path. overrideURL, when set, replaces
// the url the dataset is published under; pages stay addressed by the url
// recorded in the file. Pages are served straight from the mapping.
func OpenFile(path, overrideURL string, opts model.Options) (*File, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if overrideURL != "" {
		if err := validation.Default().ValidateDatasetURL(overrideURL); err != nil {
			return nil, err
		}
	}
	r, err := OpenReader(path, opts.Logger)
	if err != nil {
		return nil, err
	}
	f := &File{
		url:    r.URL(),
		reader: r,
		models: model.BuildModels(r.URL(), r.Schema(), r, opts),
		logger: opts.Logger,
	}
	if overrideURL != "" {
		f.url = overrideURL
	}
	return f, nil
}

func (f *File) URL() string { return f.url }

func (f *File) Schema() *schema.Schema { return f.reader.Schema() }

func (f *File) IsImmutable() bool { return true }

func (f *File) Reader() *Reader { return f.reader }

func (f *File) HasModel(modelID string) bool {
	_, ok := f.models[modelID]
	return ok
}

func (f *File) GetModel(modelID string) (*model.Model, error) {
	m, ok := f.models[modelID]
	if !ok {
		return nil, errors.ModelNotFound(f.url, modelID)
	}
	return m, nil
}

func (f *File) ModelIDs() []string { return model.SortedIDs(f.models) }

func (f *File) Close() error {
	f.logger.Debug("Closing dataset file", zap.String("dataset", f.url), zap.String("path", f.reader.Path()))
	return f.reader.Close()
}
