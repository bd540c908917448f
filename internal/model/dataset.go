package model

import "github.com/devrev/groove/internal/schema"

// Dataset is the read surface shared by live datasets in a database and
// static dataset files
type Dataset interface {
	URL() string
	Schema() *schema.Schema
	IsImmutable() bool
	HasModel(modelID string) bool
	GetModel(modelID string) (*Model, error)
	ModelIDs() []string
}
