package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/devrev/groove/internal/data"
	"github.com/devrev/groove/internal/schema"
	"github.com/devrev/groove/internal/validation"
	"gopkg.in/yaml.v3"
)

// Config describes the models converted into one dataset
type Config struct {
	DatasetURL string        `yaml:"dataset_url"`
	Models     []ModelConfig `yaml:"models"`
}

// ModelConfig maps one JSON lines file onto a model
type ModelConfig struct {
	ModelID   string                  `yaml:"model_id"`
	KeyField  string                  `yaml:"key_field"`
	KeyType   string                  `yaml:"key_type"`
	Collation string                  `yaml:"collation"`
	DataPath  string                  `yaml:"data_path"`
	Columns   map[string]ColumnConfig `yaml:"columns"`
}

// ColumnConfig maps one field onto a column. FidelityField names a field
// holding the fidelity of each row; NullsAllowed stores null or absent
// values as NoData.
type ColumnConfig struct {
	ValueType     string `yaml:"value_type"`
	NullsAllowed  bool   `yaml:"nulls_allowed"`
	FidelityField string `yaml:"fidelity_field"`
}

// LoadConfig reads a convert config. Relative data paths resolve against
// the directory holding the config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read convert config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse convert config: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range cfg.Models {
		if p := cfg.Models[i].DataPath; p != "" && !filepath.IsAbs(p) {
			cfg.Models[i].DataPath = filepath.Join(dir, p)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid convert config: %w", err)
	}
	return &cfg, nil
}

// Validate checks identifiers, types and duplicate models. DatasetURL may
// be empty; the caller then picks one.
func (c *Config) Validate() error {
	v := validation.Default()
	if c.DatasetURL != "" {
		if err := v.ValidateDatasetURL(c.DatasetURL); err != nil {
			return err
		}
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("no models defined")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if err := v.ValidateIdentifier("model id", m.ModelID); err != nil {
			return err
		}
		if seen[m.ModelID] {
			return fmt.Errorf("model %q is already defined", m.ModelID)
		}
		seen[m.ModelID] = true
		if m.KeyField == "" {
			return fmt.Errorf("model %s has no key_field", m.ModelID)
		}
		if _, err := m.keyType(); err != nil {
			return err
		}
		if _, err := m.collation(); err != nil {
			return err
		}
		if len(m.Columns) == 0 {
			return fmt.Errorf("model %s has no columns defined", m.ModelID)
		}
		for id, col := range m.Columns {
			if err := v.ValidateIdentifier("column id", id); err != nil {
				return err
			}
			if id == m.KeyField {
				return fmt.Errorf("model %s: column %s is the key field", m.ModelID, id)
			}
			if _, err := parseValueType(col.ValueType); err != nil {
				return fmt.Errorf("model %s column %s: %w", m.ModelID, id, err)
			}
		}
	}
	return nil
}

func (m ModelConfig) keyType() (data.KeyType, error) {
	switch m.KeyType {
	case "category", "Category":
		return data.KeyCategory, nil
	case "double", "Double":
		return data.KeyDouble, nil
	case "int64", "Int64":
		return data.KeyInt64, nil
	}
	return data.KeyUnknown, fmt.Errorf("model %s: unknown key_type %q", m.ModelID, m.KeyType)
}

func (m ModelConfig) collation() (data.Collation, error) {
	switch m.Collation {
	case "", "indexed", "Indexed":
		return data.CollationIndexed, nil
	case "sorted", "Sorted":
		return data.CollationSorted, nil
	}
	return data.CollationUnknown, fmt.Errorf("model %s: unknown collation %q", m.ModelID, m.Collation)
}

// ColumnIDs returns the column ids in schema order
func (m ModelConfig) ColumnIDs() []string {
	ids := make([]string, 0, len(m.Columns))
	for id := range m.Columns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c ColumnConfig) policy() schema.FidelityPolicy {
	switch {
	case c.FidelityField != "":
		return schema.PolicyAnyFidelityAllowed
	case c.NullsAllowed:
		return schema.PolicyOnlyValidOrEmpty
	default:
		return schema.PolicyOnlyValidValue
	}
}

func parseValueType(s string) (data.ValueType, error) {
	switch s {
	case "double", "Double":
		return data.ValueDouble, nil
	case "int64", "Int64":
		return data.ValueInt64, nil
	case "string", "String":
		return data.ValueString, nil
	}
	return data.ValueUnknown, fmt.Errorf("unknown value_type %q", s)
}

// BuildSchema declares every configured model, ordered by model id
func BuildSchema(cfg *Config) (*schema.Schema, error) {
	models := append([]ModelConfig(nil), cfg.Models...)
	sort.Slice(models, func(i, j int) bool { return models[i].ModelID < models[j].ModelID })

	s := schema.NewState()
	for _, mc := range models {
		kt, err := mc.keyType()
		if err != nil {
			return nil, err
		}
		collation, err := mc.collation()
		if err != nil {
			return nil, err
		}
		m, err := s.PutModel(mc.ModelID, kt, collation)
		if err != nil {
			return nil, err
		}
		for _, id := range mc.ColumnIDs() {
			col := mc.Columns[id]
			vt, err := parseValueType(col.ValueType)
			if err != nil {
				return nil, err
			}
			if _, err := m.AddColumn(id, vt, col.policy()); err != nil {
				return nil, err
			}
		}
	}
	return s.ToSchema(false)
}
