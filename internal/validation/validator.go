package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/devrev/groove/internal/errors"
)

const (
	// Size limits
	MaxDatasetURLSize = 2048
	MaxIdentifierSize = 256
	MaxSegmentSize    = 4096

	// Bytes reserved by the page id layout
	unitSeparator   = "\x1f"
	recordSeparator = "\x1e"
)

// Validator validates identifiers that end up embedded in page ids and
// schema blobs
type Validator struct {
	maxURLSize        int
	maxIdentifierSize int
	maxSegmentSize    int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxURLSize:        MaxDatasetURLSize,
		maxIdentifierSize: MaxIdentifierSize,
		maxSegmentSize:    MaxSegmentSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxURLSize, maxIdentifierSize, maxSegmentSize int) *Validator {
	return &Validator{
		maxURLSize:        maxURLSize,
		maxIdentifierSize: maxIdentifierSize,
		maxSegmentSize:    maxSegmentSize,
	}
}

var defaultValidator = NewValidator()

// Default returns the shared validator with default limits
func Default() *Validator {
	return defaultValidator
}

// ValidateColumnRef validates the three components of a page id prefix
func (v *Validator) ValidateColumnRef(datasetURL, modelID, columnID string) error {
	if err := v.ValidateDatasetURL(datasetURL); err != nil {
		return err
	}
	if err := v.ValidateIdentifier("model id", modelID); err != nil {
		return err
	}
	return v.ValidateIdentifier("column id", columnID)
}

// ValidateDatasetURL checks that datasetURL parses as an absolute URL and
// carries no reserved separator bytes
func (v *Validator) ValidateDatasetURL(datasetURL string) error {
	if datasetURL == "" {
		return errors.InvalidArgument("dataset url cannot be empty", nil)
	}
	if len(datasetURL) > v.maxURLSize {
		return errors.InvalidArgument(
			fmt.Sprintf("dataset url exceeds maximum size of %d bytes", v.maxURLSize), nil)
	}
	if containsReserved(datasetURL) {
		return errors.InvalidArgument("dataset url cannot contain separator bytes", nil).
			WithDetail("dataset_url", datasetURL)
	}
	parsed, err := url.Parse(datasetURL)
	if err != nil {
		return errors.InvalidArgument("dataset url does not parse", err).
			WithDetail("dataset_url", datasetURL)
	}
	if parsed.Scheme == "" {
		return errors.InvalidArgument("dataset url must be absolute", nil).
			WithDetail("dataset_url", datasetURL)
	}
	return nil
}

// ValidateIdentifier validates a model or column id
func (v *Validator) ValidateIdentifier(kind, id string) error {
	if id == "" {
		return errors.InvalidArgument(kind+" cannot be empty", nil)
	}
	if len(id) > v.maxIdentifierSize {
		return errors.InvalidArgument(
			fmt.Sprintf("%s exceeds maximum size of %d bytes", kind, v.maxIdentifierSize), nil).
			WithDetail("id", id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return errors.InvalidArgument(kind+" cannot contain control characters", nil).
				WithDetail("id", id)
		}
	}
	return nil
}

// ValidateSegment validates a single category path segment
func (v *Validator) ValidateSegment(segment string) error {
	if len(segment) > v.maxSegmentSize {
		return errors.InvalidArgument(
			fmt.Sprintf("category segment exceeds maximum size of %d bytes", v.maxSegmentSize), nil)
	}
	return nil
}

func containsReserved(s string) bool {
	return strings.Contains(s, unitSeparator) || strings.Contains(s, recordSeparator)
}
