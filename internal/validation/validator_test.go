package validation

import (
	"strings"
	"testing"

	"github.com/devrev/groove/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateDatasetURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"dev.groove://test/live", false},
		{"file:///var/lib/groove/a.gds", false},
		{"", true},
		{"relative/path", true},
		{"dev.groove://a\x1fb", true},
		{"dev.groove://a\x1eb", true},
		{"dev.groove://" + strings.Repeat("a", MaxDatasetURLSize), true},
	}
	for _, tt := range tests {
		err := Default().ValidateDatasetURL(tt.url)
		if tt.wantErr {
			assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err), "%q", tt.url)
		} else {
			assert.NoError(t, err, "%q", tt.url)
		}
	}
}

func TestValidateIdentifiers(t *testing.T) {
	v := NewValidatorWithLimits(64, 4, 3)

	assert.NoError(t, v.ValidateColumnRef("dev.groove://x", "m", "col"))
	assert.Error(t, v.ValidateColumnRef("dev.groove://x", "", "col"))
	assert.Error(t, v.ValidateColumnRef("dev.groove://x", "m", "column"))
	assert.Error(t, v.ValidateColumnRef("dev.groove://x", "m\n", "c"))
	assert.Error(t, v.ValidateColumnRef("nope", "m", "c"))

	assert.NoError(t, v.ValidateSegment("abc"))
	assert.NoError(t, v.ValidateSegment(""))
	assert.Error(t, v.ValidateSegment("abcd"))
}
