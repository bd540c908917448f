package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToGRPCError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"page not found", PageNotFound("page\x1fx"), codes.NotFound},
		{"dataset not found", DatasetNotFound("dev.groove://a"), codes.NotFound},
		{"type mismatch", TypeMismatch("column v", "double", "int64"), codes.InvalidArgument},
		{"already exists", AlreadyExists("dataset", "dev.groove://a"), codes.AlreadyExists},
		{"invariant", InvariantViolation("keys out of order"), codes.FailedPrecondition},
		{"unavailable", Unavailable("disk full", nil), codes.Unavailable},
		{"wrapped", fmt.Errorf("export x: %w", ModelNotFound("u", "m")), codes.NotFound},
		{"plain error", fmt.Errorf("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(ToGRPCError(tt.err)))
		})
	}
	assert.NoError(t, ToGRPCError(nil))
}

func TestCodes(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := BackendFailure("failed to read page", cause).WithDetail("page", "p")

	assert.Equal(t, "failed to read page: disk gone", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "p", err.Details["page"])
	assert.True(t, IsStorageError(fmt.Errorf("wrap: %w", err)))
	assert.Equal(t, ErrCodeBackend, GetCode(err))

	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.Equal(t, ErrCodeInternal, GetCode(cause))
	assert.False(t, IsStorageError(cause))

	assert.True(t, IsNotFound(ColumnNotFound("m", "c")))
	assert.True(t, IsNotFound(KeyNotFound("k")))
	assert.False(t, IsNotFound(CorruptedData("bad frame", nil)))
	assert.False(t, IsNotFound(nil))
}
