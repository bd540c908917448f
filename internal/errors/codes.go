package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for storage operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Not found (recoverable, callers branch on these)
	ErrCodePageNotFound    ErrorCode = 1000
	ErrCodeDatasetNotFound ErrorCode = 1001
	ErrCodeModelNotFound   ErrorCode = 1002
	ErrCodeColumnNotFound  ErrorCode = 1003
	ErrCodeKeyNotFound     ErrorCode = 1004

	// Invariant violations (fatal to the operation)
	ErrCodeInvalidArgument ErrorCode = 2000
	ErrCodeInvariant       ErrorCode = 2001
	ErrCodeCorruptedData   ErrorCode = 2002
	ErrCodeChecksumFailed  ErrorCode = 2003
	ErrCodeAlreadyExists   ErrorCode = 2004
	ErrCodeTypeMismatch    ErrorCode = 2005
	ErrCodeUnsupported     ErrorCode = 2006

	// Backend failures (surfaced verbatim)
	ErrCodeInternal          ErrorCode = 3000
	ErrCodeBackend           ErrorCode = 3001
	ErrCodeTransactionFailed ErrorCode = 3002
	ErrCodeUnavailable       ErrorCode = 3003
)

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts StorageError to gRPC status
func (e *StorageError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *StorageError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodePageNotFound, ErrCodeDatasetNotFound, ErrCodeModelNotFound,
		ErrCodeColumnNotFound, ErrCodeKeyNotFound:
		return codes.NotFound
	case ErrCodeInvalidArgument, ErrCodeTypeMismatch:
		return codes.InvalidArgument
	case ErrCodeAlreadyExists:
		return codes.AlreadyExists
	case ErrCodeInvariant:
		return codes.FailedPrecondition
	case ErrCodeUnsupported:
		return codes.Unimplemented
	case ErrCodeChecksumFailed, ErrCodeCorruptedData:
		return codes.DataLoss
	case ErrCodeUnavailable:
		return codes.Unavailable
	case ErrCodeTransactionFailed:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func PageNotFound(pageID string) *StorageError {
	return NewStorageError(ErrCodePageNotFound, fmt.Sprintf("page not found: %q", pageID), nil).
		WithDetail("page_id", pageID)
}

func DatasetNotFound(datasetURL string) *StorageError {
	return NewStorageError(ErrCodeDatasetNotFound, fmt.Sprintf("dataset not found: %s", datasetURL), nil).
		WithDetail("dataset_url", datasetURL)
}

func ModelNotFound(datasetURL, modelID string) *StorageError {
	return NewStorageError(ErrCodeModelNotFound, fmt.Sprintf("model not found: %s in %s", modelID, datasetURL), nil).
		WithDetail("dataset_url", datasetURL).
		WithDetail("model_id", modelID)
}

func ColumnNotFound(modelID, columnID string) *StorageError {
	return NewStorageError(ErrCodeColumnNotFound, fmt.Sprintf("column not found: %s in model %s", columnID, modelID), nil).
		WithDetail("model_id", modelID).
		WithDetail("column_id", columnID)
}

func KeyNotFound(key string) *StorageError {
	return NewStorageError(ErrCodeKeyNotFound, fmt.Sprintf("key not found: %q", key), nil).
		WithDetail("key", key)
}

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func InvariantViolation(message string) *StorageError {
	return NewStorageError(ErrCodeInvariant, message, nil)
}

func CorruptedData(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeCorruptedData, message, cause)
}

func ChecksumFailed(expected, actual uint32) *StorageError {
	return NewStorageError(ErrCodeChecksumFailed, fmt.Sprintf("checksum validation failed: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func AlreadyExists(kind, id string) *StorageError {
	return NewStorageError(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists: %s", kind, id), nil).
		WithDetail("kind", kind).
		WithDetail("id", id)
}

func TypeMismatch(subject, expected, actual string) *StorageError {
	return NewStorageError(ErrCodeTypeMismatch, fmt.Sprintf("%s type mismatch: expected %s, got %s", subject, expected, actual), nil).
		WithDetail("subject", subject).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func Unsupported(message string) *StorageError {
	return NewStorageError(ErrCodeUnsupported, message, nil)
}

func InternalError(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInternal, message, cause)
}

func BackendFailure(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeBackend, message, cause)
}

func TransactionFailed(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeTransactionFailed, message, cause)
}

func Unavailable(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeUnavailable, message, cause)
}

// IsStorageError checks if an error is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether err is one of the recoverable not-found codes
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case ErrCodePageNotFound, ErrCodeDatasetNotFound, ErrCodeModelNotFound,
		ErrCodeColumnNotFound, ErrCodeKeyNotFound:
		return true
	}
	return false
}

// ToGRPCError converts any error into a gRPC status error
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.ToGRPCStatus().Err()
	}
	return status.Error(codes.Internal, err.Error())
}
