package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ParseFailed indicates source could not be parsed into a syntax tree
	ParseFailed ErrorCode = "PARSE_FAILED"
	// VersionConflict indicates a write raced a concurrent mutation
	VersionConflict ErrorCode = "VERSION_CONFLICT"
	// SplitConflict indicates a split plan violates dependency constraints
	SplitConflict ErrorCode = "SPLIT_CONFLICT"
	// PlanStale indicates the file changed after the plan was computed
	PlanStale ErrorCode = "PLAN_STALE"
	// EmbeddingUnavailable indicates the embedding backend is unreachable
	EmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	// IOFailed indicates a filesystem or database operation failed
	IOFailed ErrorCode = "IO_FAILED"
	// EntityNotFound indicates the requested entity doesn't exist
	EntityNotFound ErrorCode = "ENTITY_NOT_FOUND"
	// PlanNotFound indicates the requested split plan doesn't exist
	PlanNotFound ErrorCode = "PLAN_NOT_FOUND"
	// NoSplitNeeded indicates the analyzed file has a single cohesive group
	NoSplitNeeded ErrorCode = "NO_SPLIT_NEEDED"
	// InvalidInput indicates a malformed request parameter
	InvalidInput ErrorCode = "INVALID_INPUT"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// OpenDocs suggests opening documentation
	OpenDocs FixActionType = "open-docs"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url,omitempty"`
}

// CkgError represents a CKG error with code, message, and suggestions
type CkgError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new CkgError
func New(code ErrorCode, message string, cause error) *CkgError {
	return &CkgError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *CkgError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *CkgError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *CkgError) WithDetails(details interface{}) *CkgError {
	e.Details = details
	return e
}

// NewParseError reports a failed parse. The file is still recorded, in
// degraded form, so diagnostic points at something queryable.
func NewParseError(path string, cause error) *CkgError {
	return New(ParseFailed, fmt.Sprintf("failed to parse %s", path), cause).
		WithDetails(map[string]interface{}{"path": path})
}

// NewConflictError reports an optimistic concurrency failure.
func NewConflictError(entityID string, expected, actual int64) *CkgError {
	return New(VersionConflict,
		fmt.Sprintf("entity %s changed concurrently (expected version %d, found %d)", entityID, expected, actual),
		nil).
		WithDetails(map[string]interface{}{
			"entityId": entityID,
			"expected": expected,
			"actual":   actual,
		})
}

// NewSplitConflictError reports an invalid split partition. Declarations
// names the offending declarations so a caller can adjust grouping.
func NewSplitConflictError(path, reason string, declarations []string) *CkgError {
	return New(SplitConflict,
		fmt.Sprintf("cannot split %s: %s", path, reason),
		nil).
		WithDetails(map[string]interface{}{
			"path":         path,
			"declarations": declarations,
		})
}

// NewStalePlanError reports a split plan whose source file has changed
// since the plan was computed.
func NewStalePlanError(planID, path string) *CkgError {
	return New(PlanStale,
		fmt.Sprintf("plan %s is stale: %s changed after planning", planID, path),
		nil).
		WithDetails(map[string]interface{}{"planId": planID, "path": path})
}

// NewEmbeddingUnavailableError reports an unreachable embedding backend.
// Always retryable; callers queue and back off rather than fail ingestion.
func NewEmbeddingUnavailableError(cause error) *CkgError {
	return New(EmbeddingUnavailable, "embedding backend unavailable", cause)
}

// NewIOError wraps a filesystem or database failure.
func NewIOError(op string, cause error) *CkgError {
	return New(IOFailed, op, cause)
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entityID string) *CkgError {
	return New(EntityNotFound, fmt.Sprintf("entity not found: %s", entityID), nil).
		WithDetails(map[string]interface{}{"entityId": entityID})
}

// CodeOf extracts the ErrorCode from an error chain, or InternalError if
// the chain contains no CkgError.
func CodeOf(err error) ErrorCode {
	var ce *CkgError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return InternalError
}

// HasCode reports whether the error chain contains a CkgError with the code.
func HasCode(err error, code ErrorCode) bool {
	var ce *CkgError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsConflict reports whether err is an optimistic concurrency failure.
func IsConflict(err error) bool { return HasCode(err, VersionConflict) }

// IsRetryable reports whether the operation may succeed on retry without
// caller-side changes.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case EmbeddingUnavailable, VersionConflict:
		return true
	default:
		return false
	}
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	PlanStale: {
		{
			Type:        RunCommand,
			Command:     "ckg split propose ${path}",
			Safe:        true,
			Description: "Recompute the plan against current file content",
		},
	},
	EmbeddingUnavailable: {
		{
			Type:        RunCommand,
			Command:     "ckg status",
			Safe:        true,
			Description: "Check embedding backend health and queue backlog",
		},
	},
	ParseFailed: {
		{
			Type:        RunCommand,
			Command:     "ckg query --degraded",
			Safe:        true,
			Description: "List files indexed in degraded form",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
