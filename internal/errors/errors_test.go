package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(IOFailed, "write staging file", fmt.Errorf("disk full"))

	msg := err.Error()
	if !strings.Contains(msg, "[IO_FAILED]") {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "disk full") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestErrorFormatWithoutCause(t *testing.T) {
	err := New(EntityNotFound, "entity not found: x", nil)
	if strings.Contains(err.Error(), "<nil>") {
		t.Errorf("nil cause leaked into message: %q", err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := New(IOFailed, "op", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestCodeOf(t *testing.T) {
	err := NewStalePlanError("plan-1", "big.py")
	if CodeOf(err) != PlanStale {
		t.Errorf("CodeOf = %s, want PLAN_STALE", CodeOf(err))
	}

	wrapped := fmt.Errorf("apply: %w", err)
	if CodeOf(wrapped) != PlanStale {
		t.Errorf("CodeOf through wrap = %s, want PLAN_STALE", CodeOf(wrapped))
	}

	if CodeOf(fmt.Errorf("plain")) != InternalError {
		t.Error("plain errors should map to INTERNAL_ERROR")
	}
}

func TestIsConflict(t *testing.T) {
	err := NewConflictError("ckg:file:abc", 3, 4)
	if !IsConflict(err) {
		t.Error("IsConflict should be true for VERSION_CONFLICT")
	}
	if IsConflict(NewIOError("x", nil)) {
		t.Error("IsConflict should be false for IO_FAILED")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NewEmbeddingUnavailableError(nil), true},
		{NewConflictError("id", 1, 2), true},
		{NewSplitConflictError("a.py", "cycle", nil), false},
		{NewParseError("a.py", nil), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestSplitConflictDetails(t *testing.T) {
	err := NewSplitConflictError("big.py", "reference cycle", []string{"A", "B"})

	details, ok := err.Details.(map[string]interface{})
	if !ok {
		t.Fatal("expected map details")
	}
	decls, ok := details["declarations"].([]string)
	if !ok || len(decls) != 2 {
		t.Errorf("expected offending declarations in details, got %v", details)
	}
}

func TestSuggestedFixes(t *testing.T) {
	err := NewStalePlanError("p", "f.py")
	if len(err.SuggestedFixes) == 0 {
		t.Error("PLAN_STALE should carry a suggested fix")
	}

	if fixes := GetSuggestedFixes(EntityNotFound); fixes != nil {
		t.Errorf("unexpected fixes for ENTITY_NOT_FOUND: %v", fixes)
	}
}
