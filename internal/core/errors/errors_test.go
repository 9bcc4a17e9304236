package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "assembly not found")
		if err.Error() != "[NOT_FOUND] assembly not found" {
			t.Errorf("expected [NOT_FOUND] assembly not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("unexpected EOF")
		err := Wrap(original, CodeFormat, "truncated #~ stream")
		expected := "[FORMAT_ERROR] truncated #~ stream: unexpected EOF"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
		if !errors.Is(err, original) {
			t.Error("expected wrapped error to unwrap to original")
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeUnresolvedReference, "mscorlib")
		if !IsCode(err, CodeUnresolvedReference) {
			t.Error("expected IsCode to return true for CodeUnresolvedReference")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeThroughFmtWrap", func(t *testing.T) {
		err := fmt.Errorf("render: %w", New(CodeConcurrentRequest, "busy"))
		if !IsCode(err, CodeConcurrentRequest) {
			t.Error("expected IsCode to see through fmt.Errorf wrapping")
		}
		if CodeOf(err) != CodeConcurrentRequest {
			t.Errorf("expected CodeOf to return CONCURRENT_REQUEST, got %q", CodeOf(err))
		}
	})

	t.Run("AddContext", func(t *testing.T) {
		err := AddContext(New(CodeNetwork, "verify failed"), CtxPath, "http://repo")
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatal("expected DomainError")
		}
		if de.Context[CtxPath] != "http://repo" {
			t.Errorf("expected context path, got %v", de.Context)
		}

		plain := AddContext(errors.New("boom"), CtxOperation, "load")
		if !IsCode(plain, CodeInternal) {
			t.Error("expected plain errors to be wrapped as internal")
		}
	})

	t.Run("CodeOfPlain", func(t *testing.T) {
		if CodeOf(errors.New("x")) != "" {
			t.Error("expected empty code for plain error")
		}
	})
}
