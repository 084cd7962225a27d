package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := NewGenerationError("generation failed")
	if got := err.Error(); got != "generation_error: generation failed" {
		t.Fatalf("Error() = %q", got)
	}
	err.Code = "empty_output"
	if got := err.Error(); got != "generation_error: generation failed (code: empty_output)" {
		t.Fatalf("Error() with code = %q", got)
	}
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("notes task: %w", NewAcquisitionError("microphone denied"))
	if got := TypeOf(wrapped); got != ErrAcquisition {
		t.Fatalf("TypeOf(wrapped) = %q, want %q", got, ErrAcquisition)
	}
	if got := TypeOf(errors.New("plain")); got != "" {
		t.Fatalf("TypeOf(plain) = %q, want empty", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !NewGenerationError("boom").IsRetryable() {
		t.Fatalf("generation errors should be retryable")
	}
	for _, err := range []*Error{
		NewFormatError("bad shape"),
		NewAcquisitionError("denied"),
		NewTransportError("closed"),
		NewInvalidRequestError("bad slot"),
	} {
		if err.IsRetryable() {
			t.Fatalf("%s should not be retryable", err.Type)
		}
	}
}
