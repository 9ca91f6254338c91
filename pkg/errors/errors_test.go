package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	cases := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeValidation, http.StatusBadRequest, false},
		{CodeNotFound, http.StatusNotFound, false},
		{CodePolicy, http.StatusUnprocessableEntity, false},
		{CodeIdempotency, http.StatusConflict, false},
		{CodeAmountMismatch, http.StatusInternalServerError, false},
		{CodeSignature, http.StatusBadRequest, false},
		{CodeProcessor, http.StatusBadGateway, false},
		{CodeDependency, http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		if meta.HTTPStatus != tc.status {
			t.Fatalf("%s: expected status %d got %d", tc.code, tc.status, meta.HTTPStatus)
		}
		if meta.Retryable != tc.retryable {
			t.Fatalf("%s: expected retryable=%t", tc.code, tc.retryable)
		}
	}
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "call processor")
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if As(err).Code() != CodeDependency {
		t.Fatalf("expected code to survive wrapping")
	}
}

func TestAsFindsNestedError(t *testing.T) {
	inner := New(CodePolicy, "cooldown active")
	wrapped := fmt.Errorf("outer: %w", inner)
	typed := As(wrapped)
	if typed == nil || typed.Code() != CodePolicy {
		t.Fatalf("expected nested typed error, got %v", typed)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeDependency, "down")) {
		t.Fatalf("dependency errors are retryable")
	}
	if IsRetryable(New(CodeProcessor, "card declined")) {
		t.Fatalf("processor rejections are not retryable")
	}
	if IsRetryable(stdErrors.New("untyped")) {
		t.Fatalf("untyped errors are not retryable")
	}
}
