package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAsFindsWrappedError(t *testing.T) {
	inner := New(CodeNotFound, "user missing")
	wrapped := fmt.Errorf("handler: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error from chain")
	}
	if typed.Code() != CodeNotFound {
		t.Errorf("code = %s, want NOT_FOUND", typed.Code())
	}
}

func TestAsReturnsNilForUntyped(t *testing.T) {
	if As(fmt.Errorf("plain")) != nil {
		t.Fatal("expected nil for untyped error")
	}
	if As(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor(Code("NO_SUCH_CODE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", meta.HTTPStatus)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("driver: connection reset")
	err := Wrap(CodeDependency, cause, "sink unavailable")
	if err.Unwrap() != cause {
		t.Fatal("cause lost in wrap")
	}
	if MetadataFor(err.Code()).HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("unexpected status mapping")
	}
}
