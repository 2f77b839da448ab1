package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCodeThroughFmtWrapping(t *testing.T) {
	cause := stdErrors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("sync profile: %w", Wrap(CodeTransientNetwork, cause, "", WithStatus(502)))

	if got := CodeOf(err); got != CodeTransientNetwork {
		t.Fatalf("expected %s, got %s", CodeTransientNetwork, got)
	}
	if !RetryableError(err) {
		t.Fatal("transient network errors should be retryable")
	}
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through errors.Is")
	}
	e, ok := From(err)
	if !ok || e.Status() != 502 {
		t.Fatalf("expected status 502, got %+v", e)
	}
}

func TestScopeDefaultsAndOverride(t *testing.T) {
	if got := ScopeOf(New(CodeClientProtocol, "bad request")); got != ScopeRequest {
		t.Fatalf("expected request scope, got %s", got)
	}
	if got := ScopeOf(New(CodeProxyUnreachable, "")); got != ScopeSession {
		t.Fatalf("expected session scope, got %s", got)
	}
	fatal := New(CodeAuthFailure, "refresh failed", WithScope(ScopeProcess))
	if got := ScopeOf(fatal); got != ScopeProcess {
		t.Fatalf("expected process scope, got %s", got)
	}
	if got := ScopeOf(stdErrors.New("plain")); got != ScopeSession {
		t.Fatalf("plain errors should default to session scope, got %s", got)
	}
}

func TestIsComparesCodes(t *testing.T) {
	a := New(CodeRateLimited, "first")
	b := New(CodeRateLimited, "second")
	if !stdErrors.Is(a, b) {
		t.Fatal("errors with the same code should match")
	}
	if stdErrors.Is(a, New(CodeTimeout, "")) {
		t.Fatal("errors with different codes should not match")
	}
}

func TestUnregisteredCodeFallsBackToUnknown(t *testing.T) {
	attr := AttributesOf(Code("NOPE"))
	if attr.Message != "unknown error" {
		t.Fatalf("unexpected fallback attributes: %+v", attr)
	}
	err := New(Code("NOPE"), "")
	if err.Message() != "unknown error" {
		t.Fatalf("expected default message, got %q", err.Message())
	}
}
