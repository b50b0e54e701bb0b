package utils

import (
	"errors"
	"testing"
)

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, "context")
	if wrapped == nil || !errors.Is(wrapped, base) {
		t.Fatalf("wrap lost the cause: %v", wrapped)
	}
	if Wrap(nil, "context") != nil {
		t.Fatal("wrap of nil is not nil")
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("STRATUS_TEST_KEY", "value")
	if got := EnvOrDefault("STRATUS_TEST_KEY", "fallback"); got != "value" {
		t.Fatalf("got %q", got)
	}
	if got := EnvOrDefault("STRATUS_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestEnvOrDefaultUint64(t *testing.T) {
	t.Setenv("STRATUS_TEST_NUM", "42")
	if got := EnvOrDefaultUint64("STRATUS_TEST_NUM", 7); got != 42 {
		t.Fatalf("got %d", got)
	}
	t.Setenv("STRATUS_TEST_NUM", "not-a-number")
	if got := EnvOrDefaultUint64("STRATUS_TEST_NUM", 7); got != 7 {
		t.Fatalf("got %d", got)
	}
}
