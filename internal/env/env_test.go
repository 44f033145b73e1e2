package env

import (
	"testing"
	"time"
)

func TestFallbacks(t *testing.T) {
	t.Setenv("EM_TEST_INT", "not-a-number")
	t.Setenv("EM_TEST_FLOAT", "0.75")
	t.Setenv("EM_TEST_DUR", "33ms")
	t.Setenv("EM_TEST_BOOL", "false")

	if got := Int("EM_TEST_INT", 10); got != 10 {
		t.Errorf("Int malformed: got %d, want fallback 10", got)
	}
	if got := Float("EM_TEST_FLOAT", 0.5); got != 0.75 {
		t.Errorf("Float: got %v, want 0.75", got)
	}
	if got := Duration("EM_TEST_DUR", time.Second); got != 33*time.Millisecond {
		t.Errorf("Duration: got %v, want 33ms", got)
	}
	if got := Bool("EM_TEST_BOOL", true); got {
		t.Errorf("Bool: got true, want false")
	}
	if got := Str("EM_TEST_UNSET", "x"); got != "x" {
		t.Errorf("Str unset: got %q, want x", got)
	}
}
