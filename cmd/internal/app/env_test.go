package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TR_TEST_STR", "  hello  ")
	t.Setenv("TR_TEST_BOOL", "true")
	t.Setenv("TR_TEST_INT", "12")
	t.Setenv("TR_TEST_INT_BAD", "-3")
	t.Setenv("TR_TEST_DUR", "250ms")
	t.Setenv("TR_TEST_DUR_BAD", "soon")

	if got := EnvString("TR_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("TR_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default=%q", got)
	}
	if !EnvBool("TR_TEST_BOOL", false) {
		t.Fatalf("EnvBool should parse true")
	}
	if got := EnvInt("TR_TEST_INT", 1); got != 12 {
		t.Fatalf("EnvInt=%d", got)
	}
	if got := EnvInt("TR_TEST_INT_BAD", 1); got != 1 {
		t.Fatalf("EnvInt negative must fall back, got %d", got)
	}
	if got := EnvDuration("TR_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvDuration("TR_TEST_DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("EnvDuration invalid must fall back, got %v", got)
	}
}
