package utils

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("SOME_TEST_VAR", "value")
	if got := GetEnv("SOME_TEST_VAR", "default", nil); got != "value" {
		t.Fatalf("GetEnv set: %q", got)
	}
	if got := GetEnv("SOME_MISSING_VAR", "default", nil); got != "default" {
		t.Fatalf("GetEnv missing: %q", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("SOME_INT_VAR", "42")
	if got := GetEnvAsInt("SOME_INT_VAR", 7, nil); got != 42 {
		t.Fatalf("GetEnvAsInt set: %d", got)
	}
	if got := GetEnvAsInt("SOME_MISSING_INT", 7, nil); got != 7 {
		t.Fatalf("GetEnvAsInt missing: %d", got)
	}
	t.Setenv("SOME_BAD_INT", "notanumber")
	if got := GetEnvAsInt("SOME_BAD_INT", 7, nil); got != 7 {
		t.Fatalf("GetEnvAsInt unparsable: %d", got)
	}
}
