// ABOUTME: Tests for .env parsing: comments, export prefix, quoting, and no-clobber loading.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDotEnvLine(t *testing.T) {
	tests := []struct {
		line     string
		key, val string
		ok       bool
	}{
		{"FOO=bar", "FOO", "bar", true},
		{"export FOO=bar", "FOO", "bar", true},
		{`FOO="a b"`, "FOO", "a b", true},
		{"FOO='x=y'", "FOO", "x=y", true},
		{"URL=http://h/?a=b", "URL", "http://h/?a=b", true},
		{"  # comment", "", "", false},
		{"", "", "", false},
		{"NOEQUALS", "", "", false},
		{"=value", "", "", false},
	}
	for _, tt := range tests {
		key, val, ok := parseDotEnvLine(tt.line)
		if key != tt.key || val != tt.val || ok != tt.ok {
			t.Errorf("parseDotEnvLine(%q) = %q, %q, %v; want %q, %q, %v", tt.line, key, val, ok, tt.key, tt.val, tt.ok)
		}
	}
}

func TestLoadDotEnvDoesNotClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "TASKRUNNER_TEST_NEW=fresh\nTASKRUNNER_TEST_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKRUNNER_TEST_SET", "from-env")
	t.Setenv("TASKRUNNER_TEST_NEW", "")
	os.Unsetenv("TASKRUNNER_TEST_NEW")

	loadDotEnv(path)

	if got := os.Getenv("TASKRUNNER_TEST_NEW"); got != "fresh" {
		t.Errorf("TASKRUNNER_TEST_NEW = %q, want fresh", got)
	}
	if got := os.Getenv("TASKRUNNER_TEST_SET"); got != "from-env" {
		t.Errorf("TASKRUNNER_TEST_SET = %q, want from-env", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}
