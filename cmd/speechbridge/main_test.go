package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
}

func TestLoadDotEnvKeepsExistingEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SPEECHBRIDGE_TEST_A=from-file\nSPEECHBRIDGE_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("SPEECHBRIDGE_TEST_A", "from-env")
	t.Setenv("SPEECHBRIDGE_TEST_B", "")
	os.Unsetenv("SPEECHBRIDGE_TEST_B")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("SPEECHBRIDGE_TEST_A"); got != "from-env" {
		t.Fatalf("A = %q, want environment value kept", got)
	}
	if got := os.Getenv("SPEECHBRIDGE_TEST_B"); got != "from-file" {
		t.Fatalf("B = %q, want value from file", got)
	}
}

func TestVoicesCommandWithMockEngine(t *testing.T) {
	t.Setenv("ENGINE_PROFILE", "mock")
	t.Setenv("ENGINE_PROFILE_FILE", "")
	t.Setenv("CHAT_PROVIDER", "mock")
	t.Setenv("CAPTURE_DIR", t.TempDir())
	t.Setenv("APP_LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"voices", "--env-file", ""})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "mock-alloy\nmock-echo" {
		t.Fatalf("output = %q", got)
	}
}

func TestConfigErrorsSurface(t *testing.T) {
	t.Setenv("ENGINE_PROFILE", "plan9")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"voices", "--env-file", ""})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "ENGINE_PROFILE") {
		t.Fatalf("Execute() error = %v", err)
	}
}
