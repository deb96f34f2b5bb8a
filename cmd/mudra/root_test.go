package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mudra.yaml", `
listen: ":9000"
camera:
  index: 1
message:
  debounce: 2s
classifier:
  labels: [A, B, C]
`)

	opts := &options{}
	root := newRootCmd(opts)
	check, _, err := root.Find([]string{"check"})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if err := check.ParseFlags([]string{
		"--config", cfgPath,
		"--env-file", filepath.Join(dir, "missing.env"),
		"--camera", "3",
		"--append",
		"--no-journal",
	}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	cfg, err := opts.load(check)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("Listen = %q, want file value :9000", cfg.Listen)
	}
	if cfg.Camera.Index != 3 {
		t.Errorf("Camera.Index = %d, want flag value 3", cfg.Camera.Index)
	}
	if cfg.Message.Debounce != 2*time.Second {
		t.Errorf("Debounce = %v, want 2s", cfg.Message.Debounce)
	}
	if cfg.Message.Mode != "append" {
		t.Errorf("Mode = %q, want append", cfg.Message.Mode)
	}
	if cfg.DBPath != "" {
		t.Errorf("DBPath = %q, want empty with --no-journal", cfg.DBPath)
	}
}

func TestLoad_DefaultJournalPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MUDRA_DB_PATH", "")

	opts := &options{}
	cmd := newServeCmd(opts)

	cfg, err := opts.load(cmd)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	want := filepath.Join(home, ".mudra", "mudra.db")
	if cfg.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, want)
	}
}

func TestCheck_MissingLabels(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "mudra.yaml", "listen: \":0\"\n")

	root := newRootCmd(&options{})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"check", "--config", cfgPath, "--env-file", "", "--no-journal"})

	err := root.Execute()
	if err == nil {
		t.Fatal("check succeeded without labels")
	}
	if !strings.Contains(err.Error(), "labels") {
		t.Errorf("error = %v, want it to mention labels", err)
	}
}

func TestServeResult(t *testing.T) {
	if err := serveResult(nil); err != nil {
		t.Errorf("serveResult(nil) = %v", err)
	}
}
