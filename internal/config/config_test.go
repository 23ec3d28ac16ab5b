package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %q", cfg.Provider)
	}
	if cfg.MaxIterations != 50 {
		t.Errorf("expected default max_iterations 50, got %d", cfg.MaxIterations)
	}
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	os.WriteFile(path, []byte("provider: openai\nmodel: gpt-5\nmax_iterations: 10\n"), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Model != "gpt-5" {
		t.Errorf("expected provider/model from file, got %+v", cfg)
	}
	if cfg.MaxIterations != 10 {
		t.Errorf("expected max_iterations override, got %d", cfg.MaxIterations)
	}
}

func TestSessionDirHonoursEnvOverride(t *testing.T) {
	t.Setenv("CODI_SESSION_DIR", "/tmp/custom-sessions")
	dir, err := SessionDir()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "/tmp/custom-sessions" {
		t.Errorf("expected override, got %q", dir)
	}
}

func TestIsTrue(t *testing.T) {
	cases := map[string]bool{"1": true, "true": true, "YES": true, "": false, "0": false, "false": false}
	for in, want := range cases {
		if got := IsTrue(in); got != want {
			t.Errorf("IsTrue(%q) = %v, want %v", in, got, want)
		}
	}
}
