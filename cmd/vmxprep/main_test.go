package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bringup.yaml")
	data := []byte("cores: [0, 2, 4]\nlog_level: debug\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if diff := cmp.Diff([]int{0, 2, 4}, cfg.Cores); diff != "" {
		t.Errorf("cores mismatch (-want +got):\n%s", diff)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if len(cfg.Cores) != 1 || cfg.Cores[0] != 0 {
		t.Errorf("default cores %v, want [0]", cfg.Cores)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("loadConfig succeeded for a missing file")
	}
}

func TestRunCheck(t *testing.T) {
	if err := runCheck(config{Cores: []int{0, 1}}); err != nil {
		t.Fatalf("runCheck: %v", err)
	}
}
