package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("ws-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Completion.RequireRecord {
		t.Fatal("require_record should default on")
	}
	if cfg.Retry.ConflictRetries != 1 {
		t.Fatalf("conflict_retries = %d, want 1", cfg.Retry.ConflictRetries)
	}
}

func TestFromYAMLRejectsMissingWorkspaceID(t *testing.T) {
	if _, err := FromYAML([]byte("workspace:\n  id: \"\"\n")); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestFromYAMLRejectsBadTimezone(t *testing.T) {
	raw := "workspace:\n  id: ws-1\n  timezone: Mars/Olympus\n"
	if _, err := FromYAML([]byte(raw)); err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestFromYAMLRejectsWebhookWithoutURL(t *testing.T) {
	raw := "workspace:\n  id: ws-1\nwebhooks:\n  - events: [task.updated]\n"
	if _, err := FromYAML([]byte(raw)); err == nil {
		t.Fatal("expected webhook url error")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil for missing file")
	}
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default("ws-42")
	cfg.Workspace.Timezone = "UTC"
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "studytrail.yml"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Workspace.ID != "ws-42" || loaded.Workspace.Timezone != "UTC" {
		t.Fatalf("loaded = %+v", loaded.Workspace)
	}
}
