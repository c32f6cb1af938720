package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// The tenant key is free-form text, not required to parse as a UUID.
	if cfg.ProjectID == "" {
		t.Fatal("ProjectID default must be non-empty")
	}
	if cfg.ConfidenceThreshold != 60 {
		t.Fatalf("unexpected confidence threshold: %d", cfg.ConfidenceThreshold)
	}
}

func TestLoad_RejectsEmptyProjectID(t *testing.T) {
	t.Setenv("PROJECT_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an empty PROJECT_ID")
	}
}
