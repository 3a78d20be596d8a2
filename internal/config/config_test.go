package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 50051 {
		t.Fatalf("expected default port 50051, got %d", cfg.Server.Port)
	}
	if cfg.AudioAnalysis.SampleRate != 44100 {
		t.Fatalf("expected default sample rate 44100, got %d", cfg.AudioAnalysis.SampleRate)
	}
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	cfg, err := Load([]string{"--server.port=9999"}, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected flag override to 9999, got %d", cfg.Server.Port)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("LOOMTRACK_AUDIO_ANALYSIS_SAMPLE_RATE", "22050")
	cfg, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AudioAnalysis.SampleRate != 22050 {
		t.Fatalf("expected env override to 22050, got %d", cfg.AudioAnalysis.SampleRate)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	content := "[playlist_engine]\ndefault_preset = \"energy_build\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nil, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PlaylistEngine.DefaultPreset != "energy_build" {
		t.Fatalf("expected preset from file, got %q", cfg.PlaylistEngine.DefaultPreset)
	}
}

func TestLoadRejectsUnrecognizedFileKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	content := "[server]\nnonexistent_key = true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(nil, path); err == nil {
		t.Fatal("expected an error for an unrecognized config key")
	}
}
