package proxyconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Version != SchemaVersion {
		t.Fatalf("expected default schema version %d, got %d", SchemaVersion, cfg.Version)
	}
	if cfg.Codex.Configs == nil {
		t.Fatal("expected non-nil Codex.Configs map on default document")
	}
}

func TestSaveThenLoadRoundTripsTOML(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Codex.Active = "primary"
	cfg.Codex.Configs["primary"] = &ConfigEntry{
		Name: "primary", Enabled: true, Level: 1,
		Upstreams: []*UpstreamConfig{{BaseURL: "https://api.example.com"}},
	}
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(tomlPath(dir)); err != nil {
		t.Fatalf("expected config.toml to be written: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Codex.Active != "primary" {
		t.Fatalf("expected active primary, got %s", loaded.Codex.Active)
	}
	entry, ok := loaded.Codex.Configs["primary"]
	if !ok || len(entry.Upstreams) != 1 || entry.Upstreams[0].BaseURL != "https://api.example.com" {
		t.Fatalf("expected round-tripped upstream, got %+v", entry)
	}
}

func TestSaveCreatesSingleGenerationBackup(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save (first): %v", err)
	}
	if _, err := os.Stat(tomlPath(dir) + ".bak"); !os.IsNotExist(err) {
		t.Fatal("expected no backup after the first save")
	}

	cfg.DefaultService = "claude"
	if err := Save(dir, cfg); err != nil {
		t.Fatalf("Save (second): %v", err)
	}
	if _, err := os.Stat(tomlPath(dir) + ".bak"); err != nil {
		t.Fatalf("expected a backup to exist after the second save: %v", err)
	}
}

func TestLoadMalformedTOMLReturnsParseError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("not = [valid toml"), 0o600); err != nil {
		t.Fatalf("write malformed config: %v", err)
	}
	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected an error for malformed TOML")
	}
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected *ParseError, got %T: %v", err, err)
	}
}

func TestFilePathPrefersTOML(t *testing.T) {
	dir := t.TempDir()
	if got := FilePath(dir); got != jsonPath(dir) {
		t.Fatalf("expected json fallback when neither exists, got %s", got)
	}
	if err := os.WriteFile(tomlPath(dir), []byte(""), 0o600); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	if got := FilePath(dir); got != tomlPath(dir) {
		t.Fatalf("expected toml path once it exists, got %s", got)
	}
}

func TestNormalizeDefaultsEntryNameAndLevel(t *testing.T) {
	cfg := &ProxyConfig{
		Codex: ServiceConfigMgr{Configs: map[string]*ConfigEntry{
			"primary": {Enabled: true},
		}},
	}
	cfg.Normalize()
	entry := cfg.Codex.Configs["primary"]
	if entry.Name != "primary" {
		t.Fatalf("expected Name defaulted to key, got %s", entry.Name)
	}
	if entry.Level != 1 {
		t.Fatalf("expected Level defaulted to 1, got %d", entry.Level)
	}
	if cfg.Retry.Profile != "balanced" {
		t.Fatalf("expected retry profile defaulted to balanced, got %s", cfg.Retry.Profile)
	}
}

func TestActiveConfigFallsBackToLexicographicallySmallestEnabled(t *testing.T) {
	svc := &ServiceConfigMgr{Configs: map[string]*ConfigEntry{
		"zebra":   {Enabled: true},
		"alpha":   {Enabled: true},
		"beta":    {Enabled: false},
	}}
	entry, ok := svc.ActiveConfig()
	if !ok {
		t.Fatal("expected an active config to resolve")
	}
	if entry != svc.Configs["alpha"] {
		t.Fatal("expected alpha (lexicographically smallest enabled) to win")
	}
}

func TestActiveConfigIgnoresDisabledExplicitActive(t *testing.T) {
	svc := &ServiceConfigMgr{
		Active: "primary",
		Configs: map[string]*ConfigEntry{
			"primary": {Enabled: false},
			"backup":  {Enabled: true},
		},
	}
	entry, ok := svc.ActiveConfig()
	if !ok || entry != svc.Configs["backup"] {
		t.Fatal("expected fallback to backup when the explicit active is disabled")
	}
}
