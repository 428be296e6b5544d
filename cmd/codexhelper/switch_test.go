package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/joestump/codex-helper/internal/proxyconfig"
)

func withCodexHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	prevHome := viper.Get("codex_home")
	prevService := viper.Get("service")
	prevPort := viper.Get("port")
	viper.Set("codex_home", dir)
	viper.Set("service", "codex")
	viper.Set("port", 4141)
	t.Cleanup(func() {
		viper.Set("codex_home", prevHome)
		viper.Set("service", prevService)
		viper.Set("port", prevPort)
	})
	return dir
}

func TestSwitchOnOffCommandsRoundTrip(t *testing.T) {
	dir := withCodexHome(t)
	seed := map[string]any{"model_provider": "openai"}
	data, err := toml.Marshal(seed)
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), data, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	on := newSwitchOnCmd()
	if err := on.Execute(); err != nil {
		t.Fatalf("switch on: %v", err)
	}
	onStatus, baseURL, err := proxyconfig.CodexSwitchStatus(dir)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !onStatus || baseURL != "http://127.0.0.1:4141" {
		t.Fatalf("expected switched on at :4141, got on=%v base=%s", onStatus, baseURL)
	}

	off := newSwitchOffCmd()
	if err := off.Execute(); err != nil {
		t.Fatalf("switch off: %v", err)
	}
	onStatus, _, err = proxyconfig.CodexSwitchStatus(dir)
	if err != nil {
		t.Fatalf("status after off: %v", err)
	}
	if onStatus {
		t.Fatal("expected switched off")
	}
}

func TestSwitchStatusCommandReportsOff(t *testing.T) {
	dir := withCodexHome(t)
	seed := map[string]any{"model_provider": "openai"}
	data, _ := toml.Marshal(seed)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), data, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	status := newSwitchStatusCmd()
	if err := status.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
}
