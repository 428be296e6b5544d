package proxyconfig

import (
	"os"
	"testing"

	toml "github.com/pelletier/go-toml/v2"
)

func writeCodexConfig(t *testing.T, dir string, root map[string]any) {
	t.Helper()
	data, err := toml.Marshal(root)
	if err != nil {
		t.Fatalf("marshal codex config: %v", err)
	}
	if err := os.WriteFile(codexConfigPath(dir), data, 0o600); err != nil {
		t.Fatalf("write codex config: %v", err)
	}
}

func TestBootstrapFromCodexImportsProviders(t *testing.T) {
	dir := t.TempDir()
	writeCodexConfig(t, dir, map[string]any{
		"model_provider": "anthropic-proxy",
		"model_providers": map[string]any{
			"anthropic-proxy": map[string]any{
				"name":     "Anthropic",
				"base_url": "https://api.anthropic.com/v1",
				"env_key":  "ANTHROPIC_API_KEY",
			},
		},
	})

	svc, err := BootstrapFromCodex(dir)
	if err != nil {
		t.Fatalf("BootstrapFromCodex: %v", err)
	}
	entry, ok := svc.Configs["anthropic-proxy"]
	if !ok {
		t.Fatalf("expected anthropic-proxy config, got %+v", svc.Configs)
	}
	if entry.Alias != "Anthropic" {
		t.Fatalf("expected alias Anthropic, got %s", entry.Alias)
	}
	if len(entry.Upstreams) != 1 || entry.Upstreams[0].BaseURL != "https://api.anthropic.com/v1" {
		t.Fatalf("expected one upstream with the provider's base_url, got %+v", entry.Upstreams)
	}
	if entry.Upstreams[0].Auth.AuthTokenEnv != "ANTHROPIC_API_KEY" {
		t.Fatalf("expected auth_token_env ANTHROPIC_API_KEY, got %s", entry.Upstreams[0].Auth.AuthTokenEnv)
	}
}

func TestBootstrapFromCodexRefusesSelfForwarding(t *testing.T) {
	dir := t.TempDir()
	writeCodexConfig(t, dir, map[string]any{
		"model_provider": "codex_proxy",
		"model_providers": map[string]any{
			"codex_proxy": map[string]any{
				"name":     "codex_proxy",
				"base_url": "http://127.0.0.1:4141",
			},
		},
	})

	_, err := BootstrapFromCodex(dir)
	if err == nil {
		t.Fatal("expected an error for self-forwarding config")
	}
	var bootErr *BootstrapError
	if be, ok := err.(*BootstrapError); ok {
		bootErr = be
	}
	if bootErr == nil || !bootErr.SelfForwarding {
		t.Fatalf("expected a SelfForwarding BootstrapError, got %T: %v", err, err)
	}
}

func TestBootstrapFromCodexNoConfigFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := BootstrapFromCodex(dir)
	if err == nil {
		t.Fatal("expected an error when no codex config exists")
	}
}

func TestBootstrapFromCodexInfersEnvKeyFromAuthJSON(t *testing.T) {
	dir := t.TempDir()
	writeCodexConfig(t, dir, map[string]any{
		"model_provider": "custom",
		"model_providers": map[string]any{
			"custom": map[string]any{
				"name":     "Custom",
				"base_url": "https://api.custom.example.com",
			},
		},
	})
	if err := os.WriteFile(codexAuthJSONPath(dir), []byte(`{"CUSTOM_API_KEY":"sk-abc"}`), 0o600); err != nil {
		t.Fatalf("write auth.json: %v", err)
	}

	svc, err := BootstrapFromCodex(dir)
	if err != nil {
		t.Fatalf("BootstrapFromCodex: %v", err)
	}
	if svc.Configs["custom"].Upstreams[0].Auth.AuthTokenEnv != "CUSTOM_API_KEY" {
		t.Fatalf("expected inferred env key CUSTOM_API_KEY, got %+v", svc.Configs["custom"].Upstreams[0].Auth)
	}
}

func TestInferEnvKeyFromAuthJSONAmbiguousFails(t *testing.T) {
	_, ok := inferEnvKeyFromAuthJSON([]byte(`{"FOO_API_KEY":"a","BAR_API_KEY":"b"}`))
	if ok {
		t.Fatal("expected ambiguous multi-candidate auth.json to fail inference")
	}
}

func TestInferEnvKeyFromAuthJSONNoCandidateFails(t *testing.T) {
	_, ok := inferEnvKeyFromAuthJSON([]byte(`{"SOMETHING_ELSE":"a"}`))
	if ok {
		t.Fatal("expected no-candidate auth.json to fail inference")
	}
}
