package proxyconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// BootstrapError signals that bootstrap_from_codex could not safely
// import a config. Per spec.md §4.1/§7 this degrades to a warning at
// startup except when it names a self-forwarding risk, which is always
// fatal regardless of caller.
type BootstrapError struct {
	SelfForwarding bool
	Msg            string
}

func (e *BootstrapError) Error() string { return e.Msg }

const absentBackupSentinel = "# codex-helper: no prior config (absent)"

func codexConfigPath(codexHome string) string { return filepath.Join(codexHome, "config.toml") }
func codexBackupConfigPath(codexHome string) string {
	return filepath.Join(codexHome, "config.toml.codex-helper-backup")
}
func codexAuthJSONPath(codexHome string) string { return filepath.Join(codexHome, "auth.json") }

func isCodexAbsentBackupSentinel(text string) bool {
	return strings.TrimSpace(text) == absentBackupSentinel
}

// BootstrapFromCodex derives codex configs from ~/.codex/config.toml plus
// ~/.codex/auth.json, per SPEC_FULL.md §5.1. It does not look at existing
// configs: import-from-codex calls it only when there are none, while
// overwrite-from-codex calls it regardless and replaces them.
func BootstrapFromCodex(codexHome string) (*ServiceConfigMgr, error) {
	text, usedBackup, err := readCodexConfigPreferringBackup(codexHome)
	if err != nil {
		return nil, err
	}

	root := map[string]any{}
	if err := toml.Unmarshal([]byte(text), &root); err != nil {
		return nil, &ParseError{Path: codexConfigPath(codexHome), Err: err}
	}

	currentProviderID, _ := root["model_provider"].(string)
	if currentProviderID == "" {
		currentProviderID = "openai"
	}
	providersRaw, _ := root["model_providers"].(map[string]any)

	var inferredEnvKey string
	var haveInferredEnvKey bool
	if authJSON, err := os.ReadFile(codexAuthJSONPath(codexHome)); err == nil {
		inferredEnvKey, haveInferredEnvKey = inferEnvKeyFromAuthJSON(authJSON)
	}

	// Self-forwarding guard: a current provider of "codex_proxy" with no
	// backup file present and a loopback base_url must refuse outright.
	if currentProviderID == "codex_proxy" && !usedBackup {
		if provider, ok := providersRaw[currentProviderID].(map[string]any); ok {
			if looksLoopback(provider) {
				return nil, &BootstrapError{
					SelfForwarding: true,
					Msg:            "refusing to bootstrap: codex's active model_provider ('codex_proxy') already points at a loopback address with no backup config present; this would make codex-helper forward to itself",
				}
			}
		}
	}

	svc := &ServiceConfigMgr{Configs: map[string]*ConfigEntry{}}
	for providerID, raw := range providersRaw {
		provider, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		baseURL, _ := provider["base_url"].(string)
		if baseURL == "" {
			if providerID == currentProviderID {
				return nil, &BootstrapError{Msg: fmt.Sprintf("current provider %q has no base_url", providerID)}
			}
			continue
		}
		if providerID == currentProviderID && !usedBackup && looksLoopback(provider) {
			return nil, &BootstrapError{
				SelfForwarding: true,
				Msg:            fmt.Sprintf("refusing to bootstrap: current provider %q points at a loopback address with no backup config present", providerID),
			}
		}

		requiresOpenAIAuth := providerID == "openai"
		var envKey string
		if !requiresOpenAIAuth {
			if v, ok := provider["env_key"].(string); ok && v != "" {
				envKey = v
			} else if haveInferredEnvKey {
				envKey = inferredEnvKey
			} else {
				if providerID == currentProviderID {
					return nil, &BootstrapError{Msg: fmt.Sprintf("current provider %q has no env_key and none could be inferred from auth.json", providerID)}
				}
				continue
			}
		}

		alias := ""
		if name, ok := provider["name"].(string); ok && name != providerID {
			alias = name
		}

		entry := &ConfigEntry{
			Name:    providerID,
			Alias:   alias,
			Enabled: true,
			Level:   1,
			Upstreams: []*UpstreamConfig{{
				BaseURL: baseURL,
				Tags:    map[string]string{"source": "codex-config"},
			}},
		}
		if envKey != "" {
			entry.Upstreams[0].Auth = UpstreamAuth{AuthTokenEnv: envKey}
		}
		svc.Configs[providerID] = entry
	}
	return svc, nil
}

func readCodexConfigPreferringBackup(codexHome string) (text string, usedBackup bool, err error) {
	if data, err := os.ReadFile(codexBackupConfigPath(codexHome)); err == nil {
		if !isCodexAbsentBackupSentinel(string(data)) {
			return string(data), true, nil
		}
	}
	data, err := os.ReadFile(codexConfigPath(codexHome))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, &BootstrapError{Msg: "no codex config found at " + codexConfigPath(codexHome)}
		}
		return "", false, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", false, &BootstrapError{Msg: "codex config at " + codexConfigPath(codexHome) + " is empty"}
	}
	return string(data), false, nil
}

func looksLoopback(provider map[string]any) bool {
	baseURL, _ := provider["base_url"].(string)
	return strings.Contains(baseURL, "127.0.0.1") || strings.Contains(baseURL, "localhost")
}

// inferEnvKeyFromAuthJSON selects the single key ending in "_API_KEY" whose
// value is a non-empty string; it fails (returns false) on zero or >=2
// candidates, per spec.md §4.1 and its testable property in §8.
func inferEnvKeyFromAuthJSON(data []byte) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false
	}
	var candidates []string
	for key, v := range obj {
		if !strings.HasSuffix(key, "_API_KEY") {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			candidates = append(candidates, key)
		}
	}
	if len(candidates) != 1 {
		return "", false
	}
	return candidates[0], true
}
