package proxyconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// proxyBaseURL is the loopback base_url this process advertises to a
// client CLI once switched on.
func proxyBaseURL(port int) string { return fmt.Sprintf("http://127.0.0.1:%d", port) }

// SwitchCodexOn patches ~/.codex/config.toml so model_provider points at a
// "codex_proxy" entry whose base_url is this process's loopback address,
// backing up the prior document first (single generation, per
// spec.md §6's ".codex-helper-backup" contract). Idempotent: calling it
// again while already on just re-points the port.
func SwitchCodexOn(codexHome string, port int) error {
	path := codexConfigPath(codexHome)
	backupPath := codexBackupConfigPath(codexHome)

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		if err := backupCodexConfig(path, backupPath); err != nil {
			return err
		}
	}

	root := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &root); err != nil {
			return &ParseError{Path: path, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	providers, _ := root["model_providers"].(map[string]any)
	if providers == nil {
		providers = map[string]any{}
	}
	providers["codex_proxy"] = map[string]any{
		"name":     "codex_proxy",
		"base_url": proxyBaseURL(port),
	}
	root["model_providers"] = providers
	root["model_provider"] = "codex_proxy"

	data, err := toml.Marshal(root)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// SwitchCodexOff restores ~/.codex/config.toml from its single-generation
// backup (or removes it, if the backup sentinel records that no config
// existed before switch-on) and clears the backup.
func SwitchCodexOff(codexHome string) error {
	path := codexConfigPath(codexHome)
	backupPath := codexBackupConfigPath(codexHome)

	data, err := os.ReadFile(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("codex is not currently switched on (no backup at %s)", backupPath)
		}
		return err
	}

	if isCodexAbsentBackupSentinel(string(data)) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return os.Remove(backupPath)
}

// CodexSwitchStatus reports whether codex is currently pointed at this
// process's loopback proxy, and the base_url its active provider resolves
// to, if any.
func CodexSwitchStatus(codexHome string) (on bool, baseURL string, err error) {
	data, err := os.ReadFile(codexConfigPath(codexHome))
	if err != nil {
		if os.IsNotExist(err) {
			return false, "", nil
		}
		return false, "", err
	}
	root := map[string]any{}
	if err := toml.Unmarshal(data, &root); err != nil {
		return false, "", &ParseError{Path: codexConfigPath(codexHome), Err: err}
	}
	providerID, _ := root["model_provider"].(string)
	if providerID != "codex_proxy" {
		return false, "", nil
	}
	providers, _ := root["model_providers"].(map[string]any)
	provider, _ := providers["codex_proxy"].(map[string]any)
	baseURL, _ = provider["base_url"].(string)
	return true, baseURL, nil
}

func backupCodexConfig(path, backupPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.WriteFile(backupPath, []byte(absentBackupSentinel+"\n"), 0o600)
		}
		return err
	}
	return os.WriteFile(backupPath, data, 0o600)
}

func claudeSettingsPath(claudeHome string) string { return filepath.Join(claudeHome, "settings.json") }
func claudeSettingsBackupPath(claudeHome string) string {
	return filepath.Join(claudeHome, "settings.json.codex-helper-backup")
}

// SwitchClaudeOn patches ~/.claude/settings.json's env.ANTHROPIC_BASE_URL
// to point at this process's loopback address, backing up the prior
// document first.
func SwitchClaudeOn(claudeHome string, port int) error {
	path := claudeSettingsPath(claudeHome)
	backupPath := claudeSettingsBackupPath(claudeHome)

	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		if err := backupClaudeSettings(path, backupPath); err != nil {
			return err
		}
	}

	root := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &root); err != nil {
			return &ParseError{Path: path, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	env, _ := root["env"].(map[string]any)
	if env == nil {
		env = map[string]any{}
	}
	env["ANTHROPIC_BASE_URL"] = proxyBaseURL(port)
	root["env"] = env

	if err := os.MkdirAll(claudeHome, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// SwitchClaudeOff restores ~/.claude/settings.json from its backup (or
// removes it if none previously existed) and clears the backup.
func SwitchClaudeOff(claudeHome string) error {
	path := claudeSettingsPath(claudeHome)
	backupPath := claudeSettingsBackupPath(claudeHome)

	data, err := os.ReadFile(backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("claude is not currently switched on (no backup at %s)", backupPath)
		}
		return err
	}
	if isCodexAbsentBackupSentinel(string(data)) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return os.Remove(backupPath)
}

// ClaudeSwitchStatus reports whether Claude's settings currently point
// ANTHROPIC_BASE_URL at a loopback address, and what it resolves to.
func ClaudeSwitchStatus(claudeHome string) (on bool, baseURL string, err error) {
	data, err := os.ReadFile(claudeSettingsPath(claudeHome))
	if err != nil {
		if os.IsNotExist(err) {
			return false, "", nil
		}
		return false, "", err
	}
	root := map[string]any{}
	if err := json.Unmarshal(data, &root); err != nil {
		return false, "", &ParseError{Path: claudeSettingsPath(claudeHome), Err: err}
	}
	env, _ := root["env"].(map[string]any)
	baseURL, _ = env["ANTHROPIC_BASE_URL"].(string)
	return looksLoopbackURL(baseURL), baseURL, nil
}

func backupClaudeSettings(path, backupPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.WriteFile(backupPath, []byte(absentBackupSentinel+"\n"), 0o600)
		}
		return err
	}
	return os.WriteFile(backupPath, data, 0o600)
}

func looksLoopbackURL(url string) bool {
	return url != "" && (strings.Contains(url, "127.0.0.1") || strings.Contains(url, "localhost"))
}
