package proxyconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// ParseError wraps a malformed config document. Per spec.md §4.1/§7 this is
// fatal at startup.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// HomeDir returns ${CODEX_HELPER_HOME}, defaulting to ~/.codex-helper.
func HomeDir() string {
	if v := os.Getenv("CODEX_HELPER_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codex-helper"
	}
	return filepath.Join(home, ".codex-helper")
}

func tomlPath(dir string) string { return filepath.Join(dir, "config.toml") }
func jsonPath(dir string) string { return filepath.Join(dir, "config.json") }

// FilePath resolves the config document path per SPEC_FULL.md §5.1: prefer
// the TOML path if it exists, else the JSON path.
func FilePath(dir string) string {
	if _, err := os.Stat(tomlPath(dir)); err == nil {
		return tomlPath(dir)
	}
	return jsonPath(dir)
}

// Load tries the TOML path first, then the JSON path; it returns a fresh
// default document (stamped with the current schema version) if neither
// exists. It fails with *ParseError only on malformed content, per
// spec.md §4.1.
func Load(dir string) (*ProxyConfig, error) {
	path := tomlPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		path = jsonPath(dir)
		data, err = os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg := Default()
				return cfg, nil
			}
			return nil, err
		}
		return decodeJSON(path, data)
	}
	return decodeTOML(path, data)
}

func decodeTOML(path string, data []byte) (*ProxyConfig, error) {
	cfg := &ProxyConfig{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	cfg.Normalize()
	return cfg, nil
}

func decodeJSON(path string, data []byte) (*ProxyConfig, error) {
	cfg := &ProxyConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg to the same file it was loaded from (TOML preferred on a
// fresh install), via a temp-file-then-rename scheme so readers never
// observe a partially-written document. A single-generation ".bak" is
// produced if the destination already existed, matching
// original_source's config_backup_path single-backup contract.
func Save(dir string, cfg *ProxyConfig) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := tomlPath(dir)
	if _, err := os.Stat(path); err != nil {
		if _, err2 := os.Stat(jsonPath(dir)); err2 == nil {
			path = jsonPath(dir)
		}
	}

	var data []byte
	var err error
	if path == jsonPath(dir) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if backupErr := copyFile(path, path+".bak"); backupErr != nil {
			return fmt.Errorf("write backup: %w", backupErr)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
