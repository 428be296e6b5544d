// Package procconfig holds process-level settings bound from CLI flags and
// environment variables by cobra/viper. It is distinct from
// internal/proxyconfig, which owns the versioned, user-edited config
// document describing services/configs/upstreams.
package procconfig

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ProcConfig holds the settings that select which service this process
// serves and where it reads/writes its files. These are process startup
// knobs, not part of the routable document.
type ProcConfig struct {
	Service     string // "codex" or "claude"
	Port        int
	HelperHome  string
	CodexHome   string
	ClaudeHome  string
	LogMaxBytes int64
	LogMaxFiles int
	Verbose     bool
}

// Load reads configuration from viper, which merges flag values, env vars
// (prefix CODEX_HELPER_), and defaults set up by the cobra command in
// cmd/codexhelper.
func Load() ProcConfig {
	return ProcConfig{
		Service:     viper.GetString("service"),
		Port:        viper.GetInt("port"),
		HelperHome:  orDefaultDir(viper.GetString("helper_home"), ".codex-helper"),
		CodexHome:   orDefaultDir(viper.GetString("codex_home"), ".codex"),
		ClaudeHome:  orDefaultDir(viper.GetString("claude_home"), ".claude"),
		LogMaxBytes: viper.GetInt64("log_max_bytes"),
		LogMaxFiles: viper.GetInt("log_max_files"),
		Verbose:     viper.GetBool("verbose"),
	}
}

// orDefaultDir returns v unchanged if set, otherwise ~/<leaf>. leaf itself
// is returned as a last resort if the user's home directory can't be
// determined.
func orDefaultDir(v, leaf string) string {
	if v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return leaf
	}
	return filepath.Join(home, leaf)
}

// DefaultPort returns the spec-mandated default inbound port for a service.
func DefaultPort(service string) int {
	if service == "claude" {
		return 3210
	}
	return 3211
}
