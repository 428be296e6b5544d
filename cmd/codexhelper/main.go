package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/joestump/codex-helper/internal/procconfig"
)

// version is stamped by the release build; left as a plain var (no
// ldflags plumbing exists in this tree yet) matching the teacher's
// config.Version pattern.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "codex-helper",
		Short:   "Local reverse proxy and routing core for AI-coding CLI clients",
		Version: version,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("service", "codex", "which client this process serves: codex or claude")
	pf.Int("port", 0, "inbound port (default: service-specific)")
	pf.String("helper-home", "", "override config directory (default: $CODEX_HELPER_HOME or ~/.codex-helper)")
	pf.String("codex-home", "", "Codex CLI home directory (default: $CODEX_HOME or ~/.codex)")
	pf.String("claude-home", "", "Claude Code home directory (default: $CLAUDE_HOME or ~/.claude)")
	pf.Int64("log-max-bytes", 10*1024*1024, "rotate logs after this many bytes")
	pf.Int("log-max-files", 5, "number of rotated log files to keep")
	pf.Bool("verbose", false, "enable verbose logging")

	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, pf.Lookup(flagName))
	}
	bindFlag("service", "service")
	bindFlag("port", "port")
	bindFlag("helper_home", "helper-home")
	bindFlag("codex_home", "codex-home")
	bindFlag("claude_home", "claude-home")
	bindFlag("log_max_bytes", "log-max-bytes")
	bindFlag("log_max_files", "log-max-files")
	bindFlag("verbose", "verbose")

	viper.SetEnvPrefix("CODEX_HELPER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// These three use bare environment variable names per spec.md §6's
	// table, not the CODEX_HELPER_ prefix AutomaticEnv would otherwise
	// apply to "helper_home" et al.
	_ = viper.BindEnv("helper_home", "CODEX_HELPER_HOME")
	_ = viper.BindEnv("codex_home", "CODEX_HOME")
	_ = viper.BindEnv("claude_home", "CLAUDE_HOME")

	// Log rotation limits are also read from the CODEX_HELPER_RUNTIME_
	// names, in addition to the CODEX_HELPER_LOG_MAX_* names AutomaticEnv
	// derives from the keys.
	_ = viper.BindEnv("log_max_bytes", "CODEX_HELPER_RUNTIME_LOG_MAX_BYTES")
	_ = viper.BindEnv("log_max_files", "CODEX_HELPER_RUNTIME_LOG_MAX_FILES")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newSwitchCmd())
	rootCmd.AddCommand(newNotifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging points the stdlib log package at a rotating file under
// ${helper_home}/logs, per spec.md §6's "Persisted state" surface, using
// lumberjack the way the rest of the ambient stack is specified in
// SPEC_FULL.md §2. Falls back to stderr if the logs directory can't be
// created.
func setupLogging(pc procconfig.ProcConfig) func() {
	dir := filepath.Join(pc.HelperHome, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("could not create log directory %s: %v (logging to stderr)", dir, err)
		return func() {}
	}
	maxSizeMB := int(pc.LogMaxBytes / (1024 * 1024))
	if maxSizeMB < 1 {
		maxSizeMB = 1
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, pc.Service+".log"),
		MaxSize:    maxSizeMB,
		MaxBackups: pc.LogMaxFiles,
		Compress:   false,
	}
	log.SetOutput(rotator)
	return func() { _ = rotator.Close() }
}
