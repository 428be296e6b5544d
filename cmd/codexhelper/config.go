package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joestump/codex-helper/internal/procconfig"
	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// newConfigCmd builds the `config` subcommand family: thin CLI wrappers
// around internal/proxyconfig mutators plus Save, matching the teacher's
// style of cobra commands that mostly delegate to a package function and
// print a short confirmation line.
func newConfigCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "inspect and edit the routing configuration document",
	}
	root.AddCommand(
		newConfigInitCmd(),
		newConfigListCmd(),
		newConfigAddCmd(),
		newConfigSetActiveCmd(),
		newConfigSetLevelCmd(),
		newConfigEnableCmd(false),
		newConfigEnableCmd(true),
		newConfigSetRetryProfileCmd(),
		newConfigImportFromCodexCmd(false),
		newConfigImportFromCodexCmd(true),
	)
	return root
}

func withStore(fn func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error) error {
	pc := procconfig.Load()
	cfg, err := proxyconfig.Load(pc.HelperHome)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := fn(pc, cfg); err != nil {
		return err
	}
	cfg.Normalize()
	return proxyconfig.Save(pc.HelperHome, cfg)
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create an empty config document if one doesn't exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				fmt.Printf("config ready at %s\n", proxyconfig.FilePath(pc.HelperHome))
				return nil
			})
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list configs for the active service",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := procconfig.Load()
			cfg, err := proxyconfig.Load(pc.HelperHome)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			svc := cfg.Service(pc.Service)
			names := make([]string, 0, len(svc.Configs))
			for name := range svc.Configs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				entry := svc.Configs[name]
				active := ""
				if svc.Active == name {
					active = " (active)"
				}
				fmt.Printf("%s  enabled=%t  level=%d  upstreams=%d%s\n", name, entry.Enabled, entry.Level, len(entry.Upstreams), active)
			}
			return nil
		},
	}
}

func newConfigAddCmd() *cobra.Command {
	var authTokenEnv, apiKeyEnv string
	var level int
	cmd := &cobra.Command{
		Use:   "add <name> <base_url>",
		Short: "add a config with one upstream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, baseURL := args[0], args[1]
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				svc := cfg.Service(pc.Service)
				if svc.Configs == nil {
					svc.Configs = map[string]*proxyconfig.ConfigEntry{}
				}
				lvl := level
				if lvl == 0 {
					lvl = 1
				}
				svc.Configs[name] = &proxyconfig.ConfigEntry{
					Name:    name,
					Enabled: true,
					Level:   lvl,
					Upstreams: []*proxyconfig.UpstreamConfig{{
						BaseURL: baseURL,
						Auth:    proxyconfig.UpstreamAuth{AuthTokenEnv: authTokenEnv, APIKeyEnv: apiKeyEnv},
					}},
				}
				fmt.Printf("added config %q (%s)\n", name, baseURL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&authTokenEnv, "auth-token-env", "", "environment variable holding the bearer token")
	cmd.Flags().StringVar(&apiKeyEnv, "api-key-env", "", "environment variable holding the API key")
	cmd.Flags().IntVar(&level, "level", 1, "failover level (lower tried first)")
	return cmd
}

func newConfigSetActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-active <name>",
		Short: "set the active config for this service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				svc := cfg.Service(pc.Service)
				if _, ok := svc.Configs[name]; !ok {
					return fmt.Errorf("no such config: %s", name)
				}
				svc.Active = name
				fmt.Printf("active config set to %q\n", name)
				return nil
			})
		},
	}
}

func newConfigSetLevelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-level <name> <level>",
		Short: "set a config's failover level",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			level, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid level %q: %w", args[1], err)
			}
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				entry, ok := cfg.Service(pc.Service).Configs[name]
				if !ok {
					return fmt.Errorf("no such config: %s", name)
				}
				entry.Level = level
				fmt.Printf("%s level set to %d\n", name, level)
				return nil
			})
		},
	}
}

func newConfigEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <name>", "enable a config"
	if !enable {
		use, short = "disable <name>", "disable a config"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				entry, ok := cfg.Service(pc.Service).Configs[name]
				if !ok {
					return fmt.Errorf("no such config: %s", name)
				}
				entry.Enabled = enable
				fmt.Printf("%s enabled=%t\n", name, enable)
				return nil
			})
		},
	}
}

func newConfigSetRetryProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-retry-profile <profile>",
		Short: "set the named retry profile (balanced, same_upstream, aggressive_failover, cost_primary)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile := args[0]
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				cfg.Retry.Profile = profile
				fmt.Printf("retry profile set to %q\n", profile)
				return nil
			})
		},
	}
}

func newConfigImportFromCodexCmd(overwrite bool) *cobra.Command {
	use := "import-from-codex"
	short := "derive codex configs from ~/.codex/config.toml if none exist yet"
	if overwrite {
		use = "overwrite-from-codex"
		short = "derive codex configs from ~/.codex/config.toml, replacing any existing ones"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(pc procconfig.ProcConfig, cfg *proxyconfig.ProxyConfig) error {
				if !overwrite && len(cfg.Codex.Configs) > 0 {
					return fmt.Errorf("codex configs already exist; use overwrite-from-codex to replace them")
				}
				svc, err := proxyconfig.BootstrapFromCodex(pc.CodexHome)
				if err != nil {
					return err
				}
				cfg.Codex = *svc
				fmt.Printf("imported %d codex config(s) from %s\n", len(svc.Configs), pc.CodexHome)
				return nil
			})
		},
	}
}
