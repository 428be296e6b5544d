package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joestump/codex-helper/internal/procconfig"
	"github.com/joestump/codex-helper/internal/proxyconfig"
)

// newSwitchCmd builds `switch on|off|status`, which patches the target
// client's own config file to point at this process's loopback address
// (making a backup first), per spec.md §6.
func newSwitchCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "switch",
		Short: "point a client CLI's own config at this proxy, or restore it",
	}
	root.AddCommand(newSwitchOnCmd(), newSwitchOffCmd(), newSwitchStatusCmd())
	return root
}

func newSwitchOnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "on",
		Short: "switch the configured service's client CLI to this proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := procconfig.Load()
			port := pc.Port
			if port == 0 {
				port = procconfig.DefaultPort(pc.Service)
			}
			switch pc.Service {
			case "claude":
				if err := proxyconfig.SwitchClaudeOn(pc.ClaudeHome, port); err != nil {
					return err
				}
				fmt.Printf("claude now points at http://127.0.0.1:%d (backup saved)\n", port)
			default:
				if err := proxyconfig.SwitchCodexOn(pc.CodexHome, port); err != nil {
					return err
				}
				fmt.Printf("codex now points at http://127.0.0.1:%d (backup saved)\n", port)
			}
			return nil
		},
	}
}

func newSwitchOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "off",
		Short: "restore the configured service's client CLI config from backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := procconfig.Load()
			switch pc.Service {
			case "claude":
				if err := proxyconfig.SwitchClaudeOff(pc.ClaudeHome); err != nil {
					return err
				}
				fmt.Println("claude config restored")
			default:
				if err := proxyconfig.SwitchCodexOff(pc.CodexHome); err != nil {
					return err
				}
				fmt.Println("codex config restored")
			}
			return nil
		},
	}
}

func newSwitchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show whether the configured service's client CLI currently points at this proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc := procconfig.Load()
			var on bool
			var baseURL string
			var err error
			switch pc.Service {
			case "claude":
				on, baseURL, err = proxyconfig.ClaudeSwitchStatus(pc.ClaudeHome)
			default:
				on, baseURL, err = proxyconfig.CodexSwitchStatus(pc.CodexHome)
			}
			if err != nil {
				return err
			}
			if on {
				fmt.Printf("%s: on (%s)\n", pc.Service, baseURL)
			} else {
				fmt.Printf("%s: off\n", pc.Service)
			}
			return nil
		},
	}
}
