package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joestump/codex-helper/internal/controlapi"
	"github.com/joestump/codex-helper/internal/forwarder"
	"github.com/joestump/codex-helper/internal/inbound"
	"github.com/joestump/codex-helper/internal/lbstate"
	"github.com/joestump/codex-helper/internal/portcheck"
	"github.com/joestump/codex-helper/internal/procconfig"
	"github.com/joestump/codex-helper/internal/proxyconfig"
	"github.com/joestump/codex-helper/internal/routing"
	"github.com/joestump/codex-helper/internal/sessionstate"
)

// newServeCmd builds the `serve` subcommand: wires every component
// (proxyconfig.Store, lbstate.Store, sessionstate.Store, routing.Engine,
// forwarder.Forwarder, inbound.Handler, controlapi.Server) behind one
// loopback listener per spec.md §6, and runs until SIGINT/SIGTERM per the
// teacher's cmd/claudeops/main.go run() shutdown shape.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the reverse proxy for one client service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(procconfig.Load())
		},
	}
}

func runServe(pc procconfig.ProcConfig) error {
	closeLog := setupLogging(pc)
	defer closeLog()

	port := pc.Port
	if port == 0 {
		port = procconfig.DefaultPort(pc.Service)
	}

	if err := os.MkdirAll(pc.HelperHome, 0o755); err != nil {
		return fmt.Errorf("create helper home %s: %w", pc.HelperHome, err)
	}

	cfgStore, err := proxyconfig.NewStore(pc.HelperHome)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stopWatch, err := cfgStore.WatchForExternalEdits()
	if err != nil {
		log.Printf("config file watch disabled: %v", err)
		stopWatch = func() {}
	}
	defer stopWatch()

	lb := lbstate.New()
	sessions := sessionstate.New()
	engine := routing.NewEngine(cfgStore, lb, sessions)
	fwd := forwarder.New()
	proxyHandler := inbound.New(pc.Service, engine, fwd, sessions)
	controlSrv := controlapi.New(pc.Service, port, cfgStore, lb, sessions)

	mux := http.NewServeMux()
	mux.Handle("/__codex_helper/", controlSrv.Handler())
	mux.Handle("/", proxyHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // LLM responses stream long; never cut a response short
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		desc := portcheck.Describe(probeCtx, portcheck.SystemFinder{}, port)
		cancel()
		return fmt.Errorf("bind %s: %w%s", server.Addr, err, desc)
	}

	log.Printf("codex-helper serving %s on %s", pc.Service, server.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received %s, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	return nil
}
