// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon runs the Stalker HLS proxy: it exposes the HTTP facade on
// a single port and wires together identity rotation, caching, upstream
// fetching, playlist acquisition, playlist rewriting, and session
// rotation.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stalkerhls/portalproxy/internal/acquirer"
	"github.com/stalkerhls/portalproxy/internal/config"
	"github.com/stalkerhls/portalproxy/internal/fetcher"
	"github.com/stalkerhls/portalproxy/internal/httpapi"
	"github.com/stalkerhls/portalproxy/internal/identity"
	xglog "github.com/stalkerhls/portalproxy/internal/log"
	"github.com/stalkerhls/portalproxy/internal/lrucache"
	"github.com/stalkerhls/portalproxy/internal/session"
)

func main() {
	if err := run(); err != nil {
		xglog.WithComponent("daemon").Fatal().Err(err).Msg("fatal error")
	}
}

func run() error {
	xglog.Configure(xglog.Config{
		Level:   config.ParseString("STALKER_PROXY_LOG_LEVEL", "info"),
		Service: "stalkerhls-proxy",
	})
	logger := xglog.WithComponent("daemon")

	configPath := config.ParseString("STALKER_PROXY_CONFIG", "")
	loader := config.NewLoader(configPath)
	initial, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load initial config: %w", err)
	}
	holder := config.NewHolder(initial, loader, configPath)
	cfgFn := holder.Get

	pool := identity.NewPool(initial)
	cache := lrucache.New(initial.MaxCacheKeys, initial.MaxCacheBytes)
	f := fetcher.New(initial.HTTPTimeout, cache)
	acq := acquirer.New(initial.Portals, pool, f, cfgFn)
	sessions := session.NewManager(acq, cfgFn)
	server := httpapi.New(cfgFn, f, sessions)

	addr := fmt.Sprintf(":%s", resolvePort(os.Args[1:]))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Reap(ctx)
	go func() {
		if err := holder.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watcher exited")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Int("portals", len(initial.Portals)).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// resolvePort implements spec.md §6's CLI contract: a single optional
// positional argument naming the TCP port, falling back to PORT and then
// 8080. A positional argument takes precedence over the environment.
func resolvePort(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0]
	}
	return config.ParseString("PORT", "8080")
}
