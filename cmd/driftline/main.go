// Driftline - Real-Time Chat Event Distribution
// Copyright 2026 Driftline Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftline/driftline

// Command driftline runs the chat event distribution server: the event hub,
// the bus forwarder, the presence sweeper, and the HTTP API under one
// supervisor tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/driftline/driftline/internal/api"
	"github.com/driftline/driftline/internal/auth"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/event"
	"github.com/driftline/driftline/internal/hub"
	"github.com/driftline/driftline/internal/logging"
	"github.com/driftline/driftline/internal/metrics"
	"github.com/driftline/driftline/internal/presence"
	"github.com/driftline/driftline/internal/registry"
	"github.com/driftline/driftline/internal/store"
	"github.com/driftline/driftline/internal/supervisor"
	"github.com/driftline/driftline/internal/supervisor/services"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{Level: "info", Format: "json"})
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("go_version", runtime.Version()).
		Msg("starting driftline")
	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := time.Now()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.AppUptime.Set(time.Since(started).Seconds())
			}
		}
	}()

	// Bootstrap users and channel membership. Directory contents normally
	// come from the chat backend; the static directory seeds a single
	// admin so a fresh deployment is usable.
	dir := registry.NewStaticDirectory()
	users := auth.NewStaticUsers()
	if cfg.Auth.AdminPassword != "" {
		adminID, err := users.Add(cfg.Auth.AdminUsername, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to provision admin user")
		}
		dir.PutUser(event.UserRef{UserID: adminID, Username: cfg.Auth.AdminUsername})
		dir.AddChannelMember(1, adminID)
		logging.Info().Str("username", cfg.Auth.AdminUsername).Msg("admin user provisioned")
	} else {
		logging.Warn().Msg("no admin password configured; logins will fail until users are provisioned")
	}

	reg := registry.New(dir, registry.WithSendBuffer(cfg.Events.SendBuffer))
	eventHub := hub.New(reg, hub.WithQueueSize(cfg.Events.QueueSize))
	bus := hub.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("bus close failed")
		}
	}()
	forwarder := hub.NewForwarder(bus, eventHub)

	tracker := presence.NewTracker(reg, bus, dir)
	sweeper := presence.NewSweeper(tracker, cfg.Presence.SweepInterval, cfg.Presence.Retention)

	var db *badger.DB
	if cfg.Store.InMemory {
		db, err = store.OpenInMemory()
	} else {
		db, err = store.Open(cfg.Store.Path)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open reaction store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("reaction store close failed")
		}
	}()
	reactions := store.NewReactionStore(db, dir)

	authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.CookieName, cfg.Auth.CookieSecure, users)

	handler := api.NewHandler(authSvc, reg, eventHub, bus, reactions, tracker, dir, cfg.Server.CORSOrigins)
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	})

	// WriteTimeout stays off: the SSE and WebSocket streams must outlive
	// any fixed response deadline. ReadHeaderTimeout still bounds slow
	// clients during the handshake.
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddEventService(services.NewHubService(eventHub))
	tree.AddEventService(forwarder)
	tree.AddEventService(sweeper)
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("http server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("driftline stopped")
}
