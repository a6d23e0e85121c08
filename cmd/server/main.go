// Wanderline Proximity - Proximity Alert Coordination Engine
// Copyright 2026 Wanderline Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/wanderline/proximity

// The proximity daemon runs the alert coordination core: the settings
// debouncers, the control-event ingest, and the debug/ops HTTP surface,
// all under one supervision tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wanderline/proximity/internal/api"
	"github.com/wanderline/proximity/internal/config"
	"github.com/wanderline/proximity/internal/debounce"
	"github.com/wanderline/proximity/internal/diagnostics"
	"github.com/wanderline/proximity/internal/eventsource"
	"github.com/wanderline/proximity/internal/logging"
	"github.com/wanderline/proximity/internal/settings"
	"github.com/wanderline/proximity/internal/store"
	"github.com/wanderline/proximity/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.Logger()
	log.Info().Str("addr", cfg.Server.Addr()).Msg("starting proximity daemon")

	settingsStore, err := store.Open(cfg.Store.Path, logging.Component("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := settingsStore.Close(); err != nil {
			log.Error().Err(err).Msg("close settings store")
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := debounce.NewCollector(registry)

	updates := debounce.NewUpdateDebouncer(debounce.UpdateConfig{
		BaseDelay:  cfg.Debounce.UpdateBaseDelay,
		DelayStep:  cfg.Debounce.UpdateDelayStep,
		MaxDelay:   cfg.Debounce.UpdateMaxDelay,
		MaxRetries: cfg.Debounce.UpdateMaxRetries,
	}, settingsStore.ApplyFields, metrics, logging.Component("debounce.update"))

	enabled := debounce.NewEnabledDebouncer(debounce.EnabledConfig{
		Delay:           cfg.Debounce.EnabledDelay,
		Cooldown:        cfg.Debounce.EnabledCooldown,
		DuplicateWindow: cfg.Debounce.EnabledDuplicateWindow,
	}, settingsStore.SetEnabled, metrics, logging.Component("debounce.enabled"))

	geolocate := debounce.NewGeolocateDebouncer(debounce.GeolocateConfig{
		HistorySize: cfg.Debounce.GeolocateHistorySize,
	}, enabled, metrics, logging.Component("debounce.geolocate"))

	recoverer := settings.NewRecoverer(cfg.Recovery.MaxAttempts, logging.Component("recovery"))
	diag := diagnostics.New(metrics, recoverer, updates, enabled, geolocate,
		logging.Component("diagnostics"))

	bus := eventsource.NewBus(cfg.Events.Topic, cfg.Events.BufferSize,
		logging.Component("eventsource"))
	defer func() {
		if err := bus.Close(); err != nil {
			log.Error().Err(err).Msg("close event bus")
		}
	}()
	subscriber := eventsource.NewSubscriber(eventsource.SubscriberConfig{
		RatePerSecond: cfg.Events.RatePerSecond,
		RateBurst:     cfg.Events.RateBurst,
	}, bus, geolocate, logging.Component("eventsource"))

	handler := api.NewHandler(diag, logging.Component("api"))
	router := api.NewRouter(api.Config{
		RequestTimeout:  cfg.Server.Timeout,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, handler, registry, logging.Component("api"))

	httpServer := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router.Setup(),
		ReadTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddEventService(subscriber)
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !isShutdown(err) {
		return err
	}

	// Settings edits caught mid-debounce are written out before exit.
	log.Info().Msg("shutting down, flushing pending settings updates")
	updates.FlushAll()
	geolocate.ClearAllTimeouts()

	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}

	log.Info().Msg("proximity daemon stopped")
	return nil
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
