// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// farview-relay runs the server side of Farview: the signaling relay
// and device registry on /ws, and the account/device management API
// under /api/, in one process over one SQLite store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/farview-dev/farview/account"
	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/lib/config"
	"github.com/farview-dev/farview/lib/process"
	"github.com/farview-dev/farview/relay"
	"github.com/farview-dev/farview/store"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the relay YAML configuration")
	flag.Parse()

	cfg, err := config.LoadRelay(configPath)
	if err != nil {
		return err
	}
	if cfg.TokenSigningKey == "" {
		return errors.New("token_signing_key (or FARVIEW_TOKEN_SIGNING_KEY) is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	clk := clock.Real()

	st, err := store.Open(store.Config{
		Path:   cfg.DatabasePath,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	registry := relay.NewRegistry(st, clk, logger)
	metrics := relay.NewMetrics(prometheus.DefaultRegisterer)
	relayServer := relay.NewServer(relay.ServerConfig{
		Registry:          registry,
		Logger:            logger,
		Metrics:           metrics,
		Clock:             clk,
		WriteTimeout:      cfg.WriteTimeout.Std(),
		PingInterval:      cfg.PingInterval.Std(),
		OutboundQueueSize: cfg.OutboundQueueSize,
	})
	accountAPI := account.New(account.Config{
		Store:           st,
		Logger:          logger,
		Clock:           clk,
		SigningKey:      []byte(cfg.TokenSigningKey),
		AccountTokenTTL: cfg.AccountTokenTTL.Std(),
		DeviceTokenTTL:  cfg.DeviceTokenTTL.Std(),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", relayServer)
	mux.Handle("/api/", accountAPI)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.ListenAndServe()
	}()

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("relay running", "listen", cfg.Listen, "database", cfg.DatabasePath)

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		return fmt.Errorf("relay server: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down relay server: %w", err)
	}
	return nil
}
