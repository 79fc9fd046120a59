// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// farview-agent is the device-side daemon. It registers the device
// with the account API, holds the relay connection open, and runs
// negotiation sessions: as a host it serves its screen to an approved
// viewer, as a viewer (-connect) it requests a session with a chosen
// device.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/lib/config"
	"github.com/farview-dev/farview/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath string
		register   bool
		email      string
		password   string
		connectTo  string
	)
	flag.StringVar(&configPath, "config", "", "path to the agent YAML configuration")
	flag.BoolVar(&register, "register", false, "register this device and save its credentials, then exit")
	flag.StringVar(&email, "email", "", "account email (with -register)")
	flag.StringVar(&password, "password", "", "account password (with -register)")
	flag.StringVar(&connectTo, "connect", "", "device ID to connect to as a viewer")
	flag.Parse()

	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if register {
		if email == "" || password == "" {
			return errors.New("-register requires -email and -password")
		}
		creds, err := registerDevice(ctx, cfg, email, password)
		if err != nil {
			return err
		}
		if err := saveCredentials(cfg.CredentialsFile, creds); err != nil {
			return err
		}
		fmt.Printf("registered device %s, credentials saved to %s\n", creds.DeviceID, cfg.CredentialsFile)
		return nil
	}

	creds, err := loadCredentials(cfg.CredentialsFile)
	if err != nil {
		return fmt.Errorf("loading device credentials (run with -register first): %w", err)
	}

	a, err := newAgent(cfg, creds, connectTo, clock.Real(), logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}
