// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the Farview
// relay and agent binaries. It centralizes the one legitimate raw I/O
// pattern that exists before the structured logger: fatal error
// reporting to stderr from main(). All other output in the binaries
// goes through slog.
package process
