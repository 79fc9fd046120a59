// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Farview
// binaries.
//
// Configuration is a single YAML file passed via the --config flag.
// There are no fallbacks or automatic discovery; defaults cover every
// field so a minimal file (or none, for the agent in ad-hoc use) is
// enough to start. Secrets such as the account token signing key may
// be supplied through the environment instead of the file.
package config
