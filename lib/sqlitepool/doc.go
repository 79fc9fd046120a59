// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// relay server's durable store. It wraps zombiezen.com/go/sqlite with
// production defaults: WAL journal mode, NORMAL synchronous, busy
// timeout for write contention, and memory-mapped reads.
//
// Callers [Pool.Take] a connection, perform work, and [Pool.Put] it
// back. Connections are not safe for concurrent use — each goroutine
// must hold its own connection for the duration of its work.
//
// The package is intentionally thin: standard pragmas plus the
// underlying zombiezen types, no query builder. The store writes SQL
// directly with sqlitex.Execute.
package sqlitepool
