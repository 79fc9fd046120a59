// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the relay server's durable store: user accounts,
// registered devices, and device session tokens, backed by SQLite.
//
// The store issues device identities exactly once at registration time
// and never reuses them. Presence (the online flag and last-seen
// timestamp) is mutated only by the device registry's authenticate and
// release paths; everything else treats it as read-only.
//
// Expiry is not enforced here — [Store.DeviceSessionByToken] returns
// the stored expiry and the registry compares it against its own
// clock, so token validity has a single time source.
package store
