// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/signal"
	"github.com/farview-dev/farview/store"
)

// ErrInvalidToken is returned by Authenticate for an unknown or
// expired device session token. It is terminal for the socket: the
// server reports it and closes, and the device must re-register for a
// fresh token.
var ErrInvalidToken = errors.New("relay: invalid token")

// Link is the registry's handle on one live connection. Send hands an
// envelope to the connection's outbound queue without blocking; Close
// tears the connection down and must be idempotent.
type Link interface {
	Send(signal.Envelope) bool
	Close()
}

// Entry is the live connection record for one device. At most one
// Entry exists per device ID at any instant.
type Entry struct {
	DeviceID string
	UserID   string
	Link     Link
}

// Registry owns device presence. It validates session tokens against
// the store, tracks the single live link per device, and flips the
// stored online flag on install and release.
type Registry struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry backed by st for token lookup
// and presence writes.
func NewRegistry(st *store.Store, clk clock.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		store:   st,
		clock:   clk,
		logger:  logger,
		entries: make(map[string]Entry),
	}
}

// Authenticate validates token and installs link as the device's live
// connection. Any prior connection for the same device is evicted and
// closed; the registry is the only closer of evicted links, so each is
// closed exactly once. The device is marked online before Authenticate
// returns, so a Lookup by any other device after the caller's
// acknowledgement is guaranteed to resolve it.
func (r *Registry) Authenticate(ctx context.Context, token string, link Link) (Entry, error) {
	session, err := r.store.DeviceSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Entry{}, ErrInvalidToken
		}
		return Entry{}, fmt.Errorf("looking up session: %w", err)
	}
	if !r.clock.Now().Before(session.ExpiresAt) {
		return Entry{}, ErrInvalidToken
	}

	entry := Entry{
		DeviceID: session.DeviceID,
		UserID:   session.UserID,
		Link:     link,
	}

	r.mu.Lock()
	prior, superseded := r.entries[session.DeviceID]
	r.entries[session.DeviceID] = entry
	r.mu.Unlock()

	// Close outside the lock: the evicted socket's read loop will
	// call Release, which takes the same lock and no-ops because the
	// map now points at the new link.
	if superseded {
		prior.Link.Close()
		r.logger.Info("live connection superseded", "device_id", session.DeviceID)
	}

	if err := r.store.SetDevicePresence(ctx, session.DeviceID, true); err != nil {
		r.logger.Error("marking device online", "device_id", session.DeviceID, "error", err)
	}
	return entry, nil
}

// Lookup resolves a device ID to its live connection entry, if any.
func (r *Registry) Lookup(deviceID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[deviceID]
	return entry, ok
}

// Release removes the device's entry when its transport closes and
// marks the device offline. The entry is compared by link identity,
// not just device ID: if the connection was already superseded by a
// newer authentication, Release is a no-op so it cannot knock the
// newer connection offline.
func (r *Registry) Release(ctx context.Context, deviceID string, link Link) {
	r.mu.Lock()
	entry, ok := r.entries[deviceID]
	if !ok || entry.Link != link {
		r.mu.Unlock()
		return
	}
	delete(r.entries, deviceID)
	r.mu.Unlock()

	if err := r.store.SetDevicePresence(ctx, deviceID, false); err != nil {
		r.logger.Error("marking device offline", "device_id", deviceID, "error", err)
	}
}

// Len reports the number of live connections, for metrics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
