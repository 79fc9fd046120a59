// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/signal"
	"github.com/farview-dev/farview/store"
)

type fakeLink struct {
	closeCount atomic.Int32
}

func (l *fakeLink) Send(signal.Envelope) bool { return true }
func (l *fakeLink) Close()                    { l.closeCount.Add(1) }

type registryHarness struct {
	registry *Registry
	store    *store.Store
	clock    *clock.FakeClock
	userID   string
	deviceID string
	token    string
}

func newRegistryHarness(t *testing.T) *registryHarness {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "relay.db"),
		PoolSize: 1,
		Clock:    fake,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	user, err := st.CreateUser(ctx, "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	device, err := st.CreateDevice(ctx, user.ID, "workstation", "linux")
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	session, err := st.CreateDeviceSession(ctx, device.ID, user.ID, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}

	return &registryHarness{
		registry: NewRegistry(st, fake, logger),
		store:    st,
		clock:    fake,
		userID:   user.ID,
		deviceID: device.ID,
		token:    session.Token,
	}
}

func (h *registryHarness) deviceOnline(t *testing.T) bool {
	t.Helper()
	devices, err := h.store.DevicesByUser(context.Background(), h.userID)
	if err != nil {
		t.Fatalf("DevicesByUser: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("device count = %d, want 1", len(devices))
	}
	return devices[0].Online
}

func TestAuthenticateInstallsEntry(t *testing.T) {
	h := newRegistryHarness(t)
	link := &fakeLink{}

	entry, err := h.registry.Authenticate(context.Background(), h.token, link)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if entry.DeviceID != h.deviceID {
		t.Errorf("entry.DeviceID = %q, want %q", entry.DeviceID, h.deviceID)
	}
	if entry.UserID != h.userID {
		t.Errorf("entry.UserID = %q, want %q", entry.UserID, h.userID)
	}

	found, ok := h.registry.Lookup(h.deviceID)
	if !ok {
		t.Fatal("Lookup did not resolve an authenticated device")
	}
	if found.Link != Link(link) {
		t.Error("Lookup resolved a different link than the one installed")
	}
	if !h.deviceOnline(t) {
		t.Error("device not marked online after Authenticate")
	}
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	h := newRegistryHarness(t)

	_, err := h.registry.Authenticate(context.Background(), "no-such-token", &fakeLink{})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown token: err = %v, want ErrInvalidToken", err)
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry has %d entries after rejected authentication, want 0", h.registry.Len())
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	h := newRegistryHarness(t)
	session, err := h.store.CreateDeviceSession(context.Background(), h.deviceID, h.userID, time.Hour)
	if err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	_, err = h.registry.Authenticate(context.Background(), session.Token, &fakeLink{})
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: err = %v, want ErrInvalidToken", err)
	}
}

// A second authentication for the same device supersedes the first:
// only the newest link stays resolvable, and the evicted link is
// closed exactly once.
func TestAuthenticateSupersedesPriorConnection(t *testing.T) {
	h := newRegistryHarness(t)
	ctx := context.Background()
	first := &fakeLink{}
	second := &fakeLink{}

	if _, err := h.registry.Authenticate(ctx, h.token, first); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	if _, err := h.registry.Authenticate(ctx, h.token, second); err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}

	if got := first.closeCount.Load(); got != 1 {
		t.Errorf("superseded link closed %d times, want exactly 1", got)
	}
	if second.closeCount.Load() != 0 {
		t.Error("current link was closed")
	}
	if h.registry.Len() != 1 {
		t.Errorf("registry has %d entries, want 1", h.registry.Len())
	}
	found, ok := h.registry.Lookup(h.deviceID)
	if !ok || found.Link != Link(second) {
		t.Error("Lookup does not resolve to the newest link")
	}
	if !h.deviceOnline(t) {
		t.Error("device not online after supersession")
	}
}

// The superseded connection's own close handler must not knock the
// newer connection out of the registry.
func TestReleaseComparesByLinkIdentity(t *testing.T) {
	h := newRegistryHarness(t)
	ctx := context.Background()
	first := &fakeLink{}
	second := &fakeLink{}

	if _, err := h.registry.Authenticate(ctx, h.token, first); err != nil {
		t.Fatalf("first Authenticate: %v", err)
	}
	if _, err := h.registry.Authenticate(ctx, h.token, second); err != nil {
		t.Fatalf("second Authenticate: %v", err)
	}

	// Stale release from the evicted connection: no-op.
	h.registry.Release(ctx, h.deviceID, first)
	if _, ok := h.registry.Lookup(h.deviceID); !ok {
		t.Fatal("stale Release removed the newer connection")
	}
	if !h.deviceOnline(t) {
		t.Error("stale Release marked the device offline")
	}

	// Release from the live connection: entry removed, device offline.
	h.registry.Release(ctx, h.deviceID, second)
	if _, ok := h.registry.Lookup(h.deviceID); ok {
		t.Fatal("Release did not remove the live connection")
	}
	if h.deviceOnline(t) {
		t.Error("device still online after Release")
	}
}
