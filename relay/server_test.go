// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/signal"
	"github.com/farview-dev/farview/store"
)

type serverHarness struct {
	store    *store.Store
	registry *Registry
	url      string
}

type testDevice struct {
	id    string
	token string
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	clk := clock.Real()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "relay.db"),
		PoolSize: 1,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := NewRegistry(st, clk, logger)
	server := NewServer(ServerConfig{
		Registry: registry,
		Logger:   logger,
		Metrics:  NewMetrics(prometheus.NewRegistry()),
		Clock:    clk,
	})
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)

	return &serverHarness{
		store:    st,
		registry: registry,
		url:      "ws" + strings.TrimPrefix(httpServer.URL, "http"),
	}
}

func (h *serverHarness) registerDevice(t *testing.T, email string) testDevice {
	t.Helper()
	ctx := context.Background()
	user, err := h.store.CreateUser(ctx, email, "hunter22")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	device, err := h.store.CreateDevice(ctx, user.ID, "workstation", "linux")
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	session, err := h.store.CreateDeviceSession(ctx, device.ID, user.ID, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("CreateDeviceSession: %v", err)
	}
	return testDevice{id: device.ID, token: session.Token}
}

// dial opens a socket and sends the authenticate envelope but does not
// read the reply.
func (h *serverHarness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url, nil)
	if err != nil {
		t.Fatalf("dialing relay: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	if err := ws.WriteJSON(signal.Envelope{Type: signal.TypeAuthenticate, Token: token}); err != nil {
		t.Fatalf("sending authenticate: %v", err)
	}
	return ws
}

// connect dials, authenticates, and consumes the acknowledgement.
func (h *serverHarness) connect(t *testing.T, device testDevice) *websocket.Conn {
	t.Helper()
	ws := h.dial(t, device.token)
	ack := readEnvelope(t, ws)
	if ack.Type != signal.TypeAuthenticated {
		t.Fatalf("first envelope type = %q, want %q", ack.Type, signal.TypeAuthenticated)
	}
	if ack.DeviceID != device.id {
		t.Fatalf("acknowledged deviceId = %q, want %q", ack.DeviceID, device.id)
	}
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) signal.Envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env signal.Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("reading envelope: %v", err)
	}
	return env
}

func TestAuthenticateAcknowledged(t *testing.T) {
	h := newServerHarness(t)
	device := h.registerDevice(t, "alice@example.com")

	h.connect(t, device)

	if _, ok := h.registry.Lookup(device.id); !ok {
		t.Error("device not resolvable in registry after acknowledgement")
	}
}

func TestInvalidTokenRejectedAndClosed(t *testing.T) {
	h := newServerHarness(t)

	ws := h.dial(t, "bogus-token")
	env := readEnvelope(t, ws)
	if env.Type != signal.TypeError {
		t.Fatalf("reply type = %q, want %q", env.Type, signal.TypeError)
	}
	if env.Message != signal.ErrInvalidTokenMessage {
		t.Errorf("reply message = %q, want %q", env.Message, signal.ErrInvalidTokenMessage)
	}

	// The failure is terminal: the server closes the socket.
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("socket still open after authentication failure")
	}
}

func TestRouteStampsSenderIdentity(t *testing.T) {
	h := newServerHarness(t)
	host := h.registerDevice(t, "host@example.com")
	viewer := h.registerDevice(t, "viewer@example.com")

	hostWS := h.connect(t, host)
	viewerWS := h.connect(t, viewer)

	sdp, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0"})
	err := viewerWS.WriteJSON(signal.Envelope{
		Type:           signal.TypeOffer,
		TargetDeviceID: host.id,
		// A spoofed identity must be discarded in favor of the
		// sender's authenticated one.
		FromDeviceID: "someone-else",
		Data:         sdp,
	})
	if err != nil {
		t.Fatalf("sending offer: %v", err)
	}

	got := readEnvelope(t, hostWS)
	if got.Type != signal.TypeOffer {
		t.Errorf("forwarded type = %q, want %q", got.Type, signal.TypeOffer)
	}
	if got.FromDeviceID != viewer.id {
		t.Errorf("fromDeviceId = %q, want sender identity %q", got.FromDeviceID, viewer.id)
	}
	if got.TargetDeviceID != "" {
		t.Errorf("forwarded envelope kept targetDeviceId %q", got.TargetDeviceID)
	}
	if string(got.Data) != string(sdp) {
		t.Errorf("payload altered in transit: %s", got.Data)
	}
}

func TestConnectionRequestRewritten(t *testing.T) {
	h := newServerHarness(t)
	host := h.registerDevice(t, "host@example.com")
	viewer := h.registerDevice(t, "viewer@example.com")

	hostWS := h.connect(t, host)
	viewerWS := h.connect(t, viewer)

	err := viewerWS.WriteJSON(signal.Envelope{
		Type:           signal.TypeRequestConnection,
		TargetDeviceID: host.id,
		FromName:       "Alice's laptop",
	})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	got := readEnvelope(t, hostWS)
	if got.Type != signal.TypeConnectionRequest {
		t.Errorf("forwarded type = %q, want %q", got.Type, signal.TypeConnectionRequest)
	}
	if got.FromDeviceID != viewer.id {
		t.Errorf("fromDeviceId = %q, want %q", got.FromDeviceID, viewer.id)
	}
	if got.FromName != "Alice's laptop" {
		t.Errorf("fromName = %q, want it forwarded unmodified", got.FromName)
	}
}

// An envelope for an offline device vanishes: no reply, no error, and
// the sender's socket keeps working.
func TestOfflineTargetDroppedSilently(t *testing.T) {
	h := newServerHarness(t)
	host := h.registerDevice(t, "host@example.com")
	viewer := h.registerDevice(t, "viewer@example.com")

	hostWS := h.connect(t, host)
	viewerWS := h.connect(t, viewer)

	err := viewerWS.WriteJSON(signal.Envelope{
		Type:           signal.TypeRequestConnection,
		TargetDeviceID: "device-that-never-connected",
	})
	if err != nil {
		t.Fatalf("sending request: %v", err)
	}

	viewerWS.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := viewerWS.ReadMessage(); err == nil {
		t.Fatal("sender received a reply for an offline target")
	} else if websocket.IsUnexpectedCloseError(err) {
		t.Fatalf("sender socket closed: %v", err)
	}

	// Still routable after the drop.
	if err := viewerWS.WriteJSON(signal.Envelope{
		Type:           signal.TypeRequestConnection,
		TargetDeviceID: host.id,
	}); err != nil {
		t.Fatalf("sending second request: %v", err)
	}
	got := readEnvelope(t, hostWS)
	if got.Type != signal.TypeConnectionRequest {
		t.Errorf("second request type = %q, want %q", got.Type, signal.TypeConnectionRequest)
	}
}

// Re-authenticating the same device from a second socket closes the
// first socket and routes everything to the new one.
func TestReauthenticationMovesRouting(t *testing.T) {
	h := newServerHarness(t)
	host := h.registerDevice(t, "host@example.com")
	viewer := h.registerDevice(t, "viewer@example.com")

	firstWS := h.connect(t, host)
	secondWS := h.connect(t, host)

	// The evicted socket is closed by the server.
	firstWS.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := firstWS.ReadMessage(); err == nil {
		t.Fatal("superseded socket still open")
	}

	if h.registry.Len() != 1 {
		t.Errorf("registry has %d entries, want 1", h.registry.Len())
	}

	viewerWS := h.connect(t, viewer)
	if err := viewerWS.WriteJSON(signal.Envelope{
		Type:           signal.TypeOffer,
		TargetDeviceID: host.id,
	}); err != nil {
		t.Fatalf("sending offer: %v", err)
	}
	got := readEnvelope(t, secondWS)
	if got.Type != signal.TypeOffer {
		t.Errorf("new socket received type %q, want %q", got.Type, signal.TypeOffer)
	}
}
