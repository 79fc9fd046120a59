// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/lib/testutil"
)

// fakeConn is an in-process relay socket. The test plays the relay
// side through the inbound/outbound channels.
type fakeConn struct {
	inbound  chan Envelope // relay -> client
	outbound chan Envelope // client -> relay

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan Envelope, 16),
		outbound: make(chan Envelope, 16),
		closed:   make(chan struct{}),
	}
}

func (f *fakeConn) ReadJSON(v any) error {
	select {
	case env := <-f.inbound:
		*(v.(*Envelope)) = env
		return nil
	case <-f.closed:
		return errors.New("fake conn closed")
	}
}

func (f *fakeConn) WriteJSON(v any) error {
	select {
	case <-f.closed:
		return errors.New("fake conn closed")
	default:
	}
	f.outbound <- v.(Envelope)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = "ws://relay.test/ws"
	}
	if cfg.Token == "" {
		cfg.Token = "token-1"
	}
	if cfg.Handler == nil {
		cfg.Handler = func(Envelope) {}
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestClientAuthenticatesAndDispatches(t *testing.T) {
	conn := newFakeConn()
	handled := make(chan Envelope, 1)
	authed := make(chan string, 1)

	client := newTestClient(t, ClientConfig{
		Token:           "token-abc",
		Handler:         func(env Envelope) { handled <- env },
		OnAuthenticated: func(deviceID string) { authed <- deviceID },
		Dial: func(ctx context.Context, url string) (Conn, error) {
			return conn, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	// The client's first write must be the authenticate envelope.
	auth := testutil.RequireReceive(t, conn.outbound, 5*time.Second, "authenticate envelope")
	if auth.Type != TypeAuthenticate || auth.Token != "token-abc" {
		t.Fatalf("first envelope = %+v, want authenticate with token", auth)
	}

	conn.inbound <- Envelope{Type: TypeAuthenticated, DeviceID: "device-1"}
	if got := testutil.RequireReceive(t, authed, 5*time.Second, "OnAuthenticated"); got != "device-1" {
		t.Fatalf("authenticated device = %q, want device-1", got)
	}
	if client.DeviceID() != "device-1" {
		t.Fatalf("DeviceID() = %q, want device-1", client.DeviceID())
	}

	conn.inbound <- Envelope{Type: TypeOffer, FromDeviceID: "device-2"}
	env := testutil.RequireReceive(t, handled, 5*time.Second, "routed envelope")
	if env.Type != TypeOffer || env.FromDeviceID != "device-2" {
		t.Fatalf("handled envelope = %+v", env)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
}

func TestClientTokenRejectionIsTerminal(t *testing.T) {
	conn := newFakeConn()
	dials := make(chan struct{}, 4)

	client := newTestClient(t, ClientConfig{
		Dial: func(ctx context.Context, url string) (Conn, error) {
			dials <- struct{}{}
			return conn, nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- client.Run(context.Background()) }()

	testutil.RequireReceive(t, conn.outbound, 5*time.Second, "authenticate envelope")
	conn.inbound <- Envelope{Type: TypeError, Message: ErrInvalidTokenMessage}

	err := testutil.RequireReceive(t, done, 5*time.Second, "Run result")
	if !errors.Is(err, ErrTokenRejected) {
		t.Fatalf("Run returned %v, want ErrTokenRejected", err)
	}
	if len(dials) != 1 {
		t.Fatalf("dial count = %d after rejection, want 1 (no reconnect)", len(dials))
	}
}

func TestClientReconnectsAfterFixedDelay(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	conns := make(chan *fakeConn, 2)
	first := newFakeConn()
	second := newFakeConn()
	conns <- first
	conns <- second

	dialed := make(chan *fakeConn, 2)
	client := newTestClient(t, ClientConfig{
		Clock:          fakeClock,
		ReconnectDelay: 5 * time.Second,
		Dial: func(ctx context.Context, url string) (Conn, error) {
			conn := <-conns
			dialed <- conn
			return conn, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	testutil.RequireReceive(t, dialed, 5*time.Second, "first dial")
	testutil.RequireReceive(t, first.outbound, 5*time.Second, "first authenticate")

	// Drop the first connection; the client must wait out the fixed
	// delay before redialing.
	first.Close()
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(5 * time.Second)

	reconn := testutil.RequireReceive(t, dialed, 5*time.Second, "second dial")
	if reconn != second {
		t.Fatal("second dial did not use a fresh connection")
	}
	auth := testutil.RequireReceive(t, second.outbound, 5*time.Second, "second authenticate")
	if auth.Type != TypeAuthenticate {
		t.Fatalf("reconnect first envelope = %+v, want authenticate", auth)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	client := newTestClient(t, ClientConfig{
		Dial: func(ctx context.Context, url string) (Conn, error) {
			return newFakeConn(), nil
		},
	})

	err := client.Send(Envelope{Type: TypeOffer, TargetDeviceID: "device-2"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send before Run returned %v, want ErrNotConnected", err)
	}
}
