// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/farview-dev/farview/lib/clock"
)

// Errors returned by the client.
var (
	// ErrTokenRejected means the relay answered authentication with
	// "Invalid token". The token is expired or unknown; reconnecting
	// with it is pointless and the device must be re-registered.
	ErrTokenRejected = errors.New("signal: device token rejected by relay")

	// ErrNotConnected is returned by Send when no relay socket is
	// currently open.
	ErrNotConnected = errors.New("signal: not connected to relay")
)

// Conn is the subset of *websocket.Conn the client uses. Tests
// substitute an in-process implementation.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// DialFunc opens a relay socket. The default implementation dials the
// configured URL with gorilla/websocket.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// ClientConfig configures a relay client.
type ClientConfig struct {
	// URL is the relay WebSocket URL.
	URL string

	// Token is the device session token presented at connect time.
	Token string

	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay time.Duration

	// Clock drives the reconnect delay. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives connection lifecycle messages. Defaults to
	// discard.
	Logger *slog.Logger

	// Handler receives every routed envelope (offers, answers,
	// candidates, connection requests and rejections). Called from
	// the read loop goroutine; implementations must not block.
	Handler func(env Envelope)

	// OnAuthenticated is called with the authenticated device
	// identity each time a session is established. Optional.
	OnAuthenticated func(deviceID string)

	// Dial overrides the socket dialer. Tests use this; production
	// leaves it nil.
	Dial DialFunc
}

// Client maintains a device's relay connection: authenticate, read,
// and reconnect on failure with a fixed delay. Reconnection is
// unconditional while the token is still accepted; an authentication
// rejection is terminal.
type Client struct {
	cfg    ClientConfig
	clock  clock.Clock
	logger *slog.Logger
	dial   DialFunc

	// mu guards conn and deviceID. writeMu serializes WriteJSON
	// calls, which the WebSocket implementation does not allow
	// concurrently.
	mu       sync.Mutex
	writeMu  sync.Mutex
	conn     Conn
	deviceID string
}

// NewClient creates a relay client. Run must be called to connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("signal: relay URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("signal: device token is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("signal: envelope handler is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		dial:   cfg.Dial,
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.dial == nil {
		c.dial = gorillaDial
	}
	return c, nil
}

// Run connects to the relay and blocks until ctx is cancelled or the
// token is rejected. Each dropped connection is retried after the
// configured fixed delay.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runSession(ctx)
		switch {
		case errors.Is(err, ErrTokenRejected):
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}

		c.logger.Info("relay connection lost, reconnecting",
			"delay", c.cfg.ReconnectDelay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(c.cfg.ReconnectDelay):
		}
	}
}

// runSession dials, authenticates, and reads envelopes until the
// socket fails or ctx is cancelled.
func (c *Client) runSession(ctx context.Context) error {
	conn, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		return fmt.Errorf("signal: dialing relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Close the socket when ctx is cancelled so the blocked ReadJSON
	// returns. The watcher is released once the read loop exits.
	cancelWatch := make(chan struct{})
	defer close(cancelWatch)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-cancelWatch:
		}
	}()

	if err := c.write(Envelope{Type: TypeAuthenticate, Token: c.cfg.Token}); err != nil {
		return fmt.Errorf("signal: sending authenticate: %w", err)
	}

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("signal: reading envelope: %w", err)
		}

		switch env.Type {
		case TypeAuthenticated:
			c.mu.Lock()
			c.deviceID = env.DeviceID
			c.mu.Unlock()
			c.logger.Info("authenticated with relay", "device_id", env.DeviceID)
			if c.cfg.OnAuthenticated != nil {
				c.cfg.OnAuthenticated(env.DeviceID)
			}

		case TypeError:
			if env.Message == ErrInvalidTokenMessage {
				return ErrTokenRejected
			}
			c.logger.Warn("relay error envelope", "message", env.Message)

		default:
			c.cfg.Handler(env)
		}
	}
}

// Send writes an envelope to the relay. Returns ErrNotConnected when
// no socket is open; callers treat that as a dropped signal, matching
// the relay's own silent-drop semantics for offline targets.
func (c *Client) Send(env Envelope) error {
	return c.write(env)
}

// DeviceID returns the authenticated device identity for the current
// session, or empty before the first authentication.
func (c *Client) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

func (c *Client) write(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("signal: writing envelope: %w", err)
	}
	return nil
}

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
