// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/farview-dev/farview/control"
	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/lib/config"
	"github.com/farview-dev/farview/session"
	"github.com/farview-dev/farview/signal"
)

// agent ties the relay client, the session manager, and the control
// protocol together for one device.
type agent struct {
	cfg       *config.Agent
	logger    *slog.Logger
	clk       clock.Clock
	connectTo string

	client  *signal.Client
	manager *session.Manager

	// ctx is the agent's run context; frame producers inherit it so
	// they die with the process as well as with their session.
	ctx context.Context

	mu           sync.Mutex
	requested    bool
	frameCancels map[string]context.CancelFunc
}

func newAgent(cfg *config.Agent, creds credentials, connectTo string, clk clock.Clock, logger *slog.Logger) (*agent, error) {
	a := &agent{
		cfg:          cfg,
		logger:       logger,
		clk:          clk,
		connectTo:    connectTo,
		frameCancels: make(map[string]context.CancelFunc),
	}

	a.manager = session.NewManager(session.Config{
		Sender:           senderFunc(func(env signal.Envelope) error { return a.client.Send(env) }),
		Logger:           logger,
		LocalName:        cfg.DeviceName,
		ICEServers:       cfg.ICEServers,
		Approve:          a.approve,
		OnControlChannel: a.onControlChannel,
		OnSessionClosed:  a.onSessionClosed,
	})

	client, err := signal.NewClient(signal.ClientConfig{
		URL:             cfg.SocketURL,
		Token:           creds.DeviceToken,
		ReconnectDelay:  cfg.ReconnectDelay.Std(),
		Clock:           clk,
		Logger:          logger,
		Handler:         a.manager.HandleEnvelope,
		OnAuthenticated: a.onAuthenticated,
	})
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

// senderFunc adapts a closure to session.Sender; the client does not
// exist yet when the manager is built.
type senderFunc func(signal.Envelope) error

func (f senderFunc) Send(env signal.Envelope) error { return f(env) }

// run blocks on the relay client until ctx ends or the device token is
// rejected, then tears down all sessions.
func (a *agent) run(ctx context.Context) error {
	a.ctx = ctx
	defer a.manager.Close()
	return a.client.Run(ctx)
}

func (a *agent) onAuthenticated(deviceID string) {
	a.logger.Info("agent online", "device_id", deviceID)
	if a.connectTo == "" {
		return
	}
	a.mu.Lock()
	already := a.requested
	a.requested = true
	a.mu.Unlock()
	if already {
		return
	}
	if err := a.manager.RequestConnection(a.connectTo); err != nil {
		a.logger.Error("requesting connection", "remote_device_id", a.connectTo, "error", err)
	}
}

// approve is the headless accept policy. An interactive shell would
// prompt here instead.
func (a *agent) approve(fromDeviceID, fromName string) bool {
	if a.cfg.AutoAccept {
		a.logger.Info("accepting connection request", "from_device_id", fromDeviceID, "from_name", fromName)
		return true
	}
	a.logger.Info("declining connection request (auto_accept disabled)",
		"from_device_id", fromDeviceID, "from_name", fromName)
	return false
}

// onControlChannel wires the control protocol to a freshly opened
// channel: the host starts serving frames and accepting input, the
// viewer starts consuming frames.
func (a *agent) onControlChannel(remoteID string, channel *webrtc.DataChannel) {
	s, ok := a.manager.Session(remoteID)
	if !ok {
		return
	}

	switch s.Role() {
	case session.RoleHost:
		dispatcher := &control.Dispatcher{
			Input:  &loggingInput{logger: a.logger.With("remote_device_id", remoteID)},
			Logger: a.logger,
		}
		channel.OnMessage(func(msg webrtc.DataChannelMessage) {
			dispatcher.Handle(msg.Data)
		})
		a.startFrames(remoteID, channel)

	case session.RoleViewer:
		dispatcher := &control.Dispatcher{
			OnFrame: func(frame control.Frame) {
				a.logger.Debug("frame received", "remote_device_id", remoteID,
					"width", frame.Width, "height", frame.Height, "bytes", len(frame.Data))
			},
			Logger: a.logger,
		}
		channel.OnMessage(func(msg webrtc.DataChannelMessage) {
			dispatcher.Handle(msg.Data)
		})
	}
}

// startFrames runs a frame producer for one session, cancellable on
// teardown so no timer outlives its session.
func (a *agent) startFrames(remoteID string, channel *webrtc.DataChannel) {
	ctx, cancel := context.WithCancel(a.ctx)
	a.mu.Lock()
	if prior, ok := a.frameCancels[remoteID]; ok {
		prior()
	}
	a.frameCancels[remoteID] = cancel
	a.mu.Unlock()

	go func() {
		err := control.RunFrames(ctx, control.FrameProducerConfig{
			Channel:  channel,
			Source:   &patternSource{},
			Clock:    a.clk,
			Logger:   a.logger,
			Interval: a.cfg.FrameInterval.Std(),
		})
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("frame producer stopped", "remote_device_id", remoteID, "error", err)
		}
	}()
}

func (a *agent) onSessionClosed(remoteID string, reason error) {
	a.mu.Lock()
	if cancel, ok := a.frameCancels[remoteID]; ok {
		cancel()
		delete(a.frameCancels, remoteID)
	}
	a.mu.Unlock()
	a.logger.Info("session ended", "remote_device_id", remoteID, "reason", reason)
}

// loggingInput stands in for the platform injection layer, which is
// not part of the agent daemon. It records what would be injected.
type loggingInput struct {
	logger *slog.Logger
}

func (l *loggingInput) PointerMove(x, y int) {
	l.logger.Debug("pointer move", "x", x, "y", y)
}

func (l *loggingInput) PointerButton(action, button string) {
	l.logger.Info("pointer button", "action", action, "button", button)
}

func (l *loggingInput) Scroll(deltaX, deltaY float64) {
	l.logger.Debug("scroll", "delta_x", deltaX, "delta_y", deltaY)
}

func (l *loggingInput) KeyPress(key string, modifiers []string) {
	l.logger.Info("key press", "key", key, "modifiers", modifiers)
}
