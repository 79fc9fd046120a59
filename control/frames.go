// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/farview-dev/farview/lib/clock"
)

// DefaultFrameInterval is the frame cadence when none is configured.
const DefaultFrameInterval = 100 * time.Millisecond

// FrameSource captures one encoded frame of the local screen. The
// capture mechanism is platform-owned; the producer only schedules it.
type FrameSource interface {
	CaptureFrame() (data []byte, width, height int, err error)
}

// FrameProducerConfig carries a FrameProducer's dependencies.
type FrameProducerConfig struct {
	Channel  Channel
	Source   FrameSource
	Clock    clock.Clock
	Logger   *slog.Logger
	Interval time.Duration // zero means DefaultFrameInterval
}

// FrameProducer pushes frames to the viewer on a fixed cadence. One
// producer is tied to one session's control channel: it starts when
// the channel opens and its Run returns the moment the channel or the
// context ends, so no timer outlives its session.
type FrameProducer struct {
	cfg FrameProducerConfig
}

// NewFrameProducer returns a producer for one control channel.
func NewFrameProducer(cfg FrameProducerConfig) *FrameProducer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFrameInterval
	}
	return &FrameProducer{cfg: cfg}
}

// Run produces frames until ctx is cancelled or the channel leaves the
// open state. Each tick captures and sends exactly one frame; a tick
// that cannot send is skipped, never queued, so a stalled channel
// costs staleness rather than memory.
func (p *FrameProducer) Run(ctx context.Context) error {
	ticker := p.cfg.Clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		switch p.cfg.Channel.ReadyState() {
		case webrtc.DataChannelStateOpen:
		case webrtc.DataChannelStateConnecting:
			continue
		default:
			// Closing or closed: the session is over.
			p.cfg.Logger.Debug("control channel closed, stopping frames")
			return nil
		}

		data, width, height, err := p.cfg.Source.CaptureFrame()
		if err != nil {
			p.cfg.Logger.Warn("frame capture failed", "error", err)
			continue
		}
		err = SendMessage(p.cfg.Channel, Message{
			Type:   TypeScreenshot,
			Data:   base64.StdEncoding.EncodeToString(data),
			Width:  width,
			Height: height,
		})
		if err != nil {
			p.cfg.Logger.Warn("frame send failed", "error", err)
		}
	}
}

// RunFrames is a convenience for session wiring: it builds a producer
// for the channel and blocks in Run.
func RunFrames(ctx context.Context, cfg FrameProducerConfig) error {
	if cfg.Channel == nil {
		return fmt.Errorf("control: frame producer needs a channel")
	}
	return NewFrameProducer(cfg).Run(ctx)
}
