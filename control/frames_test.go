// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/farview-dev/farview/lib/clock"
	"github.com/farview-dev/farview/lib/testutil"
)

// notifyingChannel signals each delivered payload so tests can step
// the fake clock tick by tick.
type notifyingChannel struct {
	mu        sync.Mutex
	state     webrtc.DataChannelState
	delivered chan []byte
}

func (c *notifyingChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *notifyingChannel) setState(state webrtc.DataChannelState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *notifyingChannel) Send(payload []byte) error {
	c.delivered <- payload
	return nil
}

type countingSource struct {
	mu    sync.Mutex
	count int
	fail  bool
}

func (s *countingSource) CaptureFrame() ([]byte, int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, 0, 0, errors.New("capture unavailable")
	}
	s.count++
	return []byte(fmt.Sprintf("frame-%d", s.count)), 1920, 1080, nil
}

func (s *countingSource) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func startProducer(t *testing.T, channel Channel, source FrameSource) (*clock.FakeClock, chan error) {
	t.Helper()
	fake := clock.Fake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() {
		done <- RunFrames(ctx, FrameProducerConfig{
			Channel:  channel,
			Source:   source,
			Clock:    fake,
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
			Interval: 100 * time.Millisecond,
		})
	}()
	fake.WaitForTimers(1)
	return fake, done
}

func TestFramesProducedEachTick(t *testing.T) {
	channel := &notifyingChannel{
		state:     webrtc.DataChannelStateOpen,
		delivered: make(chan []byte, 1),
	}
	source := &countingSource{}
	fake, _ := startProducer(t, channel, source)

	for i := 1; i <= 3; i++ {
		fake.Advance(100 * time.Millisecond)
		payload := testutil.RequireReceive(t, channel.delivered, 5*time.Second, "frame %d", i)
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decoding frame %d: %v", i, err)
		}
		if msg.Type != TypeScreenshot {
			t.Errorf("frame %d type = %q, want %q", i, msg.Type, TypeScreenshot)
		}
		if msg.Width != 1920 || msg.Height != 1080 {
			t.Errorf("frame %d dimensions = %dx%d", i, msg.Width, msg.Height)
		}
	}
}

// A tick that cannot capture is skipped; nothing is queued for the
// next tick to make up.
func TestFailedCaptureSkipsTick(t *testing.T) {
	channel := &notifyingChannel{
		state:     webrtc.DataChannelStateOpen,
		delivered: make(chan []byte, 1),
	}
	source := &countingSource{}
	fake, _ := startProducer(t, channel, source)

	source.setFail(true)
	fake.Advance(100 * time.Millisecond)
	testutil.RequireNoReceive(t, channel.delivered, 100*time.Millisecond, "frame from failed capture")

	source.setFail(false)
	fake.Advance(100 * time.Millisecond)
	payload := testutil.RequireReceive(t, channel.delivered, 5*time.Second, "frame after recovery")
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	// Exactly one capture succeeded: the failed tick was skipped, not
	// retried.
	if source.count != 1 {
		t.Errorf("capture count = %d, want 1", source.count)
	}
}

func TestProducerStopsWhenChannelCloses(t *testing.T) {
	channel := &notifyingChannel{
		state:     webrtc.DataChannelStateOpen,
		delivered: make(chan []byte, 1),
	}
	source := &countingSource{}
	fake, done := startProducer(t, channel, source)

	fake.Advance(100 * time.Millisecond)
	testutil.RequireReceive(t, channel.delivered, 5*time.Second, "first frame")

	channel.setState(webrtc.DataChannelStateClosed)
	fake.Advance(100 * time.Millisecond)

	err := testutil.RequireReceive(t, done, 5*time.Second, "producer exit")
	if err != nil {
		t.Errorf("Run returned %v after channel close, want nil", err)
	}
}

func TestProducerStopsOnCancel(t *testing.T) {
	channel := &notifyingChannel{
		state:     webrtc.DataChannelStateOpen,
		delivered: make(chan []byte, 1),
	}
	fake := clock.Fake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- RunFrames(ctx, FrameProducerConfig{
			Channel: channel,
			Source:  &countingSource{},
			Clock:   fake,
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
	}()
	fake.WaitForTimers(1)

	cancel()
	err := testutil.RequireReceive(t, done, 5*time.Second, "producer exit")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}
