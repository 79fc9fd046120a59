// Copyright 2026 The Farview Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
)

const (
	patternWidth  = 640
	patternHeight = 360
)

// patternSource is a synthetic frame source for headless operation: a
// gradient with a sweeping bar so successive frames are visibly
// distinct. Real screen capture is platform-owned and plugs in behind
// the same interface.
type patternSource struct {
	frame atomic.Uint64
}

func (s *patternSource) CaptureFrame() ([]byte, int, int, error) {
	n := s.frame.Add(1)

	img := image.NewRGBA(image.Rect(0, 0, patternWidth, patternHeight))
	barX := int(n*8) % patternWidth
	for y := 0; y < patternHeight; y++ {
		for x := 0; x < patternWidth; x++ {
			pixel := color.RGBA{
				R: uint8(x * 255 / patternWidth),
				G: uint8(y * 255 / patternHeight),
				B: 0x40,
				A: 0xff,
			}
			if x >= barX && x < barX+16 {
				pixel = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			}
			img.Set(x, y, pixel)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), patternWidth, patternHeight, nil
}
