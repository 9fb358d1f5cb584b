// Package imgutil implements OpenFilter's utility framing helpers (spec
// §4.9): pure functions over frame.Image (flip, rotate, resize, format
// conversion, box drawing), each gated by an optional per-topic predicate
// and composable via Pipeline. Grounded on frame.Frame's copy-on-write
// Mutable() contract (spec §4.2): every transform clones the image only
// once, the first time it is touched, and never mutates a frame a
// predicate excluded.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package imgutil

import (
	"github.com/openfilter/openfilter/frame"
)

// Predicate selects which topics a Step applies to; nil means "all topics".
type Predicate func(topic string) bool

// Step is one framing transform in a Pipeline.
type Step func(fr *frame.Frame) (*frame.Frame, error)

// Pipeline runs a fixed sequence of Steps over a frame in order.
type Pipeline struct {
	steps []Step
}

func NewPipeline(steps ...Step) *Pipeline { return &Pipeline{steps: steps} }

func (p *Pipeline) Apply(fr *frame.Frame) (*frame.Frame, error) {
	for _, step := range p.steps {
		var err error
		fr, err = step(fr)
		if err != nil {
			return nil, err
		}
	}
	return fr, nil
}

// gated wraps a pure *frame.Image -> *frame.Image transform as a Step,
// skipping frames with no image or whose topic the predicate excludes,
// and invoking Mutable() so untouched frames are never copied (spec
// §4.2's forwarding-without-copy requirement extends to imgutil's
// predicate-gated transforms).
func gated(pred Predicate, fn func(*frame.Image) *frame.Image) Step {
	return func(fr *frame.Frame) (*frame.Frame, error) {
		if fr.Image == nil {
			return fr, nil
		}
		if pred != nil {
			rt, _ := fr.RuntimeFields()
			if !pred(rt.Topic) {
				return fr, nil
			}
		}
		mut := fr.Mutable()
		mut.Image = fn(mut.Image)
		return mut, nil
	}
}

func rowLen(img *frame.Image) int { return img.W * img.C }

// FlipX reverses each row's column order (spec §4.9).
func FlipX(pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		out := make([]byte, len(img.Bytes))
		rl := rowLen(img)
		for y := 0; y < img.H; y++ {
			src := img.Bytes[y*rl : (y+1)*rl]
			dst := out[y*rl : (y+1)*rl]
			for x := 0; x < img.W; x++ {
				copy(dst[x*img.C:(x+1)*img.C], src[(img.W-1-x)*img.C:(img.W-x)*img.C])
			}
		}
		img.Bytes = out
		return img
	})
}

// FlipY reverses row order (spec §4.9).
func FlipY(pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		out := make([]byte, len(img.Bytes))
		rl := rowLen(img)
		for y := 0; y < img.H; y++ {
			copy(out[y*rl:(y+1)*rl], img.Bytes[(img.H-1-y)*rl:(img.H-y)*rl])
		}
		img.Bytes = out
		return img
	})
}

// FlipBoth is a 180-degree rotation: flip columns and rows together
// (spec §4.9), done in one pass rather than composing FlipX then FlipY.
func FlipBoth(pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		out := make([]byte, len(img.Bytes))
		n := len(img.Bytes)
		for i := 0; i+img.C <= n; i += img.C {
			copy(out[n-i-img.C:n-i], img.Bytes[i:i+img.C])
		}
		img.Bytes = out
		return img
	})
}

// RotCW rotates 90 degrees clockwise: output dimensions swap (spec §4.9).
func RotCW(pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		out := make([]byte, len(img.Bytes))
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				srcOff := (y*img.W + x) * img.C
				// (x, y) in source lands at (H-1-y, x) in the rotated W'=H,H'=W image.
				dstX, dstY := img.H-1-y, x
				dstOff := (dstY*img.H + dstX) * img.C
				copy(out[dstOff:dstOff+img.C], img.Bytes[srcOff:srcOff+img.C])
			}
		}
		img.H, img.W = img.W, img.H
		img.Bytes = out
		return img
	})
}

// RotCCW rotates 90 degrees counter-clockwise (spec §4.9).
func RotCCW(pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		out := make([]byte, len(img.Bytes))
		for y := 0; y < img.H; y++ {
			for x := 0; x < img.W; x++ {
				srcOff := (y*img.W + x) * img.C
				dstX, dstY := y, img.W-1-x
				dstOff := (dstY*img.H + dstX) * img.C
				copy(out[dstOff:dstOff+img.C], img.Bytes[srcOff:srcOff+img.C])
			}
		}
		img.H, img.W = img.W, img.H
		img.Bytes = out
		return img
	})
}
