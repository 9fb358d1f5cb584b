package imgutil

import (
	"fmt"

	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/xerr"
)

const boxThickness = 2

// ParseHexColor parses "#rrggbb" into RGB bytes (spec §4.9's draw_box
// color argument).
func ParseHexColor(s string) (r, g, b byte, err error) {
	if len(s) != 7 || s[0] != '#' {
		return 0, 0, 0, xerr.Config("color", fmt.Sprintf("not a #rrggbb color: %q", s))
	}
	var v uint32
	if _, scanErr := fmt.Sscanf(s[1:], "%06x", &v); scanErr != nil {
		return 0, 0, 0, xerr.Config("color", fmt.Sprintf("not a #rrggbb color: %q", s))
	}
	return byte(v >> 16), byte(v >> 8), byte(v), nil
}

// DrawBox draws a solid-color rectangle outline at relative coordinates
// x, y, w, h (each 0..1 of the frame's width/height), the bounding-box
// overlay shape spec §4.9 names draw_box.
func DrawBox(x, y, w, h float64, hexColor string, pred Predicate) Step {
	r, g, b, err := ParseHexColor(hexColor)
	if err != nil {
		return func(*frame.Frame) (*frame.Frame, error) { return nil, err }
	}
	return gated(pred, func(img *frame.Image) *frame.Image {
		drawBoxOn(img, x, y, w, h, r, g, b)
		return img
	})
}

func drawBoxOn(img *frame.Image, rx, ry, rw, rh float64, r, g, b byte) {
	x0 := clampInt(int(rx*float64(img.W)), 0, img.W-1)
	y0 := clampInt(int(ry*float64(img.H)), 0, img.H-1)
	x1 := clampInt(int((rx+rw)*float64(img.W)), 0, img.W-1)
	y1 := clampInt(int((ry+rh)*float64(img.H)), 0, img.H-1)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			onBorder := x < x0+boxThickness || x > x1-boxThickness || y < y0+boxThickness || y > y1-boxThickness
			if onBorder {
				setPixel(img, x, y, r, g, b)
			}
		}
	}
}

func setPixel(img *frame.Image, x, y int, r, g, b byte) {
	off := (y*img.W + x) * img.C
	switch img.C {
	case 1:
		img.Bytes[off] = luminance(r, g, b)
	default:
		if img.Format == frame.FormatBGR {
			img.Bytes[off], img.Bytes[off+1], img.Bytes[off+2] = b, g, r
		} else {
			img.Bytes[off], img.Bytes[off+1], img.Bytes[off+2] = r, g, b
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
