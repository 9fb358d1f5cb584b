package imgutil

import (
	"image"
	"image/color"

	"github.com/openfilter/openfilter/frame"
)

// adapter presents a frame.Image as a standard image.Image so
// golang.org/x/image/draw's scalers can read it without a full pixel
// copy into an intermediate format first.
type adapter struct {
	img *frame.Image
}

func (a *adapter) ColorModel() color.Model {
	if a.img.C == 1 {
		return color.GrayModel
	}
	return color.RGBAModel
}

func (a *adapter) Bounds() image.Rectangle { return image.Rect(0, 0, a.img.W, a.img.H) }

func (a *adapter) At(x, y int) color.Color {
	off := (y*a.img.W + x) * a.img.C
	b := a.img.Bytes
	switch a.img.C {
	case 1:
		return color.Gray{Y: b[off]}
	default:
		if a.img.Format == frame.FormatBGR {
			return color.RGBA{R: b[off+2], G: b[off+1], B: b[off], A: 255}
		}
		return color.RGBA{R: b[off], G: b[off+1], B: b[off+2], A: 255}
	}
}

// rgbaToImage converts a decoded image.RGBA back into a frame.Image with
// the given target format, the inverse of adapter.At's channel mapping.
func rgbaToImage(rgba *image.RGBA, format frame.PixelFormat) *frame.Image {
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	c := format.Channels()
	out := &frame.Image{H: h, W: w, C: c, Format: format, Bytes: make([]byte, h*w*c)}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			srcOff := rgba.PixOffset(x, y)
			r, g, b := rgba.Pix[srcOff], rgba.Pix[srcOff+1], rgba.Pix[srcOff+2]
			dstOff := (y*w + x) * c
			switch format {
			case frame.FormatGray:
				out.Bytes[dstOff] = luminance(r, g, b)
			case frame.FormatBGR:
				out.Bytes[dstOff], out.Bytes[dstOff+1], out.Bytes[dstOff+2] = b, g, r
			default: // RGB
				out.Bytes[dstOff], out.Bytes[dstOff+1], out.Bytes[dstOff+2] = r, g, b
			}
		}
	}
	return out
}

func luminance(r, g, b byte) byte {
	return byte((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

// ConvertFormat swaps BGR<->RGB channel order or converts to grayscale via
// standard luminance weights (spec §4.9).
func ConvertFormat(to frame.PixelFormat, pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		if img.Format == to {
			return img
		}
		rgba := toRGBA(img)
		return rgbaToImage(rgba, to)
	})
}

// toRGBA materializes an adapter into a concrete image.RGBA, the shape
// golang.org/x/image/draw's scalers require as a destination and that is
// also convenient as a format-conversion intermediate.
func toRGBA(img *frame.Image) *image.RGBA {
	a := &adapter{img: img}
	b := a.Bounds()
	rgba := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, a.At(x, y))
		}
	}
	return rgba
}
