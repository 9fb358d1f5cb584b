package imgutil

import (
	"image"

	ximgdraw "golang.org/x/image/draw"

	"github.com/openfilter/openfilter/frame"
)

// Scaler names a resampling algorithm (spec §4.9's resize modes).
type Scaler string

const (
	ScalerNearest  Scaler = "nearest"
	ScalerBilinear Scaler = "bilinear"
	ScalerCubic    Scaler = "cubic"
)

func (s Scaler) interpolator() ximgdraw.Interpolator {
	switch s {
	case ScalerNearest:
		return ximgdraw.NearestNeighbor
	case ScalerCubic:
		return ximgdraw.CatmullRom
	default:
		return ximgdraw.ApproxBiLinear
	}
}

// FitMode names a resize aspect-handling mode (spec §4.9: resize w×h
// [mode], modes "stretch"/"contain").
type FitMode string

const (
	FitStretch FitMode = "stretch"
	FitContain FitMode = "contain"
)

// Resize scales an image to w×h using the given scaler/fit mode (spec
// §4.9), via golang.org/x/image/draw's bilinear/cubic resamplers.
func Resize(w, h int, mode FitMode, scaler Scaler, pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		return resizeTo(img, w, h, mode, scaler)
	})
}

// MaxSize scales down to fit within w×h, leaving smaller images untouched
// (spec §4.9).
func MaxSize(w, h int, scaler Scaler, pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		if img.W <= w && img.H <= h {
			return img
		}
		return resizeTo(img, w, h, FitContain, scaler)
	})
}

// MinSize scales up to cover w×h, leaving larger images untouched (spec
// §4.9).
func MinSize(w, h int, scaler Scaler, pred Predicate) Step {
	return gated(pred, func(img *frame.Image) *frame.Image {
		if img.W <= 0 || img.H <= 0 || (img.W >= w && img.H >= h) {
			return img
		}
		scale := float64(w) / float64(img.W)
		if sh := float64(h) / float64(img.H); sh > scale {
			scale = sh
		}
		tw := maxInt(1, int(float64(img.W)*scale+0.5))
		th := maxInt(1, int(float64(img.H)*scale+0.5))
		return resizeTo(img, tw, th, FitStretch, scaler)
	})
}

func resizeTo(img *frame.Image, w, h int, mode FitMode, scaler Scaler) *frame.Image {
	tw, th := w, h
	if mode == FitContain && img.W > 0 && img.H > 0 {
		scale := minFloat(float64(w)/float64(img.W), float64(h)/float64(img.H))
		tw = maxInt(1, int(float64(img.W)*scale))
		th = maxInt(1, int(float64(img.H)*scale))
	}
	src := toRGBA(img)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	scaler.interpolator().Scale(dst, dst.Bounds(), src, src.Bounds(), ximgdraw.Over, nil)
	return rgbaToImage(dst, img.Format)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
