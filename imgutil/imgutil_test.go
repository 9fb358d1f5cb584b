package imgutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfilter/openfilter/frame"
)

// a 2x2 RGB image: TL=red, TR=green, BL=blue, BR=white.
func testImage() *frame.Image {
	return &frame.Image{
		H: 2, W: 2, C: 3, Format: frame.FormatRGB,
		Bytes: []byte{
			255, 0, 0, 0, 255, 0,
			0, 0, 255, 255, 255, 255,
		},
	}
}

func testFrame() *frame.Frame {
	meta := frame.NewMeta()
	meta.SetRuntime(frame.RuntimeFields{Topic: "main"})
	return frame.New(testImage(), meta)
}

func TestFlipXReversesColumns(t *testing.T) {
	fr := testFrame()
	out, err := FlipX(nil)(fr)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 255, 0, 255, 0, 0, 255, 255, 255, 0, 0, 255}, out.Image.Bytes)
}

func TestFlipYReversesRows(t *testing.T) {
	fr := testFrame()
	out, err := FlipY(nil)(fr)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 255, 255, 255, 255, 255, 0, 0, 0, 255, 0}, out.Image.Bytes)
}

func TestFlipBothIs180Rotation(t *testing.T) {
	fr := testFrame()
	out, err := FlipBoth(nil)(fr)
	require.NoError(t, err)
	require.Equal(t, []byte{255, 255, 255, 0, 0, 255, 0, 255, 0, 255, 0, 0}, out.Image.Bytes)
}

func TestRotCWSwapsDimensions(t *testing.T) {
	fr := testFrame()
	out, err := RotCW(nil)(fr)
	require.NoError(t, err)
	require.Equal(t, 2, out.Image.H)
	require.Equal(t, 2, out.Image.W)
}

// Applying flip_x twice is identity.
func TestFlipXTwiceIsIdentity(t *testing.T) {
	fr := testFrame()
	out, err := FlipX(nil)(fr)
	require.NoError(t, err)
	out, err = FlipX(nil)(out)
	require.NoError(t, err)
	require.Equal(t, testImage().Bytes, out.Image.Bytes)
}

// Applying rot_cw four times is identity.
func TestRotCWFourTimesIsIdentity(t *testing.T) {
	fr := testFrame()
	out, err := fr, error(nil)
	for i := 0; i < 4; i++ {
		out, err = RotCW(nil)(out)
		require.NoError(t, err)
	}
	require.Equal(t, testImage().H, out.Image.H)
	require.Equal(t, testImage().W, out.Image.W)
	require.Equal(t, testImage().Bytes, out.Image.Bytes)
}

func TestRotCWThenCCWRoundTrips(t *testing.T) {
	fr := testFrame()
	out, err := RotCW(nil)(fr)
	require.NoError(t, err)
	out, err = RotCCW(nil)(out)
	require.NoError(t, err)
	require.Equal(t, testImage().Bytes, out.Image.Bytes)
}

func TestPredicateSkipsExcludedTopics(t *testing.T) {
	fr := testFrame()
	original := append([]byte(nil), fr.Image.Bytes...)
	out, err := FlipX(func(topic string) bool { return topic == "other" })(fr)
	require.NoError(t, err)
	require.Equal(t, original, out.Image.Bytes)
}

func TestConvertFormatToGrayscale(t *testing.T) {
	fr := testFrame()
	out, err := ConvertFormat(frame.FormatGray, nil)(fr)
	require.NoError(t, err)
	require.Equal(t, 1, out.Image.C)
	require.Len(t, out.Image.Bytes, 4)
}

func TestConvertFormatBGRRoundTrip(t *testing.T) {
	fr := testFrame()
	out, err := ConvertFormat(frame.FormatBGR, nil)(fr)
	require.NoError(t, err)
	out, err = ConvertFormat(frame.FormatRGB, nil)(out)
	require.NoError(t, err)
	require.Equal(t, testImage().Bytes, out.Image.Bytes)
}

func TestResizeChangesDimensions(t *testing.T) {
	fr := testFrame()
	out, err := Resize(4, 4, FitStretch, ScalerNearest, nil)(fr)
	require.NoError(t, err)
	require.Equal(t, 4, out.Image.W)
	require.Equal(t, 4, out.Image.H)
	require.Len(t, out.Image.Bytes, 4*4*3)
}

// resize(w,h) composed with itself at the same size is idempotent.
func TestResizeIsIdempotentAtSameSize(t *testing.T) {
	fr := testFrame()
	once, err := Resize(5, 3, FitStretch, ScalerNearest, nil)(fr)
	require.NoError(t, err)
	twice, err := Resize(5, 3, FitStretch, ScalerNearest, nil)(once)
	require.NoError(t, err)
	require.Equal(t, once.Image.W, twice.Image.W)
	require.Equal(t, once.Image.H, twice.Image.H)
	require.Equal(t, once.Image.Bytes, twice.Image.Bytes)
}

func TestMaxSizeLeavesSmallerImageUntouched(t *testing.T) {
	fr := testFrame()
	out, err := MaxSize(100, 100, ScalerNearest, nil)(fr)
	require.NoError(t, err)
	require.Equal(t, 2, out.Image.W)
	require.Equal(t, 2, out.Image.H)
}

func TestMinSizeScalesUpSmallerImage(t *testing.T) {
	fr := testFrame()
	out, err := MinSize(10, 10, ScalerNearest, nil)(fr)
	require.NoError(t, err)
	require.GreaterOrEqual(t, out.Image.W, 10)
	require.GreaterOrEqual(t, out.Image.H, 10)
}

func TestDrawBoxPaintsBorderPixels(t *testing.T) {
	img := &frame.Image{H: 10, W: 10, C: 3, Format: frame.FormatRGB, Bytes: make([]byte, 300)}
	fr := frame.New(img, nil)
	out, err := DrawBox(0.1, 0.1, 0.5, 0.5, "#ff0000", nil)(fr)
	require.NoError(t, err)
	off := (1*10 + 1) * 3
	require.Equal(t, byte(255), out.Image.Bytes[off])
}

func TestParseHexColor(t *testing.T) {
	r, g, b, err := ParseHexColor("#00ff80")
	require.NoError(t, err)
	require.Equal(t, byte(0), r)
	require.Equal(t, byte(255), g)
	require.Equal(t, byte(0x80), b)

	_, _, _, err = ParseHexColor("bogus")
	require.Error(t, err)
}
