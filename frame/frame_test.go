package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	meta := NewMeta()
	meta.Set("confidence", 0.87)
	meta.Set("plates", []any{"ABC123"})
	meta.SetRuntime(RuntimeFields{ID: 3, TS: 1733200000000000000, Src: "Detector[a3f0]", Topic: "main"})

	img := &Image{H: 2, W: 2, C: 3, Format: FormatBGR, Bytes: []byte{
		0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00,
		0xFF, 0x00, 0x00, 0xFF, 0xFF, 0xFF,
	}}
	f := New(img, meta)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, f))

	got, err := Decode(&buf, 0)
	require.NoError(t, err)

	require.Equal(t, img.Bytes, got.Image.Bytes)
	require.Equal(t, img.H, got.Image.H)
	require.Equal(t, img.W, got.Image.W)
	require.Equal(t, img.C, got.Image.C)

	rt, ok := got.RuntimeFields()
	require.True(t, ok)
	require.Equal(t, int64(3), rt.ID)
	require.Equal(t, "main", rt.Topic)

	conf, ok := got.Meta.Get("confidence")
	require.True(t, ok)
	require.InDelta(t, 0.87, conf.(float64), 1e-9)
}

func TestImageValidateRejectsShapeMismatch(t *testing.T) {
	img := &Image{H: 2, W: 2, C: 3, Format: FormatBGR, Bytes: make([]byte, 11)} // short by 1 byte
	err := img.Validate()
	require.Error(t, err)
}

func TestHeaderTooLarge(t *testing.T) {
	meta := NewMeta()
	big := make([]byte, MaxHeaderBytes+1)
	meta.Set("blob", string(big))
	f := New(nil, meta)

	var buf bytes.Buffer
	err := Encode(&buf, f)
	require.Error(t, err)
}

func TestMutableCopyOnWrite(t *testing.T) {
	img := &Image{H: 1, W: 1, C: 3, Format: FormatBGR, Bytes: []byte{1, 2, 3}}
	shared := &Frame{Image: img, Meta: NewMeta(), owned: false}

	mut := shared.Mutable()
	mut.Image.Bytes[0] = 99

	require.Equal(t, byte(1), img.Bytes[0], "original must be untouched")
	require.Equal(t, byte(99), mut.Image.Bytes[0])

	alreadyOwned := &Frame{Image: img.Clone(), Meta: NewMeta(), owned: true}
	require.True(t, alreadyOwned.Mutable() == alreadyOwned, "owned frame returned as-is")
}
