package frame

import (
	"bufio"
	"fmt"
	"io"

	"github.com/openfilter/openfilter/xerr"
)

type PixelFormat string

const (
	FormatBGR  PixelFormat = "BGR"
	FormatRGB  PixelFormat = "RGB"
	FormatGray PixelFormat = "GRAY"
)

func (f PixelFormat) Channels() int {
	switch f {
	case FormatGray:
		return 1
	default:
		return 3
	}
}

// Image is a 2D pixel grid: shape {H, W, C}, 8-bit-unsigned element type,
// contiguous row-major bytes (spec §3).
type Image struct {
	H, W, C int
	Format  PixelFormat
	Bytes   []byte
}

func (img *Image) Validate() error {
	if img == nil {
		return nil
	}
	want := img.H * img.W * img.C
	if want != len(img.Bytes) {
		return xerr.Frame("shape-mismatch", nil,
			"image shape %dx%dx%d implies %d bytes, got %d", img.H, img.W, img.C, want, len(img.Bytes))
	}
	if img.C != 1 && img.C != 3 {
		return xerr.Frame("shape-mismatch", nil, "unsupported channel count %d", img.C)
	}
	return nil
}

// Clone deep-copies the pixel buffer, used by the copy-on-write wrapper
// the instant a filter asks to mutate an otherwise-shared frame.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	cp := &Image{H: img.H, W: img.W, C: img.C, Format: img.Format}
	cp.Bytes = make([]byte, len(img.Bytes))
	copy(cp.Bytes, img.Bytes)
	return cp
}

// Frame is the atom of dataflow (spec §3): an optional image plus ordered
// metadata. owned indicates whether this Frame instance holds the only
// reference to Image.Bytes - false for frames just received off the wire
// (shared with the decode buffer) until Mutable() is called.
type Frame struct {
	Image *Image
	Meta  *Meta
	owned bool
}

func New(img *Image, meta *Meta) *Frame {
	if meta == nil {
		meta = NewMeta()
	}
	return &Frame{Image: img, Meta: meta, owned: true}
}

// Mutable returns a Frame safe to modify in place: if this Frame does not
// already own its image buffer (e.g. it was just decoded off the wire and
// handed to several downstream outputs), the image is cloned first: the
// copy-on-write wrapper spec §4.2 requires so that "untouched frames are
// forwarded without image copying."
func (f *Frame) Mutable() *Frame {
	if f.owned {
		return f
	}
	return &Frame{Image: f.Image.Clone(), Meta: f.Meta.Clone(), owned: true}
}

func (f *Frame) Validate() error {
	if f.Image != nil {
		return f.Image.Validate()
	}
	return nil
}

func (f *Frame) RuntimeFields() (RuntimeFields, bool) { return f.Meta.Runtime() }

// header is the wire-format JSON document (spec §4.2, part 1).
type header struct {
	V     int          `json:"v"`
	Topic string       `json:"topic"`
	ID    int64        `json:"id"`
	TS    int64        `json:"ts"`
	Src   string       `json:"src"`
	Img   *imgHeader   `json:"img"`
	Meta  *Meta        `json:"meta"`
}

type imgHeader struct {
	H int         `json:"h"`
	W int         `json:"w"`
	C int         `json:"c"`
	Fmt PixelFormat `json:"fmt"`
}

const wireVersion = 1

// MaxHeaderBytes is the default spec §4.2 cap; callers needing a different
// limit (per Config.Transport.MaxHeaderBytes) pass it explicitly to Decode.
const MaxHeaderBytes = 1 << 20

// Encode writes a frame as the two-part wire message: a UTF-8 JSON header
// (length-prefixed so Decode knows where it ends) followed by the raw,
// contiguous image bytes (omitted entirely when there is no image).
func Encode(w io.Writer, f *Frame) error {
	rt, _ := f.RuntimeFields()
	hdr := header{
		V:     wireVersion,
		Topic: rt.Topic,
		ID:    rt.ID,
		TS:    rt.TS,
		Src:   rt.Src,
		Meta:  f.Meta,
	}
	if f.Image != nil {
		hdr.Img = &imgHeader{H: f.Image.H, W: f.Image.W, C: f.Image.C, Fmt: f.Image.Format}
	}
	hb, err := json.Marshal(&hdr)
	if err != nil {
		return xerr.Frame("encode", err, "marshal header")
	}
	if len(hb) > MaxHeaderBytes {
		return xerr.Frame("header-too-large", nil, "header is %d bytes, max %d", len(hb), MaxHeaderBytes)
	}
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d\n", len(hb)); err != nil {
		return xerr.Frame("encode", err, "write header length")
	}
	if _, err := bw.Write(hb); err != nil {
		return xerr.Frame("encode", err, "write header")
	}
	if f.Image != nil {
		if _, err := bw.Write(f.Image.Bytes); err != nil {
			return xerr.Frame("encode", err, "write image bytes")
		}
	}
	return bw.Flush()
}

// Decode reads one frame. The returned Frame is NOT owned (owned=false):
// its image bytes alias the decode buffer until a caller calls Mutable().
func Decode(r io.Reader, maxHeaderBytes int) (*Frame, error) {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = MaxHeaderBytes
	}
	br := bufio.NewReader(r)
	var hlen int
	if _, err := fmt.Fscanf(br, "%d\n", &hlen); err != nil {
		return nil, xerr.Frame("wire-decode", err, "read header length prefix")
	}
	if hlen > maxHeaderBytes {
		return nil, xerr.Frame("header-too-large", nil, "header is %d bytes, max %d", hlen, maxHeaderBytes)
	}
	hb := make([]byte, hlen)
	if _, err := io.ReadFull(br, hb); err != nil {
		return nil, xerr.Frame("wire-decode", err, "read header")
	}
	var hdr header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return nil, xerr.Frame("wire-decode", err, "unmarshal header")
	}

	f := &Frame{Meta: hdr.Meta, owned: false}
	if f.Meta == nil {
		f.Meta = NewMeta()
	}
	f.Meta.SetRuntime(RuntimeFields{ID: hdr.ID, TS: hdr.TS, Src: hdr.Src, Topic: hdr.Topic})

	if hdr.Img != nil {
		n := hdr.Img.H * hdr.Img.W * hdr.Img.C
		buf := make([]byte, n)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, xerr.Frame("wire-decode", err, "read image bytes")
		}
		f.Image = &Image{H: hdr.Img.H, W: hdr.Img.W, C: hdr.Img.C, Format: hdr.Img.Fmt, Bytes: buf}
		if err := f.Image.Validate(); err != nil {
			return nil, err
		}
	}
	return f, nil
}
