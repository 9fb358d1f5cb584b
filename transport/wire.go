package transport

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v3"

	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/xerr"
)

// Every message on the wire starts with a one-byte tag so a single TCP
// connection can multiplex control traffic (hello/subscribe/ping/pong/eos)
// and data frames without a second socket. This replaces aistore's
// PDU-vs-object-stream split (pdu.go) with a simpler scheme suited to a
// single long-lived consumer connection rather than an HTTP PUT body.
const (
	tagControl byte = 'C'
	tagFrame   byte = 'F'
)

type ctrlKind string

const (
	ctrlHello     ctrlKind = "hello"
	ctrlSubscribe ctrlKind = "subscribe"
	ctrlPing      ctrlKind = "ping"
	ctrlPong      ctrlKind = "pong"
	ctrlEOS       ctrlKind = "eos"
)

// ctrlMsg is the union of every handshake/heartbeat message shape (spec
// §4.3): hello, subscribe, ping, pong, eos.
type ctrlMsg struct {
	Kind       ctrlKind `json:"kind"`
	ProducerID string   `json:"producer_id,omitempty"`
	RunID      string   `json:"run_id,omitempty"`
	Topics     []string `json:"topics,omitempty"`
	Ephemeral  bool     `json:"ephemeral,omitempty"`
	TS         int64    `json:"ts,omitempty"`
}

func writeCtrl(w io.Writer, msg ctrlMsg) error {
	b, err := json.Marshal(&msg)
	if err != nil {
		return xerr.Transport("wire-decode", err, "marshal control message")
	}
	if _, err := w.Write([]byte{tagControl}); err != nil {
		return xerr.Transport("peer-gone", err, "write control tag")
	}
	if _, err := fmt.Fprintf(w, "%d\n", len(b)); err != nil {
		return xerr.Transport("peer-gone", err, "write control length")
	}
	if _, err := w.Write(b); err != nil {
		return xerr.Transport("peer-gone", err, "write control body")
	}
	return nil
}

func readCtrlBody(r *bufio.Reader) (ctrlMsg, error) {
	var clen int
	if _, err := fmt.Fscanf(r, "%d\n", &clen); err != nil {
		return ctrlMsg{}, xerr.Transport("wire-decode", err, "read control length")
	}
	buf := make([]byte, clen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ctrlMsg{}, xerr.Transport("wire-decode", err, "read control body")
	}
	var msg ctrlMsg
	if err := json.Unmarshal(buf, &msg); err != nil {
		return ctrlMsg{}, xerr.Transport("wire-decode", err, "unmarshal control body")
	}
	return msg, nil
}

// writeFrame tags and writes one data frame, optionally LZ4-compressing the
// image bytes the way aistore's Extra.Compressed() gates stream compression.
func writeFrame(w io.Writer, f *frame.Frame, compress bool, maxHeaderBytes int) error {
	if _, err := w.Write([]byte{tagFrame}); err != nil {
		return xerr.Transport("peer-gone", err, "write frame tag")
	}
	if !compress {
		return wrapFrameErr(frame.Encode(w, f))
	}
	lzw := lz4.NewWriter(w)
	if err := frame.Encode(lzw, f); err != nil {
		return wrapFrameErr(err)
	}
	if err := lzw.Close(); err != nil {
		return xerr.Transport("peer-gone", err, "flush lz4 writer")
	}
	return nil
}

func readFrame(r *bufio.Reader, compress bool, maxHeaderBytes int) (*frame.Frame, error) {
	if !compress {
		fr, err := frame.Decode(r, maxHeaderBytes)
		return fr, wrapFrameErr(err)
	}
	lzr := lz4.NewReader(r)
	fr, err := frame.Decode(lzr, maxHeaderBytes)
	return fr, wrapFrameErr(err)
}

func wrapFrameErr(err error) error {
	if err == nil {
		return nil
	}
	if xerr.IsKind(err, xerr.KindFrame) {
		return err
	}
	return xerr.Transport("wire-decode", err, "frame codec error")
}

// readTag reads the one-byte multiplex tag for the next message.
func readTag(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, xerr.Transport("peer-gone", err, "read message tag")
	}
	return b, nil
}
