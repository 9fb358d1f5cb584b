package transport

import (
	"bufio"
	"context"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"github.com/openfilter/openfilter/cmn/cos"
	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/xerr"
)

// Consumer connects a source endpoint (spec §4.3): dials the producer,
// completes the hello/subscribe handshake (skipped entirely for doubly-
// ephemeral subscriptions), and feeds decoded frames to Frames(). Reconnect
// uses exponential backoff with jitter, grounded on the same give-up-and-
// retry posture aistore's stream client takes on transient connection loss,
// generalized here to a client-initiated dial loop since OpenFilter sources
// are plain TCP rather than HTTP keep-alive streams.
type Consumer struct {
	uri       string
	topics    []string
	wildcard  bool
	ephemeral bool // true for both Ephemeral and DoublyEphemeral
	doubly    bool
	runID     string
	extra     *Extra

	recvCh chan *frame.Frame
	eosCh  chan string
	closed chan struct{}

	connected atomic.Bool
}

func NewConsumer(uri string, topics []string, wildcard, ephemeral, doubly bool, runID string, extra *Extra) *Consumer {
	extra = extra.withDefaults()
	return &Consumer{
		uri: uri, topics: topics, wildcard: wildcard,
		ephemeral: ephemeral, doubly: doubly, runID: runID, extra: extra,
		recvCh: make(chan *frame.Frame, extra.Burst),
		eosCh:  make(chan string, 8),
		closed: make(chan struct{}),
	}
}

func (c *Consumer) Frames() <-chan *frame.Frame { return c.recvCh }
func (c *Consumer) EOS() <-chan string          { return c.eosCh }
func (c *Consumer) Connected() bool             { return c.connected.Load() }

// Run dials and serves until ctx is cancelled, reconnecting on any
// disconnect with exponential backoff (100ms -> 5s, +/-20% jitter, spec
// §4.3). A fault is classified on each failed attempt: transient network
// faults (connection refused/reset, broken pipe, DNS lookup, url.Error timeout)
// ramp the normal way, since the peer may come back within a few cycles;
// non-network faults (protocol/handshake/decode errors) jump straight to
// the max delay, since retrying sooner can't fix a peer speaking a
// different protocol.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.closed)
	backoff := c.extra.ReconnectBase
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		err := c.connectOnce(ctx)
		wasConnected := c.connected.Load()
		c.connected.Store(false)

		switch {
		case err == nil:
		case ctx.Err() != nil:
			// shutting down; the sleep select below returns immediately.
		case wasConnected:
			nlog.Warningf("transport: consumer %s: %v", c.uri, err)
			backoff = c.extra.ReconnectBase
		case cos.IsRetriableConnErr(err) || cos.IsUnreachable(err, 0) || cos.IsErrClientURLTimeout(err):
			nlog.Warningf("transport: consumer %s: %v", c.uri, err)
		default:
			nlog.Warningf("transport: consumer %s: non-retriable fault, backing off to max: %v", c.uri, err)
			backoff = c.extra.ReconnectMax
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoff, c.extra.ReconnectJitter)):
		}
		if backoff < c.extra.ReconnectMax {
			backoff *= 2
			if backoff > c.extra.ReconnectMax {
				backoff = c.extra.ReconnectMax
			}
		}
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func (c *Consumer) connectOnce(ctx context.Context) error {
	network, addr, err := splitURI(c.uri)
	if err != nil {
		return err
	}
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return xerr.Transport("peer-gone", err, "dial %s", c.uri)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	if !c.doubly {
		if err := c.handshake(conn, r); err != nil {
			return err
		}
	}
	c.connected.Store(true)

	for {
		tag, err := readTag(r)
		if err != nil {
			return err
		}
		switch tag {
		case tagControl:
			msg, err := readCtrlBody(r)
			if err != nil {
				return err
			}
			switch msg.Kind {
			case ctrlPing:
				if err := writeCtrl(conn, ctrlMsg{Kind: ctrlPong, TS: msg.TS}); err != nil {
					return err
				}
			case ctrlEOS:
				for _, t := range msg.Topics {
					select {
					case c.eosCh <- t:
					default:
					}
				}
			}
		case tagFrame:
			fr, err := readFrame(r, c.extra.Compression, c.extra.MaxHeaderBytes)
			if err != nil {
				return err
			}
			if c.ephemeral {
				select {
				case c.recvCh <- fr:
				default:
					select {
					case <-c.recvCh:
					default:
					}
					select {
					case c.recvCh <- fr:
					default:
					}
				}
			} else {
				select {
				case c.recvCh <- fr:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		default:
			return xerr.Transport("wire-decode", nil, "unknown message tag %q", tag)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// handshake completes the hello/subscribe exchange (spec §4.3): read the
// producer's hello, then declare our topics and ephemerality.
func (c *Consumer) handshake(conn net.Conn, r *bufio.Reader) error {
	tag, err := readTag(r)
	if err != nil {
		return err
	}
	if tag != tagControl {
		return xerr.Transport("handshake-failed", nil, "expected hello, got data frame")
	}
	hello, err := readCtrlBody(r)
	if err != nil {
		return err
	}
	if hello.Kind != ctrlHello {
		return xerr.Transport("handshake-failed", nil, "expected hello, got %s", hello.Kind)
	}

	topics := c.topics
	if c.wildcard {
		topics = []string{"*"}
	}
	sub := ctrlMsg{Kind: ctrlSubscribe, Topics: topics, Ephemeral: c.ephemeral, RunID: c.runID}
	return writeCtrl(conn, sub)
}
