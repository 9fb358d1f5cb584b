// Package transport implements OpenFilter's publish/subscribe message bus
// (spec §4.3): output endpoints bind a Producer, source endpoints connect a
// Consumer, and frames flow over per-consumer bounded outboxes. Grounded on
// aistore's transport package (api.go/pdu.go/sendmsg.go/collect.go,
// bundle/stream_bundle.go): the send-queue/completion-queue split, the
// min-heap idle/heartbeat collector, and multi-destination fanout all carry
// over in spirit even though the wire here is a plain length-prefixed TCP
// stream rather than HTTP PUT.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/openfilter/openfilter/xerr"
)

// Extra mirrors aistore's per-stream Extra knob bag (api.go), trimmed to the
// knobs OpenFilter's bus actually needs.
type Extra struct {
	Burst             int
	HeartbeatInterval time.Duration
	MaxMissedPongs    int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectJitter   float64
	Compression       bool
	MaxHeaderBytes    int
}

func (e *Extra) withDefaults() *Extra {
	if e == nil {
		e = &Extra{}
	}
	cp := *e
	if cp.Burst <= 0 {
		cp.Burst = 256
	}
	if cp.HeartbeatInterval <= 0 {
		cp.HeartbeatInterval = time.Second
	}
	if cp.MaxMissedPongs <= 0 {
		cp.MaxMissedPongs = 5
	}
	if cp.ReconnectBase <= 0 {
		cp.ReconnectBase = 100 * time.Millisecond
	}
	if cp.ReconnectMax <= 0 {
		cp.ReconnectMax = 5 * time.Second
	}
	if cp.ReconnectJitter <= 0 {
		cp.ReconnectJitter = 0.2
	}
	if cp.MaxHeaderBytes <= 0 {
		cp.MaxHeaderBytes = 1 << 20
	}
	return &cp
}

// splitURI turns a "tcp://host:port" endpoint URI into a (network, address)
// pair net.Dial/net.Listen accept. "*" as a host means bind-any.
func splitURI(uri string) (network, address string, err error) {
	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return "", "", xerr.Transport("handshake-failed", nil, "malformed endpoint URI %q", uri)
	}
	network = uri[:idx]
	address = uri[idx+3:]
	address = strings.Replace(address, "*", "", 1)
	return network, address, nil
}

// ReservedOpcode reports whether id falls in the control-message ID range
// reserved for internal bookkeeping (ids assigned by the frame producer
// itself never collide with these, since frame ids are caller-supplied
// monotonic counters starting at 1).
func ReservedOpcode(id int64) bool { return id < 0 }

func connString(c net.Conn) string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s->%s", c.LocalAddr(), c.RemoteAddr())
}
