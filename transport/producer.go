package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/xerr"
)

// consumerSlot is the per-consumer bounded outbox, the direct analogue of
// aistore's bundle.Streams per-destination robin entry: one goroutine drains
// outbox and writes frames to conn, under writeMu so heartbeat pings from the
// collector never interleave with an in-flight frame write.
type consumerSlot struct {
	id          string
	conn        net.Conn
	writeMu     sync.Mutex
	topics      map[string]struct{}
	wildcard    bool
	ephemeral   bool
	outbox      chan *frame.Frame
	missedPongs int32
	gotPong     atomic.Bool
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *consumerSlot) subscribed(topic string) bool {
	if s.wildcard {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

func (s *consumerSlot) sendPing() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return writeCtrl(s.conn, ctrlMsg{Kind: ctrlPing, TS: time.Now().UnixNano()})
}

func (s *consumerSlot) closeSlot() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Producer binds an output endpoint and fans frames out to every connected
// consumer (spec §4.3), grounded on aistore's bundle.Streams multi-destination
// send path: each destination gets its own bounded queue and its own drain
// goroutine so one slow consumer never blocks the others.
type Producer struct {
	id              string
	runID           string
	topicsAvailable []string
	extra           *Extra
	ln              net.Listener

	mu         sync.Mutex
	consumers  map[string]*consumerSlot
	broadcast  map[string]net.Conn // doubly-ephemeral peers: no state, best-effort fanout
	nextPeerID int64

	coll   *collector
	wg     sync.WaitGroup
	closed chan struct{}
}

func NewProducer(id, runID, uri string, topicsAvailable []string, extra *Extra) (*Producer, error) {
	extra = extra.withDefaults()
	network, addr, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, xerr.Transport("handshake-failed", err, "listen on %s", uri)
	}
	p := &Producer{
		id:              id,
		runID:           runID,
		topicsAvailable: topicsAvailable,
		extra:           extra,
		ln:              ln,
		consumers:       make(map[string]*consumerSlot),
		broadcast:       make(map[string]net.Conn),
		coll:            newCollector(extra.HeartbeatInterval, extra.MaxMissedPongs),
		closed:          make(chan struct{}),
	}
	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.coll.run(p.evict) }()
	return p, nil
}

// Addr is the bound listen address, useful when the endpoint URI specified
// port 0 or bind-any.
func (p *Producer) Addr() net.Addr { return p.ln.Addr() }

// Serve accepts connections until ctx is cancelled or the listener closes.
func (p *Producer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.Close()
	}()
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			select {
			case <-p.closed:
				return nil
			default:
				return xerr.Transport("peer-gone", err, "accept on %s", p.ln.Addr())
			}
		}
		p.wg.Add(1)
		go func() { defer p.wg.Done(); p.handleConn(conn) }()
	}
}

func (p *Producer) nextID() string {
	id := atomic.AddInt64(&p.nextPeerID, 1)
	return "peer-" + itoa(id)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// handleConn performs the hello/subscribe handshake (spec §4.3), then either
// registers a tracked consumerSlot or, if no subscribe arrives within the
// handshake grace window, treats the peer as doubly-ephemeral: invisible,
// stateless, broadcast-only.
func (p *Producer) handleConn(conn net.Conn) {
	r := bufio.NewReader(conn)
	if err := writeCtrl(conn, ctrlMsg{Kind: ctrlHello, ProducerID: p.id, RunID: p.runID, Topics: p.topicsAvailable}); err != nil {
		nlog.Warningf("transport: hello to %s failed: %v", connString(conn), err)
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	tag, err := readTag(r)
	conn.SetReadDeadline(time.Time{})
	if err != nil || tag != tagControl {
		p.registerBroadcast(conn, r)
		return
	}
	msg, err := readCtrlBody(r)
	if err != nil || msg.Kind != ctrlSubscribe {
		p.registerBroadcast(conn, r)
		return
	}

	slot := &consumerSlot{
		id:        p.nextID(),
		conn:      conn,
		ephemeral: msg.Ephemeral,
		done:      make(chan struct{}),
	}
	if len(msg.Topics) == 1 && msg.Topics[0] == "*" {
		slot.wildcard = true
	} else {
		slot.topics = make(map[string]struct{}, len(msg.Topics))
		for _, t := range msg.Topics {
			slot.topics[t] = struct{}{}
		}
	}
	burst := p.extra.Burst
	if slot.ephemeral {
		burst = 1
	}
	slot.outbox = make(chan *frame.Frame, burst)

	p.mu.Lock()
	p.consumers[slot.id] = slot
	p.mu.Unlock()
	p.coll.add(slot)

	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.drainSlot(slot) }()
	go func() { defer p.wg.Done(); p.readSlotCtrl(slot, r) }()
}

// registerBroadcast tracks a doubly-ephemeral peer with no subscription
// state at all: it simply receives every frame published (spec §4.3: "Producers
// MUST NOT maintain per-consumer state for them").
func (p *Producer) registerBroadcast(conn net.Conn, _ *bufio.Reader) {
	id := p.nextID()
	p.mu.Lock()
	p.broadcast[id] = conn
	p.mu.Unlock()
	// doubly-ephemeral peers never send anything back; a read that returns
	// (EOF or error) means the peer is gone and its slot should be dropped.
	buf := make([]byte, 1)
	_, _ = conn.Read(buf)
	p.mu.Lock()
	delete(p.broadcast, id)
	p.mu.Unlock()
	conn.Close()
}

func (p *Producer) drainSlot(s *consumerSlot) {
	for {
		select {
		case fr, ok := <-s.outbox:
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := writeFrame(s.conn, fr, p.extra.Compression, p.extra.MaxHeaderBytes)
			s.writeMu.Unlock()
			if err != nil {
				nlog.Warningf("transport: write to %s failed: %v", connString(s.conn), err)
				p.evict(s)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (p *Producer) readSlotCtrl(s *consumerSlot, r *bufio.Reader) {
	for {
		tag, err := readTag(r)
		if err != nil {
			p.evict(s)
			return
		}
		if tag != tagControl {
			continue // consumers never push data frames upstream
		}
		msg, err := readCtrlBody(r)
		if err != nil {
			p.evict(s)
			return
		}
		if msg.Kind == ctrlPong {
			s.gotPong.Store(true)
		}
	}
}

func (p *Producer) evict(s *consumerSlot) {
	p.mu.Lock()
	delete(p.consumers, s.id)
	p.mu.Unlock()
	p.coll.remove(s)
	s.closeSlot()
}

// Publish delivers fr to every subscribed consumer (spec §4.3). Non-ephemeral
// consumers apply backpressure: Publish blocks until their outbox has room.
// Ephemeral consumers drop the previous pending frame instead of blocking.
// Doubly-ephemeral peers get a best-effort, non-blocking raw write.
func (p *Producer) Publish(ctx context.Context, topic string, fr *frame.Frame) error {
	p.mu.Lock()
	slots := make([]*consumerSlot, 0, len(p.consumers))
	for _, s := range p.consumers {
		if s.subscribed(topic) {
			slots = append(slots, s)
		}
	}
	bconns := make([]net.Conn, 0, len(p.broadcast))
	for _, c := range p.broadcast {
		bconns = append(bconns, c)
	}
	p.mu.Unlock()

	for _, s := range slots {
		if s.ephemeral {
			select {
			case s.outbox <- fr:
			default:
				select {
				case <-s.outbox:
				default:
				}
				select {
				case s.outbox <- fr:
				default:
				}
			}
			continue
		}
		select {
		case s.outbox <- fr:
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
		}
	}

	for _, c := range bconns {
		go func(c net.Conn) {
			_ = writeFrame(c, fr, p.extra.Compression, p.extra.MaxHeaderBytes)
		}(c)
	}
	return nil
}

// PublishEOS announces that topic will receive no further frames (spec §4.3).
func (p *Producer) PublishEOS(topic string) {
	p.mu.Lock()
	slots := make([]*consumerSlot, 0, len(p.consumers))
	for _, s := range p.consumers {
		if s.subscribed(topic) {
			slots = append(slots, s)
		}
	}
	p.mu.Unlock()
	for _, s := range slots {
		s.writeMu.Lock()
		_ = writeCtrl(s.conn, ctrlMsg{Kind: ctrlEOS, Topics: []string{topic}})
		s.writeMu.Unlock()
	}
}

func (p *Producer) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
		close(p.closed)
	}
	p.coll.stop()
	err := p.ln.Close()
	p.mu.Lock()
	for _, s := range p.consumers {
		s.closeSlot()
	}
	for _, c := range p.broadcast {
		c.Close()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return err
}
