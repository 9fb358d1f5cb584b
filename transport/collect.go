package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openfilter/openfilter/cmn/nlog"
)

// collector drives the H-second ping/pong heartbeat for every consumerSlot a
// Producer tracks, modeled on aistore's stream_collector (transport/collect.go):
// a single ticker walks a min-heap of peers ordered by next-check time rather
// than arming one timer per connection. Here every slot shares one tick
// interval so the heap degenerates to a plain slice walk, but the shape
// (ticker + mutex-guarded add/remove + periodic tick()) is the same idiom.
type collector struct {
	interval    time.Duration
	maxMissed   int
	mu          sync.Mutex
	slots       []*consumerSlot
	stopCh      chan struct{}
	stoppedOnce sync.Once
}

func newCollector(interval time.Duration, maxMissed int) *collector {
	return &collector{interval: interval, maxMissed: maxMissed, stopCh: make(chan struct{})}
}

func (c *collector) add(s *consumerSlot) {
	c.mu.Lock()
	c.slots = append(c.slots, s)
	c.mu.Unlock()
}

func (c *collector) remove(s *consumerSlot) {
	c.mu.Lock()
	for i, sl := range c.slots {
		if sl == s {
			c.slots = append(c.slots[:i], c.slots[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
}

func (c *collector) run(onEvict func(*consumerSlot)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick(onEvict)
		case <-c.stopCh:
			return
		}
	}
}

func (c *collector) stop() {
	c.stoppedOnce.Do(func() { close(c.stopCh) })
}

// tick pings every live slot and evicts any slot that missed the previous
// c.maxMissed pongs in a row (spec §4.3: "loss of K=5 consecutive pongs
// closes that consumer slot").
func (c *collector) tick(onEvict func(*consumerSlot)) {
	c.mu.Lock()
	slots := append([]*consumerSlot(nil), c.slots...)
	c.mu.Unlock()

	for _, s := range slots {
		if s.gotPong.Swap(false) {
			atomic.StoreInt32(&s.missedPongs, 0)
		} else if atomic.AddInt32(&s.missedPongs, 1) > int32(c.maxMissed) {
			c.remove(s)
			onEvict(s)
			continue
		}
		if err := s.sendPing(); err != nil {
			nlog.Warningf("heartbeat: ping to %s failed: %v", connString(s.conn), err)
		}
	}
}
