package router

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"golang.org/x/sync/errgroup"

	"github.com/openfilter/openfilter/cmn/nlog"
	"github.com/openfilter/openfilter/endpoint"
	"github.com/openfilter/openfilter/frame"
	"github.com/openfilter/openfilter/transport"
)

// RemapTopic resolves the wire-side topic a producer tagged a frame with
// into the filter-local destination topic name, per the endpoint's declared
// TopicMaps (spec §4.1/§4.4): a wildcard map passes the wire topic through
// unchanged, an explicit "src>dst" only matches its declared src, and an
// unqualified destination ("main") implicitly matches the producer's
// "main" topic.
func RemapTopic(maps []endpoint.TopicMap, wireTopic string) (string, bool) {
	for _, tm := range maps {
		if tm.Wildcard {
			return wireTopic, true
		}
		if tm.SrcTopic == "" {
			if wireTopic == "main" || wireTopic == "" {
				return tm.DstTopic, true
			}
			continue
		}
		if tm.SrcTopic == wireTopic {
			return tm.DstTopic, true
		}
	}
	return "", false
}

// outputBinding is one configured output endpoint plus its topic rewrite
// rules and bound transport.Producer.
type outputBinding struct {
	producer *transport.Producer
	maps     []endpoint.TopicMap
}

// Router applies a filter's output topic rewrites and fans produced frames
// out to every matching bound endpoint (spec §4.4), using errgroup the same
// way aistore's bundle.Streams fans an object out to every streamBundle
// destination concurrently.
type Router struct {
	outputs []outputBinding

	mu      sync.Mutex
	warned  *cuckoo.Filter
}

func NewRouter() *Router {
	return &Router{warned: cuckoo.NewFilter(1024)}
}

// AddOutput binds an output endpoint (its producer plus topic rewrite
// rules) into this router's fan-out set.
func (r *Router) AddOutput(producer *transport.Producer, maps []endpoint.TopicMap) {
	r.outputs = append(r.outputs, outputBinding{producer: producer, maps: maps})
}

// Publish routes every produced frame (keyed by its own topic, from
// frame.RuntimeFields().Topic) to each output whose TopicMaps rewrite
// matches, publishing concurrently per output while presenting one
// synchronous call to the caller (spec §4.4).
func (r *Router) Publish(ctx context.Context, frames []*frame.Frame) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, fr := range frames {
		fr := fr
		rt, _ := fr.RuntimeFields()
		matched := false
		for _, ob := range r.outputs {
			ob := ob
			dst, ok := RemapTopic(ob.maps, rt.Topic)
			if !ok {
				continue
			}
			matched = true
			g.Go(func() error {
				return ob.producer.Publish(gctx, dst, fr)
			})
		}
		if !matched {
			r.warnOnce(rt.Topic, func() {
				nlog.Warningf("router: frame on topic %q matches no output rule, dropped", rt.Topic)
			})
		}
	}
	return g.Wait()
}

func (r *Router) warnOnce(topic string, f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := topicFingerprint(topic)
	if r.warned.Lookup(key) {
		return
	}
	r.warned.Insert(key)
	f()
}

// fingerprintSalt matches aistore cmn/cos.MLCG32, the multiplicative LCG
// seed it salts every xxhash digest with.
const fingerprintSalt = 2654435761

// topicFingerprint hashes a topic name to a fixed-size cuckoofilter key,
// the same xxhash-for-membership-keys idiom aistore's cmn/cos/uuid.go uses
// for its node-id digest.
func topicFingerprint(topic string) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, xxhash.ChecksumString64S(topic, fingerprintSalt))
	return b
}
