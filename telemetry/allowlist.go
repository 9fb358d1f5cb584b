package telemetry

import (
	"encoding/binary"
	"path/filepath"
	"sync"

	"github.com/OneOfOne/xxhash"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"gopkg.in/yaml.v3"
)

// fingerprintSalt matches aistore cmn/cos.MLCG32, the multiplicative LCG
// seed it salts every xxhash digest with.
const fingerprintSalt = 2654435761

// metricFingerprint hashes a metric name to a fixed-size cuckoofilter key,
// the same xxhash-for-membership-keys idiom aistore's cmn/cos/uuid.go uses
// for its node-id digest.
func metricFingerprint(name string) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, xxhash.ChecksumString64S(name, fingerprintSalt))
	return b
}

// Allowlist gates metric export by glob pattern (spec §4.8 item 4): an
// empty allowlist exports nothing (lock-down default). A cuckoofilter
// tracks which metric names have already triggered a "dropped" warning so
// repeated ticks log it once per name rather than once per sample, the same
// once-per-name posture the router uses for unmatched-output warnings
// (see router.warnOnce).
type Allowlist struct {
	patterns []string

	mu      sync.Mutex
	warned  *cuckoo.Filter
}

func NewAllowlist(patterns []string) *Allowlist {
	return &Allowlist{patterns: patterns, warned: cuckoo.NewFilter(1024)}
}

// LoadYAML parses a YAML allowlist file: a flat list of glob patterns.
func LoadYAML(data []byte) (*Allowlist, error) {
	var patterns []string
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return nil, err
	}
	return NewAllowlist(patterns), nil
}

func (a *Allowlist) Allowed(name string) bool {
	if a == nil {
		return false
	}
	for _, p := range a.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (a *Allowlist) warnOnce(name string, f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := metricFingerprint(name)
	if a.warned.Lookup(key) {
		return
	}
	a.warned.Insert(key)
	f()
}
