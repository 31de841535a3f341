package router

import (
	"math/rand"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// SelectionKey carries everything a policy may key on. Selection must be a
// pure function of the key plus policy state; policies never consult the
// wall clock.
type SelectionKey struct {
	Text         string
	ExperimentID string
	RequestID    string
	InputIDs     []int
}

// Policy decides which runtime index serves a request.
type Policy interface {
	Name() string
	Select(key SelectionKey, numRuntimes int) int
}

// affinityCarrier is implemented by policies whose routing state keys on
// prior decisions. The router transfers the table between two such policies
// on a swap so accumulated cache affinity survives.
type affinityCarrier interface {
	AffinityTable() map[uint64]int
	SetAffinityTable(map[uint64]int)
}

// RandomPolicy routes uniformly at random from an injected source.
type RandomPolicy struct {
	rng *rand.Rand
}

func NewRandomPolicy(rng *rand.Rand) *RandomPolicy {
	return &RandomPolicy{rng: rng}
}

func (p *RandomPolicy) Name() string { return "random" }

func (p *RandomPolicy) Select(_ SelectionKey, numRuntimes int) int {
	return p.rng.Intn(numRuntimes)
}

// RoundRobinPolicy cycles through runtimes in index order.
type RoundRobinPolicy struct {
	next int
}

func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{}
}

func (p *RoundRobinPolicy) Name() string { return "round_robin" }

func (p *RoundRobinPolicy) Select(_ SelectionKey, numRuntimes int) int {
	idx := p.next % numRuntimes
	p.next++
	return idx
}

// ConsistentHashPolicy keys on a content prefix so requests sharing cached
// prefill land on the same runtime. First sighting of a prefix is placed on
// a virtual-node hash ring; later requests with the same prefix reuse the
// recorded destination.
type ConsistentHashPolicy struct {
	prefixLen    int
	virtualNodes int
	ring         []ringEntry
	ringSize     int
	table        map[uint64]int
}

type ringEntry struct {
	hash uint64
	node int
}

// NewConsistentHashPolicy builds the policy. prefixLen is the number of
// leading bytes hashed as the affinity key; virtualNodes spreads each
// runtime across the ring.
func NewConsistentHashPolicy(prefixLen, virtualNodes int) *ConsistentHashPolicy {
	if prefixLen <= 0 {
		prefixLen = 512
	}
	if virtualNodes <= 0 {
		virtualNodes = 100
	}
	return &ConsistentHashPolicy{
		prefixLen:    prefixLen,
		virtualNodes: virtualNodes,
		table:        make(map[uint64]int),
	}
}

func (p *ConsistentHashPolicy) Name() string { return "consistent_hash" }

func (p *ConsistentHashPolicy) Select(key SelectionKey, numRuntimes int) int {
	prefix := key.Text
	if len(prefix) > p.prefixLen {
		prefix = prefix[:p.prefixLen]
	}
	h := xxhash.Sum64String(prefix)

	if dest, ok := p.table[h]; ok && dest < numRuntimes {
		return dest
	}

	dest := p.lookup(h, numRuntimes)
	p.table[h] = dest
	return dest
}

// lookup walks the ring clockwise from the request hash.
func (p *ConsistentHashPolicy) lookup(h uint64, numRuntimes int) int {
	if p.ringSize != numRuntimes {
		p.buildRing(numRuntimes)
	}
	i := sort.Search(len(p.ring), func(i int) bool { return p.ring[i].hash >= h })
	if i == len(p.ring) {
		i = 0
	}
	return p.ring[i].node
}

func (p *ConsistentHashPolicy) buildRing(numRuntimes int) {
	ring := make([]ringEntry, 0, numRuntimes*p.virtualNodes)
	for node := 0; node < numRuntimes; node++ {
		for v := 0; v < p.virtualNodes; v++ {
			h := xxhash.Sum64String("node-" + strconv.Itoa(node) + "-" + strconv.Itoa(v))
			ring = append(ring, ringEntry{hash: h, node: node})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })
	p.ring = ring
	p.ringSize = numRuntimes
}

func (p *ConsistentHashPolicy) AffinityTable() map[uint64]int { return p.table }

func (p *ConsistentHashPolicy) SetAffinityTable(t map[uint64]int) {
	if t != nil {
		p.table = t
	}
}

// CustomPolicy wraps a caller-supplied selector function.
type CustomPolicy struct {
	name string
	fn   func(key SelectionKey, numRuntimes int) int
}

func NewCustomPolicy(name string, fn func(key SelectionKey, numRuntimes int) int) *CustomPolicy {
	if name == "" {
		name = "custom"
	}
	return &CustomPolicy{name: name, fn: fn}
}

func (p *CustomPolicy) Name() string { return p.name }

func (p *CustomPolicy) Select(key SelectionKey, numRuntimes int) int {
	return p.fn(key, numRuntimes)
}

// Compile-time interface checks
var (
	_ Policy          = (*RandomPolicy)(nil)
	_ Policy          = (*RoundRobinPolicy)(nil)
	_ Policy          = (*ConsistentHashPolicy)(nil)
	_ Policy          = (*CustomPolicy)(nil)
	_ affinityCarrier = (*ConsistentHashPolicy)(nil)
)
