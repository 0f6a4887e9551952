// Package ring implements the placement half of the control plane: a
// consistent hash ring with virtual nodes that maps a message key to an
// ordered list of owning brokers.
//
// Big idea:
//
// In a distributed queue, we must decide:
//
//	"Which broker(s) hold this key?"
//
// A naive hash(key) % N remaps almost every key whenever a broker joins or
// leaves. Consistent hashing fixes this: brokers and keys are placed on the
// same circular hash space, and a key belongs to the first broker found by
// walking clockwise from its position. Losing or adding a broker only
// disturbs the keys adjacent to it on the ring.
//
// Each physical broker is given many virtual node positions (V, default 150)
// so that ownership is spread evenly instead of concentrated behind one
// random point.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// DefaultVirtualNodes is V, the number of virtual node positions placed on
// the ring per physical broker.
const DefaultVirtualNodes = 150

// Ring is the consistent hash ring. It is safe for concurrent use; once
// brokers are registered at Coordinator startup it is effectively read-only,
// so lookups never block on the mutations below.
type Ring struct {
	mu sync.RWMutex

	vnodes int

	// ring maps a ring position to the owning broker's name.
	ring map[uint32]string
	// sorted is the positions in ring, kept sorted for binary search.
	sorted []uint32
	// positions records which ring positions belong to each broker, so
	// RemoveNode can find and erase exactly its own virtual nodes.
	positions map[string][]uint32
	// urls maps broker name to its base URL, for routing.
	urls map[string]string
	// order preserves broker registration order — the failover controller
	// walks brokers "clockwise from the failed node's index" in this list,
	// which is distinct from ring-position order.
	order []string
}

// New creates an empty ring. vnodes <= 0 falls back to DefaultVirtualNodes.
func New(vnodes int) *Ring {
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	return &Ring{
		vnodes:    vnodes,
		ring:      make(map[uint32]string),
		positions: make(map[string][]uint32),
		urls:      make(map[string]string),
	}
}

// AddNode inserts V virtual positions for a broker. Collisions (two labels
// hashing to the same position) are resolved by linear probing: the position
// is advanced by +1 (mod 2^32) until a free slot is found. This keeps the
// ring invariant that every position maps to exactly one broker.
func (r *Ring) AddNode(name, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.urls[name]; !exists {
		r.order = append(r.order, name)
	}
	r.urls[name] = url

	for i := 0; i < r.vnodes; i++ {
		label := fmt.Sprintf("%s:vnode%d", name, i)
		pos := r.hash(label)

		for {
			if _, taken := r.ring[pos]; !taken {
				break
			}
			pos++ // wraps naturally at the uint32 boundary
		}

		r.ring[pos] = name
		r.positions[name] = append(r.positions[name], pos)
	}

	r.rebuild()
}

// RemoveNode removes every virtual position owned by name.
func (r *Ring) RemoveNode(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pos := range r.positions[name] {
		delete(r.ring, pos)
	}
	delete(r.positions, name)
	delete(r.urls, name)

	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.rebuild()
}

// GetNodesForKey returns the raw primary and up to r-1 raw replicas for key,
// plus the key's ring position. The head of the returned list is the raw
// primary (I1). Lookup is O(log(N*V)); the clockwise walk visits at most
// N*V virtual positions before every distinct broker has been seen, so
// termination is guaranteed even when fewer than replicas brokers exist.
func (rg *Ring) GetNodesForKey(key string, replicas int) (primary string, rest []string, keyHash uint32, err error) {
	rg.mu.RLock()
	defer rg.mu.RUnlock()

	if len(rg.sorted) == 0 {
		return "", nil, 0, fmt.Errorf("ring: GetNodesForKey(%q): ring is empty", key)
	}

	keyHash = rg.hash(key)
	idx := rg.search(keyHash)

	seen := make(map[string]bool)
	var nodes []string

	for i := 0; i < len(rg.sorted) && len(nodes) < replicas; i++ {
		vpos := rg.sorted[(idx+i)%len(rg.sorted)]
		name := rg.ring[vpos]
		if !seen[name] {
			seen[name] = true
			nodes = append(nodes, name)
		}
	}

	return nodes[0], nodes[1:], keyHash, nil
}

// GetNodeURL returns the base URL registered for a broker name.
func (r *Ring) GetNodeURL(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.urls[name]
	return url, ok
}

// GetAllNodeNames returns broker names in registration order — the order the
// failover controller walks clockwise from a failed node's index.
func (r *Ring) GetAllNodeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NodeCount returns the number of distinct physical brokers registered.
func (r *Ring) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// VirtualNodeCount returns V, the configured virtual nodes per broker.
func (r *Ring) VirtualNodeCount() int {
	return r.vnodes
}

// RingCoverage returns how many of this broker's virtual positions currently
// sit on the ring. Equals VirtualNodeCount() after a single AddNode:
// collision probing moves a position but always finds a free slot, so no
// position is dropped. This exists purely as an introspection aid for /ring.
func (r *Ring) RingCoverage(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions[name])
}

// hash reduces label to a ring position: the first 4 bytes of its SHA-256
// digest, read big-endian as an unsigned 32-bit integer. Using the same
// function for keys and virtual-node labels guarantees they share a space.
func (r *Ring) hash(label string) uint32 {
	sum := sha256.Sum256([]byte(label))
	return binary.BigEndian.Uint32(sum[:4])
}

// rebuild reconstructs the sorted position slice after a node add/remove.
func (r *Ring) rebuild() {
	r.sorted = make([]uint32, 0, len(r.ring))
	for pos := range r.ring {
		r.sorted = append(r.sorted, pos)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
}

// search finds the index of the first position >= pos, wrapping to 0 when
// pos exceeds every position on the ring.
func (r *Ring) search(pos uint32) int {
	idx := sort.Search(len(r.sorted), func(i int) bool {
		return r.sorted[i] >= pos
	})
	if idx == len(r.sorted) {
		idx = 0
	}
	return idx
}
