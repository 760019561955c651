package placement

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
)

// ring is a hand-rolled consistent-hash ring over cluster member node ids.
// No dependency in the corpus covers a consistent-hash ring (see
// DESIGN.md), so this is plain stdlib: hash/fnv plus sort.Search over a
// sorted slice of virtual-node points, the textbook shape for this
// problem.
type ring struct {
	mu           sync.RWMutex
	vnodesPerKey int
	points       []point
}

type point struct {
	hash   uint32
	nodeID string
}

func newRing(vnodesPerKey int) *ring {
	if vnodesPerKey <= 0 {
		vnodesPerKey = 64
	}
	return &ring{vnodesPerKey: vnodesPerKey}
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// SetMembers replaces the full member set, rebuilding the ring.
func (r *ring) SetMembers(nodeIDs []string) {
	points := make([]point, 0, len(nodeIDs)*r.vnodesPerKey)
	for _, id := range nodeIDs {
		for v := 0; v < r.vnodesPerKey; v++ {
			points = append(points, point{hash: hashKey(id + "#" + strconv.Itoa(v)), nodeID: id})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].hash < points[j].hash })

	r.mu.Lock()
	r.points = points
	r.mu.Unlock()
}

// Owner returns the node id that key hashes to, or "" if the ring is empty.
func (r *ring) Owner(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return ""
	}
	h := hashKey(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.points[i].nodeID
}

// Members returns the current distinct node ids in the ring.
func (r *ring) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.points {
		if _, ok := seen[p.nodeID]; !ok {
			seen[p.nodeID] = struct{}{}
			out = append(out, p.nodeID)
		}
	}
	return out
}
