package storage

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// HNSWParams controls the hierarchical-NSW build/search beam widths and
// per-node connection cap, per spec.md §4.4.
type HNSWParams struct {
	M              int
	EfConstruction int
	EfSearch       int
}

func DefaultHNSWParams() HNSWParams {
	return HNSWParams{M: 16, EfConstruction: 200, EfSearch: 64}
}

type hnswNode struct {
	internalID int64
	externalID uint64
	vector     []float32
	level      int
	deleted    bool
}

// candidate is a (node, distance) pair used by the beam-search and
// neighbor-selection heuristics.
type candidate struct {
	id   int64
	dist float64
}

// HNSWIndex is a hierarchical navigable small-world graph for one
// embedding dimension, keyed externally by row id and internally by a
// dense internal id. Grounded on kasuganosora-sqlexec's
// pkg/resource/memory/hnsw_index.go for the layer/greedy-descent/
// beam-search/neighbor-selection structure, but with RemoveNode rewritten
// to perform the mandatory reconnection step (spec.md §4.4) that
// example does not implement: former neighbors of a deleted node are
// bidirectionally reconnected and trimmed, rather than simply dropped.
type HNSWIndex struct {
	mu sync.RWMutex

	Dim    int
	params HNSWParams

	nodes      map[int64]*hnswNode
	layers     []map[int64][]int64 // layers[level][nodeID] -> neighbor ids at that level
	extToInt   map[uint64]int64
	nextIntID  int64
	entryPoint int64
	entryLevel int
	hasEntry   bool

	rng *rand.Rand
}

func NewHNSWIndex(dim int, params HNSWParams) *HNSWIndex {
	return &HNSWIndex{
		Dim:      dim,
		params:   params,
		nodes:    make(map[int64]*hnswNode),
		layers:   []map[int64][]int64{make(map[int64][]int64)},
		extToInt: make(map[uint64]int64),
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (h *HNSWIndex) randomLevel() int {
	u := h.rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	lvl := int(math.Floor(-math.Log(u) * (1.0 / math.Log(float64(h.params.M)))))
	if lvl < 0 {
		lvl = 0
	}
	return lvl
}

func (h *HNSWIndex) ensureLayers(level int) {
	for len(h.layers) <= level {
		h.layers = append(h.layers, make(map[int64][]int64))
	}
}

func (h *HNSWIndex) dist(a, b []float32) float64 { return CosineDistance(a, b) }

// GetInternalID returns the internal id mapped to an external row id.
func (h *HNSWIndex) GetInternalID(externalID uint64) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.extToInt[externalID]
	return id, ok
}

// Insert adds vector under externalID, returning the assigned internal id.
func (h *HNSWIndex) Insert(vector []float32, externalID uint64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.insertLocked(vector, externalID)
}

func (h *HNSWIndex) insertLocked(vector []float32, externalID uint64) int64 {
	if old, ok := h.extToInt[externalID]; ok {
		h.removeLocked(old)
	}

	id := h.nextIntID
	h.nextIntID++
	level := h.randomLevel()
	h.ensureLayers(level)

	node := &hnswNode{internalID: id, externalID: externalID, vector: append([]float32(nil), vector...), level: level}
	h.nodes[id] = node
	h.extToInt[externalID] = id

	if !h.hasEntry {
		h.entryPoint = id
		h.entryLevel = level
		h.hasEntry = true
		for l := 0; l <= level; l++ {
			h.layers[l][id] = nil
		}
		return id
	}

	cur := h.entryPoint
	for l := h.entryLevel; l > level; l-- {
		cur = h.greedyClosest(cur, node.vector, l)
	}

	for l := min(level, h.entryLevel); l >= 0; l-- {
		candidates := h.searchLevel(node.vector, cur, h.params.EfConstruction, l)
		neighbors := h.selectNeighbors(candidates, h.params.M)
		h.layers[l][id] = neighbors
		for _, nb := range neighbors {
			h.addEdge(l, nb, id)
			h.shrinkConnections(l, nb)
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}
	for l := level + 1; l <= h.entryLevel; l++ {
		if _, ok := h.layers[l][id]; !ok {
			h.layers[l][id] = nil
		}
	}

	if level > h.entryLevel {
		h.entryPoint = id
		h.entryLevel = level
	}
	return id
}

func (h *HNSWIndex) addEdge(level int, from, to int64) {
	if from == to {
		return // self-edges are never wired.
	}
	edges := h.layers[level][from]
	for _, e := range edges {
		if e == to {
			return
		}
	}
	h.layers[level][from] = append(edges, to)
}

func (h *HNSWIndex) removeEdge(level int, from, to int64) {
	edges := h.layers[level][from]
	for i, e := range edges {
		if e == to {
			h.layers[level][from] = append(edges[:i], edges[i+1:]...)
			return
		}
	}
}

// shrinkConnections trims a node's neighbor list at a level back to M
// using distance-based selection, per spec.md §4.4 step 3.
func (h *HNSWIndex) shrinkConnections(level int, id int64) {
	edges := h.layers[level][id]
	if len(edges) <= h.params.M {
		return
	}
	node := h.nodes[id]
	cands := make([]candidate, 0, len(edges))
	for _, e := range edges {
		if n, ok := h.nodes[e]; ok {
			cands = append(cands, candidate{id: e, dist: h.dist(node.vector, n.vector)})
		}
	}
	kept := h.selectNeighbors(cands, h.params.M)
	h.layers[level][id] = kept
}

// selectNeighbors implements the paper's Algorithm-4-style heuristic:
// sort by distance, greedily keep a candidate only if it is closer to
// the query than to every neighbor already kept (diversifies the
// neighbor set instead of just taking the M nearest).
func (h *HNSWIndex) selectNeighbors(cands []candidate, m int) []int64 {
	sorted := append([]candidate(nil), cands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	var kept []candidate
	for _, c := range sorted {
		if len(kept) >= m {
			break
		}
		node, ok := h.nodes[c.id]
		if !ok {
			continue
		}
		good := true
		for _, k := range kept {
			kn, ok := h.nodes[k.id]
			if !ok {
				continue
			}
			if h.dist(node.vector, kn.vector) < c.dist {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		}
	}
	out := make([]int64, len(kept))
	for i, k := range kept {
		out[i] = k.id
	}
	return out
}

func (h *HNSWIndex) greedyClosest(from int64, query []float32, level int) int64 {
	cur := from
	curDist := h.dist(h.nodes[cur].vector, query)
	for {
		improved := false
		for _, nb := range h.layers[level][cur] {
			n, ok := h.nodes[nb]
			if !ok || n.deleted {
				continue
			}
			d := h.dist(n.vector, query)
			if d < curDist {
				cur = nb
				curDist = d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLevel runs an ef-limited beam search at one layer, returning
// candidates sorted nearest-first.
func (h *HNSWIndex) searchLevel(query []float32, entry int64, ef, level int) []candidate {
	visited := map[int64]bool{entry: true}
	entryDist := h.dist(h.nodes[entry].vector, query)
	candHeap := []candidate{{id: entry, dist: entryDist}}
	result := []candidate{{id: entry, dist: entryDist}}

	for len(candHeap) > 0 {
		sort.Slice(candHeap, func(i, j int) bool { return candHeap[i].dist < candHeap[j].dist })
		c := candHeap[0]
		candHeap = candHeap[1:]

		sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
		if len(result) >= ef && c.dist > result[len(result)-1].dist {
			break
		}

		for _, nb := range h.layers[level][c.id] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			n, ok := h.nodes[nb]
			if !ok || n.deleted {
				continue
			}
			d := h.dist(n.vector, query)
			candHeap = append(candHeap, candidate{id: nb, dist: d})
			result = append(result, candidate{id: nb, dist: d})
			sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
			if len(result) > ef {
				result = result[:ef]
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].dist < result[j].dist })
	return result
}

// Search returns up to k (external_id, distance) pairs nearest to query.
func (h *HNSWIndex) Search(query []float32, k int) []SearchResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return nil
	}

	ef := h.params.EfSearch
	if k > ef {
		ef = k
	}

	cur := h.entryPoint
	for l := h.entryLevel; l > 0; l-- {
		cur = h.greedyClosest(cur, query, l)
	}
	cands := h.searchLevel(query, cur, ef, 0)

	out := make([]SearchResult, 0, k)
	for _, c := range cands {
		n, ok := h.nodes[c.id]
		if !ok || n.deleted {
			continue
		}
		out = append(out, SearchResult{ExternalID: n.externalID, Distance: c.dist})
		if len(out) == k {
			break
		}
	}
	return out
}

// SearchResult is one ranked hit from HNSWIndex.Search.
type SearchResult struct {
	ExternalID uint64
	Distance   float64
}

// RemoveNode removes the node for externalID, performing the mandatory
// reconnection protocol of spec.md §4.4: for every layer the node
// participated in, its former neighbors are pairwise bidirectionally
// connected (if not already) and each trimmed back to M, the node is
// unlinked from every neighbor's adjacency list, its external<->internal
// mapping is released, and the entry point is promoted if necessary
// (highest surviving layer, lowest internal id among ties). Without
// this step the graph fragments into disconnected islands around every
// delete — the gap the reference hnsw_index.go implementation leaves
// open.
func (h *HNSWIndex) RemoveNode(externalID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.extToInt[externalID]
	if !ok {
		return ErrNodeNotFound
	}
	h.removeLocked(id)
	return nil
}

func (h *HNSWIndex) removeLocked(id int64) {
	node, ok := h.nodes[id]
	if !ok {
		return
	}

	for level := 0; level < len(h.layers); level++ {
		neighbors, present := h.layers[level][id]
		if !present {
			continue
		}

		live := make([]int64, 0, len(neighbors))
		for _, n := range neighbors {
			if _, ok := h.nodes[n]; ok {
				live = append(live, n)
			}
		}

		for i := 0; i < len(live); i++ {
			for j := i + 1; j < len(live); j++ {
				a, b := live[i], live[j]
				h.addEdge(level, a, b)
				h.addEdge(level, b, a)
			}
		}
		for _, n := range live {
			h.shrinkConnections(level, n)
		}

		for _, n := range live {
			h.removeEdge(level, n, id)
		}
		delete(h.layers[level], id)
	}

	delete(h.nodes, id)
	delete(h.extToInt, node.externalID)

	if h.hasEntry && h.entryPoint == id {
		h.promoteEntryPoint()
	}
}

// promoteEntryPoint picks the highest-layer surviving node, lowest
// internal id among ties, per spec.md §4.4 step 6.
func (h *HNSWIndex) promoteEntryPoint() {
	if len(h.nodes) == 0 {
		h.hasEntry = false
		h.entryPoint = 0
		h.entryLevel = 0
		return
	}
	var bestID int64
	bestLevel := -1
	first := true
	for id, n := range h.nodes {
		if first || n.level > bestLevel || (n.level == bestLevel && id < bestID) {
			bestID = id
			bestLevel = n.level
			first = false
		}
	}
	h.entryPoint = bestID
	h.entryLevel = bestLevel
}

// Rebuild clears and reconstructs the graph by re-inserting every
// (vector, externalID) pair, used by recovery when no incremental HNSW
// WAL records exist for the tail being replayed (spec.md §4.8 step 5,
// §9 design note).
func (h *HNSWIndex) Rebuild(items []struct {
	Vector     []float32
	ExternalID uint64
}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes = make(map[int64]*hnswNode)
	h.layers = []map[int64][]int64{make(map[int64][]int64)}
	h.extToInt = make(map[uint64]int64)
	h.nextIntID = 0
	h.hasEntry = false

	for _, it := range items {
		h.insertLocked(it.Vector, it.ExternalID)
	}
}

// Len returns the number of live nodes.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}
