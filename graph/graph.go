// Package graph owns the RNG-pruned neighborhood graph used for
// best-first refinement once the BKT forest has seeded a query's
// frontier. Rows are stored flat (N*W int32s, one allocation) rather
// than as a slice of slices, mirroring the teacher's flat-arena
// layouts (objects/packfile's single growing byte blob plus an
// index) for prefetch-friendly row access.
package graph

import (
	"io"
	"math/rand"
	"sort"
	"sync"

	"github.com/annidx/annidx/bkt"
	"github.com/annidx/annidx/persist"
	"github.com/annidx/annidx/resources"
	"github.com/annidx/annidx/versioning"
	"github.com/vmihailenco/msgpack/v5"
)

const VERSION = "1.0.0"

func init() {
	versioning.Register(resources.RT_GRAPH, versioning.FromString(VERSION))
}

// sentinel is the trailing "unused slot" marker; tree back-link slots
// encode a forest node reference as -2-nodeIndex (both per spec.md
// §3/§4.5).
const sentinel = -1

func encodeTreeNode(nodeIdx int32) int32 { return -2 - nodeIdx }

// IsTreeBacklink reports whether a graph back-link slot value
// references a forest node rather than a vector id.
func IsTreeBacklink(v int32) bool { return v < -1 }

// DecodeTreeBacklink recovers the forest node index encoded by a
// back-link slot value for which IsTreeBacklink is true.
func DecodeTreeBacklink(v int32) int32 { return -2 - v }

// Backlink returns row i's trailing tree back-link slot value.
func (g *Graph) Backlink(i int32) int32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rows[int(i)*g.width+g.width-1]
}

// Graph is an N x W table of neighbor ids, row-major, one flat slice.
type Graph struct {
	mu    sync.RWMutex
	width int
	rows  []int32
	n     int
}

// New creates an empty graph of the given neighborhood width (W,
// including the trailing back-link slot).
func New(width int) *Graph {
	return &Graph{width: width}
}

func (g *Graph) Width() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.width
}

func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.n
}

// GrowTo extends the graph with blank rows (all sentinel) up to n
// ids.
func (g *Graph) GrowTo(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.growLocked(n)
}

func (g *Graph) growLocked(n int) {
	for g.n < n {
		g.rows = append(g.rows, make([]int32, g.width)...)
		for i := g.n * g.width; i < len(g.rows); i++ {
			g.rows[i] = sentinel
		}
		g.n++
	}
}

// Rollback truncates the graph back to toCount rows.
func (g *Graph) Rollback(toCount int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if toCount < g.n {
		g.n = toCount
		g.rows = g.rows[:toCount*g.width]
	}
}

// Row returns a read-only copy of row i (width slots, including the
// trailing back-link slot).
func (g *Graph) Row(i int32) []int32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rowLocked(i)
}

func (g *Graph) rowLocked(i int32) []int32 {
	start := int(i) * g.width
	out := make([]int32, g.width)
	copy(out, g.rows[start:start+g.width])
	return out
}

// Neighbors returns row i's non-sentinel neighbor ids (excludes the
// trailing back-link slot).
func (g *Graph) Neighbors(i int32) []int32 {
	row := g.Row(i)
	out := row[:g.width-1]
	for k, v := range out {
		if v == sentinel {
			return out[:k]
		}
	}
	return out
}

func (g *Graph) setRowLocked(i int32, neighbors []int32, backlink int32) {
	start := int(i) * g.width
	for k := 0; k < g.width-1; k++ {
		if k < len(neighbors) {
			g.rows[start+k] = neighbors[k]
		} else {
			g.rows[start+k] = sentinel
		}
	}
	g.rows[start+g.width-1] = backlink
}

// rngPrune admits candidates (already sorted ascending by dist(i, c))
// into i's neighbor list one at a time, keeping c only if it is
// closer to i than to every already-admitted neighbor (spec.md
// §4.5's relative-neighborhood test).
func rngPrune(i int32, candidates []int32, dist func(a, b int32) float64, maxNeighbors int) []int32 {
	admitted := make([]int32, 0, maxNeighbors)
	for _, c := range candidates {
		ok := true
		for _, n := range admitted {
			if !(dist(i, c) < dist(n, c)) {
				ok = false
				break
			}
		}
		if ok {
			admitted = append(admitted, c)
			if len(admitted) == maxNeighbors {
				break
			}
		}
	}
	return admitted
}

// candidatePool gathers i's leaf-cluster siblings from the forest
// plus a random scatter, deduplicated, up to cef members.
func candidatePool(i int32, forest *bkt.Forest, n int32, cef int, rng *rand.Rand, isLive func(int32) bool) []int32 {
	seen := map[int32]bool{i: true}
	var pool []int32

	forest.RLock()
	leafIdx, ok := forest.LeafOf(i)
	var members []int32
	if ok {
		members = append(members, forest.Members(leafIdx)...)
	}
	forest.RUnlock()

	if ok {
		for _, m := range members {
			if !seen[m] && isLive(m) {
				seen[m] = true
				pool = append(pool, m)
			}
		}
	}

	for attempts := 0; len(pool) < cef && attempts < cef*8 && n > 1; attempts++ {
		cand := int32(rng.Intn(int(n)))
		if !seen[cand] && isLive(cand) {
			seen[cand] = true
			pool = append(pool, cand)
		}
	}
	return pool
}

// RefineNode recomputes row i from a fresh candidate pool seeded from
// i's forest leaf cluster plus random scatter, RNG-prunes it to width
// W-1, and sets the tree back-link. When updateNeighborsBack is set,
// it also attempts to insert i into each newly admitted neighbor's
// own row.
func (g *Graph) RefineNode(i int32, forest *bkt.Forest, dist func(a, b int32) float64, rng *rand.Rand, n int32, cef int, updateNeighborsBack bool, isLive func(int32) bool) {
	pool := candidatePool(i, forest, n, cef, rng, isLive)
	sort.Slice(pool, func(a, b int) bool { return dist(i, pool[a]) < dist(i, pool[b]) })

	g.mu.Lock()
	admitted := rngPrune(i, pool, dist, g.width-1)
	backlink := g.backlinkFor(i, forest)
	g.setRowLocked(i, admitted, backlink)
	g.mu.Unlock()

	if updateNeighborsBack {
		for _, j := range admitted {
			g.tryInsertBack(j, i, dist)
		}
	}
}

// backlinkFor computes the tree back-link value for i: the center id
// of i's own leaf cluster, or, for a singleton leaf, a direct
// reference to that leaf's forest node so the search engine can
// re-enter the tree there.
func (g *Graph) backlinkFor(i int32, forest *bkt.Forest) int32 {
	forest.RLock()
	defer forest.RUnlock()

	leafIdx, ok := forest.LeafOf(i)
	if !ok {
		return sentinel
	}
	members := forest.Members(leafIdx)
	if len(members) <= 1 {
		return encodeTreeNode(leafIdx)
	}
	return forest.CenterID(leafIdx)
}

// tryInsertBack attempts to insert i into j's row: admitted only if
// i's distance to j beats j's current worst neighbor and the RNG
// condition holds against j's current row.
func (g *Graph) tryInsertBack(j, i int32, dist func(a, b int32) float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := g.neighborsLocked(j)
	for _, existing := range current {
		if existing == i {
			return
		}
	}
	for _, n := range current {
		if !(dist(j, i) < dist(n, i)) {
			return
		}
	}

	maxNeighbors := g.width - 1
	if len(current) < maxNeighbors {
		current = append(current, i)
	} else {
		worstIdx, worstDist := 0, dist(j, current[0])
		for k, n := range current[1:] {
			if d := dist(j, n); d > worstDist {
				worstIdx, worstDist = k+1, d
			}
		}
		if dist(j, i) >= worstDist {
			return
		}
		current[worstIdx] = i
	}
	sort.Slice(current, func(a, b int) bool { return dist(j, current[a]) < dist(j, current[b]) })
	backlink := g.rows[int(j)*g.width+g.width-1]
	g.setRowLocked(j, current, backlink)
}

func (g *Graph) neighborsLocked(i int32) []int32 {
	start := int(i) * g.width
	row := g.rows[start : start+g.width-1]
	for k, v := range row {
		if v == sentinel {
			out := make([]int32, k)
			copy(out, row[:k])
			return out
		}
	}
	out := make([]int32, len(row))
	copy(out, row)
	return out
}

// BuildGraph runs RefineNode for every id in ids against forest.
func BuildGraph(ids []int32, forest *bkt.Forest, dist func(a, b int32) float64, rng *rand.Rand, width, cef int, isLive func(int32) bool) *Graph {
	g := New(width)
	n := int32(0)
	for _, id := range ids {
		if id+1 > n {
			n = id + 1
		}
	}
	g.GrowTo(int(n))
	for _, id := range ids {
		g.RefineNode(id, forest, dist, rng, n, cef, true, isLive)
	}
	return g
}

// RefineGraph produces a new graph over the compacted id space
// described by remap (remap[oldID] = newID, or -1 if oldID was
// dropped): old rows are translated through remap where every
// neighbor survives, and recomputed via RefineNode wherever any
// neighbor was dropped.
func RefineGraph(old *Graph, remap []int32, newForest *bkt.Forest, dist func(a, b int32) float64, rng *rand.Rand, cef int, isLive func(int32) bool) *Graph {
	newN := 0
	for _, ni := range remap {
		if ni >= 0 && int(ni)+1 > newN {
			newN = int(ni) + 1
		}
	}

	width := old.Width()
	out := New(width)
	out.GrowTo(newN)

	for oldID, newID := range remap {
		if newID < 0 {
			continue
		}
		oldNeighbors := old.Neighbors(int32(oldID))
		translated := make([]int32, 0, len(oldNeighbors))
		stale := false
		for _, m := range oldNeighbors {
			if int(m) >= len(remap) || remap[m] < 0 {
				stale = true
				continue
			}
			translated = append(translated, remap[m])
		}
		if stale || len(translated) == 0 {
			out.RefineNode(newID, newForest, dist, rng, int32(newN), cef, true, isLive)
			continue
		}
		sort.Slice(translated, func(a, b int) bool { return dist(newID, translated[a]) < dist(newID, translated[b]) })
		out.mu.Lock()
		out.setRowLocked(newID, translated, out.backlinkFor(newID, newForest))
		out.mu.Unlock()
	}
	return out
}

// Save writes the graph to w, framed by persist.Write.
func (g *Graph) Save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	body, err := msgpack.Marshal(g.rows)
	if err != nil {
		return err
	}
	return persist.Write(w, resources.RT_GRAPH, uint32(g.n), uint32(g.width), body)
}

// Load reads a Graph previously written by Save.
func Load(r io.Reader) (*Graph, error) {
	header, body, err := persist.Read(r, resources.RT_GRAPH)
	if err != nil {
		return nil, err
	}
	var rows []int32
	if err := msgpack.Unmarshal(body, &rows); err != nil {
		return nil, err
	}
	return &Graph{rows: rows, width: int(header.Dimension), n: int(header.Count)}, nil
}
