// Package bkt builds and searches the Balanced K-means Tree forest
// used for entry-point seeding. A forest is one or more trees over
// the live vector set; it is rebuilt in full, never edited in place,
// and swapped under its own readers-writer lock (grounded on the
// teacher's reader/writer swap idiom in repository/repository.go,
// adapted to a pure in-memory structure rather than a backing store).
package bkt

import (
	"io"
	"math/rand"
	"sync"

	"github.com/annidx/annidx/persist"
	"github.com/annidx/annidx/resources"
	"github.com/annidx/annidx/versioning"
	"github.com/annidx/annidx/workspace"
	"github.com/vmihailenco/msgpack/v5"
)

const VERSION = "1.0.0"

func init() {
	versioning.Register(resources.RT_TREE, versioning.FromString(VERSION))
}

// Node is one entry of a forest's flat node array. A leaf node has
// ChildStart < 0 (the sentinel spec.md §3 calls for) and carries its
// member ids directly; an internal node's children occupy the
// contiguous, inclusive range [ChildStart, ChildEnd] of the owning
// Forest's Nodes slice.
type Node struct {
	CenterID   int32
	ChildStart int32
	ChildEnd   int32
	Members    []int32 `msgpack:",omitempty"` // leaf members only
}

func (n Node) IsLeaf() bool { return n.ChildStart < 0 }

// Options controls tree shape and the balanced k-means build.
type Options struct {
	NumTrees         int
	BranchFactor     int
	LeafSize         int
	MaxKmeansIters   int
	BalanceTolerance float64 // e.g. 0.3 allows +/-30% of the mean cluster size
}

// Ops supplies the vector access and distance functions the build
// needs; kept as closures so this package stays unparameterized over
// element type (see distance.Numeric and the coordinator that builds
// these closures per spec.md §9 Design Notes).
type Ops struct {
	Vector func(id int32) []float64
	Dist   func(a, b []float64) float64
}

// Forest is a flat array of Nodes holding one or more independently
// built trees, plus a map from vector id to the leaf node that
// contains it (used by the graph builder to seed a node's candidate
// pool from its own cluster).
type Forest struct {
	mu           sync.RWMutex
	Nodes        []Node
	Roots        []int32
	SampleToLeaf map[int32]int32
}

// Build constructs a fresh forest over ids. It does not mutate or
// attach to any existing Forest; callers swap it in themselves (see
// (*Forest).Swap).
func Build(ids []int32, opt Options, ops Ops, rng *rand.Rand) *Forest {
	f := &Forest{SampleToLeaf: make(map[int32]int32, len(ids))}
	for t := 0; t < opt.NumTrees; t++ {
		root := buildTree(f, ids, opt, ops, rng)
		f.Roots = append(f.Roots, root)
	}
	return f
}

// buildTree grows one tree breadth-first so that every internal
// node's children end up contiguous in f.Nodes: each level reserves
// its whole sibling block before recursing into grandchildren.
func buildTree(f *Forest, ids []int32, opt Options, ops Ops, rng *rand.Rand) int32 {
	rootIdx := int32(len(f.Nodes))
	f.Nodes = append(f.Nodes, Node{})
	type pending struct {
		idx int32
		ids []int32
	}
	queue := []pending{{idx: rootIdx, ids: ids}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if len(cur.ids) <= opt.LeafSize {
			f.Nodes[cur.idx] = Node{
				CenterID:   pickCenter(cur.ids, ops),
				ChildStart: -1,
				ChildEnd:   -1,
				Members:    append([]int32(nil), cur.ids...),
			}
			for _, id := range cur.ids {
				f.SampleToLeaf[id] = cur.idx
			}
			continue
		}

		clusters := kmeansSplit(cur.ids, opt, ops, rng)

		childStart := int32(len(f.Nodes))
		for range clusters {
			f.Nodes = append(f.Nodes, Node{})
		}
		childEnd := int32(len(f.Nodes)) - 1

		f.Nodes[cur.idx].CenterID = pickCenter(cur.ids, ops)
		f.Nodes[cur.idx].ChildStart = childStart
		f.Nodes[cur.idx].ChildEnd = childEnd

		for i, c := range clusters {
			queue = append(queue, pending{idx: childStart + int32(i), ids: c})
		}
	}
	return rootIdx
}

// pickCenter returns the id in ids closest to their mean — the
// "centroid sample" spec.md §3 describes, not a synthetic point.
func pickCenter(ids []int32, ops Ops) int32 {
	if len(ids) == 1 {
		return ids[0]
	}
	dim := len(ops.Vector(ids[0]))
	mean := make([]float64, dim)
	for _, id := range ids {
		v := ops.Vector(id)
		for j := range mean {
			mean[j] += v[j]
		}
	}
	for j := range mean {
		mean[j] /= float64(len(ids))
	}

	best, bestDist := ids[0], ops.Dist(ops.Vector(ids[0]), mean)
	for _, id := range ids[1:] {
		d := ops.Dist(ops.Vector(id), mean)
		if d < bestDist {
			best, bestDist = id, d
		}
	}
	return best
}

// kmeansSplit partitions ids into opt.BranchFactor clusters via
// iterative balanced k-means; if the result doesn't balance within
// opt.MaxKmeansIters it falls back to a single random-pivot
// nearest-assignment pass (spec.md §4.4).
func kmeansSplit(ids []int32, opt Options, ops Ops, rng *rand.Rand) [][]int32 {
	k := opt.BranchFactor
	if k > len(ids) {
		k = len(ids)
	}
	if k < 2 {
		return [][]int32{ids}
	}

	pivots := randomPivots(ids, k, rng)
	var clusters [][]int32
	for iter := 0; iter < opt.MaxKmeansIters; iter++ {
		clusters = assignNearest(ids, pivots, k, ops)
		newPivots := make([]int32, k)
		for i, c := range clusters {
			if len(c) == 0 {
				newPivots[i] = pivots[i]
				continue
			}
			newPivots[i] = pickCenter(c, ops)
		}
		converged := true
		for i := range pivots {
			if pivots[i] != newPivots[i] {
				converged = false
				break
			}
		}
		pivots = newPivots
		if converged {
			break
		}
	}

	if balanced(clusters, len(ids), opt.BalanceTolerance) {
		return clusters
	}
	return assignNearest(ids, randomPivots(ids, k, rng), k, ops)
}

func randomPivots(ids []int32, k int, rng *rand.Rand) []int32 {
	perm := rng.Perm(len(ids))
	pivots := make([]int32, k)
	for i := 0; i < k; i++ {
		pivots[i] = ids[perm[i]]
	}
	return pivots
}

func assignNearest(ids []int32, pivots []int32, k int, ops Ops) [][]int32 {
	clusters := make([][]int32, k)
	pivotVecs := make([][]float64, k)
	for i, p := range pivots {
		pivotVecs[i] = ops.Vector(p)
	}
	for _, id := range ids {
		v := ops.Vector(id)
		best, bestDist := 0, ops.Dist(v, pivotVecs[0])
		for i := 1; i < k; i++ {
			d := ops.Dist(v, pivotVecs[i])
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		clusters[best] = append(clusters[best], id)
	}
	return clusters
}

func balanced(clusters [][]int32, total int, tolerance float64) bool {
	mean := float64(total) / float64(len(clusters))
	lo, hi := mean*(1-tolerance), mean*(1+tolerance)
	for _, c := range clusters {
		if float64(len(c)) < lo || float64(len(c)) > hi {
			return false
		}
	}
	return true
}

// RLock/RUnlock/Lock/Unlock expose the forest's readers-writer lock
// directly: a search holds RLock for its entire duration (spec.md §5
// requires one shared-mode hold per query, not one per call), while a
// background rebuild takes Lock only around Swap.

func (f *Forest) RLock()   { f.mu.RLock() }
func (f *Forest) RUnlock() { f.mu.RUnlock() }
func (f *Forest) Lock()    { f.mu.Lock() }
func (f *Forest) Unlock()  { f.mu.Unlock() }

// Swap atomically replaces dst's contents with src's. Callers must
// hold dst's unique lock (see Lock/Unlock); the background rebuild
// job is the only caller.
func (dst *Forest) Swap(src *Forest) {
	dst.Nodes = src.Nodes
	dst.Roots = src.Roots
	dst.SampleToLeaf = src.SampleToLeaf
}

// InitSearchTrees seeds sptq with every tree root, keyed by the
// query's distance to the root's center. Call this once per query
// before the first SearchTrees. The caller must hold at least RLock.
func (f *Forest) InitSearchTrees(sptq *workspace.Queue, queryDist func(id int32) float64) {
	for _, root := range f.Roots {
		sptq.Push(root, queryDist(f.Nodes[root].CenterID))
	}
}

// SearchTrees pops nodes from sptq in best-first order, expanding
// internal nodes' children onto both sptq and ngq and pushing leaf
// representatives onto ngq, until budget pops are consumed or sptq is
// exhausted. The caller must hold at least RLock.
func (f *Forest) SearchTrees(sptq, ngq *workspace.Queue, queryDist func(id int32) float64, budget int) {
	for i := 0; i < budget; i++ {
		nodeIdx, _, ok := sptq.Pop()
		if !ok {
			return
		}
		node := f.Nodes[nodeIdx]
		if node.IsLeaf() {
			ngq.Push(node.CenterID, queryDist(node.CenterID))
			continue
		}
		for c := node.ChildStart; c <= node.ChildEnd; c++ {
			child := f.Nodes[c]
			d := queryDist(child.CenterID)
			sptq.Push(c, d)
			ngq.Push(child.CenterID, d)
		}
	}
}

// Children returns the ordered child node indices of an internal tree
// node, used by the search engine when a graph row's tree back-link
// points at a forest node rather than a vector. The caller must hold
// at least RLock.
func (f *Forest) Children(nodeIdx int32) []int32 {
	node := f.Nodes[nodeIdx]
	if node.IsLeaf() {
		return nil
	}
	out := make([]int32, 0, node.ChildEnd-node.ChildStart+1)
	for c := node.ChildStart; c <= node.ChildEnd; c++ {
		out = append(out, c)
	}
	return out
}

// CenterID returns the representative vector id of a forest node. The
// caller must hold at least RLock.
func (f *Forest) CenterID(nodeIdx int32) int32 {
	return f.Nodes[nodeIdx].CenterID
}

// LeafOf returns the leaf node index containing id, and whether id
// was found in the sample map. The caller must hold at least RLock.
func (f *Forest) LeafOf(id int32) (int32, bool) {
	idx, ok := f.SampleToLeaf[id]
	return idx, ok
}

// Members returns the vector ids held by leaf node nodeIdx. The
// caller must hold at least RLock.
func (f *Forest) Members(nodeIdx int32) []int32 {
	return f.Nodes[nodeIdx].Members
}

// Save writes the forest to w, framed by persist.Write.
func (f *Forest) Save(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	type wire struct {
		Nodes        []Node
		Roots        []int32
		SampleToLeaf map[int32]int32
	}
	body, err := msgpack.Marshal(wire{Nodes: f.Nodes, Roots: f.Roots, SampleToLeaf: f.SampleToLeaf})
	if err != nil {
		return err
	}
	return persist.Write(w, resources.RT_TREE, uint32(len(f.Nodes)), uint32(len(f.Roots)), body)
}

// Load reads a Forest previously written by Save.
func Load(r io.Reader) (*Forest, error) {
	_, body, err := persist.Read(r, resources.RT_TREE)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Nodes        []Node
		Roots        []int32
		SampleToLeaf map[int32]int32
	}
	if err := msgpack.Unmarshal(body, &wire); err != nil {
		return nil, err
	}
	return &Forest{Nodes: wire.Nodes, Roots: wire.Roots, SampleToLeaf: wire.SampleToLeaf}, nil
}
