// Package workspace owns the per-query scratch a search needs: a
// visited bitset, the two best-first priority queues (NGQ over graph
// candidates, SPTQ over tree pivots), and the bounded top-K result
// set. A Workspace is never shared between concurrent queries; the
// Pool hands one out per query and blocks renters when none are free,
// the same bounded-concurrency shape as the teacher's worker pools.
package workspace

import (
	"container/heap"
	"math"
)

// candidate is one (id, distance) pair held in a queue or the top-K
// set.
type candidate struct {
	id   int32
	dist float64
}

// heapSlice is a container/heap-compatible min-heap over candidates,
// ordered by ascending distance with ties broken by ascending id.
type heapSlice []candidate

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].id < h[j].id
}
func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heapSlice) Push(x any)   { *h = append(*h, x.(candidate)) }
func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a best-first min-priority-queue over (id, distance) pairs.
// NGQ (graph candidates) and SPTQ (tree pivots) are both instances of
// this same shape.
type Queue struct {
	items heapSlice
}

func (q *Queue) Push(id int32, dist float64) {
	heap.Push(&q.items, candidate{id: id, dist: dist})
}

// Pop removes and returns the minimum-distance entry. ok is false when
// the queue is empty.
func (q *Queue) Pop() (id int32, dist float64, ok bool) {
	if len(q.items) == 0 {
		return 0, 0, false
	}
	c := heap.Pop(&q.items).(candidate)
	return c.id, c.dist, true
}

func (q *Queue) Len() int { return len(q.items) }

// PeekDist returns the minimum distance currently queued, or +Inf if
// empty.
func (q *Queue) PeekDist() float64 {
	if len(q.items) == 0 {
		return math.Inf(1)
	}
	return q.items[0].dist
}

func (q *Queue) reset() {
	q.items = q.items[:0]
}

// TopK is a bounded result set: at most K (id, distance) pairs, with
// O(K) admission (a linear scan for the current worst) and a
// dedup-friendly id membership check.
type TopK struct {
	k       int
	items   heapSlice // unordered; the worst entry is found by a linear scan, and Sorted orders a copy
	present map[int32]struct{}
}

func newTopK(k int) *TopK {
	return &TopK{k: k, present: make(map[int32]struct{}, k)}
}

func (t *TopK) reset(k int) {
	t.k = k
	t.items = t.items[:0]
	for id := range t.present {
		delete(t.present, id)
	}
}

// Contains reports whether id is currently held in the result set.
func (t *TopK) Contains(id int32) bool {
	_, ok := t.present[id]
	return ok
}

// WorstDist returns the Kth-smallest distance held so far, or +Inf
// while the set holds fewer than K entries.
func (t *TopK) WorstDist() float64 {
	if len(t.items) < t.k {
		return math.Inf(1)
	}
	worst := t.items[0].dist
	for _, c := range t.items[1:] {
		if c.dist > worst {
			worst = c.dist
		}
	}
	return worst
}

// TryAdd admits (id, dist) into the result set if it improves on the
// current worst (or the set isn't full yet), evicting the previous
// worst when the set was already full. Reports whether id was
// admitted.
func (t *TopK) TryAdd(id int32, dist float64) bool {
	if len(t.items) < t.k {
		t.items = append(t.items, candidate{id: id, dist: dist})
		t.present[id] = struct{}{}
		return true
	}
	worstIdx, worstDist := 0, t.items[0].dist
	for i, c := range t.items[1:] {
		if c.dist > worstDist {
			worstIdx, worstDist = i+1, c.dist
		}
	}
	if dist >= worstDist {
		return false
	}
	delete(t.present, t.items[worstIdx].id)
	t.items[worstIdx] = candidate{id: id, dist: dist}
	t.present[id] = struct{}{}
	return true
}

// Result is one entry of a sorted top-K result.
type Result struct {
	ID   int32
	Dist float64
}

// Sorted returns the held results ascending by distance, ties broken
// by ascending id.
func (t *TopK) Sorted() []Result {
	cp := make(heapSlice, len(t.items))
	copy(cp, t.items)
	// insertion sort: K is small (tens), and heapSlice already defines Less.
	for i := 1; i < len(cp); i++ {
		for j := i; j > 0 && cp.Less(j, j-1); j-- {
			cp.Swap(j, j-1)
		}
	}
	out := make([]Result, len(cp))
	for i, c := range cp {
		out[i] = Result{ID: c.id, Dist: c.dist}
	}
	return out
}

const wordBits = 64

// Workspace is one query's reusable scratch: visited bitset, the two
// priority queues, the top-K result set, and the stall counters the
// search engine uses to decide when to stop.
type Workspace struct {
	visited       []uint64
	NGQ           Queue
	SPTQ          Queue
	Top           *TopK
	CheckedLeaves int
	NoImprovement int
}

// New allocates a Workspace sized for a universe of n ids and a top-K
// of size k.
func New(n, k int) *Workspace {
	w := &Workspace{Top: newTopK(k)}
	w.Reset(n, k)
	return w
}

// Reset clears a Workspace for reuse against a (possibly resized)
// universe of n ids and a top-K of size k.
func (w *Workspace) Reset(n, k int) {
	words := (n + wordBits - 1) / wordBits
	if cap(w.visited) < words {
		w.visited = make([]uint64, words)
	} else {
		w.visited = w.visited[:words]
		for i := range w.visited {
			w.visited[i] = 0
		}
	}
	w.NGQ.reset()
	w.SPTQ.reset()
	w.Top.reset(k)
	w.CheckedLeaves = 0
	w.NoImprovement = 0
}

// Visited reports whether id has been marked visited in this
// workspace instance.
func (w *Workspace) Visited(id int32) bool {
	wi := int(id) / wordBits
	if wi < 0 || wi >= len(w.visited) {
		return false
	}
	return w.visited[wi]&(uint64(1)<<uint(int(id)%wordBits)) != 0
}

// MarkVisited sets id's visited bit.
func (w *Workspace) MarkVisited(id int32) {
	wi := int(id) / wordBits
	if wi < 0 || wi >= len(w.visited) {
		return
	}
	w.visited[wi] |= uint64(1) << uint(int(id)%wordBits)
}
