package index

import (
	"math/rand"

	"github.com/annidx/annidx/bkt"
	"github.com/annidx/annidx/deletionset"
	"github.com/annidx/annidx/graph"
	"github.com/annidx/annidx/workspace"
)

// Refine compacts away every tombstoned id and rebuilds the forest
// and graph over the shrunk, contiguous id space, returning a fresh
// Coordinator. The receiver is left untouched; callers swap it out
// for the returned instance. Grounded on BKTIndex.cpp's RefineIndex,
// adapted to Go's value-return style rather than in-place mutation of
// a shared index handle.
func (c *Coordinator[T]) Refine() (*Coordinator[T], ErrorCode) {
	if !c.ready {
		return nil, EmptyIndex
	}

	c.addMu.Lock()
	defer c.addMu.Unlock()
	c.delMu.Lock()
	defer c.delMu.Unlock()

	n := c.vectors.Len()
	keepIDs, reverseIDs := computeRefineRemap(n, c.deletions.Contains)
	if len(keepIDs) == 0 {
		return nil, EmptyIndex
	}

	out := &Coordinator[T]{
		ID:            c.ID,
		cfg:           c.cfg,
		Log:           c.Log,
		dim:           c.dim,
		distF64:       c.distF64,
		rebuildQueued: make(chan struct{}, 1),
		metadata:      make(map[int32][]byte, len(keepIDs)),
		metaToVec:     make(map[string]int32, len(keepIDs)),
	}
	out.bindParams()

	out.vectors = c.vectors.Refine(keepIDs)
	out.deletions = deletionset.New()

	newIDs := make([]int32, len(keepIDs))
	for i := range keepIDs {
		newIDs[i] = int32(i)
	}
	rng := rand.New(rand.NewSource(2))
	out.forest = bkt.Build(newIDs, out.bktOptions(), out.bktOps(), rng)

	alwaysLive := func(int32) bool { return true }
	out.graphData = graph.RefineGraph(c.graphData, reverseIDs, out.forest, out.pairDist, rng, c.cfg.CEF, alwaysLive)

	for oldID, meta := range c.metadata {
		newID := reverseIDs[oldID]
		if newID < 0 {
			continue
		}
		out.metadata[newID] = meta
		out.metaToVec[string(meta)] = newID
	}

	out.pool = workspace.NewPool(c.cfg.NumberOfThreads, len(keepIDs), 16)
	out.ready = true
	out.insertedSinceRebuild = 0
	out.startRebuildWorker()

	out.Log.Info("refine: %d -> %d vectors", n, len(keepIDs))
	return out, Success
}
