package index

import (
	"math/rand"

	"github.com/annidx/annidx/bkt"
	"github.com/annidx/annidx/graph"
)

// startRebuildWorker launches the single goroutine that drains
// rebuildQueued and rebuilds the forest. Exactly one rebuild runs at a
// time; a rebuild request that arrives while one is already queued is
// dropped (spec.md §9 Design Notes: "a single-slot channel, drop on
// full"), since the eventually-queued rebuild will already pick up
// every insertion made before it runs.
func (c *Coordinator[T]) startRebuildWorker() {
	c.rebuildWG.Add(1)
	go func() {
		defer c.rebuildWG.Done()
		for range c.rebuildQueued {
			c.rebuildForest()
		}
	}()
}

// queueRebuild signals the background worker to rebuild the forest.
// Non-blocking: if a rebuild is already queued, this is a no-op.
func (c *Coordinator[T]) queueRebuild() {
	select {
	case c.rebuildQueued <- struct{}{}:
	default:
	}
}

// rebuildForest recomputes the BKT forest and neighbor graph over the
// current live (not tombstoned) ids, then swaps them into place.
// The expensive bkt.Build/graph.BuildGraph computation runs with no
// coordinator lock held at all — only a short delMu.RLock to snapshot
// the live-id list beforehand — so per spec.md §5 "while the rebuild
// runs, searches continue against the old forest": a concurrent
// Search/Add/Delete/Save/Refine is only ever blocked for the brief
// swap at the end, never for the full rebuild duration.
func (c *Coordinator[T]) rebuildForest() {
	c.delMu.RLock()
	total := c.vectors.Len()
	ids := make([]int32, 0, total)
	for i := 0; i < total; i++ {
		if c.isLive(int32(i)) {
			ids = append(ids, int32(i))
		}
	}
	c.delMu.RUnlock()

	if len(ids) == 0 {
		return
	}

	rng := rand.New(rand.NewSource(int64(total) + 7))
	newForest := bkt.Build(ids, c.bktOptions(), c.bktOps(), rng)
	newGraph := graph.BuildGraph(ids, newForest, c.pairDist, rng, c.cfg.NeighborhoodSize, c.cfg.CEF, c.isLive)

	c.addMu.Lock()
	defer c.addMu.Unlock()
	c.delMu.Lock()
	defer c.delMu.Unlock()

	// Any Add that ran while newForest/newGraph were being built wrote
	// its rows into the old c.graphData, which the swap below discards.
	// Fold those ids into newGraph first so the swap never shrinks the
	// row count below c.vectors.Len() or drops a row Add already
	// published; these ids simply remain un-clustered until the next
	// rebuild, same as any id added since the last rebuild.
	currentTotal := c.vectors.Len()
	newGraph.GrowTo(currentTotal)
	if currentTotal > total {
		for id := int32(total); id < int32(currentTotal); id++ {
			if c.isLive(id) {
				newGraph.RefineNode(id, newForest, c.pairDist, rng, int32(currentTotal), c.cfg.AddCEF, true, c.isLive)
			}
		}
	}

	c.forest.Lock()
	c.forest.Swap(newForest)
	c.forest.Unlock()

	c.graphData = newGraph
	c.insertedSinceRebuild = 0

	c.Log.Info("rebuild: %d live vectors", len(ids))
}

// Close stops the background rebuild worker, releasing its goroutine.
// Safe to call once after the coordinator is no longer in use.
func (c *Coordinator[T]) Close() {
	close(c.rebuildQueued)
	c.rebuildWG.Wait()
}
