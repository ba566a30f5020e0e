package index

import (
	"math"
	"math/rand"

	"github.com/annidx/annidx/distance"
	"golang.org/x/sync/errgroup"
)

// Add appends m new vectors of dimension d to the index, wires each
// into the neighbor graph immediately, and queues a background forest
// rebuild once AddCountForRebuild insertions have accumulated. New
// ids are searchable right away through graph traversal from existing
// entry points even before the next rebuild folds them into the tree
// (spec.md §9 Design Notes).
func (c *Coordinator[T]) Add(data []T, m, d int) ErrorCode {
	_, code := c.addWithMetadata(data, m, d, nil)
	return code
}

// AddWithDedup behaves like Add but skips any vector whose metadata
// string already maps to an existing live id, returning the existing
// id instead of inserting a duplicate.
func (c *Coordinator[T]) AddWithDedup(data []T, m, d int, metadata [][]byte) (ids []int32, code ErrorCode) {
	if !c.ready {
		return nil, EmptyIndex
	}
	if m == 0 || d == 0 {
		return nil, EmptyData
	}
	if d != c.dim {
		return nil, DimensionSizeMismatch
	}
	if len(metadata) != m {
		return nil, LackOfInputs
	}

	ids = make([]int32, m)
	fresh := make([]int, 0, m)

	c.delMu.RLock()
	for i := 0; i < m; i++ {
		key := string(metadata[i])
		if existing, ok := c.metaToVec[key]; ok && c.isLive(existing) {
			ids[i] = existing
			continue
		}
		fresh = append(fresh, i)
	}
	c.delMu.RUnlock()

	if len(fresh) == 0 {
		return ids, Success
	}

	freshData := make([]T, 0, len(fresh)*d)
	freshMeta := make([][]byte, 0, len(fresh))
	for _, i := range fresh {
		freshData = append(freshData, data[i*d:(i+1)*d]...)
		freshMeta = append(freshMeta, metadata[i])
	}

	firstID, code := c.addWithMetadata(freshData, len(fresh), d, freshMeta)
	if code != Success {
		return nil, code
	}
	for j, i := range fresh {
		ids[i] = firstID + int32(j)
	}
	return ids, Success
}

// addWithMetadata is the shared implementation behind Add and
// AddWithDedup. metadata may be nil (no metadata carried) or exactly
// m entries long.
func (c *Coordinator[T]) addWithMetadata(data []T, m, d int, metadata [][]byte) (firstID int32, code ErrorCode) {
	if !c.ready {
		return 0, EmptyIndex
	}
	if m == 0 || d == 0 {
		return 0, EmptyData
	}
	if d != c.dim {
		return 0, DimensionSizeMismatch
	}
	if metadata != nil && len(metadata) != m {
		return 0, LackOfInputs
	}

	c.addMu.Lock()
	defer c.addMu.Unlock()

	if int64(c.vectors.Len())+int64(m) > math.MaxInt32 {
		return 0, MemoryOverflow
	}

	vecCountBefore := c.vectors.Len()
	graphCountBefore := c.graphData.Len()

	first, err := c.vectors.Append(data)
	if err != nil {
		return 0, Fail
	}
	if c.cfg.DistCalcMethod == distance.Cosine {
		c.vectors.Normalize(first, first+m, distance.Base[T]())
	}

	total := c.vectors.Len()
	c.graphData.GrowTo(total)

	// Each new id's RefineNode call only touches its own row plus
	// whatever rows it backlinks into, and graph.Graph serializes those
	// under its own mutex, so the fan-out is safe to run concurrently,
	// bounded to the configured thread count.
	var g errgroup.Group
	g.SetLimit(max(1, c.cfg.NumberOfThreads))
	for i := 0; i < m; i++ {
		i := i
		g.Go(func() error {
			id := int32(first + i)
			rng := rand.New(rand.NewSource(int64(first)*2654435761 + int64(i) + 1))
			c.graphData.RefineNode(id, c.forest, c.pairDist, rng, int32(total), c.cfg.AddCEF, true, c.isLive)
			return nil
		})
	}
	g.Wait()

	if metadata != nil {
		c.delMu.Lock()
		for i := 0; i < m; i++ {
			id := int32(first + i)
			c.metadata[id] = metadata[i]
			c.metaToVec[string(metadata[i])] = id
		}
		c.delMu.Unlock()
	}

	if c.graphData.Len() < total {
		c.vectors.Rollback(vecCountBefore)
		c.graphData.Rollback(graphCountBefore)
		c.deletions.Rollback(vecCountBefore)
		return 0, MemoryOverflow
	}

	c.insertedSinceRebuild += m
	if c.insertedSinceRebuild >= c.cfg.AddCountForRebuild {
		c.queueRebuild()
	}

	c.Log.Info("add: %d vectors, first id %d", m, first)
	return int32(first), Success
}
