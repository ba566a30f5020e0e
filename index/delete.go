package index

import (
	"github.com/annidx/annidx/search"
)

// Delete tombstones id. Returns VectorNotFound if id is out of range
// or was already deleted (spec.md §4.7; mirrors the original's
// DeleteIndex(const SizeType&): only a newly-inserted tombstone is a
// Success).
func (c *Coordinator[T]) Delete(id int32) ErrorCode {
	if !c.ready {
		return EmptyIndex
	}
	c.delMu.Lock()
	defer c.delMu.Unlock()

	if int(id) < 0 || int(id) >= c.vectors.Len() {
		return VectorNotFound
	}
	if !c.deletions.Insert(id) {
		return VectorNotFound
	}
	return Success
}

// DeleteByVectors deletes every live id whose stored vector is within
// floating-point tolerance of one of the m query vectors, i.e. exact
// or near-exact matches. Vectors with no close match are silently
// skipped, matching the original's "best effort" delete-by-value
// semantics.
func (c *Coordinator[T]) DeleteByVectors(vectors []T, m, d int) ErrorCode {
	if !c.ready {
		return EmptyIndex
	}
	if m == 0 || d == 0 {
		return EmptyData
	}
	if d != c.dim {
		return DimensionSizeMismatch
	}

	const exactTolerance = 1e-6

	ws := c.pool.Rent(c.vectors.Len(), c.cfg.CEF)
	defer c.pool.Return(ws)

	for i := 0; i < m; i++ {
		row := vectors[i*d : (i+1)*d]
		queryF64 := make([]float64, d)
		for j, v := range row {
			queryF64[j] = float64(v)
		}

		c.delMu.RLock()
		ops := search.Ops{
			Forest:               c.forest,
			Graph:                c.graphData,
			QueryDist:            func(id int32) float64 { return c.distF64(queryF64, c.vectorF64(id)) },
			InitialDynamicPivots: c.cfg.InitialDynamicPivots,
			OtherDynamicPivots:   c.cfg.OtherDynamicPivots,
			ContinuousLimit:      c.cfg.ContinuousLimit,
			MaxCheck:             c.cfg.MaxCheckForRefineGraph,
		}
		results := search.SearchForRefine(ws, ops, c.isLive)
		c.delMu.RUnlock()

		for _, r := range results {
			if r.Dist >= exactTolerance {
				break
			}
			c.Delete(r.ID)
		}
	}
	return Success
}
