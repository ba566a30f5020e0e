package index

import (
	"github.com/annidx/annidx/search"
	"github.com/annidx/annidx/workspace"
)

// Result is one search hit: a vector id, its distance to the query,
// and any metadata carried alongside it at Add time.
type Result struct {
	ID       int32
	Dist     float64
	Metadata []byte
}

func (c *Coordinator[T]) queryOps(queryF64 []float64) search.Ops {
	return search.Ops{
		Forest:               c.forest,
		Graph:                c.graphData,
		QueryDist:            func(id int32) float64 { return c.distF64(queryF64, c.vectorF64(id)) },
		InitialDynamicPivots: c.cfg.InitialDynamicPivots,
		OtherDynamicPivots:   c.cfg.OtherDynamicPivots,
		ContinuousLimit:      c.cfg.ContinuousLimit,
		MaxCheck:             c.cfg.MaxCheck,
	}
}

func (c *Coordinator[T]) toF64(query []T) []float64 {
	out := make([]float64, len(query))
	for i, v := range query {
		out[i] = float64(v)
	}
	return out
}

func (c *Coordinator[T]) toResults(raw []workspace.Result) []Result {
	out := make([]Result, len(raw))
	c.delMu.RLock()
	defer c.delMu.RUnlock()
	for i, r := range raw {
		out[i] = Result{ID: r.ID, Dist: r.Dist, Metadata: c.metadata[r.ID]}
	}
	return out
}

func (c *Coordinator[T]) runQuery(query []T, k int, run func(*workspace.Workspace, search.Ops) []workspace.Result) ([]Result, ErrorCode) {
	if !c.ready {
		return nil, EmptyIndex
	}
	if len(query) != c.dim {
		return nil, DimensionSizeMismatch
	}
	if k <= 0 {
		return nil, LackOfInputs
	}

	queryF64 := c.toF64(query)
	ws := c.pool.Rent(c.vectors.Len(), k)
	defer c.pool.Return(ws)

	c.delMu.RLock()
	ops := c.queryOps(queryF64)
	raw := run(ws, ops)
	c.delMu.RUnlock()
	return c.toResults(raw), Success
}

// Search returns the k nearest live neighbors of query.
func (c *Coordinator[T]) Search(query []T, k int) ([]Result, ErrorCode) {
	return c.runQuery(query, k, func(ws *workspace.Workspace, ops search.Ops) []workspace.Result {
		return search.Search(ws, ops, c.isLive)
	})
}

// SearchIncludeDeleted behaves like Search but does not hide
// tombstoned ids from the result set.
func (c *Coordinator[T]) SearchIncludeDeleted(query []T, k int) ([]Result, ErrorCode) {
	return c.runQuery(query, k, search.SearchIncludeDeleted)
}

// SearchDeduped behaves like Search but rejects an id that is already
// present in the result set, so returned ids are pairwise distinct.
func (c *Coordinator[T]) SearchDeduped(query []T, k int) ([]Result, ErrorCode) {
	return c.runQuery(query, k, func(ws *workspace.Workspace, ops search.Ops) []workspace.Result {
		return search.SearchDeduped(ws, ops, c.isLive)
	})
}
