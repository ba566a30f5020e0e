// Package search implements the best-first traversal that combines a
// BKT forest (for entry-point seeding) and a neighbor graph (for
// expansion) into a sorted top-K result, per spec.md §4.6. One
// generic traversal takes a deletion predicate and a duplication
// predicate as closures; the four named combinations and the
// wide-pool refine variant are thin wrappers, since Go has no
// templates to specialize the algorithm four times the way the
// original does for branch-prediction clarity.
package search

import (
	"github.com/annidx/annidx/bkt"
	"github.com/annidx/annidx/graph"
	"github.com/annidx/annidx/workspace"
)

// Ops supplies everything one query needs beyond the workspace:
// per-query distance, the forest, the graph, and the search
// termination parameters.
type Ops struct {
	Forest               *bkt.Forest
	Graph                *graph.Graph
	QueryDist            func(id int32) float64
	InitialDynamicPivots int
	OtherDynamicPivots   int
	ContinuousLimit      int
	MaxCheck             int
}

// Run performs one best-first traversal into ws, admitting candidates
// through isLive (the deletion predicate — return false to hide a
// deleted id) and admit (the duplication predicate — return false to
// reject an id already present by the caller's definition). It
// returns the sorted top-K results.
func Run(ws *workspace.Workspace, ops Ops, isLive func(id int32) bool, admit func(w *workspace.Workspace, id int32, dist float64) bool) []workspace.Result {
	ops.Forest.RLock()
	defer ops.Forest.RUnlock()

	ops.Forest.InitSearchTrees(&ws.SPTQ, ops.QueryDist)
	ops.Forest.SearchTrees(&ws.SPTQ, &ws.NGQ, ops.QueryDist, ops.InitialDynamicPivots)

	for ws.NGQ.Len() > 0 {
		tmpNode, d, ok := ws.NGQ.Pop()
		if !ok {
			break
		}

		if d <= ws.Top.WorstDist() {
			ws.NoImprovement = 0

			backlink := ops.Graph.Backlink(tmpNode)
			if graph.IsTreeBacklink(backlink) {
				nodeIdx := graph.DecodeTreeBacklink(backlink)
				// A leaf node is re-entered through its member ids; an
				// internal node through its children's centers.
				centers := ops.Forest.Members(nodeIdx)
				if len(centers) == 0 {
					for _, child := range ops.Forest.Children(nodeIdx) {
						centers = append(centers, ops.Forest.CenterID(child))
					}
				}
				for _, center := range centers {
					if !isLive(center) {
						continue
					}
					if admit(ws, center, ops.QueryDist(center)) {
						break
					}
				}
			} else if isLive(tmpNode) {
				admit(ws, tmpNode, d)
			}
		} else {
			ws.NoImprovement++
			if ws.NoImprovement > ops.ContinuousLimit || ws.CheckedLeaves > ops.MaxCheck {
				break
			}
		}

		for _, nb := range ops.Graph.Neighbors(tmpNode) {
			if ws.Visited(nb) {
				continue
			}
			ws.MarkVisited(nb)
			dist := ops.QueryDist(nb)
			ws.CheckedLeaves++
			ws.NGQ.Push(nb, dist)
		}

		if ws.NGQ.PeekDist() > ws.SPTQ.PeekDist() {
			ops.Forest.SearchTrees(&ws.SPTQ, &ws.NGQ, ops.QueryDist, ops.OtherDynamicPivots+ws.CheckedLeaves)
		}
	}

	return ws.Top.Sorted()
}

func alwaysLive(int32) bool  { return true }
func admitPlain(w *workspace.Workspace, id int32, dist float64) bool {
	return w.Top.TryAdd(id, dist)
}
func admitDeduped(w *workspace.Workspace, id int32, dist float64) bool {
	if w.Top.Contains(id) {
		return false
	}
	return w.Top.TryAdd(id, dist)
}

// Search is the default search: deletions hidden, duplicates allowed.
func Search(ws *workspace.Workspace, ops Ops, isLive func(id int32) bool) []workspace.Result {
	return Run(ws, ops, isLive, admitPlain)
}

// SearchIncludeDeleted keeps deleted ids visible.
func SearchIncludeDeleted(ws *workspace.Workspace, ops Ops) []workspace.Result {
	return Run(ws, ops, alwaysLive, admitPlain)
}

// SearchDeduped hides deletions and additionally rejects ids already
// present in the result set (searchDuplicated=true in spec.md terms).
func SearchDeduped(ws *workspace.Workspace, ops Ops, isLive func(id int32) bool) []workspace.Result {
	return Run(ws, ops, isLive, admitDeduped)
}

// SearchIncludeDeletedDeduped is the fourth combination: deletions
// visible, duplicates rejected.
func SearchIncludeDeletedDeduped(ws *workspace.Workspace, ops Ops) []workspace.Result {
	return Run(ws, ops, alwaysLive, admitDeduped)
}

// SearchForRefine is the wide-pool variant the coordinator's
// DeleteByVectors uses: duplication is disabled (it wants every
// candidate, including ones the caller already holds) and callers
// typically pass a larger ops.MaxCheck (MaxCheckForRefineGraph).
func SearchForRefine(ws *workspace.Workspace, ops Ops, isLive func(id int32) bool) []workspace.Result {
	return Run(ws, ops, isLive, admitPlain)
}
