package graph

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/annidx/annidx/bkt"
)

func lineOps(n int) ([]int32, bkt.Ops, func(a, b int32) float64) {
	vecs := make(map[int32][]float64, n)
	ids := make([]int32, n)
	for i := 0; i < n; i++ {
		vecs[int32(i)] = []float64{float64(i)}
		ids[i] = int32(i)
	}
	distVec := func(a, b []float64) float64 { d := a[0] - b[0]; return d * d }
	ops := bkt.Ops{
		Vector: func(id int32) []float64 { return vecs[id] },
		Dist:   distVec,
	}
	distID := func(a, b int32) float64 { return distVec(vecs[a], vecs[b]) }
	return ids, ops, distID
}

func alwaysLive(int32) bool { return true }

func TestGrowToAndRollback(t *testing.T) {
	g := New(4)
	g.GrowTo(5)
	if g.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", g.Len())
	}
	for i := int32(0); i < 5; i++ {
		for _, v := range g.Row(i) {
			if v != sentinel {
				t.Errorf("fresh row %d has non-sentinel slot %d", i, v)
			}
		}
	}
	g.Rollback(2)
	if g.Len() != 2 {
		t.Errorf("Len() after Rollback = %d, want 2", g.Len())
	}
}

func TestBuildGraphNeighborsShape(t *testing.T) {
	ids, ops, dist := lineOps(30)
	forest := bkt.Build(ids, bkt.Options{NumTrees: 1, BranchFactor: 4, LeafSize: 3, MaxKmeansIters: 10, BalanceTolerance: 0.8}, ops, rand.New(rand.NewSource(1)))

	width := 5
	g := BuildGraph(ids, forest, dist, rand.New(rand.NewSource(2)), width, 8, alwaysLive)

	for _, id := range ids {
		row := g.Row(id)
		if len(row) != width {
			t.Fatalf("row %d has %d slots, want %d", id, len(row), width)
		}
		neighbors := g.Neighbors(id)
		seen := map[int32]bool{}
		for _, n := range neighbors {
			if n == id {
				t.Errorf("row %d contains itself", id)
			}
			if seen[n] {
				t.Errorf("row %d has duplicate neighbor %d", id, n)
			}
			seen[n] = true
		}
	}
}

func TestRNGPruneExcludesFartherDuplicateDirection(t *testing.T) {
	// three colinear points: 0, 5, 6. 5 is admitted first; 6 is then
	// pruned because it is closer to the admitted 5 (squared distance 1)
	// than to 0 (squared distance 36).
	dist := func(a, b int32) float64 {
		pos := map[int32]float64{0: 0, 5: 5, 6: 6}
		d := pos[a] - pos[b]
		return d * d
	}
	admitted := rngPrune(0, []int32{5, 6}, dist, 2)
	if len(admitted) != 1 || admitted[0] != 5 {
		t.Errorf("rngPrune = %v, want [5] (6 pruned by relative-neighborhood test)", admitted)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ids, ops, dist := lineOps(20)
	forest := bkt.Build(ids, bkt.Options{NumTrees: 1, BranchFactor: 4, LeafSize: 3, MaxKmeansIters: 10, BalanceTolerance: 0.8}, ops, rand.New(rand.NewSource(3)))
	g := BuildGraph(ids, forest, dist, rand.New(rand.NewSource(4)), 4, 8, alwaysLive)

	var buf bytes.Buffer
	if err := g.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != g.Len() || loaded.Width() != g.Width() {
		t.Fatalf("loaded shape mismatch: len=%d width=%d, want len=%d width=%d",
			loaded.Len(), loaded.Width(), g.Len(), g.Width())
	}
	for _, id := range ids {
		want, got := g.Row(id), loaded.Row(id)
		for k := range want {
			if want[k] != got[k] {
				t.Errorf("row %d slot %d = %d, want %d", id, k, got[k], want[k])
			}
		}
	}
}

func TestRefineGraphCompactsAndTranslates(t *testing.T) {
	ids, ops, dist := lineOps(12)
	forest := bkt.Build(ids, bkt.Options{NumTrees: 1, BranchFactor: 3, LeafSize: 2, MaxKmeansIters: 10, BalanceTolerance: 0.9}, ops, rand.New(rand.NewSource(5)))
	g := BuildGraph(ids, forest, dist, rand.New(rand.NewSource(6)), 4, 8, alwaysLive)

	// drop ids 0 and 5; remap the rest contiguously.
	dropped := map[int32]bool{0: true, 5: true}
	remap := make([]int32, 12)
	next := int32(0)
	for i := int32(0); i < 12; i++ {
		if dropped[i] {
			remap[i] = -1
			continue
		}
		remap[i] = next
		next++
	}

	newIDs := make([]int32, 0, next)
	newVecs := make(map[int32][]float64)
	for old, ni := range remap {
		if ni >= 0 {
			newIDs = append(newIDs, ni)
			newVecs[ni] = []float64{float64(old)}
		}
	}
	newOps := bkt.Ops{
		Vector: func(id int32) []float64 { return newVecs[id] },
		Dist:   ops.Dist,
	}
	newForest := bkt.Build(newIDs, bkt.Options{NumTrees: 1, BranchFactor: 3, LeafSize: 2, MaxKmeansIters: 10, BalanceTolerance: 0.9}, newOps, rand.New(rand.NewSource(7)))
	newDist := func(a, b int32) float64 { return ops.Dist(newVecs[a], newVecs[b]) }

	refined := RefineGraph(g, remap, newForest, newDist, rand.New(rand.NewSource(8)), 8, alwaysLive)
	if refined.Len() != int(next) {
		t.Fatalf("refined.Len() = %d, want %d", refined.Len(), next)
	}
	for _, id := range newIDs {
		for _, n := range refined.Neighbors(id) {
			if n == id {
				t.Errorf("refined row %d contains itself", id)
			}
			if int(n) >= refined.Len() {
				t.Errorf("refined row %d has out-of-range neighbor %d", id, n)
			}
		}
	}
}
