package bkt

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/annidx/annidx/workspace"
)

func gridOps() ([]int32, Ops) {
	// 16 points on a 4x4 integer grid, 2-d.
	vecs := make(map[int32][]float64)
	var ids []int32
	var id int32
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			vecs[id] = []float64{float64(x), float64(y)}
			ids = append(ids, id)
			id++
		}
	}
	ops := Ops{
		Vector: func(i int32) []float64 { return vecs[i] },
		Dist: func(a, b []float64) float64 {
			dx, dy := a[0]-b[0], a[1]-b[1]
			return dx*dx + dy*dy
		},
	}
	return ids, ops
}

func testOptions() Options {
	return Options{
		NumTrees:         2,
		BranchFactor:     4,
		LeafSize:         2,
		MaxKmeansIters:   10,
		BalanceTolerance: 0.8,
	}
}

func TestBuildCoversEverySample(t *testing.T) {
	ids, ops := gridOps()
	f := Build(ids, testOptions(), ops, rand.New(rand.NewSource(1)))

	if len(f.Roots) != 2 {
		t.Fatalf("len(Roots) = %d, want 2", len(f.Roots))
	}
	for _, id := range ids {
		if _, ok := f.LeafOf(id); !ok {
			t.Errorf("id %d missing from SampleToLeaf", id)
		}
	}
}

func TestBuildLeavesRespectSize(t *testing.T) {
	ids, ops := gridOps()
	f := Build(ids, testOptions(), ops, rand.New(rand.NewSource(2)))

	for _, n := range f.Nodes {
		if n.IsLeaf() && len(n.Members) > testOptions().LeafSize*2 {
			t.Errorf("leaf with %d members exceeds expected bound", len(n.Members))
		}
	}
}

func TestInitAndSearchTrees(t *testing.T) {
	ids, ops := gridOps()
	f := Build(ids, testOptions(), ops, rand.New(rand.NewSource(3)))

	query := []float64{0, 0}
	queryDist := func(id int32) float64 { return ops.Dist(ops.Vector(id), query) }

	var sptq, ngq workspace.Queue
	f.RLock()
	defer f.RUnlock()
	f.InitSearchTrees(&sptq, queryDist)
	if sptq.Len() != len(f.Roots) {
		t.Fatalf("sptq.Len() = %d, want %d", sptq.Len(), len(f.Roots))
	}

	f.SearchTrees(&sptq, &ngq, queryDist, 100)
	if ngq.Len() == 0 {
		t.Error("SearchTrees should have pushed candidates onto ngq")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ids, ops := gridOps()
	f := Build(ids, testOptions(), ops, rand.New(rand.NewSource(4)))

	var buf bytes.Buffer
	if err := f.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Nodes) != len(f.Nodes) || len(loaded.Roots) != len(f.Roots) {
		t.Fatalf("loaded forest shape mismatch: %d nodes/%d roots, want %d/%d",
			len(loaded.Nodes), len(loaded.Roots), len(f.Nodes), len(f.Roots))
	}
	for _, id := range ids {
		leaf, ok := loaded.LeafOf(id)
		wantLeaf, _ := f.LeafOf(id)
		if !ok || leaf != wantLeaf {
			t.Errorf("loaded LeafOf(%d) = %d,%v, want %d", id, leaf, ok, wantLeaf)
		}
	}
}

func TestPickCenterSingle(t *testing.T) {
	_, ops := gridOps()
	if got := pickCenter([]int32{7}, ops); got != 7 {
		t.Errorf("pickCenter single = %d, want 7", got)
	}
}

func TestKmeansSplitCoversAll(t *testing.T) {
	ids, ops := gridOps()
	clusters := kmeansSplit(ids, testOptions(), ops, rand.New(rand.NewSource(5)))
	seen := make(map[int32]bool)
	for _, c := range clusters {
		for _, id := range c {
			seen[id] = true
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("kmeansSplit covered %d ids, want %d", len(seen), len(ids))
	}
}

func TestSwap(t *testing.T) {
	ids, ops := gridOps()
	a := Build(ids, testOptions(), ops, rand.New(rand.NewSource(6)))
	b := Build(ids, testOptions(), ops, rand.New(rand.NewSource(7)))

	a.Lock()
	a.Swap(b)
	a.Unlock()
	if len(a.Nodes) != len(b.Nodes) {
		t.Errorf("after Swap, a has %d nodes, want %d", len(a.Nodes), len(b.Nodes))
	}
}

func TestBalancedDetectsImbalance(t *testing.T) {
	clusters := [][]int32{{1, 2, 3, 4, 5, 6, 7, 8}, {9}}
	if balanced(clusters, 9, 0.3) {
		t.Error("heavily skewed clusters should not be reported balanced")
	}
}

func TestNoNaNCenterVectors(t *testing.T) {
	ids, ops := gridOps()
	f := Build(ids, testOptions(), ops, rand.New(rand.NewSource(8)))
	for _, n := range f.Nodes {
		v := ops.Vector(n.CenterID)
		if math.IsNaN(v[0]) || math.IsNaN(v[1]) {
			t.Errorf("center vector for node with center %d is NaN", n.CenterID)
		}
	}
}
