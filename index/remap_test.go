package index

import (
	"math/rand"
	"testing"
)

func verifyRemap(t *testing.T, n int, deletedSet map[int32]bool) {
	t.Helper()
	deleted := func(id int32) bool { return deletedSet[id] }
	keepIDs, reverseIDs := computeRefineRemap(n, deleted)

	wantLen := n - len(deletedSet)
	if len(keepIDs) != wantLen {
		t.Fatalf("n=%d deleted=%v: len(keepIDs) = %d, want %d", n, deletedSet, len(keepIDs), wantLen)
	}

	seenNew := make(map[int32]bool, wantLen)
	for newID, oldID := range keepIDs {
		if deletedSet[oldID] {
			t.Fatalf("n=%d deleted=%v: keepIDs[%d]=%d is a deleted id", n, deletedSet, newID, oldID)
		}
		if reverseIDs[oldID] != int32(newID) {
			t.Fatalf("n=%d deleted=%v: reverseIDs[%d] = %d, want %d", n, deletedSet, oldID, reverseIDs[oldID], newID)
		}
		if seenNew[int32(newID)] {
			t.Fatalf("n=%d deleted=%v: new id %d produced twice", n, deletedSet, newID)
		}
		seenNew[int32(newID)] = true
	}
	for newID := 0; newID < wantLen; newID++ {
		if !seenNew[int32(newID)] {
			t.Fatalf("n=%d deleted=%v: new id %d missing from keepIDs (not a bijection onto [0,%d))", n, deletedSet, newID, wantLen)
		}
	}
}

func TestRemapExhaustiveSmallN(t *testing.T) {
	for n := 0; n <= 12; n++ {
		for mask := 0; mask < (1 << uint(n)); mask++ {
			deleted := make(map[int32]bool)
			for i := 0; i < n; i++ {
				if mask&(1<<uint(i)) != 0 {
					deleted[int32(i)] = true
				}
			}
			verifyRemap(t, n, deleted)
		}
	}
}

func TestRemapRandomizedLargerN(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 13 + rng.Intn(200)
		deleted := make(map[int32]bool)
		for i := 0; i < n; i++ {
			if rng.Float64() < 0.3 {
				deleted[int32(i)] = true
			}
		}
		verifyRemap(t, n, deleted)
	}
}

func TestRemapNoDeletionsIsIdentity(t *testing.T) {
	keepIDs, reverseIDs := computeRefineRemap(5, func(int32) bool { return false })
	for i := 0; i < 5; i++ {
		if keepIDs[i] != int32(i) || reverseIDs[i] != int32(i) {
			t.Errorf("identity case: keepIDs[%d]=%d reverseIDs[%d]=%d, want %d/%d", i, keepIDs[i], i, reverseIDs[i], i, i)
		}
	}
}

func TestRemapAllDeleted(t *testing.T) {
	keepIDs, _ := computeRefineRemap(5, func(int32) bool { return true })
	if len(keepIDs) != 0 {
		t.Errorf("all-deleted case: len(keepIDs) = %d, want 0", len(keepIDs))
	}
}
