package vectorset

import (
	"bytes"
	"testing"
)

func TestAppendAndGet(t *testing.T) {
	s := New[float32](3)
	id, err := s.Append([]float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id != 0 {
		t.Fatalf("firstID = %d, want 0", id)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	row0 := s.Get(0)
	if row0[0] != 1 || row0[1] != 2 || row0[2] != 3 {
		t.Errorf("row0 = %v, want [1 2 3]", row0)
	}
	row1 := s.Get(1)
	if row1[0] != 4 || row1[1] != 5 || row1[2] != 6 {
		t.Errorf("row1 = %v, want [4 5 6]", row1)
	}
}

func TestAppendMismatchedWidth(t *testing.T) {
	s := New[float32](3)
	if _, err := s.Append([]float32{1, 2}); err == nil {
		t.Error("Append with non-multiple-of-width batch should fail")
	}
}

func TestRowPointerStableAcrossAppend(t *testing.T) {
	s := New[float32](2)
	s.Append([]float32{1, 1})
	row0 := s.Get(0)

	// force growth past one chunk boundary worth of appends
	for i := 0; i < chunkRows+10; i++ {
		s.Append([]float32{2, 2})
	}

	if row0[0] != 1 || row0[1] != 1 {
		t.Errorf("row0 changed after growth: %v", row0)
	}
}

func TestRollback(t *testing.T) {
	s := New[float32](2)
	s.Append([]float32{1, 1, 2, 2, 3, 3})
	s.Rollback(1)
	if s.Len() != 1 {
		t.Errorf("Len() after rollback = %d, want 1", s.Len())
	}
}

func TestNormalize(t *testing.T) {
	s := New[float32](2)
	s.Append([]float32{3, 4})
	s.Normalize(0, 1, 1.0)
	row := s.Get(0)
	norm := float64(row[0])*float64(row[0]) + float64(row[1])*float64(row[1])
	if norm < 0.999 || norm > 1.001 {
		t.Errorf("norm^2 = %v, want ~1", norm)
	}
}

func TestRefine(t *testing.T) {
	s := New[float32](1)
	s.Append([]float32{10, 20, 30, 40})

	out := s.Refine([]int32{3, 1})
	if out.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", out.Len())
	}
	if out.Get(0)[0] != 40 || out.Get(1)[0] != 20 {
		t.Errorf("refined rows = [%v %v], want [40 20]", out.Get(0), out.Get(1))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New[float32](3)
	s.Append([]float32{1, 2, 3, 4, 5, 6})

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load[float32](&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Len() != 2 || loaded.Dim() != 3 {
		t.Fatalf("loaded = len %d dim %d, want len 2 dim 3", loaded.Len(), loaded.Dim())
	}
	row0, row1 := loaded.Get(0), loaded.Get(1)
	if row0[0] != 1 || row0[1] != 2 || row0[2] != 3 {
		t.Errorf("row0 = %v, want [1 2 3]", row0)
	}
	if row1[0] != 4 || row1[1] != 5 || row1[2] != 6 {
		t.Errorf("row1 = %v, want [4 5 6]", row1)
	}
}
