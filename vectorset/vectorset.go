// Package vectorset owns the contiguous, D-wide vector storage backing
// an index: append, compacting refine, and stable row access. Storage
// is a sequence of fixed-size chunks (not one ever-growing slice), so a
// row pointer handed out by Get stays valid across later appends — the
// stability contract spec.md §4.1 asks for, satisfied by layout rather
// than by copying on every read.
package vectorset

import (
	"fmt"
	"io"
	"sync"

	"github.com/annidx/annidx/distance"
	"github.com/annidx/annidx/persist"
	"github.com/annidx/annidx/resources"
	"github.com/annidx/annidx/versioning"
	"github.com/vmihailenco/msgpack/v5"
)

const VERSION = "1.0.0"

func init() {
	versioning.Register(resources.RT_VECTORS, versioning.FromString(VERSION))
}

const chunkRows = 4096

// Set owns N vectors of fixed width D over element type T.
type Set[T distance.Numeric] struct {
	mu     sync.RWMutex
	width  int
	count  int
	chunks [][]T // each chunk holds chunkRows*width elements
}

func New[T distance.Numeric](width int) *Set[T] {
	return &Set[T]{width: width}
}

func (s *Set[T]) Dim() int {
	return s.width
}

func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Get returns a read-only view of row i. The returned slice aliases
// storage that is never mutated or moved by later Append calls; it is
// only invalidated by a later Rollback below i, or by Refine (which
// produces a new Set).
func (s *Set[T]) Get(i int) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rowLocked(i)
}

func (s *Set[T]) rowLocked(i int) []T {
	chunk := i / chunkRows
	offset := (i % chunkRows) * s.width
	return s.chunks[chunk][offset : offset+s.width]
}

// Append extends the set by len(batch)/width rows and returns the
// first new id. batch must be a multiple of width in length.
func (s *Set[T]) Append(batch []T) (firstID int, err error) {
	if s.width == 0 || len(batch)%s.width != 0 {
		return 0, fmt.Errorf("vectorset: batch length %d not a multiple of width %d", len(batch), s.width)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	firstID = s.count
	rows := len(batch) / s.width
	for r := 0; r < rows; r++ {
		s.growLocked()
		dst := s.rowLocked(s.count)
		copy(dst, batch[r*s.width:(r+1)*s.width])
		s.count++
	}
	return firstID, nil
}

func (s *Set[T]) growLocked() {
	chunk := s.count / chunkRows
	for len(s.chunks) <= chunk {
		s.chunks = append(s.chunks, make([]T, chunkRows*s.width))
	}
}

// Rollback truncates the set back to toCount rows, discarding anything
// appended since. Used by the coordinator to undo a partially failed
// Add.
func (s *Set[T]) Rollback(toCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if toCount < s.count {
		s.count = toCount
	}
}

// Normalize rescales rows [from, to) to L2 norm base, in place. Used once at Build/Add time when the configured metric is
// cosine.
func (s *Set[T]) Normalize(from, to int, base float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := from; i < to; i++ {
		distance.Normalize(s.rowLocked(i), base)
	}
}

// Refine returns a new Set containing only the rows named by keepIDs,
// in order; row j of the result is row keepIDs[j] of the receiver.
func (s *Set[T]) Refine(keepIDs []int32) *Set[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := New[T](s.width)
	batch := make([]T, 0, len(keepIDs)*s.width)
	for _, old := range keepIDs {
		batch = append(batch, s.rowLocked(int(old))...)
	}
	out.Append(batch)
	return out
}

// Save writes every row to w, framed by persist.Write.
func (s *Set[T]) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flat := make([]T, 0, s.count*s.width)
	for i := 0; i < s.count; i++ {
		flat = append(flat, s.rowLocked(i)...)
	}
	body, err := msgpack.Marshal(flat)
	if err != nil {
		return err
	}
	return persist.Write(w, resources.RT_VECTORS, uint32(s.count), uint32(s.width), body)
}

// Load reads a Set previously written by Save.
func Load[T distance.Numeric](r io.Reader) (*Set[T], error) {
	header, body, err := persist.Read(r, resources.RT_VECTORS)
	if err != nil {
		return nil, err
	}
	var flat []T
	if err := msgpack.Unmarshal(body, &flat); err != nil {
		return nil, err
	}
	out := New[T](int(header.Dimension))
	if _, err := out.Append(flat); err != nil {
		return nil, err
	}
	return out, nil
}
