package brackets

import (
	"math/rand/v2"
	"sync"
)

// Shuffler permutes ids in place.
type Shuffler interface {
	Shuffle(ids []int)
}

// FisherYatesShuffler draws every permutation with equal probability.
type FisherYatesShuffler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomShuffler uses the runtime-seeded global source.
func NewRandomShuffler() *FisherYatesShuffler {
	return &FisherYatesShuffler{}
}

// NewSeededShuffler is deterministic for a given seed.
func NewSeededShuffler(seed uint64) *FisherYatesShuffler {
	return &FisherYatesShuffler{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *FisherYatesShuffler) Shuffle(ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(ids) - 1; i > 0; i-- {
		var j int
		if s.rnd != nil {
			j = s.rnd.IntN(i + 1)
		} else {
			j = rand.IntN(i + 1)
		}
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// FixedOrder leaves the roster untouched.
type FixedOrder struct{}

func (FixedOrder) Shuffle([]int) {}
