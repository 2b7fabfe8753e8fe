// Package policy provides credential and model selection strategies.
package policy

import (
	"math/rand/v2"
	"sync"

	"github.com/ineyio/rewriter"
)

// Random picks uniformly at random. The zero value uses the global source.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ rewriter.Picker = (*Random)(nil)

// NewRandom creates a Random picker with a seeded source, giving a
// reproducible sequence.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Pick returns a uniformly distributed index in [0, n).
func (p *Random) Pick(n int) int {
	if p.rng == nil {
		return rand.IntN(n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}
