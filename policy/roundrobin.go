package policy

import (
	"sync/atomic"

	"github.com/ineyio/rewriter"
)

// RoundRobin cycles through indexes. The eligible set shrinks and grows
// between calls, so the rotation is over positions, not credentials.
type RoundRobin struct {
	next atomic.Uint64
}

var _ rewriter.Picker = (*RoundRobin)(nil)

// Pick returns the next index modulo n.
func (p *RoundRobin) Pick(n int) int {
	i := p.next.Add(1) - 1
	return int(i % uint64(n))
}
