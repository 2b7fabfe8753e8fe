package policy

import "github.com/ineyio/rewriter"

// First always picks the first element. Used for deterministic routing.
type First struct{}

var _ rewriter.Picker = First{}

func (First) Pick(int) int { return 0 }

// Sequence picks the given indexes in order, clamping each to the set size,
// then repeats the last one. Used to script selection in tests.
type Sequence struct {
	Indexes []int
	pos     int
}

var _ rewriter.Picker = (*Sequence)(nil)

func (s *Sequence) Pick(n int) int {
	if len(s.Indexes) == 0 {
		return 0
	}
	i := s.Indexes[min(s.pos, len(s.Indexes)-1)]
	s.pos++
	if i >= n {
		i = n - 1
	}
	return i
}
