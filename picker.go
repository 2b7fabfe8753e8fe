package rewriter

// Picker selects one element of a non-empty set by index.
type Picker interface {
	// Pick returns an index in [0, n). n is always > 0.
	Pick(n int) int
}
