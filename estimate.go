package rewriter

// EstimateTokens provides a rough token count estimate for a prompt.
// Uses the approximation: ~4 chars per token + request overhead.
func EstimateTokens(prompt string) int64 {
	// ~4 chars per token
	total := int64(len(prompt)) / 4
	// role and formatting overhead of a single-message request
	total += 7
	return total
}
