package token

// Estimator maps a text block to an approximate token count. Implementations
// must be deterministic, monotonic in input length, and O(length). Estimates
// can be off by ±30%, so every budget comparison downstream keeps headroom.
type Estimator interface {
	Estimate(text string) int
}

// charsPerToken is the average characters-per-token ratio for English prose.
const charsPerToken = 4

// CharRatio estimates tokens as len(text)/4 rounded up.
type CharRatio struct{}

func NewCharRatio() CharRatio { return CharRatio{} }

func (CharRatio) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}
