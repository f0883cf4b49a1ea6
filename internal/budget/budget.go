// Package budget estimates the token cost of embedding requests. Backends
// use different tokenizers, so the estimate is a character heuristic:
// 1 token ≈ 4 characters. Ingestion logs the estimate for every document and
// warns before sending a batch that a provider is likely to reject.
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxInputTokens is the per-text limit of the OpenAI embedding models.
	DefaultMaxInputTokens = 8191

	// DefaultMaxRequestTokens is the per-request limit of the OpenAI
	// embeddings endpoint.
	DefaultMaxRequestTokens = 300_000
)

// Limits bounds a single embedding request.
type Limits struct {
	// MaxInputTokens is the largest estimated size of a single text.
	MaxInputTokens int
	// MaxRequestTokens is the largest estimated size of a whole request.
	MaxRequestTokens int
}

// DefaultLimits returns the OpenAI embedding limits.
func DefaultLimits() Limits {
	return Limits{MaxInputTokens: DefaultMaxInputTokens, MaxRequestTokens: DefaultMaxRequestTokens}
}

// Report is the estimate for one batch of texts.
type Report struct {
	// Texts is the number of texts in the batch.
	Texts int
	// Tokens is the estimated total token count.
	Tokens int
	// Largest is the estimated token count of the largest text.
	Largest int
	// Oversized lists the indexes of texts above Limits.MaxInputTokens.
	Oversized []int
	// OverRequest is true when Tokens exceeds Limits.MaxRequestTokens.
	OverRequest bool
}

// WithinLimits reports whether the batch is expected to be accepted.
func (r Report) WithinLimits() bool {
	return !r.OverRequest && len(r.Oversized) == 0
}

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Check estimates texts against limits. A zero limit is not enforced.
func Check(texts []string, limits Limits) Report {
	r := Report{Texts: len(texts)}
	for i, t := range texts {
		n := Estimate(t)
		r.Tokens += n
		r.Largest = max(r.Largest, n)
		if limits.MaxInputTokens > 0 && n > limits.MaxInputTokens {
			r.Oversized = append(r.Oversized, i)
		}
	}
	r.OverRequest = limits.MaxRequestTokens > 0 && r.Tokens > limits.MaxRequestTokens
	return r
}
