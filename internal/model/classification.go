package model

// Origin tags which classifier produced a result.
type Origin string

const (
	OriginRules Origin = "rules"
	OriginLLM   Origin = "llm"
)

// Classification is a classifier verdict for one message. Values are never
// mutated after creation; policies derive new values instead.
type Classification struct {
	Category    string  `json:"category"`
	Confidence  float64 `json:"confidence"`
	Rationale   string  `json:"rationale"`
	Origin      Origin  `json:"origin"`
	MatchedRule string  `json:"matched_rule,omitempty"`

	// SuggestedCategory keeps the original category when the result was
	// downgraded to REVIEW.
	SuggestedCategory string `json:"suggested_category,omitempty"`
}

// NeedsReview reports whether the result is the REVIEW sentinel.
func (c Classification) NeedsReview() bool {
	return c.Category == CategoryReview
}

// ClampConfidence bounds v to [0, 1].
func ClampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
