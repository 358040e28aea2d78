package classify

import (
	"context"
	"log/slog"

	"github.com/nhle/mailsort/internal/model"
)

// Confidence thresholds of the decision policy.
const (
	HighConfidence   = 0.80
	MediumConfidence = 0.60
)

// Rationale markers for downgraded results.
const (
	reviewMarker        = "[Review] "
	lowConfidenceMarker = "[Low confidence] "
	noMatchRationale    = "No matching rules or patterns"
)

// Classifier is implemented by classifiers that may decline to answer.
type Classifier interface {
	Classify(ctx context.Context, msg model.MailboxMessage) *model.Classification
}

// Unified combines the rule and LLM classifiers and applies the
// confidence thresholds. It always returns a result.
type Unified struct {
	rules         *RuleClassifier
	llm           Classifier
	allowOverride bool
	logger        *slog.Logger
}

// NewUnified returns the decision policy over rules and an optional LLM.
// With allowOverride the LLM is also consulted when a rule matched below
// HighConfidence.
func NewUnified(rules *RuleClassifier, llm Classifier, allowOverride bool, logger *slog.Logger) *Unified {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = NewRuleClassifier(nil, logger)
	}
	return &Unified{rules: rules, llm: llm, allowOverride: allowOverride, logger: logger}
}

// Classify runs the decision policy for one message.
func (u *Unified) Classify(ctx context.Context, msg model.MailboxMessage) model.Classification {
	ruleResult := u.rules.Classify(msg)
	if ruleResult != nil && ruleResult.Confidence >= HighConfidence {
		return *ruleResult
	}

	candidate := ruleResult
	if u.llm != nil && (ruleResult == nil || u.allowOverride) {
		llmResult := u.llm.Classify(ctx, msg)
		if llmResult != nil && (ruleResult == nil || llmResult.Confidence > ruleResult.Confidence) {
			candidate = llmResult
		}
	}

	if candidate == nil {
		return model.Classification{
			Category:   model.CategoryReview,
			Confidence: 0,
			Rationale:  noMatchRationale,
			Origin:     model.OriginRules,
		}
	}

	return ApplyThresholds(*candidate)
}

// ApplyThresholds downgrades a result below HighConfidence to REVIEW while
// keeping the original category as the suggestion.
func ApplyThresholds(c model.Classification) model.Classification {
	if c.Confidence >= HighConfidence || c.Category == model.CategoryReview {
		return c
	}

	marker := lowConfidenceMarker
	if c.Confidence >= MediumConfidence {
		marker = reviewMarker
	}

	return model.Classification{
		Category:          model.CategoryReview,
		Confidence:        c.Confidence,
		Rationale:         marker + c.Rationale,
		Origin:            c.Origin,
		MatchedRule:       c.MatchedRule,
		SuggestedCategory: c.Category,
	}
}
