// Package classify decides which category a message belongs to, first by
// user rules and then, when configured, by an LLM.
package classify

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"

	"github.com/nhle/mailsort/internal/model"
)

const (
	scoreExact   = 1.0
	scorePartial = 0.8
)

type compiledRule struct {
	rule model.Rule
	re   *regexp.Regexp
}

// RuleClassifier evaluates a user's active rules against a message. Rules
// are loaded once and evaluated in priority order.
type RuleClassifier struct {
	rules  []compiledRule
	logger *slog.Logger
}

// NewRuleClassifier prepares rules for matching. Inactive rules are
// dropped and regex rules that do not compile are skipped with a warning.
func NewRuleClassifier(rules []model.Rule, logger *slog.Logger) *RuleClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	c := &RuleClassifier{logger: logger}
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		cr := compiledRule{rule: r}
		if r.Type == model.RuleTypeRegex || r.Type == model.RuleTypeCombined {
			pattern := r.Pattern
			if !r.CaseSensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				logger.Warn("skipping rule with invalid pattern",
					"rule", r.Name, "pattern", r.Pattern, "error", err)
				continue
			}
			cr.re = re
		}
		c.rules = append(c.rules, cr)
	}

	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].rule.Priority > c.rules[j].rule.Priority
	})
	return c
}

// Len returns the number of usable rules.
func (c *RuleClassifier) Len() int { return len(c.rules) }

type ruleMatch struct {
	rule  model.Rule
	score float64
}

// Classify returns the result of the best matching rule, or nil when no
// rule matches. Higher priority wins, then higher match score.
func (c *RuleClassifier) Classify(msg model.MailboxMessage) *model.Classification {
	var best *ruleMatch
	for _, cr := range c.rules {
		score, ok := c.match(cr, msg)
		if !ok {
			continue
		}
		m := ruleMatch{rule: cr.rule, score: score}
		if best == nil || better(m, *best) {
			best = &m
		}
	}
	if best == nil {
		return nil
	}

	return &model.Classification{
		Category:    best.rule.CategoryCode,
		Confidence:  model.ClampConfidence(best.rule.Confidence * best.score),
		Rationale:   "Matched rule: " + best.rule.Name,
		Origin:      model.OriginRules,
		MatchedRule: best.rule.Name,
	}
}

// better orders matches without depending on storage order.
func better(a, b ruleMatch) bool {
	if a.rule.Priority != b.rule.Priority {
		return a.rule.Priority > b.rule.Priority
	}
	if a.score != b.score {
		return a.score > b.score
	}
	if a.rule.Confidence != b.rule.Confidence {
		return a.rule.Confidence > b.rule.Confidence
	}
	if a.rule.Name != b.rule.Name {
		return a.rule.Name < b.rule.Name
	}
	return a.rule.ID < b.rule.ID
}

func (c *RuleClassifier) match(cr compiledRule, msg model.MailboxMessage) (float64, bool) {
	var best float64
	var matched bool
	for _, value := range fieldValues(cr.rule.Field, msg) {
		if value == "" {
			continue
		}
		score, ok := matchValue(cr, value)
		if ok && score > best {
			best, matched = score, true
		}
	}
	return best, matched
}

func matchValue(cr compiledRule, value string) (float64, bool) {
	r := cr.rule
	switch r.Type {
	case model.RuleTypeKeyword, model.RuleTypeSubject:
		return keywordScore(value, r.Pattern, r.CaseSensitive)
	case model.RuleTypeRegex, model.RuleTypeCombined:
		if cr.re.MatchString(value) {
			return scoreExact, true
		}
	case model.RuleTypeSender:
		if senderMatches(value, r.Pattern, r.CaseSensitive) {
			return scoreExact, true
		}
	}
	return 0, false
}

// fieldValues returns the candidate strings a rule is tested against. ANY
// yields every candidate separately.
func fieldValues(field model.RuleField, msg model.MailboxMessage) []string {
	body := strings.TrimSpace(msg.Snippet + " " + msg.Body)
	switch field {
	case model.FieldFrom:
		return []string{msg.From}
	case model.FieldTo:
		return msg.To
	case model.FieldSubject:
		return []string{msg.Subject}
	case model.FieldBody:
		return []string{body}
	default:
		out := make([]string, 0, len(msg.To)+3)
		out = append(out, msg.From)
		out = append(out, msg.To...)
		out = append(out, msg.Subject, body)
		return out
	}
}

// keywordScore finds pattern in value. An occurrence bounded by non-word
// characters on both sides scores 1.0; any other occurrence scores 0.8.
func keywordScore(value, pattern string, caseSensitive bool) (float64, bool) {
	if pattern == "" {
		return 0, false
	}
	if !caseSensitive {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}

	found := false
	for offset := 0; offset <= len(value); {
		i := strings.Index(value[offset:], pattern)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(pattern)
		found = true
		if boundaryBefore(value, start) && boundaryAfter(value, end) {
			return scoreExact, true
		}
		_, size := utf8.DecodeRuneInString(value[start:])
		offset = start + size
	}
	if found {
		return scorePartial, true
	}
	return 0, false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

// senderMatches compares the address part of value with pattern. A pattern
// starting with "@" must equal the address domain exactly.
func senderMatches(value, pattern string, caseSensitive bool) bool {
	addr := extractAddress(value)
	if !caseSensitive {
		addr = strings.ToLower(addr)
		pattern = strings.ToLower(pattern)
	}

	if strings.HasPrefix(pattern, "@") {
		at := strings.LastIndex(addr, "@")
		return at >= 0 && addr[at:] == pattern
	}
	return strings.Contains(addr, pattern)
}

// extractAddress returns the bare address of "Name <addr>" or "addr".
func extractAddress(value string) string {
	value = strings.TrimSpace(value)
	if a, err := mail.ParseAddress(value); err == nil {
		return a.Address
	}
	if lt := strings.LastIndex(value, "<"); lt >= 0 {
		if gt := strings.Index(value[lt:], ">"); gt > 0 {
			return strings.TrimSpace(value[lt+1 : lt+gt])
		}
	}
	return value
}
