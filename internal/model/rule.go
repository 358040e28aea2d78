package model

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleType selects the match policy of a rule.
type RuleType string

const (
	RuleTypeKeyword  RuleType = "KEYWORD"
	RuleTypeRegex    RuleType = "REGEX"
	RuleTypeSender   RuleType = "SENDER"
	RuleTypeSubject  RuleType = "SUBJECT"
	RuleTypeCombined RuleType = "COMBINED"
)

// RuleField selects which part of a message a rule is tested against.
type RuleField string

const (
	FieldFrom    RuleField = "FROM"
	FieldTo      RuleField = "TO"
	FieldSubject RuleField = "SUBJECT"
	FieldBody    RuleField = "BODY"
	FieldAny     RuleField = "ANY"
)

// Rule is a deterministic pattern that assigns its category on match.
type Rule struct {
	ID           string `db:"id" json:"id"`
	CategoryID   string `db:"category_id" json:"category_id"`
	CategoryCode string `db:"category_code" json:"category_code"`
	Name         string `db:"name" json:"name"`

	Type          RuleType  `db:"type" json:"type"`
	Field         RuleField `db:"field" json:"field"`
	Pattern       string    `db:"pattern" json:"pattern"`
	CaseSensitive bool      `db:"case_sensitive" json:"case_sensitive"`

	// Priority orders evaluation; higher is preferred.
	Priority int `db:"priority" json:"priority"`

	// Confidence is the base confidence (0..1), scaled by match quality.
	Confidence float64 `db:"confidence" json:"confidence"`

	IsActive bool `db:"is_active" json:"is_active"`
}

// Validate checks that the rule is usable: a known type and field, a
// non-empty pattern that compiles for regex types, and a confidence in
// range.
func (r Rule) Validate() error {
	switch r.Type {
	case RuleTypeKeyword, RuleTypeRegex, RuleTypeSender, RuleTypeSubject, RuleTypeCombined:
	default:
		return fmt.Errorf("rule %q: unknown type %q", r.Name, r.Type)
	}

	switch r.Field {
	case FieldFrom, FieldTo, FieldSubject, FieldBody, FieldAny:
	default:
		return fmt.Errorf("rule %q: unknown field %q", r.Name, r.Field)
	}

	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule %q: pattern must not be empty", r.Name)
	}

	if r.Type == RuleTypeRegex || r.Type == RuleTypeCombined {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("rule %q: invalid regex: %w", r.Name, err)
		}
	}

	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("rule %q: confidence %.2f out of range", r.Name, r.Confidence)
	}

	return nil
}
