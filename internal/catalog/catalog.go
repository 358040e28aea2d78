// Package catalog loads category and rule definitions from YAML files and
// imports them into the store.
package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
)

// File is the on-disk catalog.
type File struct {
	Categories []Category `yaml:"categories"`
}

// Category is one category with its rules.
type Category struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Active      *bool  `yaml:"active"`
	Rules       []Rule `yaml:"rules"`
}

// Rule is a rule definition. Field defaults from Type and Active defaults
// to true.
type Rule struct {
	Name          string  `yaml:"name"`
	Type          string  `yaml:"type"`
	Field         string  `yaml:"field"`
	Pattern       string  `yaml:"pattern"`
	CaseSensitive bool    `yaml:"case_sensitive"`
	Priority      int     `yaml:"priority"`
	Confidence    float64 `yaml:"confidence"`
	Active        *bool   `yaml:"active"`
}

// Summary counts what an import changed.
type Summary struct {
	Categories   int
	RulesCreated int
	RulesSkipped int
}

// Load decodes and validates a catalog.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	seen := make(map[string]bool, len(f.Categories))
	for i := range f.Categories {
		c := &f.Categories[i]
		c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
		if c.Code == "" {
			return nil, fmt.Errorf("category %d: code is required", i+1)
		}
		if c.Code == model.CategoryReview {
			return nil, fmt.Errorf("category %s is reserved", c.Code)
		}
		if seen[c.Code] {
			return nil, fmt.Errorf("category %s is defined twice", c.Code)
		}
		seen[c.Code] = true
		if c.Name == "" {
			c.Name = c.Code
		}
		for j := range c.Rules {
			if err := c.Rules[j].toModel("").Validate(); err != nil {
				return nil, fmt.Errorf("category %s: %w", c.Code, err)
			}
		}
	}
	return &f, nil
}

// Import upserts every category of f for userID and creates its rules.
// A rule whose name already exists on the category is left unchanged, so
// importing the same file twice is harmless.
func Import(ctx context.Context, st store.CatalogStore, userID string, f *File) (Summary, error) {
	var sum Summary
	if err := st.EnsureSystemCategories(ctx, userID); err != nil {
		return sum, err
	}

	existing, err := st.ListRules(ctx, userID)
	if err != nil {
		return sum, err
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.CategoryCode+"/"+r.Name] = true
	}

	for _, c := range f.Categories {
		cat := model.Category{
			UserID:      userID,
			Code:        c.Code,
			Name:        c.Name,
			Description: c.Description,
			IsActive:    c.Active == nil || *c.Active,
		}
		if err := st.UpsertCategory(ctx, &cat); err != nil {
			return sum, err
		}
		sum.Categories++

		for _, r := range c.Rules {
			if have[c.Code+"/"+r.Name] {
				sum.RulesSkipped++
				continue
			}
			rule := r.toModel(cat.ID)
			if err := st.CreateRule(ctx, &rule); err != nil {
				return sum, err
			}
			have[c.Code+"/"+r.Name] = true
			sum.RulesCreated++
		}
	}
	return sum, nil
}

func (r Rule) toModel(categoryID string) model.Rule {
	typ := model.RuleType(strings.ToUpper(strings.TrimSpace(r.Type)))
	field := model.RuleField(strings.ToUpper(strings.TrimSpace(r.Field)))
	if field == "" {
		switch typ {
		case model.RuleTypeSender:
			field = model.FieldFrom
		case model.RuleTypeSubject:
			field = model.FieldSubject
		default:
			field = model.FieldAny
		}
	}
	conf := r.Confidence
	if conf == 0 {
		conf = 0.8
	}
	return model.Rule{
		CategoryID:    categoryID,
		Name:          r.Name,
		Type:          typ,
		Field:         field,
		Pattern:       r.Pattern,
		CaseSensitive: r.CaseSensitive,
		Priority:      r.Priority,
		Confidence:    conf,
		IsActive:      r.Active == nil || *r.Active,
	}
}
