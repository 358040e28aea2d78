package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
)

// defaultLabels maps category codes to the label name used when the
// connection has no explicit mapping.
var defaultLabels = map[string]string{
	"INVOICE":            "Rechnung",
	"CONTRACT":           "Vertrag",
	"TAX":                "Steuer",
	"BANK":               "Bank",
	"INSURANCE":          "Versicherung",
	"NEWSLETTER":         "Newsletter",
	"SHIPPING":           "Versand",
	model.CategoryReview: "Zu prüfen",
}

// DefaultLabelName returns the fallback label for a category code.
func DefaultLabelName(code string) (string, bool) {
	name, ok := defaultLabels[code]
	return name, ok
}

// LabelTarget is the provider label a category is filed under.
type LabelTarget struct {
	Name string
	Kind model.LabelKind
}

// LabelResolver finds the label a category is filed under on one
// connection: an explicit mapping first, then the default table, then the
// category's display name.
type LabelResolver struct {
	store       store.CatalogStore
	conn        model.Connection
	defaultKind model.LabelKind
	categories  map[string]model.Category
}

// NewLabelResolver returns a resolver over the user's categories.
func NewLabelResolver(
	st store.CatalogStore,
	conn model.Connection,
	defaultKind model.LabelKind,
	categories []model.Category,
) *LabelResolver {
	byCode := make(map[string]model.Category, len(categories))
	for _, c := range categories {
		byCode[c.Code] = c
	}
	return &LabelResolver{store: st, conn: conn, defaultKind: defaultKind, categories: byCode}
}

// Resolve returns the label for a category code.
func (r *LabelResolver) Resolve(ctx context.Context, code string) (LabelTarget, error) {
	target := LabelTarget{Kind: r.defaultKind}

	cat, known := r.categories[code]
	if known {
		m, err := r.store.GetLabelMapping(ctx, cat.ID, r.conn.ID)
		switch {
		case err == nil:
			target.Name = m.LabelName
			if m.LabelKind != "" {
				target.Kind = m.LabelKind
			}
			return target, nil
		case !errors.Is(err, store.ErrNotFound):
			return target, fmt.Errorf("looking up label for %s: %w", code, err)
		}
	}

	if name, ok := defaultLabels[code]; ok {
		target.Name = name
		return target, nil
	}
	if known && cat.Name != "" {
		target.Name = cat.Name
		return target, nil
	}
	target.Name = code
	return target, nil
}
