package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsort/internal/model"
)

const categoryColumns = `id, user_id, code, name, description, is_active, is_system, created_at, updated_at`

// EnsureSystemCategories creates the reserved REVIEW category for a user
// when it does not exist yet.
func (s *SQLStore) EnsureSystemCategories(ctx context.Context, userID string) error {
	_, err := s.GetCategoryByCode(ctx, userID, model.CategoryReview)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	err = s.UpsertCategory(ctx, &model.Category{
		UserID:      userID,
		Code:        model.CategoryReview,
		Name:        "Zu prüfen",
		Description: "Classification uncertain; needs a human decision",
		IsActive:    true,
		IsSystem:    true,
	})
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// UpsertCategory inserts a category or updates the existing one with the
// same (user, code). The category's ID is set to the stored ID.
func (s *SQLStore) UpsertCategory(ctx context.Context, cat *model.Category) error {
	now := time.Now().UTC()
	existing, err := s.GetCategoryByCode(ctx, cat.UserID, cat.Code)
	switch {
	case err == nil:
		cat.ID = existing.ID
		cat.CreatedAt = existing.CreatedAt
		cat.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, s.q(`
			UPDATE categories
			SET name = ?, description = ?, is_active = ?, is_system = ?, updated_at = ?
			WHERE id = ?`),
			cat.Name, cat.Description, boolToInt(cat.IsActive), boolToInt(cat.IsSystem),
			cat.UpdatedAt, cat.ID,
		)
		if err != nil {
			return fmt.Errorf("updating category %s: %w", cat.Code, err)
		}
		return nil
	case !errors.Is(err, ErrNotFound):
		return err
	}

	if cat.ID == "" {
		cat.ID = uuid.New().String()
	}
	cat.CreatedAt = now
	cat.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO categories (`+categoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cat.ID, cat.UserID, cat.Code, cat.Name, cat.Description,
		boolToInt(cat.IsActive), boolToInt(cat.IsSystem), cat.CreatedAt, cat.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating category %s: %w", cat.Code, ErrDuplicate)
		}
		return fmt.Errorf("creating category %s: %w", cat.Code, err)
	}
	return nil
}

// ListCategories returns a user's categories ordered by code.
func (s *SQLStore) ListCategories(ctx context.Context, userID string) ([]model.Category, error) {
	var cats []model.Category
	err := s.db.SelectContext(ctx, &cats,
		s.q("SELECT "+categoryColumns+" FROM categories WHERE user_id = ? ORDER BY code"), userID)
	if err != nil {
		return nil, fmt.Errorf("querying categories: %w", err)
	}
	return cats, nil
}

// GetCategoryByCode retrieves one category of a user.
func (s *SQLStore) GetCategoryByCode(ctx context.Context, userID, code string) (*model.Category, error) {
	var cat model.Category
	err := s.db.GetContext(ctx, &cat,
		s.q("SELECT "+categoryColumns+" FROM categories WHERE user_id = ? AND code = ?"),
		userID, code)
	if err != nil {
		return nil, fmt.Errorf("getting category %s: %w", code, notFound(err))
	}
	return &cat, nil
}

// CreateRule validates and inserts a rule.
func (s *SQLStore) CreateRule(ctx context.Context, rule *model.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO rules (
			id, category_id, name, type, field, pattern,
			case_sensitive, priority, confidence, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rule.ID, rule.CategoryID, rule.Name, string(rule.Type), string(rule.Field), rule.Pattern,
		boolToInt(rule.CaseSensitive), rule.Priority, rule.Confidence, boolToInt(rule.IsActive),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating rule %s: %w", rule.Name, err)
	}
	return nil
}

const ruleSelect = `
	SELECT r.id, r.category_id, c.code AS category_code, r.name, r.type, r.field,
		r.pattern, r.case_sensitive, r.priority, r.confidence, r.is_active
	FROM rules r
	JOIN categories c ON c.id = r.category_id
	WHERE c.user_id = ?`

// ListActiveRules returns a user's active rules whose category is active,
// highest priority first.
func (s *SQLStore) ListActiveRules(ctx context.Context, userID string) ([]model.Rule, error) {
	var rules []model.Rule
	err := s.db.SelectContext(ctx, &rules, s.q(ruleSelect+`
		AND r.is_active = 1 AND c.is_active = 1
		ORDER BY r.priority DESC, r.id`), userID)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	return rules, nil
}

// ListRules returns all of a user's rules, active or not, grouped by
// category code.
func (s *SQLStore) ListRules(ctx context.Context, userID string) ([]model.Rule, error) {
	var rules []model.Rule
	err := s.db.SelectContext(ctx, &rules, s.q(ruleSelect+`
		ORDER BY c.code, r.priority DESC, r.name`), userID)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	return rules, nil
}

// GetLabelMapping returns the explicit label for a category on a
// connection, or ErrNotFound.
func (s *SQLStore) GetLabelMapping(
	ctx context.Context,
	categoryID, connectionID string,
) (*model.LabelMapping, error) {
	var m model.LabelMapping
	err := s.db.GetContext(ctx, &m, s.q(`
		SELECT id, category_id, connection_id, label_name, label_kind, created_at
		FROM label_mappings WHERE category_id = ? AND connection_id = ?`),
		categoryID, connectionID)
	if err != nil {
		return nil, fmt.Errorf("getting label mapping: %w", notFound(err))
	}
	return &m, nil
}

// SetLabelMapping creates or replaces the mapping for (category, connection).
func (s *SQLStore) SetLabelMapping(ctx context.Context, m *model.LabelMapping) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.q("DELETE FROM label_mappings WHERE category_id = ? AND connection_id = ?"),
		m.CategoryID, m.ConnectionID,
	); err != nil {
		return fmt.Errorf("clearing label mapping: %w", err)
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO label_mappings (id, category_id, connection_id, label_name, label_kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		m.ID, m.CategoryID, m.ConnectionID, m.LabelName, string(m.LabelKind), m.CreatedAt,
	); err != nil {
		return fmt.Errorf("setting label mapping: %w", err)
	}

	return tx.Commit()
}
