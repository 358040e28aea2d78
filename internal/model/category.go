package model

import "time"

// CategoryReview is the reserved sentinel category meaning
// "classification uncertain".
const CategoryReview = "REVIEW"

// Category is a user-scoped classification target.
type Category struct {
	ID string `db:"id" json:"id"`

	// UserID scopes the category; (UserID, Code) is unique.
	UserID string `db:"user_id" json:"user_id"`

	// Code is the stable enum-like identifier (e.g. INVOICE, REVIEW).
	Code string `db:"code" json:"code"`

	// Name is the human-readable display name.
	Name string `db:"name" json:"name"`

	// Description is optional context handed to the LLM classifier.
	Description string `db:"description" json:"description"`

	IsActive bool `db:"is_active" json:"is_active"`
	IsSystem bool `db:"is_system" json:"is_system"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LabelKind describes how a backend models a label.
type LabelKind string

const (
	LabelKindFolder   LabelKind = "FOLDER"
	LabelKindLabel    LabelKind = "LABEL"
	LabelKindCategory LabelKind = "CATEGORY"
	LabelKindFlag     LabelKind = "FLAG"
)

// LabelMapping overrides the provider label used for a category on one
// connection. Absence of a mapping is valid and selects the default name.
type LabelMapping struct {
	ID           string    `db:"id" json:"id"`
	CategoryID   string    `db:"category_id" json:"category_id"`
	ConnectionID string    `db:"connection_id" json:"connection_id"`
	LabelName    string    `db:"label_name" json:"label_name"`
	LabelKind    LabelKind `db:"label_kind" json:"label_kind"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
