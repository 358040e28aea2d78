package model

import "time"

// ReviewState tracks human review of a processed message.
type ReviewState string

const (
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewChanged  ReviewState = "changed"
	ReviewRejected ReviewState = "rejected"
)

// ProcessedMessage is the ledger record for one (connection, message).
// Its existence means the message was already handled.
type ProcessedMessage struct {
	ID           string `db:"id" json:"id"`
	ConnectionID string `db:"connection_id" json:"connection_id"`
	MessageID    string `db:"message_id" json:"message_id"`

	// RFCMessageID and ThreadID are stored so later label removal can find
	// the message again without guessing.
	RFCMessageID string `db:"rfc_message_id" json:"rfc_message_id"`
	ThreadID     string `db:"thread_id" json:"thread_id"`

	Category          *string `db:"category" json:"category"`
	SuggestedCategory *string `db:"suggested_category" json:"suggested_category"`
	Confidence        float64 `db:"confidence" json:"confidence"`
	LabelApplied      *string `db:"label_applied" json:"label_applied"`
	Origin            Origin  `db:"origin" json:"origin"`
	Rationale         string  `db:"rationale" json:"rationale"`
	MatchedRule       string  `db:"matched_rule" json:"matched_rule"`

	NeedsReview bool        `db:"needs_review" json:"needs_review"`
	ReviewState ReviewState `db:"review_state" json:"review_state"`

	Subject     string     `db:"subject" json:"subject"`
	Sender      string     `db:"sender" json:"sender"`
	MessageDate *time.Time `db:"message_date" json:"message_date"`

	ProcessedAt time.Time  `db:"processed_at" json:"processed_at"`
	ReviewedAt  *time.Time `db:"reviewed_at" json:"reviewed_at"`
}
