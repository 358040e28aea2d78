package model

import "time"

// MailboxMessage is the normalized, ephemeral view of a provider message.
// It is constructed per fetch and discarded after processing.
type MailboxMessage struct {
	// ID is the provider-specific opaque id (IMAP UID as string,
	// Gmail message id).
	ID string

	ThreadID string

	// MessageID is the RFC 5322 Message-ID header, when known.
	MessageID string

	From    string
	To      []string
	Subject string

	// Snippet is an optional short preview; Body is optional full text.
	Snippet string
	Body    string

	Date           time.Time
	IsRead         bool
	HasAttachments bool
}

// Text returns the best available body text, preferring the snippet.
func (m MailboxMessage) Text() string {
	if m.Snippet != "" {
		return m.Snippet
	}
	return m.Body
}
