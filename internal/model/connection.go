package model

import "time"

// ProviderType identifies the mailbox backend of a connection.
type ProviderType string

const (
	ProviderIMAP  ProviderType = "imap"
	ProviderGmail ProviderType = "gmail"
)

// ConnectionStatus is the coarse health of a connection consumed by the
// dashboard.
type ConnectionStatus string

const (
	StatusActive      ConnectionStatus = "ACTIVE"
	StatusError       ConnectionStatus = "ERROR"
	StatusNeedsReauth ConnectionStatus = "NEEDS_REAUTH"
	StatusDisabled    ConnectionStatus = "DISABLED"
)

// Connection is one mailbox linked by a user.
type Connection struct {
	ID       string       `db:"id" json:"id"`
	UserID   string       `db:"user_id" json:"user_id"`
	Provider ProviderType `db:"provider" json:"provider"`
	Name     string       `db:"name" json:"name"`
	Email    string       `db:"email" json:"email"`

	// EncryptedCredentials is the ciphertext of a JSON Credentials value.
	EncryptedCredentials string `db:"encrypted_credentials" json:"-"`

	Status     ConnectionStatus `db:"status" json:"status"`
	LastError  string           `db:"last_error" json:"last_error"`
	LastSyncAt *time.Time       `db:"last_sync_at" json:"last_sync_at"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Credentials is the decrypted secret material of a connection.
type Credentials struct {
	// IMAP
	Host     string `json:"host,omitempty"`
	Port     string `json:"port,omitempty"`
	TLS      bool   `json:"tls,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// OAuth
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}
