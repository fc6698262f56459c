package model

import (
	"time"
)

// User is an admin API account. Assessors and certificate managers
// authenticate with basic auth against the stored argon2id hash.
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Username string `gorm:"uniqueIndex" json:"username"`

	// PasswordHash stores a PHC-formatted argon2id hash of the user's
	// password. It is cleared before a User leaves the storage layer.
	PasswordHash string `json:"-"`

	DisplayName string `json:"display_name,omitempty"`
	Disabled    bool   `json:"disabled"`
}

// UsersStore is the persistence backend for admin accounts.
type UsersStore interface {
	// Count returns the number of accounts.
	Count() (int64, error)

	// List returns all accounts without their password hashes.
	List() ([]User, error)

	// Get returns one account by username.
	Get(username string) (*User, error)

	// Create stores a new account with a freshly hashed password.
	Create(username, password, displayName string) (*User, error)

	// Update changes display name, password or disabled flag; nil leaves a
	// field untouched.
	Update(username string, displayName, newPassword *string, disabled *bool) (*User, error)

	// Delete removes an account.
	Delete(username string) error

	// Authenticate validates credentials and returns the account on success.
	Authenticate(username, password string) (*User, error)
}
