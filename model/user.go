// Package model contains all domain models and data structures for the broker.
package model

import "time"

// Role classifies a broker account.
type Role string

const (
	// RoleClient is a regular publishing/subscribing account.
	RoleClient Role = "CLIENT"

	// RoleAdmin may additionally define event types.
	RoleAdmin Role = "ADMIN"
)

// ParseRole converts a wire role field to a Role.
// Returns false if the value is not a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleClient, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// User represents a broker account. Accounts are created by registration and
// immutable afterwards; the broker core only reads and writes their IDs.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for User.
func (u User) TableName() string {
	return tablePrefix + "user"
}

// NewUser creates a new account with the given (already hashed) password.
func NewUser(username, passwordHash string, role Role) User {
	return User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
}

// IsAdmin reports whether the account carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
