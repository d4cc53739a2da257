// Package session hosts the client-resident login controller: provider-first
// authentication with a legacy-credential fallback, session persistence, and
// hydration from provider auth events.
package session

import (
	"errors"
	"fmt"

	"github.com/campuslink/authbridge/internal/credstore"
)

// AuthMode records which path produced a session.
type AuthMode string

const (
	AuthModeManaged AuthMode = "managed"
	AuthModeLegacy  AuthMode = "legacy"
)

// UserType distinguishes the two principal populations.
type UserType string

const (
	UserTypeStaff   UserType = "staff"
	UserTypeStudent UserType = "student"
)

// Identity is the {id, email} reference embedded in a session.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the authenticated-principal state held by the client. Profile
// fields are copied from the matching legacy credential record at hydration
// time.
type Session struct {
	SessionID   string   `json:"session_id"`
	UserType    UserType `json:"user_type"`
	AuthMode    AuthMode `json:"auth_mode"`
	User        Identity `json:"user"`
	Username    string   `json:"username,omitempty"`
	DisplayName string   `json:"display_name"`
	Role        string   `json:"role,omitempty"`
	Status      string   `json:"status,omitempty"`
	Department  string   `json:"department,omitempty"`
	Program     string   `json:"program,omitempty"`
}

// User-facing failure messages. Apart from the role-mismatch case these never
// reveal which of identifier, password, or role was wrong.
var (
	ErrIdentifierRequired = errors.New("Login ID or email is required.")
	ErrInvalidLogin       = errors.New("Invalid username or password.")
	ErrIncorrectPassword  = errors.New("Incorrect password.")
	ErrNoAccount          = errors.New("No account found for this email.")
	ErrInactiveAccount    = errors.New("This account is not active.")
)

// AccessDeniedError is the one failure that legitimately discloses the
// required role.
type AccessDeniedError struct {
	RequiredRole credstore.StaffRole
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("Access denied. %s role is required.", e.RequiredRole)
}

// ConnectionError wraps an unexpected provider or store failure with a
// generic user-facing prefix while keeping the underlying detail for
// diagnostics.
type ConnectionError struct {
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("Connection error: %v", e.Cause)
}

// Unwrap exposes the underlying failure.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
