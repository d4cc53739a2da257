package directory

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const duplicateEmailCode = "email_exists"

// APIError is a non-2xx response from the identity provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("directory: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("directory: %s (status %d)", e.Message, e.Status)
}

// IsDuplicateEmail reports whether the error means the account's email is
// already registered. The structured error code is authoritative; the
// message match covers provider versions that predate error codes and is
// deliberately confined to this predicate.
func IsDuplicateEmail(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == duplicateEmailCode {
		return true
	}
	if apiErr.Status == http.StatusUnprocessableEntity || apiErr.Status == http.StatusBadRequest {
		return strings.Contains(strings.ToLower(apiErr.Message), "already") &&
			strings.Contains(strings.ToLower(apiErr.Message), "registered")
	}
	return false
}

// IsInvalidCredentials reports whether the error is the provider rejecting a
// password sign-in.
func IsInvalidCredentials(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized
}
