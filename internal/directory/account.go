package directory

import (
	"strings"
	"time"
)

// Metadata keys mirrored from the originating credential record onto the
// provider account. The email is the join key; metadata is descriptive only.
const (
	MetadataKeyKind        = "kind"
	MetadataKeyRole        = "role"
	MetadataKeyStatus      = "status"
	MetadataKeySourceTable = "source_table"
	MetadataKeySourceID    = "source_id"
	MetadataKeyUsername    = "username"
	MetadataKeyDisplayName = "display_name"
)

// Account is one entry in the managed identity directory.
type Account struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	EmailConfirmed bool           `json:"email_confirmed"`
	Metadata       map[string]any `json:"user_metadata"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Grant is the provider's response to a successful password sign-in.
type Grant struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    int64   `json:"expires_in"`
	Account      Account `json:"user"`
}

// NormalizeEmail trims and lower-cases an email address. Accounts are keyed
// by normalized email across the whole directory.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// ValidEmail reports whether a normalized email has a plausible shape: a
// non-empty local part and domain around a single separator.
func ValidEmail(email string) bool {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	return !strings.Contains(email[at+1:], "@")
}
