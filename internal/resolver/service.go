// Package resolver translates a staff login handle into the email the
// identity provider authenticates with. It never establishes a session by
// itself.
package resolver

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/campuslink/authbridge/internal/credstore"
	"go.uber.org/zap"
)

var (
	// ErrInvalidLogin covers both unknown usernames and wrong passwords so
	// responses cannot be used to enumerate accounts.
	ErrInvalidLogin = errors.New("invalid username or password")
	// ErrMissingInput is returned before any store read when a field is empty.
	ErrMissingInput = errors.New("login id and password are required")
)

// CredentialReader is the slice of the credential store the resolver needs.
type CredentialReader interface {
	FindStaffByUsername(ctx context.Context, username string) (credstore.StaffCredential, error)
}

// ServiceConfig describes resolver dependencies.
type ServiceConfig struct {
	Credentials CredentialReader
	Logger      *zap.Logger
}

// Service resolves staff login handles against the legacy staff table.
type Service struct {
	credentials CredentialReader
	logger      *zap.Logger
}

// NewService constructs the resolver service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("resolver: credential reader required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{credentials: cfg.Credentials, logger: logger}, nil
}

// Resolve returns the email of the most recent staff record matching the
// login handle, after verifying the stored password. Absence and mismatch
// produce the same error.
func (s *Service) Resolve(ctx context.Context, loginID, password string) (string, error) {
	handle := strings.TrimSpace(loginID)
	if handle == "" || password == "" {
		return "", ErrMissingInput
	}

	record, err := s.credentials.FindStaffByUsername(ctx, handle)
	if errors.Is(err, credstore.ErrNotFound) {
		return "", ErrInvalidLogin
	}
	if err != nil {
		return "", err
	}

	// Migration-era records hold plaintext passwords; compare in constant
	// time until the population is gone.
	if subtle.ConstantTimeCompare([]byte(record.Password), []byte(password)) != 1 {
		return "", ErrInvalidLogin
	}

	email := record.NormalizedEmail()
	if email == "" {
		s.logger.Warn("staff record matched login id but has no email",
			zap.String("username", record.Username))
		return "", ErrInvalidLogin
	}
	return email, nil
}
