// Package provision implements idempotent create-or-update of identity
// provider accounts from legacy credential records.
package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/directory"
	"go.uber.org/zap"
)

const defaultListPageSize = 200

// Status distinguishes a fresh account from an in-place update.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
)

var (
	// ErrInvalidEmail is returned before any provider call.
	ErrInvalidEmail = errors.New("provision: a valid email is required")
	// ErrWeakPassword is returned when the password is below the provider minimum.
	ErrWeakPassword = fmt.Errorf("provision: password must be at least %d characters", credstore.MinPasswordLength)
	// ErrAccountVanished is returned when a duplicate-email create cannot be
	// matched to an existing account afterwards.
	ErrAccountVanished = errors.New("provision: email reported as registered but no matching account found")
)

// DirectoryClient is the slice of the provider client provisioning needs.
type DirectoryClient interface {
	CreateAccount(ctx context.Context, params directory.CreateParams) (directory.Account, error)
	UpdateAccount(ctx context.Context, accountID string, params directory.UpdateParams) (directory.Account, error)
	ListAccounts(ctx context.Context, page, perPage int) ([]directory.Account, error)
}

// EnsureInput describes the account to create or update.
type EnsureInput struct {
	Email    string
	Password string
	Metadata map[string]any
}

// EnsureResult reports which path was taken and the resulting account.
type EnsureResult struct {
	Status    Status
	AccountID string
	Email     string
}

// ServiceConfig describes provisioning dependencies.
type ServiceConfig struct {
	Directory    DirectoryClient
	ListPageSize int
	Logger       *zap.Logger
}

// Service performs idempotent account provisioning.
type Service struct {
	directory    DirectoryClient
	listPageSize int
	logger       *zap.Logger
}

// NewService constructs the provisioning service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("provision: directory client required")
	}
	pageSize := cfg.ListPageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{directory: cfg.Directory, listPageSize: pageSize, logger: logger}, nil
}

// Ensure creates the directory account for the email, or updates the
// existing one's password and metadata when the email is already registered.
// Duplicate registration is never an error.
func (s *Service) Ensure(ctx context.Context, input EnsureInput) (EnsureResult, error) {
	email := directory.NormalizeEmail(input.Email)
	if !directory.ValidEmail(email) {
		return EnsureResult{}, ErrInvalidEmail
	}
	if len(input.Password) < credstore.MinPasswordLength {
		return EnsureResult{}, ErrWeakPassword
	}

	account, err := s.directory.CreateAccount(ctx, directory.CreateParams{
		Email:    email,
		Password: input.Password,
		Metadata: input.Metadata,
		Confirm:  true,
	})
	if err == nil {
		s.logger.Info("directory account created", zap.String("email", email))
		return EnsureResult{Status: StatusCreated, AccountID: account.ID, Email: email}, nil
	}
	if !directory.IsDuplicateEmail(err) {
		return EnsureResult{}, err
	}

	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return EnsureResult{}, err
	}

	updated, err := s.directory.UpdateAccount(ctx, existing.ID, directory.UpdateParams{
		Password: input.Password,
		Metadata: input.Metadata,
	})
	if err != nil {
		return EnsureResult{}, err
	}
	s.logger.Info("directory account updated", zap.String("email", email))
	return EnsureResult{Status: StatusUpdated, AccountID: updated.ID, Email: email}, nil
}

// findByEmail scans the paginated account list for a normalized email match.
// The admin API has no lookup-by-email route.
func (s *Service) findByEmail(ctx context.Context, email string) (directory.Account, error) {
	for page := 1; ; page++ {
		accounts, err := s.directory.ListAccounts(ctx, page, s.listPageSize)
		if err != nil {
			return directory.Account{}, err
		}
		for _, account := range accounts {
			if directory.NormalizeEmail(account.Email) == email {
				return account, nil
			}
		}
		if len(accounts) < s.listPageSize {
			return directory.Account{}, ErrAccountVanished
		}
	}
}
