package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/directory"
	"github.com/campuslink/authbridge/internal/resolver"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthProvider is the slice of the identity provider the controller needs.
type AuthProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (directory.Grant, error)
	SignOut(ctx context.Context, accessToken string) error
	GetAccount(ctx context.Context, accessToken string) (directory.Account, error)
}

// LoginResolver turns a non-email staff handle into the email the provider
// authenticates with. Implementations must reject with resolver.ErrInvalidLogin.
type LoginResolver interface {
	Resolve(ctx context.Context, loginID, password string) (string, error)
}

// CredentialReader is the slice of the legacy store the controller reads.
type CredentialReader interface {
	FindStaffByEmail(ctx context.Context, email string) (credstore.StaffCredential, error)
	FindStudentByEmail(ctx context.Context, email string) (credstore.StudentCredential, error)
}

// ControllerConfig describes controller dependencies.
type ControllerConfig struct {
	Provider       AuthProvider
	Resolver       LoginResolver
	Credentials    CredentialReader
	Storage        PersistentStore
	LegacyFallback bool
	Logger         *zap.Logger
}

// Controller owns the single client-resident session: login for either
// principal population, persistence, restoration, and sign-out.
type Controller struct {
	provider       AuthProvider
	resolver       LoginResolver
	credentials    CredentialReader
	storage        PersistentStore
	legacyFallback bool
	logger         *zap.Logger

	mu          sync.Mutex
	current     *Session
	accessToken string

	notifier  *notifier
	sequencer eventSequencer
}

// NewController constructs the session controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("session: auth provider required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("session: credential reader required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("session: persistent store required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		provider:       cfg.Provider,
		resolver:       cfg.Resolver,
		credentials:    cfg.Credentials,
		storage:        cfg.Storage,
		legacyFallback: cfg.LegacyFallback,
		logger:         logger,
		notifier:       newNotifier(),
	}, nil
}

// Current returns a copy of the active session, if any.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Session{}, false
	}
	return *c.current, true
}

// Subscribe delivers a notification on every session change until ctx ends.
func (c *Controller) Subscribe(ctx context.Context) (<-chan Notification, func()) {
	return c.notifier.subscribe(ctx)
}

// LoginStaff authenticates a staff member by email or login handle. The
// provider path is tried first; when it rejects the credentials and legacy
// fallback is enabled, the plaintext legacy record is compared directly.
func (c *Controller) LoginStaff(ctx context.Context, identifier, password string, requiredRole credstore.StaffRole) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(identifier))
	if email == "" {
		return Session{}, ErrIdentifierRequired
	}

	if !strings.Contains(email, "@") {
		if c.resolver == nil {
			return Session{}, ErrInvalidLogin
		}
		resolved, err := c.resolver.Resolve(ctx, email, password)
		if err != nil {
			if errors.Is(err, resolver.ErrInvalidLogin) || errors.Is(err, resolver.ErrMissingInput) {
				return Session{}, ErrInvalidLogin
			}
			return Session{}, &ConnectionError{Cause: err}
		}
		email = resolved
	}

	// Drop any in-memory grant so a stale session cannot mask a fresh failure.
	c.clearLocal()

	grant, signInErr := c.provider.SignInWithPassword(ctx, email, password)
	if signInErr == nil {
		return c.completeStaffManagedLogin(ctx, email, grant, requiredRole)
	}
	if !directory.IsInvalidCredentials(signInErr) {
		return Session{}, &ConnectionError{Cause: signInErr}
	}

	if !c.legacyFallback {
		return Session{}, ErrIncorrectPassword
	}
	return c.staffLegacyLogin(ctx, email, password, requiredRole)
}

func (c *Controller) completeStaffManagedLogin(ctx context.Context, email string, grant directory.Grant, requiredRole credstore.StaffRole) (Session, error) {
	record, err := c.credentials.FindStaffByEmail(ctx, email)
	if errors.Is(err, credstore.ErrNotFound) {
		c.forceProviderSignOut(ctx, grant.AccessToken)
		return Session{}, ErrNoAccount
	}
	if err != nil {
		c.forceProviderSignOut(ctx, grant.AccessToken)
		return Session{}, &ConnectionError{Cause: err}
	}
	role, err := credstore.ParseStaffRole(record.Role)
	if err != nil || role != requiredRole {
		c.forceProviderSignOut(ctx, grant.AccessToken)
		return Session{}, &AccessDeniedError{RequiredRole: requiredRole}
	}
	session := staffSession(record, AuthModeManaged)
	c.commit(session, grant.AccessToken, grant.RefreshToken)
	return session, nil
}

func (c *Controller) staffLegacyLogin(ctx context.Context, email, password string, requiredRole credstore.StaffRole) (Session, error) {
	record, err := c.credentials.FindStaffByEmail(ctx, email)
	if errors.Is(err, credstore.ErrNotFound) {
		return Session{}, ErrNoAccount
	}
	if err != nil {
		return Session{}, &ConnectionError{Cause: err}
	}
	role, err := credstore.ParseStaffRole(record.Role)
	if err != nil || role != requiredRole {
		return Session{}, &AccessDeniedError{RequiredRole: requiredRole}
	}
	if !legacyPasswordMatches(record.Password, password) {
		return Session{}, ErrIncorrectPassword
	}
	c.logger.Info("legacy fallback login", zap.String("email", email), zap.String("user_type", string(UserTypeStaff)))
	session := staffSession(record, AuthModeLegacy)
	c.commit(session, "", "")
	return session, nil
}

// LoginStudent authenticates a student by email. Only Active and Probation
// statuses may hold a session.
func (c *Controller) LoginStudent(ctx context.Context, email, password string) (Session, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return Session{}, ErrIdentifierRequired
	}

	c.clearLocal()

	grant, signInErr := c.provider.SignInWithPassword(ctx, normalized, password)
	if signInErr == nil {
		return c.completeStudentManagedLogin(ctx, normalized, grant)
	}
	if !directory.IsInvalidCredentials(signInErr) {
		return Session{}, &ConnectionError{Cause: signInErr}
	}

	if !c.legacyFallback {
		return Session{}, ErrIncorrectPassword
	}
	return c.studentLegacyLogin(ctx, normalized, password)
}

func (c *Controller) completeStudentManagedLogin(ctx context.Context, email string, grant directory.Grant) (Session, error) {
	record, err := c.credentials.FindStudentByEmail(ctx, email)
	if errors.Is(err, credstore.ErrNotFound) {
		c.forceProviderSignOut(ctx, grant.AccessToken)
		return Session{}, ErrNoAccount
	}
	if err != nil {
		c.forceProviderSignOut(ctx, grant.AccessToken)
		return Session{}, &ConnectionError{Cause: err}
	}
	status, err := credstore.ParseStudentStatus(record.Status)
	if err != nil || !status.CanLogIn() {
		c.forceProviderSignOut(ctx, grant.AccessToken)
		return Session{}, ErrInactiveAccount
	}
	session := studentSession(record, AuthModeManaged)
	c.commit(session, grant.AccessToken, grant.RefreshToken)
	return session, nil
}

func (c *Controller) studentLegacyLogin(ctx context.Context, email, password string) (Session, error) {
	record, err := c.credentials.FindStudentByEmail(ctx, email)
	if errors.Is(err, credstore.ErrNotFound) {
		return Session{}, ErrNoAccount
	}
	if err != nil {
		return Session{}, &ConnectionError{Cause: err}
	}
	status, err := credstore.ParseStudentStatus(record.Status)
	if err != nil || !status.CanLogIn() {
		return Session{}, ErrInactiveAccount
	}
	if !legacyPasswordMatches(record.Password, password) {
		return Session{}, ErrIncorrectPassword
	}
	c.logger.Info("legacy fallback login", zap.String("email", email), zap.String("user_type", string(UserTypeStudent)))
	session := studentSession(record, AuthModeLegacy)
	c.commit(session, "", "")
	return session, nil
}

// Logout revokes the provider grant (best effort), clears the persisted
// entry, and drops the in-memory session.
func (c *Controller) Logout(ctx context.Context) {
	c.mu.Lock()
	token := c.accessToken
	c.mu.Unlock()

	if token != "" {
		if err := c.provider.SignOut(ctx, token); err != nil {
			c.logger.Warn("provider sign-out failed", zap.Error(err))
		}
	}
	if err := c.storage.Clear(); err != nil {
		c.logger.Warn("failed to clear persisted session", zap.Error(err))
	}
	c.clearLocal()
	c.notifier.publish(Notification{Session: nil})
}

// Restore rebuilds the session at startup. A live provider session wins;
// otherwise the persisted copy is trusted only while legacy fallback is
// enabled.
func (c *Controller) Restore(ctx context.Context) (Session, bool) {
	state, err := c.storage.Load()
	if err != nil {
		if !errors.Is(err, ErrNoPersistedState) {
			c.logger.Warn("failed to load persisted session", zap.Error(err))
		}
		return Session{}, false
	}

	if state.AccessToken != "" {
		account, err := c.provider.GetAccount(ctx, state.AccessToken)
		if err == nil {
			if session, ok := c.hydrateFromEmail(ctx, account.Email, AuthModeManaged); ok {
				c.commit(session, state.AccessToken, state.RefreshToken)
				return session, true
			}
		} else if !errors.Is(err, directory.ErrAccountNotFound) {
			c.logger.Warn("provider session lookup failed", zap.Error(err))
		}
	}

	if !c.legacyFallback {
		// Strict mode: a persisted copy without a live provider session
		// cannot be trusted.
		if err := c.storage.Clear(); err != nil {
			c.logger.Warn("failed to discard stale session", zap.Error(err))
		}
		return Session{}, false
	}

	session := state.Session
	c.commit(session, state.AccessToken, state.RefreshToken)
	return session, true
}

// HandleAuthEvent re-runs hydration for a provider session-change
// notification. A resolution overtaken by a newer notification is dropped so
// a slow handler can never resurrect a stale session.
func (c *Controller) HandleAuthEvent(ctx context.Context, event AuthEvent) {
	seq := c.sequencer.next()

	if event.Type == AuthEventSignedOut {
		if !c.sequencer.isCurrent(seq) {
			return
		}
		if err := c.storage.Clear(); err != nil {
			c.logger.Warn("failed to clear persisted session", zap.Error(err))
		}
		c.clearLocal()
		c.notifier.publish(Notification{Session: nil})
		return
	}

	session, ok := c.hydrateFromEmail(ctx, event.Email, AuthModeManaged)
	if !c.sequencer.isCurrent(seq) {
		c.logger.Debug("dropping superseded auth event", zap.String("email", event.Email))
		return
	}
	if !ok {
		if err := c.storage.Clear(); err != nil {
			c.logger.Warn("failed to clear persisted session", zap.Error(err))
		}
		c.clearLocal()
		c.notifier.publish(Notification{Session: nil})
		return
	}
	c.commit(session, event.AccessToken, "")
}

// hydrateFromEmail derives a session from the legacy tables, staff first.
func (c *Controller) hydrateFromEmail(ctx context.Context, email string, mode AuthMode) (Session, bool) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return Session{}, false
	}
	staff, err := c.credentials.FindStaffByEmail(ctx, normalized)
	if err == nil {
		return staffSession(staff, mode), true
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		c.logger.Warn("staff lookup failed during hydration", zap.Error(err))
		return Session{}, false
	}
	student, err := c.credentials.FindStudentByEmail(ctx, normalized)
	if err == nil {
		return studentSession(student, mode), true
	}
	if !errors.Is(err, credstore.ErrNotFound) {
		c.logger.Warn("student lookup failed during hydration", zap.Error(err))
	}
	return Session{}, false
}

func (c *Controller) commit(session Session, accessToken, refreshToken string) {
	c.mu.Lock()
	copied := session
	c.current = &copied
	c.accessToken = accessToken
	c.mu.Unlock()

	if err := c.storage.Save(PersistedState{
		Session:      session,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}); err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}
	c.notifier.publish(Notification{Session: &copied})
}

func (c *Controller) clearLocal() {
	c.mu.Lock()
	c.current = nil
	c.accessToken = ""
	c.mu.Unlock()
}

func (c *Controller) forceProviderSignOut(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := c.provider.SignOut(ctx, accessToken); err != nil {
		c.logger.Warn("forced provider sign-out failed", zap.Error(err))
	}
}

func staffSession(record credstore.StaffCredential, mode AuthMode) Session {
	return Session{
		SessionID:   uuid.NewString(),
		UserType:    UserTypeStaff,
		AuthMode:    mode,
		User:        Identity{ID: fmt.Sprintf("%d", record.ID), Email: record.NormalizedEmail()},
		Username:    record.Username,
		DisplayName: record.DisplayName,
		Role:        record.Role,
		Department:  record.Department,
	}
}

func studentSession(record credstore.StudentCredential, mode AuthMode) Session {
	return Session{
		SessionID:   uuid.NewString(),
		UserType:    UserTypeStudent,
		AuthMode:    mode,
		User:        Identity{ID: fmt.Sprintf("%d", record.ID), Email: record.NormalizedEmail()},
		DisplayName: record.DisplayName,
		Status:      record.Status,
		Program:     record.Program,
	}
}

// legacyPasswordMatches compares the stored plaintext password in constant
// time. This is the migration-era fallback, not a credential scheme.
func legacyPasswordMatches(stored, supplied string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
