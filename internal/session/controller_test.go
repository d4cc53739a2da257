package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/campuslink/authbridge/internal/credstore"
	"github.com/campuslink/authbridge/internal/directory"
	"github.com/campuslink/authbridge/internal/resolver"
)

type stubProvider struct {
	grant      directory.Grant
	signInErr  error
	account    directory.Account
	accountErr error

	mu          sync.Mutex
	signOutHits int
}

func (s *stubProvider) SignInWithPassword(ctx context.Context, email, password string) (directory.Grant, error) {
	if s.signInErr != nil {
		return directory.Grant{}, s.signInErr
	}
	return s.grant, nil
}

func (s *stubProvider) SignOut(ctx context.Context, accessToken string) error {
	s.mu.Lock()
	s.signOutHits++
	s.mu.Unlock()
	return nil
}

func (s *stubProvider) GetAccount(ctx context.Context, accessToken string) (directory.Account, error) {
	if s.accountErr != nil {
		return directory.Account{}, s.accountErr
	}
	return s.account, nil
}

func (s *stubProvider) signOuts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signOutHits
}

type stubResolver struct {
	email string
	err   error
}

func (s stubResolver) Resolve(ctx context.Context, loginID, password string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.email, nil
}

// stubCredentials serves fixed records keyed by normalized email and can
// block lookups to simulate a slow hydration round trip.
type stubCredentials struct {
	staff    map[string]credstore.StaffCredential
	students map[string]credstore.StudentCredential
	entered  chan struct{}
	gate     chan struct{}
}

func (s *stubCredentials) FindStaffByEmail(ctx context.Context, email string) (credstore.StaffCredential, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if record, ok := s.staff[email]; ok {
		return record, nil
	}
	return credstore.StaffCredential{}, credstore.ErrNotFound
}

func (s *stubCredentials) FindStudentByEmail(ctx context.Context, email string) (credstore.StudentCredential, error) {
	if record, ok := s.students[email]; ok {
		return record, nil
	}
	return credstore.StudentCredential{}, credstore.ErrNotFound
}

func invalidCredentialsErr() error {
	return &directory.APIError{Status: http.StatusBadRequest, Message: "Invalid login credentials"}
}

type controllerFixture struct {
	controller  *Controller
	provider    *stubProvider
	credentials *stubCredentials
	storage     *MemoryStore
}

func newFixture(t *testing.T, provider *stubProvider, res LoginResolver, credentials *stubCredentials, fallback bool) controllerFixture {
	t.Helper()
	storage := &MemoryStore{}
	controller, err := NewController(ControllerConfig{
		Provider:       provider,
		Resolver:       res,
		Credentials:    credentials,
		Storage:        storage,
		LegacyFallback: fallback,
	})
	if err != nil {
		t.Fatalf("failed to create controller: %v", err)
	}
	return controllerFixture{controller: controller, provider: provider, credentials: credentials, storage: storage}
}

func adminRecord() credstore.StaffCredential {
	return credstore.StaffCredential{
		ID:          7,
		Email:       "a@x.edu",
		Username:    "astone",
		Password:    "secret1",
		DisplayName: "A. Stone",
		Department:  "Student Affairs",
		Role:        "Admin",
	}
}

func TestLoginStaffManagedPathYieldsManagedSession(t *testing.T) {
	provider := &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	session, err := fixture.controller.LoginStaff(context.Background(), "A@X.edu", "secret1", credstore.RoleAdmin)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.AuthMode != AuthModeManaged {
		t.Fatalf("expected managed auth mode, got %q", session.AuthMode)
	}
	if session.UserType != UserTypeStaff || session.Role != "Admin" || session.User.Email != "a@x.edu" {
		t.Fatalf("unexpected session: %+v", session)
	}
	state, err := fixture.storage.Load()
	if err != nil {
		t.Fatalf("expected persisted state: %v", err)
	}
	if state.AccessToken != "token-1" {
		t.Fatalf("expected grant to be persisted, got %+v", state)
	}
}

func TestLoginStaffFallsBackToLegacyWhenProviderRejects(t *testing.T) {
	provider := &stubProvider{signInErr: invalidCredentialsErr()}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	session, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.AuthMode != AuthModeLegacy {
		t.Fatalf("expected legacy auth mode, got %q", session.AuthMode)
	}
	if session.Role != "Admin" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestLoginStaffWrongLegacyPasswordFailsWithIncorrectPassword(t *testing.T) {
	provider := &stubProvider{signInErr: invalidCredentialsErr()}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	_, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "wrongpass", credstore.RoleAdmin)
	if !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if err.Error() != "Incorrect password." {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if _, ok := fixture.controller.Current(); ok {
		t.Fatalf("no session must be established on failure")
	}
}

func TestLoginStaffFallbackDisabledFailsDespiteCorrectLegacyPassword(t *testing.T) {
	provider := &stubProvider{signInErr: invalidCredentialsErr()}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, false)

	_, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin)
	if !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
}

func TestLoginStaffRoleMismatchForcesProviderSignOut(t *testing.T) {
	provider := &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}
	record := adminRecord()
	record.Role = "Counselor"
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": record}}
	fixture := newFixture(t, provider, nil, credentials, true)

	_, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin)
	var denied *AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected AccessDeniedError, got %v", err)
	}
	if err.Error() != "Access denied. Admin role is required." {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if provider.signOuts() != 1 {
		t.Fatalf("expected forced provider sign-out, got %d", provider.signOuts())
	}
	if _, ok := fixture.controller.Current(); ok {
		t.Fatalf("no session must be established on role mismatch")
	}
}

func TestLoginStaffEmptyIdentifierRejectedBeforeAnyCall(t *testing.T) {
	provider := &stubProvider{signInErr: errors.New("provider must not be reached")}
	fixture := newFixture(t, provider, nil, &stubCredentials{}, true)

	_, err := fixture.controller.LoginStaff(context.Background(), "   ", "secret1", credstore.RoleAdmin)
	if !errors.Is(err, ErrIdentifierRequired) {
		t.Fatalf("expected ErrIdentifierRequired, got %v", err)
	}
}

func TestLoginStaffResolvesHandleThroughResolver(t *testing.T) {
	provider := &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, stubResolver{email: "a@x.edu"}, credentials, true)

	session, err := fixture.controller.LoginStaff(context.Background(), "astone", "secret1", credstore.RoleAdmin)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.User.Email != "a@x.edu" {
		t.Fatalf("unexpected session email: %q", session.User.Email)
	}
}

func TestLoginStaffResolverRejectionIsGeneric(t *testing.T) {
	provider := &stubProvider{}
	fixture := newFixture(t, provider, stubResolver{err: resolver.ErrInvalidLogin}, &stubCredentials{}, true)

	_, err := fixture.controller.LoginStaff(context.Background(), "astone", "wrong", credstore.RoleAdmin)
	if !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
	if err.Error() != "Invalid username or password." {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestLoginStaffProviderOutageSurfacesConnectionError(t *testing.T) {
	provider := &stubProvider{signInErr: errors.New("dial tcp: connection refused")}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	_, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestLoginStudentRejectsSuspendedStatusOnBothPaths(t *testing.T) {
	suspended := credstore.StudentCredential{
		ID:       3,
		Email:    "s@x.edu",
		Password: "secret1",
		Status:   "Suspended",
	}
	credentials := &stubCredentials{students: map[string]credstore.StudentCredential{"s@x.edu": suspended}}

	managed := newFixture(t, &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}, nil, credentials, true)
	if _, err := managed.controller.LoginStudent(context.Background(), "s@x.edu", "secret1"); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("managed path: expected ErrInactiveAccount, got %v", err)
	}
	if managed.provider.signOuts() != 1 {
		t.Fatalf("managed path: expected forced sign-out")
	}

	legacy := newFixture(t, &stubProvider{signInErr: invalidCredentialsErr()}, nil, credentials, true)
	if _, err := legacy.controller.LoginStudent(context.Background(), "s@x.edu", "secret1"); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("legacy path: expected ErrInactiveAccount, got %v", err)
	}
}

func TestLoginStudentProbationStatusIsAllowed(t *testing.T) {
	record := credstore.StudentCredential{ID: 4, Email: "p@x.edu", Password: "secret1", Status: "Probation", Program: "Biology"}
	credentials := &stubCredentials{students: map[string]credstore.StudentCredential{"p@x.edu": record}}
	fixture := newFixture(t, &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}, nil, credentials, true)

	session, err := fixture.controller.LoginStudent(context.Background(), "p@x.edu", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.UserType != UserTypeStudent || session.Status != "Probation" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestLogoutClearsSessionAndPersistedState(t *testing.T) {
	provider := &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	if _, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	fixture.controller.Logout(context.Background())

	if _, ok := fixture.controller.Current(); ok {
		t.Fatalf("expected session cleared")
	}
	if _, err := fixture.storage.Load(); !errors.Is(err, ErrNoPersistedState) {
		t.Fatalf("expected persisted state cleared, got %v", err)
	}
	if provider.signOuts() != 1 {
		t.Fatalf("expected provider sign-out, got %d", provider.signOuts())
	}
}

func TestRestoreRebuildsSessionFromLiveProviderGrant(t *testing.T) {
	provider := &stubProvider{account: directory.Account{ID: "u-1", Email: "a@x.edu"}}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	if err := fixture.storage.Save(PersistedState{
		Session:     Session{UserType: UserTypeStaff, AuthMode: AuthModeManaged},
		AccessToken: "token-1",
	}); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}

	session, ok := fixture.controller.Restore(context.Background())
	if !ok {
		t.Fatalf("expected session restored")
	}
	if session.User.Email != "a@x.edu" || session.AuthMode != AuthModeManaged {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestRestoreFallsBackToPersistedCopyOnlyWhenFallbackEnabled(t *testing.T) {
	persisted := PersistedState{Session: Session{UserType: UserTypeStaff, AuthMode: AuthModeLegacy, User: Identity{Email: "a@x.edu"}}}

	lenient := newFixture(t, &stubProvider{accountErr: directory.ErrAccountNotFound}, nil, &stubCredentials{}, true)
	if err := lenient.storage.Save(persisted); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}
	session, ok := lenient.controller.Restore(context.Background())
	if !ok || session.User.Email != "a@x.edu" {
		t.Fatalf("expected persisted fallback with fallback enabled, got ok=%v session=%+v", ok, session)
	}

	strict := newFixture(t, &stubProvider{accountErr: directory.ErrAccountNotFound}, nil, &stubCredentials{}, false)
	if err := strict.storage.Save(persisted); err != nil {
		t.Fatalf("failed to seed storage: %v", err)
	}
	if _, ok := strict.controller.Restore(context.Background()); ok {
		t.Fatalf("strict mode must not trust a persisted copy")
	}
	if _, err := strict.storage.Load(); !errors.Is(err, ErrNoPersistedState) {
		t.Fatalf("strict mode must discard the stale copy, got %v", err)
	}
}

func TestHandleAuthEventSignedOutClearsSession(t *testing.T) {
	provider := &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	if _, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	fixture.controller.HandleAuthEvent(context.Background(), AuthEvent{Type: AuthEventSignedOut})

	if _, ok := fixture.controller.Current(); ok {
		t.Fatalf("expected session cleared after signed-out event")
	}
}

func TestHandleAuthEventDropsSupersededResolution(t *testing.T) {
	slow := adminRecord()
	credentials := &stubCredentials{
		staff:   map[string]credstore.StaffCredential{"a@x.edu": slow},
		entered: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	fixture := newFixture(t, &stubProvider{}, nil, credentials, true)

	done := make(chan struct{})
	go func() {
		// Older signed-in event whose hydration stalls on the store.
		fixture.controller.HandleAuthEvent(context.Background(), AuthEvent{
			Type:  AuthEventSignedIn,
			Email: "a@x.edu",
		})
		close(done)
	}()

	// Newer sign-out arrives while the old hydration is still in flight.
	<-credentials.entered
	fixture.controller.HandleAuthEvent(context.Background(), AuthEvent{Type: AuthEventSignedOut})

	close(credentials.gate)
	<-done

	if _, ok := fixture.controller.Current(); ok {
		t.Fatalf("stale hydration must not resurrect a session")
	}
}

func TestSubscribeDeliversSessionChangeNotifications(t *testing.T) {
	provider := &stubProvider{grant: directory.Grant{AccessToken: "token-1"}}
	credentials := &stubCredentials{staff: map[string]credstore.StaffCredential{"a@x.edu": adminRecord()}}
	fixture := newFixture(t, provider, nil, credentials, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := fixture.controller.Subscribe(ctx)
	defer cleanup()

	if _, err := fixture.controller.LoginStaff(context.Background(), "a@x.edu", "secret1", credstore.RoleAdmin); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	notification := <-stream
	if notification.Session == nil || notification.Session.User.Email != "a@x.edu" {
		t.Fatalf("unexpected notification: %+v", notification)
	}

	fixture.controller.Logout(context.Background())
	notification = <-stream
	if notification.Session != nil {
		t.Fatalf("expected cleared-session notification, got %+v", notification)
	}
}
