package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/campuslink/authbridge/internal/credstore"
)

type stubCredentialReader struct {
	record credstore.StaffCredential
	err    error
}

func (s stubCredentialReader) FindStaffByUsername(ctx context.Context, username string) (credstore.StaffCredential, error) {
	if s.err != nil {
		return credstore.StaffCredential{}, s.err
	}
	return s.record, nil
}

func newService(t *testing.T, reader CredentialReader) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Credentials: reader})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestResolveReturnsEmailForMatchingCredentials(t *testing.T) {
	service := newService(t, stubCredentialReader{record: credstore.StaffCredential{
		Email:    "Bob@Campus.EDU",
		Username: "bwalters",
		Password: "secret1",
		Role:     "Care Staff",
	}})

	email, err := service.Resolve(context.Background(), "bwalters", "secret1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if email != "bob@campus.edu" {
		t.Fatalf("expected normalized email, got %q", email)
	}
}

func TestResolveReturnsSameErrorForUnknownUserAndWrongPassword(t *testing.T) {
	unknown := newService(t, stubCredentialReader{err: credstore.ErrNotFound})
	_, unknownErr := unknown.Resolve(context.Background(), "ghost", "secret1")

	wrongPassword := newService(t, stubCredentialReader{record: credstore.StaffCredential{
		Email:    "bob@campus.edu",
		Username: "bwalters",
		Password: "secret1",
	}})
	_, mismatchErr := wrongPassword.Resolve(context.Background(), "bwalters", "wrong")

	if !errors.Is(unknownErr, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin for unknown user, got %v", unknownErr)
	}
	if !errors.Is(mismatchErr, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin for wrong password, got %v", mismatchErr)
	}
	if unknownErr.Error() != mismatchErr.Error() {
		t.Fatalf("responses must be indistinguishable: %q vs %q", unknownErr, mismatchErr)
	}
}

func TestResolveRejectsEmptyInputBeforeStoreRead(t *testing.T) {
	service := newService(t, stubCredentialReader{err: errors.New("store must not be reached")})

	if _, err := service.Resolve(context.Background(), "  ", "secret1"); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
	if _, err := service.Resolve(context.Background(), "bwalters", ""); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("expected ErrMissingInput, got %v", err)
	}
}

func TestResolveRejectsRecordWithoutEmail(t *testing.T) {
	service := newService(t, stubCredentialReader{record: credstore.StaffCredential{
		Username: "bwalters",
		Password: "secret1",
	}})

	if _, err := service.Resolve(context.Background(), "bwalters", "secret1"); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
}

func TestResolvePropagatesStoreFailures(t *testing.T) {
	storeErr := errors.New("disk gone")
	service := newService(t, stubCredentialReader{err: storeErr})

	_, err := service.Resolve(context.Background(), "bwalters", "secret1")
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
}
