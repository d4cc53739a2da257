package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testDBSequence int

func openTestStore(t *testing.T) *Store {
	t.Helper()
	testDBSequence++
	name := fmt.Sprintf("file:credstore_%s_%d?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"), testDBSequence)
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&StaffCredential{}, &StudentCredential{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return store
}

func mustCreate(t *testing.T, store *Store, record any) {
	t.Helper()
	if err := store.db.Create(record).Error; err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}
}

func TestFindStaffByEmailIsCaseInsensitive(t *testing.T) {
	store := openTestStore(t)
	mustCreate(t, store, &StaffCredential{Email: "Alice@Campus.EDU", Password: "secret1", Role: "Admin"})

	record, err := store.FindStaffByEmail(context.Background(), "alice@campus.edu")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if record.Role != "Admin" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestFindStaffByEmailPrefersMostRecentDuplicate(t *testing.T) {
	store := openTestStore(t)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mustCreate(t, store, &StaffCredential{Email: "dup@campus.edu", Password: "oldpass1", Role: "Counselor", CreatedAt: older})
	mustCreate(t, store, &StaffCredential{Email: "dup@campus.edu", Password: "newpass1", Role: "Admin", CreatedAt: newer})

	record, err := store.FindStaffByEmail(context.Background(), "dup@campus.edu")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if record.Password != "newpass1" || record.Role != "Admin" {
		t.Fatalf("expected most recent duplicate, got %+v", record)
	}
}

func TestFindStaffByUsernameMatchesCaseInsensitively(t *testing.T) {
	store := openTestStore(t)
	mustCreate(t, store, &StaffCredential{Email: "bob@campus.edu", Username: "BWalters", Password: "secret1", Role: "Care Staff"})

	record, err := store.FindStaffByUsername(context.Background(), "bwalters")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if record.Email != "bob@campus.edu" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestFindStaffByUsernameReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.FindStaffByUsername(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindStudentByEmailReturnsNotFoundForEmptyInput(t *testing.T) {
	store := openTestStore(t)
	_, err := store.FindStudentByEmail(context.Background(), "   ")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListStaffOrdersByCreationTime(t *testing.T) {
	store := openTestStore(t)
	first := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mustCreate(t, store, &StaffCredential{Email: "late@campus.edu", Password: "secret1", Role: "Admin", CreatedAt: second})
	mustCreate(t, store, &StaffCredential{Email: "early@campus.edu", Password: "secret1", Role: "Admin", CreatedAt: first})

	records, err := store.ListStaff(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Email != "early@campus.edu" || records[1].Email != "late@campus.edu" {
		t.Fatalf("unexpected ordering: %q then %q", records[0].Email, records[1].Email)
	}
}

func TestCountStudents(t *testing.T) {
	store := openTestStore(t)
	mustCreate(t, store, &StudentCredential{Email: "s1@campus.edu", Password: "secret1", Status: "Active"})
	mustCreate(t, store, &StudentCredential{Email: "s2@campus.edu", Password: "secret1", Status: "Probation"})

	count, err := store.CountStudents(context.Background())
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 students, got %d", count)
	}
}
