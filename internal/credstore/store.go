package credstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no credential row matches the lookup.
var ErrNotFound = errors.New("credstore: record not found")

// Store provides read access to the two legacy credential tables.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("credstore: database connection required")
	}
	return &Store{db: db}, nil
}

// FindStaffByEmail returns the most recent staff row whose email matches
// case-insensitively. Duplicate emails can exist in the legacy table; the
// newest row wins.
func (s *Store) FindStaffByEmail(ctx context.Context, email string) (StaffCredential, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return StaffCredential{}, ErrNotFound
	}
	var record StaffCredential
	err := s.db.WithContext(ctx).
		Where("LOWER(TRIM(email)) = ?", normalized).
		Order("created_at DESC, id DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StaffCredential{}, ErrNotFound
	}
	if err != nil {
		return StaffCredential{}, err
	}
	return record, nil
}

// FindStaffByUsername returns the most recent staff row whose username
// matches case-insensitively.
func (s *Store) FindStaffByUsername(ctx context.Context, username string) (StaffCredential, error) {
	normalized := normalizeEmail(username)
	if normalized == "" {
		return StaffCredential{}, ErrNotFound
	}
	var record StaffCredential
	err := s.db.WithContext(ctx).
		Where("LOWER(TRIM(username)) = ?", normalized).
		Order("created_at DESC, id DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StaffCredential{}, ErrNotFound
	}
	if err != nil {
		return StaffCredential{}, err
	}
	return record, nil
}

// FindStudentByEmail returns the most recent student row whose email matches
// case-insensitively.
func (s *Store) FindStudentByEmail(ctx context.Context, email string) (StudentCredential, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return StudentCredential{}, ErrNotFound
	}
	var record StudentCredential
	err := s.db.WithContext(ctx).
		Where("LOWER(TRIM(email)) = ?", normalized).
		Order("created_at DESC, id DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StudentCredential{}, ErrNotFound
	}
	if err != nil {
		return StudentCredential{}, err
	}
	return record, nil
}

// ListStaff returns every staff row ordered by creation time.
func (s *Store) ListStaff(ctx context.Context) ([]StaffCredential, error) {
	var records []StaffCredential
	err := s.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ListStudents returns every student row ordered by creation time.
func (s *Store) ListStudents(ctx context.Context) ([]StudentCredential, error) {
	var records []StudentCredential
	err := s.db.WithContext(ctx).
		Order("created_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountStaff returns the staff table row count.
func (s *Store) CountStaff(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&StaffCredential{}).Count(&count).Error
	return count, err
}

// CountStudents returns the student table row count.
func (s *Store) CountStudents(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&StudentCredential{}).Count(&count).Error
	return count, err
}
