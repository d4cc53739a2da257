package credstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MinPasswordLength is the shortest legacy password the identity provider
// will accept. Records below it cannot be migrated or used for login.
const MinPasswordLength = 6

var (
	// ErrUnknownRole is returned when a stored staff role is not a known variant.
	ErrUnknownRole = errors.New("credstore: unknown staff role")
	// ErrUnknownStatus is returned when a stored student status is not a known variant.
	ErrUnknownStatus = errors.New("credstore: unknown student status")
)

// PrincipalKind distinguishes the two credential populations.
type PrincipalKind string

const (
	KindStaff   PrincipalKind = "staff"
	KindStudent PrincipalKind = "student"
)

// StaffRole is the closed set of roles a staff credential may carry.
type StaffRole string

const (
	RoleAdmin     StaffRole = "Admin"
	RoleCareStaff StaffRole = "Care Staff"
	RoleCounselor StaffRole = "Counselor"
)

// ParseStaffRole maps a stored role string onto a known variant, rejecting
// anything else at the store boundary.
func ParseStaffRole(value string) (StaffRole, error) {
	switch StaffRole(strings.TrimSpace(value)) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleCareStaff:
		return RoleCareStaff, nil
	case RoleCounselor:
		return RoleCounselor, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, value)
	}
}

// StudentStatus is the closed set of enrollment states a student credential may carry.
type StudentStatus string

const (
	StatusActive    StudentStatus = "Active"
	StatusProbation StudentStatus = "Probation"
	StatusSuspended StudentStatus = "Suspended"
	StatusGraduated StudentStatus = "Graduated"
)

// ParseStudentStatus maps a stored status string onto a known variant.
func ParseStudentStatus(value string) (StudentStatus, error) {
	switch StudentStatus(strings.TrimSpace(value)) {
	case StatusActive:
		return StatusActive, nil
	case StatusProbation:
		return StatusProbation, nil
	case StatusSuspended:
		return StatusSuspended, nil
	case StatusGraduated:
		return StatusGraduated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, value)
	}
}

// CanLogIn reports whether the status permits a student session.
func (s StudentStatus) CanLogIn() bool {
	return s == StatusActive || s == StatusProbation
}

// StaffCredential is one row of the legacy staff table. Read-only to this
// subsystem; the account-management screens own writes.
type StaffCredential struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	Email       string    `gorm:"column:email;size:320"`
	Password    string    `gorm:"column:password;size:190"`
	Username    string    `gorm:"column:username;size:190;index"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Department  string    `gorm:"column:department;size:190"`
	Role        string    `gorm:"column:role;size:64;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing staff credentials.
func (StaffCredential) TableName() string {
	return "staff_credentials"
}

// NormalizedEmail returns the trimmed, lower-cased email used as the join key.
func (c StaffCredential) NormalizedEmail() string {
	return normalizeEmail(c.Email)
}

// Reconcilable reports whether the record can be backfilled into the
// identity provider: a usable email and a password of migratable length.
func (c StaffCredential) Reconcilable() bool {
	return c.NormalizedEmail() != "" && len(c.Password) >= MinPasswordLength
}

// StudentCredential is one row of the legacy student table.
type StudentCredential struct {
	ID          uint      `gorm:"column:id;primaryKey"`
	Email       string    `gorm:"column:email;size:320"`
	Password    string    `gorm:"column:password;size:190"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Program     string    `gorm:"column:program;size:190"`
	Status      string    `gorm:"column:status;size:64;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing student credentials.
func (StudentCredential) TableName() string {
	return "student_credentials"
}

// NormalizedEmail returns the trimmed, lower-cased email used as the join key.
func (c StudentCredential) NormalizedEmail() string {
	return normalizeEmail(c.Email)
}

// Reconcilable reports whether the record can be backfilled into the identity provider.
func (c StudentCredential) Reconcilable() bool {
	return c.NormalizedEmail() != "" && len(c.Password) >= MinPasswordLength
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
