package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent     UserRole = "student"
	RoleCoordinator UserRole = "coordinator"
	RoleAdmin       UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleStudent, RoleCoordinator, RoleAdmin:
		return true
	default:
		return false
	}
}

// AccountStatus is the approval state of a registered student.
type AccountStatus string

const (
	AccountStatusPending  AccountStatus = "pending"
	AccountStatusApproved AccountStatus = "approved"
	AccountStatusRejected AccountStatus = "rejected"
)

// User is the profile row stored in the users table. Program and batch names
// are read through joins and never written.
type User struct {
	ID                 string        `db:"id" json:"id"`
	Email              string        `db:"email" json:"email"`
	FullName           string        `db:"full_name" json:"full_name"`
	Role               UserRole      `db:"role" json:"role"`
	Status             AccountStatus `db:"status" json:"status"`
	RegistrationNumber *string       `db:"registration_number" json:"registration_number,omitempty"`
	Department         *string       `db:"department" json:"department,omitempty"`
	ProgramID          *string       `db:"program_id" json:"program_id,omitempty"`
	BatchID            *string       `db:"batch_id" json:"batch_id,omitempty"`
	CoordinatorID      *string       `db:"coordinator_id" json:"coordinator_id,omitempty"`
	ProgramName        *string       `db:"program_name" json:"program_name,omitempty"`
	ProgramType        *string       `db:"program_type" json:"program_type,omitempty"`
	BatchName          *string       `db:"batch_name" json:"batch_name,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Status    *AccountStatus
	ProgramID string
	Search    string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// UpdateProfileRequest edits the caller's own profile.
type UpdateProfileRequest struct {
	FullName           string  `json:"full_name" validate:"required,notblank,max=200"`
	RegistrationNumber *string `json:"registration_number" validate:"omitempty,max=64"`
	Department         *string `json:"department" validate:"omitempty,max=200"`
}

// ValueOr dereferences s, returning fallback when nil or empty.
func ValueOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
