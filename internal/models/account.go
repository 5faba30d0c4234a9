package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Account is the identity record used for authentication.
type Account struct {
	ID           string          `db:"id" json:"id"`
	Email        string          `db:"email" json:"email"`
	PasswordHash string          `db:"password_hash" json:"-"`
	Metadata     AccountMetadata `db:"metadata" json:"metadata"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	LastLogin    *time.Time      `db:"last_login" json:"last_login,omitempty"`
}

// AccountMetadata is captured at registration and persisted as JSONB. It seeds
// the profile row when one is missing.
type AccountMetadata struct {
	FullName           string   `json:"full_name"`
	RegistrationNumber string   `json:"registration_number,omitempty"`
	ProgramID          string   `json:"program_id,omitempty"`
	BatchID            string   `json:"batch_id,omitempty"`
	Department         string   `json:"department,omitempty"`
	CoordinatorID      string   `json:"coordinator_id,omitempty"`
	Role               UserRole `json:"role,omitempty"`
}

// Value marshals metadata to JSON for persistence.
func (m AccountMetadata) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal account metadata: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into metadata.
func (m *AccountMetadata) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = AccountMetadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AccountMetadata", value)
	}
	if len(data) == 0 {
		*m = AccountMetadata{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal account metadata: %w", err)
	}
	return nil
}

// ProvisionProfile builds the profile row implied by the account. Students
// start pending; staff roles are approved on creation.
func (a Account) ProvisionProfile(now time.Time) *User {
	role := a.Metadata.Role
	if !role.Valid() {
		role = RoleStudent
	}
	status := AccountStatusApproved
	if role == RoleStudent {
		status = AccountStatusPending
	}
	fullName := a.Metadata.FullName
	if fullName == "" {
		fullName = a.Email
	}
	return &User{
		ID:                 a.ID,
		Email:              a.Email,
		FullName:           fullName,
		Role:               role,
		Status:             status,
		RegistrationNumber: optional(a.Metadata.RegistrationNumber),
		Department:         optional(a.Metadata.Department),
		ProgramID:          optional(a.Metadata.ProgramID),
		BatchID:            optional(a.Metadata.BatchID),
		CoordinatorID:      optional(a.Metadata.CoordinatorID),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
