package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

const RoleSupporter = "supporter"

// RoleList is stored as a comma separated text column.
type RoleList []string

func (r RoleList) Value() (driver.Value, error) {
	if len(r) == 0 {
		return "", nil
	}
	return strings.Join(r, ","), nil
}

func (r *RoleList) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*r = nil
	case string:
		*r = splitRoles(v)
	case []byte:
		*r = splitRoles(string(v))
	default:
		return fmt.Errorf("unsupported role list type %T", value)
	}
	return nil
}

func splitRoles(raw string) RoleList {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make(RoleList, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			roles = append(roles, p)
		}
	}
	return roles
}

type User struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	Email               string    `gorm:"uniqueIndex;size:254;not null" json:"email"`
	Username            *string   `gorm:"uniqueIndex;size:64" json:"username,omitempty"`
	Verified            bool      `gorm:"not null" json:"verified"`
	IsTwoFactorEnabled  bool      `gorm:"not null" json:"is_two_factor_enabled"`
	TwoFactorSecret     *string   `gorm:"size:64" json:"-"`
	TempTwoFactorSecret *string   `gorm:"size:64" json:"-"`
	Roles               RoleList  `gorm:"type:text" json:"roles,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasActiveSecondFactor reports whether a confirmed TOTP secret is on file.
// A temp secret alone is a provisioning in flight, not a usable factor.
func (u *User) HasActiveSecondFactor() bool {
	return u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}
