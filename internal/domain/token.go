package domain

import "time"

type TokenType string

const (
	TokenTypeEmail TokenType = "EMAIL_TOKEN"
	TokenTypeTOTP  TokenType = "TOTP"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeEmail || t == TokenTypeTOTP
}

// Token is a one time credential owned by a session. Payload holds the
// challenge material where the factor has any (the emailed token value);
// TOTP tokens carry no payload, the code is checked against the user secret.
type Token struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"index;size:64;not null" json:"session_id"`
	Email     string    `gorm:"size:254;not null" json:"email"`
	Type      TokenType `gorm:"index;size:32;not null" json:"type"`
	Payload   string    `gorm:"size:128" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
}

func (t *Token) Expired(now time.Time) bool { return !t.ExpiresAt.After(now) }
