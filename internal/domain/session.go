package domain

import "time"

// Session is a server side authentication context. It starts pending
// (UserID nil) and becomes authenticated once authorization binds it to a
// user. A denied session keeps UserID nil and is expired immediately.
type Session struct {
	SID            string    `gorm:"primaryKey;size:64;column:sid" json:"sid"`
	Email          string    `gorm:"index;size:254;not null" json:"email"`
	UserID         *string   `gorm:"index;size:36" json:"user_id,omitempty"`
	Phrase         string    `gorm:"size:64" json:"phrase"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	UserAgent      string    `gorm:"size:512" json:"user_agent"`
	IP             string    `gorm:"size:64" json:"ip"`
	ExpiresAt      time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Session) Authenticated() bool { return s.UserID != nil }
