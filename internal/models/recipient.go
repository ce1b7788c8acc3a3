package models

import (
	"regexp"
	"strconv"
	"time"
)

var channelUsername = regexp.MustCompile(`^@[A-Za-z][A-Za-z0-9_]{4,31}$`)

// Recipient is a subscriber that receives chat notifications
type Recipient struct {
	UserID    string    `json:"userId" db:"user_id"`
	Wallet    *string   `json:"wallet,omitempty" db:"wallet"`
	Connected bool      `json:"connected" db:"connected"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WalletAddress returns the linked wallet or ""
func (r *Recipient) WalletAddress() string {
	if r == nil || r.Wallet == nil {
		return ""
	}
	return *r.Wallet
}

// IsValidChatID reports whether id can address a Telegram chat: a numeric
// chat id (negative for groups) or an @channel username
func IsValidChatID(id string) bool {
	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return true
	}
	return channelUsername.MatchString(id)
}
