package models

import (
	"time"
)

// LoginLog is an append-only record of one successful authentication.
// It lives in the audit store, carries no foreign key to users (the email
// string is the only link) and is never read on the authentication path.
type LoginLog struct {
	ID        string    `json:"_id,omitempty"`
	Rev       string    `json:"_rev,omitempty"`
	UserEmail string    `json:"user_email"`
	LoginTime time.Time `json:"login_time"`
	CreatedAt time.Time `json:"created_at"` // assigned on the store write path, UTC
}
