package domain

import "time"

// Session binds a browser to an authenticated user until it expires.
type Session struct {
	Key       string
	UserID    int64
	AuthHash  string
	ExpiresAt time.Time
}

func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
