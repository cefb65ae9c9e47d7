package domain

import "time"

// User represents an account that can sign in to the application.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
