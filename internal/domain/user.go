package domain

import "time"

// User is a registered account that owns deployments.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
