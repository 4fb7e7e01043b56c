package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Email          string
	Username       string
	PasswordHash   string
	EmailConfirmed bool
	Roles          []string
}
