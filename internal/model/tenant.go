package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated customer of the shared store.
type Tenant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
