package storage

import (
	"time"

	"github.com/google/uuid"
)

// MinerRecord is one inventory row: an address and its last classification.
type MinerRecord struct {
	ID        uuid.UUID `json:"id"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Family    string    `json:"family"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
