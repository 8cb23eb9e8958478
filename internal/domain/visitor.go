// Package domain contains core domain types for the INSTRROL backend.
package domain

import (
	"time"
)

// Visitor is an anonymous browser identified by its cookie.
type Visitor struct {
	VisitorID   string    `json:"visitor_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
