// Package profile manages the application-side user profile row that backs
// the expense tracker: lookup, first-login provisioning and defaults.
package profile

import (
	"context"
	"time"
)

// Defaults applied when a profile is provisioned without explicit settings.
const (
	DefaultCurrency = "INR"
	DefaultTheme    = "system"
	DefaultPlan     = "free"
)

// Profile is the application profile row keyed by the auth backend's user ID.
type Profile struct {
	ID        string
	Email     string
	Name      string
	Currency  string
	Theme     string
	Plan      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines profile persistence operations.
type Store interface {
	// Find returns the profile for the given user ID, or a not-found error.
	Find(ctx context.Context, id string) (*Profile, error)

	// Insert creates the profile if it does not exist. Inserting an ID that
	// already has a row is a no-op, not an error.
	Insert(ctx context.Context, p *Profile) error
}
