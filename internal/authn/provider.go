// Package authn provides the client for the hosted authentication backend:
// password and OAuth sign-in, sign-out, session refresh and the auth-state
// event stream.
package authn

import (
	"context"
	"time"
)

// EventType identifies an auth-state transition.
type EventType string

// Auth-state events emitted by the client.
const (
	EventSignedIn         EventType = "SIGNED_IN"
	EventSignedOut        EventType = "SIGNED_OUT"
	EventTokenRefreshed   EventType = "TOKEN_REFRESHED"
	EventPasswordRecovery EventType = "PASSWORD_RECOVERY"
)

// Event is a single auth-state notification. Session is nil for
// EventSignedOut.
type Event struct {
	Type    EventType
	Session *Session
}

// User is the identity record owned by the auth backend.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	Metadata         map[string]any `json:"user_metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

// DisplayName resolves the user's display name from sign-up metadata,
// falling back to "User" when nothing usable is present.
func (u *User) DisplayName() string {
	for _, key := range []string{"full_name", "name"} {
		if v, ok := u.Metadata[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return "User"
}

// Confirmed reports whether the user's email address has been verified.
func (u *User) Confirmed() bool {
	return u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero()
}

// Session is the provider-issued proof of authentication. Tokens are opaque
// to the flow controller; only the embedded user is inspected.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Provider is the contract the login flow depends on. The concrete
// implementation is Client; tests substitute fakes.
type Provider interface {
	// SignInWithPassword authenticates with email and password and returns
	// the new session. A SIGNED_IN event is emitted on success.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)

	// SignInWithOAuth starts an OAuth redirect flow and returns the
	// authorization URL to open. The outcome is observed on the event
	// stream, not returned here.
	SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error)

	// SignOut revokes the current session and emits SIGNED_OUT.
	SignOut(ctx context.Context) error

	// RefreshSession exchanges the refresh token for a new session and
	// emits TOKEN_REFRESHED.
	RefreshSession(ctx context.Context) (*Session, error)

	// Events returns a channel of auth-state events and a cancel function
	// that releases the subscription. The channel is closed on cancel.
	Events() (<-chan Event, func())
}
