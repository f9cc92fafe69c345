package authn

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerly/authflow/internal/shared/errors"
	"github.com/ledgerly/authflow/internal/shared/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard})
}

func sessionJSON(confirmed bool) map[string]any {
	user := map[string]any{
		"id":    "user-123",
		"email": "a@x.com",
		"user_metadata": map[string]any{
			"full_name": "Asha Rao",
		},
	}
	if confirmed {
		user["email_confirmed_at"] = time.Now().Format(time.RFC3339)
	}
	return map[string]any{
		"access_token":  "access-token",
		"refresh_token": "refresh-token",
		"token_type":    "bearer",
		"expires_in":    3600,
		"user":          user,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		BaseURL: server.URL,
		APIKey:  "test-api-key",
		OAuth: map[string]OAuthConfig{
			"google": {ClientID: "client-id", RedirectURL: "ledgerly://callback"},
		},
	}, testLogger())
	require.NoError(t, err)

	return client, server
}

func TestNewClient(t *testing.T) {
	t.Run("requires a base URL", func(t *testing.T) {
		_, err := NewClient(Config{}, testLogger())
		assert.Error(t, err)
	})
}

func TestClient_SignInWithPassword(t *testing.T) {
	t.Run("establishes a session and emits SIGNED_IN", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/token", r.URL.Path)
			assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
			assert.Equal(t, "test-api-key", r.Header.Get("apikey"))

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a@x.com", body["email"])
			assert.Equal(t, "secret", body["password"])

			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		events, cancel := client.Events()
		defer cancel()

		session, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		assert.Equal(t, "access-token", session.AccessToken)
		assert.Equal(t, "user-123", session.User.ID)
		assert.True(t, session.User.Confirmed())
		assert.Equal(t, session, client.Session())

		event := <-events
		assert.Equal(t, EventSignedIn, event.Type)
		require.NotNil(t, event.Session)
		assert.Equal(t, "user-123", event.Session.User.ID)
	})

	t.Run("passes an unconfirmed user through unchanged", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(sessionJSON(false))
		}))

		session, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)
		assert.False(t, session.User.Confirmed())
	})

	t.Run("preserves the backend error message verbatim", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
		}))

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "wrong")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidCredentials))
		assert.Equal(t, "Invalid login credentials", errors.UserMessage(err))
	})

	t.Run("maps rate limiting", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"msg": "Rate limit exceeded"})
		}))

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeRateLimited))
	})
}

func TestClient_SignInWithOAuth(t *testing.T) {
	t.Run("builds the authorization URL", func(t *testing.T) {
		client, server := newTestClient(t, http.NotFoundHandler())

		rawURL, err := client.SignInWithOAuth(context.Background(), "google", "ledgerly://callback")
		require.NoError(t, err)

		parsed, err := url.Parse(rawURL)
		require.NoError(t, err)
		assert.Contains(t, rawURL, server.URL)
		assert.Equal(t, "/authorize", parsed.Path)
		assert.Equal(t, "google", parsed.Query().Get("provider"))
		assert.Equal(t, "ledgerly://callback", parsed.Query().Get("redirect_to"))
		assert.NotEmpty(t, parsed.Query().Get("state"))
	})

	t.Run("rejects unconfigured providers", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, err := client.SignInWithOAuth(context.Background(), "twitter", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported OAuth provider")
	})
}

func TestClient_CompleteOAuth(t *testing.T) {
	t.Run("rejects an unknown state", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, err := client.CompleteOAuth(context.Background(), "google", "code", "forged-state")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeOAuthError))
	})

	t.Run("consumes the state on first use", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		rawURL, err := client.SignInWithOAuth(context.Background(), "google", "")
		require.NoError(t, err)
		parsed, err := url.Parse(rawURL)
		require.NoError(t, err)
		state := parsed.Query().Get("state")

		// First use fails at the exchange, but the state is already spent.
		_, _ = client.CompleteOAuth(context.Background(), "google", "code", state)

		_, err = client.CompleteOAuth(context.Background(), "google", "code", state)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeOAuthError))
	})

	t.Run("expired states are purged when a new flow starts", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, err := client.SignInWithOAuth(context.Background(), "google", "")
		require.NoError(t, err)

		client.mu.Lock()
		for state := range client.states {
			client.states[state] = time.Now().Add(-time.Minute)
		}
		client.mu.Unlock()

		_, err = client.SignInWithOAuth(context.Background(), "google", "")
		require.NoError(t, err)

		client.mu.Lock()
		defer client.mu.Unlock()
		assert.Len(t, client.states, 1)
	})
}

func TestClient_SignOut(t *testing.T) {
	t.Run("clears the session and emits SIGNED_OUT", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/logout" {
				assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		events, cancel := client.Events()
		defer cancel()

		require.NoError(t, client.SignOut(context.Background()))
		assert.Nil(t, client.Session())

		event := <-events
		assert.Equal(t, EventSignedOut, event.Type)
		assert.Nil(t, event.Session)
	})

	t.Run("clears the session even when the backend fails", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/logout" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		err = client.SignOut(context.Background())
		assert.Error(t, err)
		assert.Nil(t, client.Session())
	})

	t.Run("is a no-op without a session", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())
		assert.NoError(t, client.SignOut(context.Background()))
	})
}

func TestClient_RefreshSession(t *testing.T) {
	t.Run("exchanges the refresh token", func(t *testing.T) {
		calls := 0
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if r.URL.Query().Get("grant_type") == "refresh_token" {
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "refresh-token", body["refresh_token"])
			}
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		refreshed, err := client.RefreshSession(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
		assert.Equal(t, refreshed, client.Session())
	})

	t.Run("fails without a session", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		_, err := client.RefreshSession(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeSessionExpired))
	})
}

func TestClient_Events(t *testing.T) {
	t.Run("cancel is idempotent and closes the channel", func(t *testing.T) {
		client, _ := newTestClient(t, http.NotFoundHandler())

		events, cancel := client.Events()
		cancel()
		cancel()

		_, ok := <-events
		assert.False(t, ok)
	})

	t.Run("cancelled subscribers receive no further events", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		events, cancel := client.Events()
		cancel()

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		_, ok := <-events
		assert.False(t, ok)
	})

	t.Run("a slow subscriber drops events instead of blocking", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		_, cancel := client.Events()
		defer cancel()

		// Nobody drains; emits past the buffer must not block sign-in.
		for i := 0; i < eventBufferSize*2; i++ {
			_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
			require.NoError(t, err)
		}
	})

	t.Run("independent subscribers each get the event", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		first, cancelFirst := client.Events()
		defer cancelFirst()
		second, cancelSecond := client.Events()
		defer cancelSecond()

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		assert.Equal(t, EventSignedIn, (<-first).Type)
		assert.Equal(t, EventSignedIn, (<-second).Type)
	})
}

func TestClient_TokenVerification(t *testing.T) {
	privateKey, publicKey := generateTestKeys(t)

	sessionHandler := func(accessToken string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body := sessionJSON(true)
			body["access_token"] = accessToken
			json.NewEncoder(w).Encode(body)
		})
	}

	t.Run("loads the verification key from a PEM file", func(t *testing.T) {
		der, err := x509.MarshalPKIXPublicKey(publicKey)
		require.NoError(t, err)
		pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
		path := filepath.Join(t.TempDir(), "jwt.pem")
		require.NoError(t, os.WriteFile(path, pemData, 0o600))

		client, err := NewClient(Config{
			BaseURL:       "http://localhost:9999",
			PublicKeyPath: path,
			Issuer:        "test-issuer",
		}, testLogger())
		require.NoError(t, err)
		assert.NotNil(t, client.verifier)
	})

	t.Run("rejects a missing key file", func(t *testing.T) {
		_, err := NewClient(Config{
			BaseURL:       "http://localhost:9999",
			PublicKeyPath: filepath.Join(t.TempDir(), "missing.pem"),
		}, testLogger())
		assert.Error(t, err)
	})

	t.Run("accepts a session with a verifiable access token", func(t *testing.T) {
		token := signTestToken(t, privateKey, testClaims("test-issuer", time.Now().Add(time.Hour)))
		client, _ := newTestClient(t, sessionHandler(token))
		client.verifier = NewVerifierWithKey(publicKey, "test-issuer")

		session, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)
		assert.Equal(t, token, session.AccessToken)
		assert.NotNil(t, client.Session())
	})

	t.Run("rejects a session whose token fails verification", func(t *testing.T) {
		client, _ := newTestClient(t, sessionHandler("not-a-real-token"))
		client.verifier = NewVerifierWithKey(publicKey, "test-issuer")

		events, cancel := client.Events()
		defer cancel()

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeTokenInvalid))

		// Nothing stored, nothing announced.
		assert.Nil(t, client.Session())
		select {
		case event := <-events:
			t.Fatalf("unexpected event: %s", event.Type)
		default:
		}
	})

	t.Run("rejects an expired access token on refresh", func(t *testing.T) {
		valid := signTestToken(t, privateKey, testClaims("test-issuer", time.Now().Add(time.Hour)))
		expired := signTestToken(t, privateKey, testClaims("test-issuer", time.Now().Add(-time.Hour)))

		calls := 0
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			token := valid
			if calls > 1 {
				token = expired
			}
			body := sessionJSON(true)
			body["access_token"] = token
			json.NewEncoder(w).Encode(body)
		}))
		client.verifier = NewVerifierWithKey(publicKey, "test-issuer")

		_, err := client.SignInWithPassword(context.Background(), "a@x.com", "secret")
		require.NoError(t, err)

		_, err = client.RefreshSession(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeTokenExpired))
	})
}

func TestClient_PasswordRecovery(t *testing.T) {
	t.Run("request hits the recover endpoint", func(t *testing.T) {
		var path string
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))

		require.NoError(t, client.RequestPasswordRecovery(context.Background(), "a@x.com"))
		assert.Equal(t, "/recover", path)
	})

	t.Run("completing recovery emits PASSWORD_RECOVERY", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/verify", r.URL.Path)
			json.NewEncoder(w).Encode(sessionJSON(true))
		}))

		events, cancel := client.Events()
		defer cancel()

		session, err := client.CompleteRecovery(context.Background(), "recovery-token")
		require.NoError(t, err)
		assert.NotNil(t, session)

		event := <-events
		assert.Equal(t, EventPasswordRecovery, event.Type)
	})
}
