package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerly/authflow/internal/shared/errors"
	"github.com/ledgerly/authflow/internal/shared/logger"
)

const (
	eventBufferSize = 8
	oauthStateTTL   = 10 * time.Minute
)

// Config holds the auth backend client configuration.
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	HTTPClient *http.Client

	// PublicKeyPath points at the backend's PEM-encoded RSA public key.
	// When set, access tokens are verified before a session is accepted.
	PublicKeyPath string `mapstructure:"public_key_path"`
	Issuer        string `mapstructure:"issuer"`

	// OAuth holds per-provider OAuth settings, keyed by provider name.
	OAuth map[string]OAuthConfig `mapstructure:"oauth"`
}

// Client talks to the hosted auth backend over HTTP and fans auth-state
// events out to subscribers. It is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	oauth    map[string]*oauthFlow
	verifier *Verifier
	log      *logger.Logger

	mu      sync.RWMutex
	session *Session

	// pending OAuth states awaiting callback, state -> expiry
	states map[string]time.Time

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewClient creates a new auth backend client.
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.InvalidInput("auth backend base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	flows := make(map[string]*oauthFlow, len(cfg.OAuth))
	for name, oc := range cfg.OAuth {
		flows[name] = newOAuthFlow(cfg.BaseURL, name, oc)
	}

	var verifier *Verifier
	if cfg.PublicKeyPath != "" {
		var err error
		verifier, err = NewVerifier(cfg.PublicKeyPath, cfg.Issuer)
		if err != nil {
			return nil, errors.InternalWrap("loading token verification key", err)
		}
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		http:     httpClient,
		oauth:    flows,
		verifier: verifier,
		log:      log.WithComponent("authn"),
		states:   make(map[string]time.Time),
		subs:     make(map[int]chan Event),
	}, nil
}

// Session returns the current session, or nil when signed out.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SignInWithPassword authenticates with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}

	var resp sessionResponse
	if err := c.post(ctx, "/token?grant_type=password", body, "", &resp); err != nil {
		return nil, err
	}

	session := resp.toSession()
	if err := c.verifySession(session); err != nil {
		return nil, err
	}
	c.setSession(session)
	c.emit(Event{Type: EventSignedIn, Session: session})

	return session, nil
}

// SignInWithOAuth starts the OAuth redirect flow for a configured provider
// and returns the authorization URL. The session, if the user completes the
// flow, arrives through CompleteOAuth and the event stream.
func (c *Client) SignInWithOAuth(ctx context.Context, provider, redirectTo string) (string, error) {
	flow, ok := c.oauth[provider]
	if !ok {
		return "", errors.InvalidInput(fmt.Sprintf("unsupported OAuth provider: %s", provider))
	}

	state := uuid.NewString()
	now := time.Now()

	c.mu.Lock()
	// Abandoned flows would otherwise pile up for the process lifetime.
	for old, expiry := range c.states {
		if now.After(expiry) {
			delete(c.states, old)
		}
	}
	c.states[state] = now.Add(oauthStateTTL)
	c.mu.Unlock()

	return flow.AuthURL(state, redirectTo), nil
}

// CompleteOAuth finishes an OAuth flow from the redirect callback: validates
// the CSRF state, exchanges the code, loads the user and emits SIGNED_IN.
func (c *Client) CompleteOAuth(ctx context.Context, provider, code, state string) (*Session, error) {
	c.mu.Lock()
	expiry, ok := c.states[state]
	delete(c.states, state)
	c.mu.Unlock()

	if !ok || time.Now().After(expiry) {
		return nil, errors.OAuthError("invalid or expired OAuth state")
	}

	flow, found := c.oauth[provider]
	if !found {
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported OAuth provider: %s", provider))
	}

	token, err := flow.Exchange(ctx, code)
	if err != nil {
		return nil, errors.OAuthError("OAuth exchange failed").Wrap(err)
	}

	user, err := c.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	session := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		User:         *user,
	}

	if err := c.verifySession(session); err != nil {
		return nil, err
	}
	c.setSession(session)
	c.emit(Event{Type: EventSignedIn, Session: session})

	return session, nil
}

// SignOut revokes the current session at the backend and clears it locally.
// The local session is cleared even when the backend call fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}

	err := c.post(ctx, "/logout", nil, session.AccessToken, nil)

	c.emit(Event{Type: EventSignedOut})

	if err != nil {
		return errors.Wrap(errors.CodeInternal, "signing out", err)
	}
	return nil
}

// RefreshSession exchanges the refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()

	if session == nil {
		return nil, errors.SessionExpired("no session to refresh")
	}

	body := map[string]string{"refresh_token": session.RefreshToken}

	var resp sessionResponse
	if err := c.post(ctx, "/token?grant_type=refresh_token", body, "", &resp); err != nil {
		return nil, err
	}

	refreshed := resp.toSession()
	if err := c.verifySession(refreshed); err != nil {
		return nil, err
	}
	c.setSession(refreshed)
	c.emit(Event{Type: EventTokenRefreshed, Session: refreshed})

	return refreshed, nil
}

// RequestPasswordRecovery asks the backend to send a recovery email.
func (c *Client) RequestPasswordRecovery(ctx context.Context, email string) error {
	return c.post(ctx, "/recover", map[string]string{"email": email}, "", nil)
}

// CompleteRecovery verifies a recovery token from a deep link, establishes a
// session and emits PASSWORD_RECOVERY so the flow controller can route the
// user to the reset screen.
func (c *Client) CompleteRecovery(ctx context.Context, token string) (*Session, error) {
	body := map[string]string{"type": "recovery", "token": token}

	var resp sessionResponse
	if err := c.post(ctx, "/verify", body, "", &resp); err != nil {
		return nil, err
	}

	session := resp.toSession()
	if err := c.verifySession(session); err != nil {
		return nil, err
	}
	c.setSession(session)
	c.emit(Event{Type: EventPasswordRecovery, Session: session})

	return session, nil
}

// Events returns a subscription to the auth-state stream. The cancel
// function is idempotent and closes the channel.
func (c *Client) Events() (<-chan Event, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextID
	c.nextID++

	ch := make(chan Event, eventBufferSize)
	c.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}

	return ch, cancel
}

// verifySession checks the backend-issued access token when a verifier is
// configured. A session whose token fails verification is rejected before it
// is stored or announced on the event stream.
func (c *Client) verifySession(session *Session) error {
	if c.verifier == nil {
		return nil
	}

	claims, err := c.verifier.Verify(session.AccessToken)
	if err != nil {
		return err
	}
	if session.User.ID == "" {
		session.User.ID = claims.Subject
	}
	return nil
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) emit(event Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is not draining; dropping beats blocking the
			// emitting operation.
			c.log.Warn("dropping auth event for slow subscriber", "event", string(event.Type))
		}
	}
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user", nil)
	if err != nil {
		return nil, errors.InternalWrap("building user request", err)
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Unavailable("auth backend unreachable").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, errors.InternalWrap("decoding user", err)
	}

	return &user, nil
}

func (c *Client) post(ctx context.Context, path string, body any, accessToken string, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.InternalWrap("encoding request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return errors.InternalWrap("building request", err)
	}
	c.setHeaders(req, accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Unavailable("auth backend unreachable").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.InternalWrap("decoding response", err)
		}
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

// apiError maps a backend error response to a coded error. The backend's
// message is preserved so it can be surfaced verbatim.
func (c *Client) apiError(resp *http.Response) error {
	var payload struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		Message     string `json:"msg"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &payload)

	message := payload.Description
	if message == "" {
		message = payload.Message
	}
	if message == "" {
		message = fmt.Sprintf("auth backend returned %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return errors.InvalidCredentials(message)
	case http.StatusForbidden:
		return errors.New(errors.CodeUserDisabled, message)
	case http.StatusTooManyRequests:
		return errors.RateLimited(message)
	default:
		return errors.Internal(message)
	}
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

func (r *sessionResponse) toSession() *Session {
	return &Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(r.ExpiresIn) * time.Second),
		User:         r.User,
	}
}
