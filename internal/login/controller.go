// Package login implements the login flow: credential submission, the
// auth-state event loop, and navigation into the app once a profile exists.
package login

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/ledgerly/authflow/internal/authn"
	"github.com/ledgerly/authflow/internal/shared/errors"
	"github.com/ledgerly/authflow/internal/shared/events"
	"github.com/ledgerly/authflow/internal/shared/logger"
	"github.com/ledgerly/authflow/internal/shared/metrics"
	"github.com/ledgerly/authflow/internal/shared/tracing"
)

// User-facing messages.
const (
	MsgVerifyEmail        = "Please verify your email before logging in."
	MsgMissingCredentials = "Please enter your email and password."
	MsgTooManyAttempts    = "Too many login attempts. Please wait a moment and try again."
)

// Provisioner ensures a profile exists for a signed-in user.
type Provisioner interface {
	Ensure(ctx context.Context, user *authn.User)
}

// EventPublisher publishes auth lifecycle events to the event bus.
// *events.Client satisfies it; a nil publisher disables publishing.
type EventPublisher interface {
	IsConnected() bool
	PublishAuthEvent(ctx context.Context, eventType, userID string, data map[string]any) error
}

// Config holds controller configuration.
type Config struct {
	// OAuthRedirectURL is the fixed callback the OAuth flow returns to.
	OAuthRedirectURL string `mapstructure:"oauth_redirect_url"`

	// SubmitRate limits credential submissions. Zero disables limiting.
	SubmitRate  rate.Limit `mapstructure:"submit_rate"`
	SubmitBurst int        `mapstructure:"submit_burst"`
}

// Controller drives the login screen. Submissions come from the user;
// navigation is driven exclusively by the auth-state event loop in Run, so a
// manual submit and a listener event cannot race to navigate twice.
type Controller struct {
	provider    authn.Provider
	provisioner Provisioner
	nav         Navigator
	presenter   Presenter
	bus         EventPublisher
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	tracer      *tracing.Provider
	log         *logger.Logger
	redirectURL string

	// inFlight rejects a second credential submit while one is running.
	inFlight atomic.Bool

	// navigated flips once, the first time a confirmed sign-in completes.
	navigated atomic.Bool

	// closed marks the screen torn down; no UI mutation happens after it.
	closed atomic.Bool

	events    <-chan authn.Event
	cancelSub func()
}

// New creates a login flow controller. bus may be nil.
func New(cfg Config, provider authn.Provider, provisioner Provisioner, nav Navigator, presenter Presenter, bus EventPublisher, m *metrics.Metrics, tracer *tracing.Provider, log *logger.Logger) *Controller {
	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.SubmitRate, burst)
	}

	events, cancel := provider.Events()

	return &Controller{
		provider:    provider,
		provisioner: provisioner,
		nav:         nav,
		presenter:   presenter,
		bus:         bus,
		limiter:     limiter,
		metrics:     m,
		tracer:      tracer,
		log:         log.WithComponent("login"),
		redirectURL: cfg.OAuthRedirectURL,
		events:      events,
		cancelSub:   cancel,
	}
}

// SubmitEmailLogin submits trimmed credentials to the auth provider. An
// unconfirmed email is treated as a rejected login: the freshly issued
// session is revoked and the user is told to verify first. The loading
// indicator is cleared on every path.
func (c *Controller) SubmitEmailLogin(ctx context.Context, email, password string) error {
	ctx, span := c.startSpan(ctx, "login.submit_email")
	defer span.End()

	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	if email == "" || password == "" {
		c.showMessage(MsgMissingCredentials)
		return errors.InvalidInput("email and password are required")
	}

	// Single-flight: a submit racing an unfinished one is rejected without
	// touching the loading state or the message the first one will show.
	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.ObserveLogin("password", metrics.OutcomeRejected, 0)
		return errors.LoginInFlight("a login attempt is already in progress")
	}
	defer c.inFlight.Store(false)

	if c.limiter != nil && !c.limiter.Allow() {
		c.metrics.ObserveLogin("password", metrics.OutcomeRejected, 0)
		c.publishRejected(ctx, "", "rate_limited")
		c.showMessage(MsgTooManyAttempts)
		return errors.RateLimited("login rate limit exceeded")
	}

	c.setLoading(true)
	c.metrics.LoginStarted()
	start := time.Now()

	defer func() {
		c.metrics.LoginFinished()
		c.setLoading(false)
	}()

	session, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.observeSubmit(ctx, span, "password", metrics.OutcomeError, start)
		tracing.WithError(span, err)
		c.showMessage(errors.UserMessage(err))
		return err
	}

	if !session.User.Confirmed() {
		if err := c.provider.SignOut(ctx); err != nil {
			c.log.WithError(err).Warn("signing out unconfirmed user failed")
		}
		c.observeSubmit(ctx, span, "password", metrics.OutcomeRejected, start)
		c.publishRejected(ctx, session.User.ID, "email_not_verified")
		c.showMessage(MsgVerifyEmail)
		return errors.EmailNotVerified(MsgVerifyEmail)
	}

	c.observeSubmit(ctx, span, "password", metrics.OutcomeOK, start)
	tracing.WithUserAttributes(span, session.User.ID)

	// Navigation happens in Run when the SIGNED_IN event arrives.
	return nil
}

// StartOAuthLogin starts the OAuth flow for the named provider and returns
// the authorization URL to open. The outcome arrives on the event stream.
func (c *Controller) StartOAuthLogin(ctx context.Context, provider string) (string, error) {
	ctx, span := c.startSpan(ctx, "login.start_oauth")
	defer span.End()

	url, err := c.provider.SignInWithOAuth(ctx, provider, c.redirectURL)
	if err != nil {
		c.metrics.ObserveLogin("oauth", metrics.OutcomeError, 0)
		tracing.WithError(span, err)
		c.showMessage(errors.UserMessage(err))
		return "", err
	}

	c.log.Info("oauth flow started", "provider", provider)
	return url, nil
}

// Run consumes the auth-state stream until the context is cancelled or Close
// is called. It is the only place navigation happens.
func (c *Controller) Run(ctx context.Context) error {
	defer c.cancelSub()

	for {
		select {
		case <-ctx.Done():
			c.closed.Store(true)
			return nil
		case event, ok := <-c.events:
			if !ok {
				return nil
			}
			c.handleEvent(ctx, event)
		}
	}
}

// Close tears the controller down: the subscription is released and any
// event still in flight no longer mutates the UI.
func (c *Controller) Close() {
	c.closed.Store(true)
	c.cancelSub()
}

func (c *Controller) handleEvent(ctx context.Context, event authn.Event) {
	c.metrics.ObserveAuthEvent(string(event.Type))

	switch event.Type {
	case authn.EventPasswordRecovery:
		if c.alive(ctx) {
			c.nav.Push(RouteResetPassword)
		}
	case authn.EventSignedIn:
		c.handleSignedIn(ctx, event.Session)
	case authn.EventSignedOut:
		// No UI change; the bus still hears about it.
		c.publishAuthEvent(ctx, events.EventSignedOut, "", nil)
	default:
		// TOKEN_REFRESHED and anything future are not the login screen's
		// concern.
	}
}

func (c *Controller) handleSignedIn(ctx context.Context, session *authn.Session) {
	if session == nil || !session.User.Confirmed() {
		return
	}

	ctx, span := c.startSpan(ctx, "login.signed_in")
	defer span.End()
	tracing.WithUserAttributes(span, session.User.ID)

	c.log.LogAuthEvent(ctx, string(authn.EventSignedIn), session.User.ID)

	c.provisioner.Ensure(ctx, &session.User)
	c.publishAuthEvent(ctx, events.EventSignedIn, session.User.ID, nil)

	if !c.alive(ctx) {
		return
	}

	// First confirmed sign-in wins; repeated events never navigate twice.
	if c.navigated.CompareAndSwap(false, true) {
		c.nav.Replace(RouteHome)
	}
}

func (c *Controller) publishRejected(ctx context.Context, userID, reason string) {
	c.publishAuthEvent(ctx, events.EventLoginRejected, userID, map[string]any{"reason": reason})
}

func (c *Controller) publishAuthEvent(ctx context.Context, eventType, userID string, data map[string]any) {
	if c.bus == nil || !c.bus.IsConnected() {
		return
	}
	if err := c.bus.PublishAuthEvent(ctx, eventType, userID, data); err != nil {
		c.log.WithError(err).Warn("publishing auth event failed", "event", eventType)
	}
}

func (c *Controller) observeSubmit(ctx context.Context, span trace.Span, method, outcome string, start time.Time) {
	duration := time.Since(start)
	c.metrics.ObserveLogin(method, outcome, duration)
	c.log.LogLoginAttempt(ctx, method, outcome, duration)
	tracing.WithLoginAttributes(span, method, outcome)
}

func (c *Controller) alive(ctx context.Context) bool {
	return ctx.Err() == nil && !c.closed.Load()
}

func (c *Controller) setLoading(loading bool) {
	if c.closed.Load() {
		return
	}
	c.presenter.SetLoading(loading)
}

func (c *Controller) showMessage(message string) {
	if c.closed.Load() {
		return
	}
	c.presenter.ShowMessage(message)
}

func (c *Controller) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return c.tracer.StartSpan(ctx, name)
}
