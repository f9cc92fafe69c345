package profile

import (
	"context"

	"github.com/ledgerly/authflow/internal/authn"
	"github.com/ledgerly/authflow/internal/shared/errors"
	"github.com/ledgerly/authflow/internal/shared/events"
	"github.com/ledgerly/authflow/internal/shared/logger"
	"github.com/ledgerly/authflow/internal/shared/metrics"
)

// Preferences loads per-user preference values. Provisioning only calls the
// loaders to warm their caches; profile rows are always created with the
// package defaults.
type Preferences interface {
	Currency(ctx context.Context, userID string) (string, error)
	Theme(ctx context.Context, userID string) (string, error)
}

// Provisioner ensures a signed-in user has a profile row. Provisioning never
// blocks sign-in: every failure is recorded and swallowed so the caller can
// proceed to the home screen regardless.
type Provisioner struct {
	store   Store
	prefs   Preferences
	events  *events.Client
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewProvisioner creates a Provisioner. prefs and events may be nil.
func NewProvisioner(store Store, prefs Preferences, ev *events.Client, m *metrics.Metrics, log *logger.Logger) *Provisioner {
	return &Provisioner{
		store:   store,
		prefs:   prefs,
		events:  ev,
		metrics: m,
		log:     log.WithComponent("provisioner"),
	}
}

// Ensure makes sure a profile exists for the user, creating one with default
// settings on first sign-in. Calling it again for the same user is a no-op.
func (p *Provisioner) Ensure(ctx context.Context, user *authn.User) {
	log := p.log.WithUserID(user.ID)

	existing, err := p.store.Find(ctx, user.ID)
	if err == nil && existing != nil {
		p.metrics.ProfileLookup(metrics.OutcomeOK)
		p.warmPreferences(ctx, user.ID)
		return
	}
	if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
		p.metrics.ProfileLookup(metrics.OutcomeError)
		p.metrics.ProvisionFailed()
		log.WithError(err).Error("profile lookup failed")
		return
	}
	p.metrics.ProfileLookup(metrics.OutcomeRejected)

	// New rows always get the defaults; preference services only warm their
	// caches afterwards and never feed the insert.
	prof := &Profile{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.DisplayName(),
		Currency: DefaultCurrency,
		Theme:    DefaultTheme,
		Plan:     DefaultPlan,
	}

	if err := p.store.Insert(ctx, prof); err != nil {
		p.metrics.ProvisionFailed()
		log.WithError(err).Error("profile insert failed")
		return
	}

	p.metrics.ProfileInserted()
	log.Info("profile provisioned", "currency", prof.Currency, "theme", prof.Theme)

	p.publishCreated(ctx, prof)
	p.warmPreferences(ctx, user.ID)
}

// warmPreferences triggers the currency and theme loaders so their caches are
// hot when the home screen renders. Results are discarded; failures are
// logged and never block sign-in.
func (p *Provisioner) warmPreferences(ctx context.Context, userID string) {
	if p.prefs == nil {
		return
	}
	if _, err := p.prefs.Currency(ctx, userID); err != nil {
		p.log.WithError(err).Warn("currency preference load failed", "user_id", userID)
	}
	if _, err := p.prefs.Theme(ctx, userID); err != nil {
		p.log.WithError(err).Warn("theme preference load failed", "user_id", userID)
	}
}

func (p *Provisioner) publishCreated(ctx context.Context, prof *Profile) {
	if p.events == nil || !p.events.IsConnected() {
		return
	}

	err := p.events.PublishProfileEvent(ctx, events.EventProfileCreated, prof.ID, map[string]any{
		"email":    prof.Email,
		"currency": prof.Currency,
		"theme":    prof.Theme,
		"plan":     prof.Plan,
	})
	if err != nil {
		p.log.WithError(err).Warn("publishing profile.created failed", "user_id", prof.ID)
	}
}
