package webhook

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jmes "github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"wpmcp/pkg/crypto"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

const (
	secretPrefix    = "whsec_"
	defaultLogLimit = 50
	maxLogLimit     = 500
	featureWebhooks = "webhooks"
)

// FeatureGate is satisfied by features.Gate.
type FeatureGate interface {
	Require(ctx context.Context, tier, feature string) error
}

type Store interface {
	store.Tenants
	store.Webhooks
}

// Input is the registration body. Nil fields in a patch are left unchanged.
type Input struct {
	URL      *string   `json:"url"`
	Events   *[]string `json:"events"`
	Filter   *string   `json:"filter"`
	IsActive *bool     `json:"is_active"`
}

// Created is the registration response and carries the signing secret.
type Created struct {
	store.Webhook
	Secret string `json:"secret"`
}

// Service is the tenant-facing registration API over a Dispatcher.
type Service struct {
	store    Store
	plans    *plans.Catalog
	features FeatureGate
	dispatch *Dispatcher
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewService(st Store, catalog *plans.Catalog, gate FeatureGate, d *Dispatcher, log *zap.SugaredLogger) *Service {
	return &Service{store: st, plans: catalog, features: gate, dispatch: d, log: logger.OrNop(log), now: time.Now}
}

func (s *Service) tenant(ctx context.Context, tenantID string) (store.Tenant, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return t, problems.ErrNotFound
	}
	return t, err
}

func (s *Service) Create(ctx context.Context, tenantID string, in Input) (Created, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return Created{}, err
	}
	if err := s.features.Require(ctx, t.Tier, featureWebhooks); err != nil {
		return Created{}, err
	}
	if in.URL == nil || in.Events == nil {
		return Created{}, problems.New(problems.ValidationFailed, "url and events are required")
	}
	filter := ""
	if in.Filter != nil {
		filter = *in.Filter
	}
	if err := validate(*in.URL, *in.Events, filter); err != nil {
		return Created{}, err
	}
	existing, err := s.store.ListWebhooks(ctx, tenantID)
	if err != nil {
		return Created{}, err
	}
	plan := s.plans.Get(t.Tier)
	if !plans.Allows(plan.MaxWebhooks, len(existing)) {
		return Created{}, problems.Newf(problems.Conflict, "the %s plan allows %d webhooks", plan.Name, plan.MaxWebhooks).
			With("limit", plan.MaxWebhooks)
	}
	secret, err := newSecret()
	if err != nil {
		return Created{}, err
	}
	now := s.now().UTC()
	w := store.Webhook{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		URL:       strings.TrimSpace(*in.URL),
		Secret:    secret,
		Events:    dedupe(*in.Events),
		Filter:    filter,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateWebhook(ctx, w); err != nil {
		return Created{}, err
	}
	s.log.Infow("webhook created", "tenant_id", tenantID, "webhook_id", w.ID, "events", w.Events)
	return Created{Webhook: w, Secret: secret}, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (store.Webhook, error) {
	w, err := s.store.GetWebhook(ctx, tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return w, problems.ErrNotFound
	}
	return w, err
}

func (s *Service) List(ctx context.Context, tenantID string) ([]store.Webhook, error) {
	return s.store.ListWebhooks(ctx, tenantID)
}

// Update applies a patch. Switching is_active back on also clears the failure count.
func (s *Service) Update(ctx context.Context, tenantID, id string, in Input) (store.Webhook, error) {
	w, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return w, err
	}
	if in.URL != nil {
		w.URL = strings.TrimSpace(*in.URL)
	}
	if in.Events != nil {
		w.Events = dedupe(*in.Events)
	}
	if in.Filter != nil {
		w.Filter = *in.Filter
	}
	if err := validate(w.URL, w.Events, w.Filter); err != nil {
		return store.Webhook{}, err
	}
	if err := s.store.UpdateWebhook(ctx, w); err != nil {
		return store.Webhook{}, err
	}
	switch {
	case in.IsActive == nil:
	case *in.IsActive:
		err = s.store.ReactivateWebhook(ctx, w.ID)
	default:
		err = s.store.DeactivateWebhook(ctx, w.ID)
	}
	if err != nil {
		return store.Webhook{}, err
	}
	return s.Get(ctx, tenantID, id)
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	ok, err := s.store.DeleteWebhook(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !ok {
		return problems.ErrNotFound
	}
	s.log.Infow("webhook deleted", "tenant_id", tenantID, "webhook_id", id)
	return nil
}

func (s *Service) Secret(ctx context.Context, tenantID, id string) (string, error) {
	w, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	return w.Secret, nil
}

// RotateSecret replaces the signing secret. Deliveries already in flight keep the old one.
func (s *Service) RotateSecret(ctx context.Context, tenantID, id string) (string, error) {
	w, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if w.Secret, err = newSecret(); err != nil {
		return "", err
	}
	if err := s.store.UpdateWebhook(ctx, w); err != nil {
		return "", err
	}
	s.log.Infow("webhook secret rotated", "tenant_id", tenantID, "webhook_id", id)
	return w.Secret, nil
}

// Reactivate closes the breaker for a tenant's own webhook.
func (s *Service) Reactivate(ctx context.Context, tenantID, id string) (store.Webhook, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return store.Webhook{}, err
	}
	if err := s.store.ReactivateWebhook(ctx, id); err != nil {
		return store.Webhook{}, err
	}
	return s.Get(ctx, tenantID, id)
}

// ReactivateAny is the unscoped admin variant.
func (s *Service) ReactivateAny(ctx context.Context, id string) (store.Webhook, error) {
	if err := s.store.ReactivateWebhook(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Webhook{}, problems.ErrNotFound
		}
		return store.Webhook{}, err
	}
	s.log.Infow("webhook reactivated by admin", "webhook_id", id)
	return s.store.GetWebhookByID(ctx, id)
}

func (s *Service) Deliveries(ctx context.Context, tenantID, id string, limit int) ([]store.Delivery, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	return s.store.ListDeliveries(ctx, id, limit)
}

// Test performs one synchronous delivery of a webhook.test event.
func (s *Service) Test(ctx context.Context, tenantID, id string) (Result, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	if err := s.features.Require(ctx, t.Tier, featureWebhooks); err != nil {
		return Result{}, err
	}
	w, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Result{}, err
	}
	return s.dispatch.Test(ctx, w), nil
}

func validate(rawURL string, events []string, filter string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return problems.New(problems.ValidationFailed, "url must be an absolute URL").With("field", "url")
	}
	if u.Scheme != "https" {
		return problems.New(problems.ValidationFailed, "url must use https").With("field", "url")
	}
	if len(events) == 0 {
		return problems.New(problems.ValidationFailed, "at least one event is required").With("field", "events")
	}
	for _, e := range events {
		if !ValidEvent(e) {
			return problems.Newf(problems.ValidationFailed, "unknown event type %q", e).With("field", "events")
		}
	}
	if filter != "" {
		if _, err := jmes.Compile(filter); err != nil {
			return problems.Newf(problems.ValidationFailed, "filter: %v", err).With("field", "filter")
		}
	}
	return nil
}

func newSecret() (string, error) {
	tok, err := crypto.RandomToken(32)
	if err != nil {
		return "", err
	}
	return secretPrefix + tok, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, e := range in {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
