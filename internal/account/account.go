// Package account manages tenant and admin sign-in and the tenant lifecycle.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wpmcp/internal/token"
	"wpmcp/pkg/crypto"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

const (
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionUpdated   = "subscription.updated"
	EventSubscriptionCancelled = "subscription.cancelled"

	minPasswordLen = 8
)

// Notifier is satisfied by webhook.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, tenantID, eventType string, data map[string]any) error
	DispatchTo(ctx context.Context, hooks []store.Webhook, eventType string, data map[string]any) error
}

type Store interface {
	store.Tenants
	store.Admins
	store.Webhooks
}

type Tokens interface {
	IssueTenantToken(tenantID, email, tier string) (string, error)
	IssueAdminToken(adminID, role string) (string, error)
	Revoke(ctx context.Context, c *token.Claims) error
}

// Session is what sign-in endpoints return.
type Session struct {
	Token  string       `json:"token"`
	Tenant store.Tenant `json:"tenant"`
}

type AdminSession struct {
	Token string      `json:"token"`
	Admin store.Admin `json:"admin"`
}

type Service struct {
	store  Store
	tokens Tokens
	plans  *plans.Catalog
	notify Notifier
	sso    *SSO
	log    *zap.SugaredLogger
	now    func() time.Time
}

// New accepts a nil notifier.
func New(st Store, tokens Tokens, catalog *plans.Catalog, notify Notifier, log *zap.SugaredLogger) *Service {
	return &Service{store: st, tokens: tokens, plans: catalog, notify: notify, log: logger.OrNop(log), now: time.Now}
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Address != strings.TrimSpace(raw) {
		return "", problems.New(problems.ValidationFailed, "a valid email address is required").With("field", "email")
	}
	return strings.ToLower(addr.Address), nil
}

// Signup creates an active tenant on the entry plan and signs it in.
func (s *Service) Signup(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < minPasswordLen {
		return Session{}, problems.Newf(problems.ValidationFailed, "password must be at least %d characters", minPasswordLen).With("field", "password")
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	return s.createTenant(ctx, email, hash)
}

func (s *Service) createTenant(ctx context.Context, email, passwordHash string) (Session, error) {
	now := s.now().UTC()
	t := store.Tenant{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         s.plans.Default().Name,
		Status:       store.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, problems.New(problems.Conflict, "an account with this email already exists")
		}
		return Session{}, fmt.Errorf("create tenant: %w", err)
	}
	s.log.Infow("tenant created", "tenant_id", t.ID, "tier", t.Tier)
	s.emit(ctx, t.ID, EventSubscriptionCreated, map[string]any{"tier": t.Tier, "status": string(t.Status)})
	return s.session(t)
}

func (s *Service) session(t store.Tenant) (Session, error) {
	tok, err := s.tokens.IssueTenantToken(t.ID, t.Email, t.Tier)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: tok, Tenant: t}, nil
}

// Login checks the password before the account status.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	t, err := s.store.GetTenantByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, problems.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if t.PasswordHash == "" || !crypto.VerifyPassword(password, t.PasswordHash) {
		return Session{}, problems.ErrInvalidCredentials
	}
	if !t.Active() {
		return Session{}, problems.ErrAccountInactive
	}
	return s.session(t)
}

// Logout deny-lists the presented token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, c *token.Claims) error {
	if err := s.tokens.Revoke(ctx, c); err != nil {
		return problems.New(problems.Unavailable, "could not revoke token")
	}
	return nil
}

func (s *Service) AdminLogin(ctx context.Context, email, password string) (AdminSession, error) {
	a, err := s.store.GetAdminByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return AdminSession{}, problems.ErrInvalidCredentials
	}
	if err != nil {
		return AdminSession{}, err
	}
	if !crypto.VerifyPassword(password, a.PasswordHash) {
		return AdminSession{}, problems.ErrInvalidCredentials
	}
	tok, err := s.tokens.IssueAdminToken(a.ID, a.Role)
	if err != nil {
		return AdminSession{}, fmt.Errorf("issue admin token: %w", err)
	}
	s.log.Infow("admin signed in", "admin_id", a.ID)
	return AdminSession{Token: tok, Admin: a}, nil
}

// SeedAdmin upserts the bootstrap admin. It is a no-op when email or password is empty.
func (s *Service) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	if cur, err := s.store.GetAdminByEmail(ctx, email); err == nil {
		id = cur.ID
	}
	if err := s.store.UpsertAdmin(ctx, store.Admin{ID: id, Email: email, PasswordHash: hash, Role: "owner", CreatedAt: s.now().UTC()}); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.log.Infow("admin seeded", "admin_id", id)
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID string) (store.Tenant, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return t, problems.ErrNotFound
	}
	return t, err
}

// SetStatus suspends, reactivates or soft-deletes a tenant.
func (s *Service) SetStatus(ctx context.Context, tenantID string, status store.TenantStatus) (store.Tenant, error) {
	switch status {
	case store.StatusActive, store.StatusSuspended, store.StatusDeleted:
	default:
		return store.Tenant{}, problems.Newf(problems.ValidationFailed, "unknown status %q", status)
	}
	prev, err := s.Get(ctx, tenantID)
	if err != nil {
		return prev, err
	}
	if err := s.store.UpdateTenantStatus(ctx, tenantID, status); err != nil {
		return store.Tenant{}, err
	}
	s.log.Infow("tenant status changed", "tenant_id", tenantID, "from", prev.Status, "to", status)
	event := EventSubscriptionUpdated
	if status != store.StatusActive {
		event = EventSubscriptionCancelled
	}
	s.emit(ctx, tenantID, event, map[string]any{"tier": prev.Tier, "status": string(status), "previous_status": string(prev.Status)})
	return s.Get(ctx, tenantID)
}

func (s *Service) ChangeTier(ctx context.Context, tenantID, tier string) (store.Tenant, error) {
	if !s.plans.Known(tier) {
		return store.Tenant{}, problems.Newf(problems.ValidationFailed, "unknown plan %q", tier).With("field", "tier")
	}
	prev, err := s.Get(ctx, tenantID)
	if err != nil {
		return prev, err
	}
	if err := s.store.UpdateTenantTier(ctx, tenantID, tier); err != nil {
		return store.Tenant{}, err
	}
	s.log.Infow("tenant tier changed", "tenant_id", tenantID, "from", prev.Tier, "to", tier)
	s.emit(ctx, tenantID, EventSubscriptionUpdated, map[string]any{"tier": tier, "previous_tier": prev.Tier, "status": string(prev.Status)})
	return s.Get(ctx, tenantID)
}

// DeleteAccount removes the tenant and everything it owns.
func (s *Service) DeleteAccount(ctx context.Context, tenantID string) error {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	// The tenant's webhooks go with it, so they are loaded before the delete.
	hooks, err := s.store.ListWebhooks(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}
	if s.notify != nil && len(hooks) > 0 {
		data := map[string]any{"tier": t.Tier, "status": string(store.StatusDeleted)}
		if err := s.notify.DispatchTo(ctx, hooks, EventSubscriptionCancelled, data); err != nil {
			s.log.Warnw("event dispatch", "tenant_id", tenantID, "event", EventSubscriptionCancelled, "err", err)
		}
	}
	if err := s.store.DeleteTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	s.log.Infow("tenant deleted", "tenant_id", tenantID)
	return nil
}

func (s *Service) emit(ctx context.Context, tenantID, event string, data map[string]any) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Dispatch(ctx, tenantID, event, data); err != nil {
		s.log.Warnw("event dispatch", "tenant_id", tenantID, "event", event, "err", err)
	}
}
