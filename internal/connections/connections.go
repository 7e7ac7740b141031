// Package connections stores tenants' WordPress sites and the API keys bound to them.
package connections

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wpmcp/internal/vault"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

const (
	EventConnectionAdded   = "mcp.connection_added"
	EventConnectionRemoved = "mcp.connection_removed"
	EventAPIKeyCreated     = "api_key.created"
	EventAPIKeyRevoked     = "api_key.revoked"

	featureMultiConnection = "multi_connection"
)

type Notifier interface {
	Dispatch(ctx context.Context, tenantID, eventType string, data map[string]any) error
}

type FeatureGate interface {
	Require(ctx context.Context, tier, feature string) error
}

type Store interface {
	store.Tenants
	store.Connections
}

// Credentials is the decrypted form of a Connection. It must not outlive the request
// that asked for it.
type Credentials struct {
	URL      string
	Username string
	Password string
}

// Input is the body of a new connection.
type Input struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Service struct {
	store    Store
	vault    *vault.Vault
	plans    *plans.Catalog
	features FeatureGate
	notify   Notifier
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(st Store, v *vault.Vault, catalog *plans.Catalog, gate FeatureGate, notify Notifier, log *zap.SugaredLogger) *Service {
	return &Service{store: st, vault: v, plans: catalog, features: gate, notify: notify, log: logger.OrNop(log), now: time.Now}
}

func (s *Service) Create(ctx context.Context, tenantID string, in Input) (store.Connection, error) {
	site, err := normalizeSiteURL(in.URL)
	if err != nil {
		return store.Connection{}, err
	}
	if strings.TrimSpace(in.Username) == "" || in.Password == "" {
		return store.Connection{}, problems.New(problems.ValidationFailed, "username and password are required")
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return store.Connection{}, notFound(err)
	}
	existing, err := s.store.ListConnections(ctx, tenantID)
	if err != nil {
		return store.Connection{}, err
	}
	if len(existing) > 0 {
		if err := s.features.Require(ctx, t.Tier, featureMultiConnection); err != nil {
			return store.Connection{}, err
		}
	}
	plan := s.plans.Get(t.Tier)
	if !plans.Allows(plan.MaxConnections, len(existing)) {
		return store.Connection{}, problems.Newf(problems.Conflict, "the %s plan allows %d connections", plan.Name, plan.MaxConnections).
			With("limit", plan.MaxConnections)
	}

	userEnc, err := s.vault.EncryptConnectionSecret(strings.TrimSpace(in.Username))
	if err != nil {
		return store.Connection{}, err
	}
	passEnc, err := s.vault.EncryptConnectionSecret(in.Password)
	if err != nil {
		return store.Connection{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = hostOf(site)
	}
	c := store.Connection{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		URL:         site,
		UsernameEnc: userEnc,
		PasswordEnc: passEnc,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateConnection(ctx, c); err != nil {
		return store.Connection{}, fmt.Errorf("store connection: %w", err)
	}
	s.log.Infow("connection added", "tenant_id", tenantID, "connection_id", c.ID, "site", hostOf(site))
	s.emit(ctx, tenantID, EventConnectionAdded, map[string]any{"connection_id": c.ID, "name": c.Name, "url": c.URL})
	return c, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (store.Connection, error) {
	c, err := s.store.GetConnection(ctx, tenantID, id)
	return c, notFound(err)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]store.Connection, error) {
	return s.store.ListConnections(ctx, tenantID)
}

// Delete also drops the API keys bound to the connection.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteConnection(ctx, tenantID, id); err != nil {
		return notFound(err)
	}
	s.log.Infow("connection removed", "tenant_id", tenantID, "connection_id", id)
	s.emit(ctx, tenantID, EventConnectionRemoved, map[string]any{"connection_id": id, "name": c.Name, "url": c.URL})
	return nil
}

// Credentials decrypts a connection for a single outbound call.
func (s *Service) Credentials(ctx context.Context, tenantID, id string) (Credentials, error) {
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Credentials{}, err
	}
	user, err := s.vault.DecryptConnectionSecret(c.UsernameEnc)
	if err != nil {
		s.log.Errorw("connection credentials unreadable", "tenant_id", tenantID, "connection_id", id)
		return Credentials{}, err
	}
	pass, err := s.vault.DecryptConnectionSecret(c.PasswordEnc)
	if err != nil {
		s.log.Errorw("connection credentials unreadable", "tenant_id", tenantID, "connection_id", id)
		return Credentials{}, err
	}
	return Credentials{URL: c.URL, Username: user, Password: pass}, nil
}

// Default picks the connection for tokens that are not bound to one: the oldest.
func (s *Service) Default(ctx context.Context, tenantID string) (store.Connection, error) {
	list, err := s.store.ListConnections(ctx, tenantID)
	if err != nil {
		return store.Connection{}, err
	}
	if len(list) == 0 {
		return store.Connection{}, problems.New(problems.NotFound, "no WordPress connection is configured")
	}
	return list[0], nil
}

func (s *Service) emit(ctx context.Context, tenantID, event string, data map[string]any) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Dispatch(ctx, tenantID, event, data); err != nil {
		s.log.Warnw("event dispatch", "tenant_id", tenantID, "event", event, "err", err)
	}
}

func normalizeSiteURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", problems.New(problems.ValidationFailed, "url must be an absolute http(s) URL").With("field", "url")
	}
	if u.User != nil {
		return "", problems.New(problems.ValidationFailed, "url must not embed credentials").With("field", "url")
	}
	u.RawQuery, u.Fragment = "", ""
	return strings.TrimRight(u.String(), "/"), nil
}

func hostOf(site string) string {
	if u, err := url.Parse(site); err == nil {
		return u.Host
	}
	return site
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return problems.ErrNotFound
	}
	return err
}
