// Package token issues and verifies the signed bearer tokens used by tenants and admins.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"wpmcp/pkg/problems"
)

type Kind string

const (
	KindTenant Kind = "tenant"
	KindAdmin  Kind = "admin"
)

const (
	claimEmail   = "email"
	claimTier    = "tier"
	claimRole    = "role"
	claimIsAdmin = "isAdmin"
)

// Claims is the verified payload.
type Claims struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"jti"`
	Subject   string    `json:"sub"`
	Email     string    `json:"email,omitempty"`
	Tier      string    `json:"tier,omitempty"`
	Role      string    `json:"role,omitempty"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

type Config struct {
	Issuer       string
	TenantSecret string
	AdminSecret  string
	TenantTTL    time.Duration
	AdminTTL     time.Duration
}

// Service is stateless apart from the optional deny-list and safe for concurrent use.
type Service struct {
	issuer    string
	tenantKey []byte
	adminKey  []byte
	tenantTTL time.Duration
	adminTTL  time.Duration
	deny      DenyList
	now       func() time.Time
}

// New requires distinct tenant and admin secrets. deny may be nil.
func New(cfg Config, deny DenyList) (*Service, error) {
	if cfg.TenantSecret == "" || cfg.AdminSecret == "" {
		return nil, errors.New("token: tenant and admin secrets are required")
	}
	if cfg.TenantSecret == cfg.AdminSecret {
		return nil, errors.New("token: admin secret must differ from tenant secret")
	}
	if cfg.TenantTTL <= 0 {
		cfg.TenantTTL = 24 * time.Hour
	}
	if cfg.AdminTTL <= 0 {
		cfg.AdminTTL = 8 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "wpmcp"
	}
	return &Service{
		issuer:    cfg.Issuer,
		tenantKey: []byte(cfg.TenantSecret),
		adminKey:  []byte(cfg.AdminSecret),
		tenantTTL: cfg.TenantTTL,
		adminTTL:  cfg.AdminTTL,
		deny:      deny,
		now:       time.Now,
	}, nil
}

func (s *Service) IssueTenantToken(tenantID, email, tier string) (string, error) {
	b := s.base(tenantID, s.tenantTTL).
		Claim(claimEmail, email).
		Claim(claimTier, tier)
	return s.sign(b, s.tenantKey)
}

func (s *Service) IssueAdminToken(adminID, role string) (string, error) {
	b := s.base(adminID, s.adminTTL).
		Claim(claimRole, role).
		Claim(claimIsAdmin, true)
	return s.sign(b, s.adminKey)
}

func (s *Service) base(sub string, ttl time.Duration) *jwt.Builder {
	now := s.now().UTC().Truncate(time.Second)
	return jwt.NewBuilder().
		Issuer(s.issuer).
		Subject(sub).
		JwtID(uuid.NewString()).
		IssuedAt(now).
		Expiration(now.Add(ttl))
}

func (s *Service) sign(b *jwt.Builder, key []byte) (string, error) {
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	raw, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(raw), nil
}

// Verify never panics on malformed input; every rejection is INVALID_TOKEN.
// The signing key decides the kind, and the isAdmin claim must agree with it.
func (s *Service) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Count(raw, ".") != 2 {
		return nil, problems.ErrInvalidToken
	}
	kind := KindTenant
	tok, err := s.parse(raw, s.tenantKey)
	if err != nil {
		kind = KindAdmin
		if tok, err = s.parse(raw, s.adminKey); err != nil {
			return nil, problems.ErrInvalidToken
		}
	}

	c := &Claims{
		Kind:      kind,
		ID:        tok.JwtID(),
		Subject:   tok.Subject(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
	}
	isAdmin := boolClaim(tok, claimIsAdmin)
	switch kind {
	case KindTenant:
		if isAdmin {
			return nil, problems.ErrInvalidToken
		}
		c.Email = stringClaim(tok, claimEmail)
		c.Tier = stringClaim(tok, claimTier)
	case KindAdmin:
		if !isAdmin {
			return nil, problems.ErrInvalidToken
		}
		c.Role = stringClaim(tok, claimRole)
	}
	if c.Subject == "" || c.ExpiresAt.IsZero() {
		return nil, problems.ErrInvalidToken
	}

	if s.deny != nil && c.ID != "" {
		denied, err := s.deny.Denied(ctx, c.ID)
		if err != nil {
			return nil, problems.New(problems.Unavailable, "token revocation check unavailable")
		}
		if denied {
			return nil, problems.ErrInvalidToken
		}
	}
	return c, nil
}

func (s *Service) parse(raw string, key []byte) (jwt.Token, error) {
	return jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, key),
		jwt.WithValidate(true),
		jwt.WithIssuer(s.issuer),
		jwt.WithClock(jwt.ClockFunc(s.now)),
	)
}

// Revoke deny-lists the token until it would have expired anyway.
func (s *Service) Revoke(ctx context.Context, c *Claims) error {
	if s.deny == nil || c == nil || c.ID == "" {
		return nil
	}
	ttl := c.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.deny.Deny(ctx, c.ID, ttl)
}

func stringClaim(tok jwt.Token, name string) string {
	if v, ok := tok.Get(name); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func boolClaim(tok jwt.Token, name string) bool {
	if v, ok := tok.Get(name); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
