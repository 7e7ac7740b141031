package token

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"wpmcp/pkg/problems"
)

func newService(t *testing.T, deny DenyList) *Service {
	t.Helper()
	s, err := New(Config{TenantSecret: "tenant-secret", AdminSecret: "admin-secret", TenantTTL: time.Hour, AdminTTL: time.Hour}, deny)
	require.NoError(t, err)
	return s
}

func TestNewRejectsSharedSecret(t *testing.T) {
	_, err := New(Config{TenantSecret: "same", AdminSecret: "same"}, nil)
	require.Error(t, err)
	_, err = New(Config{TenantSecret: "x"}, nil)
	require.Error(t, err)
}

func TestTenantTokenRoundTrip(t *testing.T) {
	s := newService(t, nil)
	raw, err := s.IssueTenantToken("t1", "a@example.com", "pro")
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(raw, "."))

	c, err := s.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, KindTenant, c.Kind)
	require.Equal(t, "t1", c.Subject)
	require.Equal(t, "a@example.com", c.Email)
	require.Equal(t, "pro", c.Tier)
	require.NotEmpty(t, c.ID)
	require.WithinDuration(t, c.IssuedAt.Add(time.Hour), c.ExpiresAt, time.Second)
}

func TestAdminTokenRoundTrip(t *testing.T) {
	s := newService(t, nil)
	raw, err := s.IssueAdminToken("adm1", "superadmin")
	require.NoError(t, err)

	c, err := s.Verify(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, KindAdmin, c.Kind)
	require.Equal(t, "adm1", c.Subject)
	require.Equal(t, "superadmin", c.Role)
	require.Empty(t, c.Tier)
}

func TestTamperedPayloadFails(t *testing.T) {
	s := newService(t, nil)
	raw, err := s.IssueTenantToken("t1", "a@example.com", "free")
	require.NoError(t, err)
	parts := strings.Split(raw, ".")

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	forged := strings.Replace(string(payload), `"free"`, `"enterprise"`, 1)
	require.NotEqual(t, string(payload), forged)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

	_, err = s.Verify(context.Background(), strings.Join(parts, "."))
	require.ErrorIs(t, err, problems.ErrInvalidToken)

	flipped := []byte(raw)
	i := len(parts[0]) + 3
	flipped[i] ^= 0x01
	_, err = s.Verify(context.Background(), string(flipped))
	require.ErrorIs(t, err, problems.ErrInvalidToken)
}

func TestExpiredTokenFails(t *testing.T) {
	s := newService(t, nil)
	raw, err := s.IssueTenantToken("t1", "a@example.com", "free")
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Verify(context.Background(), raw)
	require.ErrorIs(t, err, problems.ErrInvalidToken)
}

func TestMalformedInputIsInvalid(t *testing.T) {
	s := newService(t, nil)
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d", "...", "eyJ.eyJ.sig", "wpmcp_notatoken"} {
		c, err := s.Verify(context.Background(), raw)
		require.Nil(t, c)
		require.ErrorIs(t, err, problems.ErrInvalidToken, raw)
	}
}

func TestTenantKeyCannotMintAdmin(t *testing.T) {
	s := newService(t, nil)
	now := time.Now()
	tok, err := jwt.NewBuilder().Issuer("wpmcp").Subject("t1").IssuedAt(now).Expiration(now.Add(time.Hour)).
		Claim("isAdmin", true).Claim("role", "superadmin").Build()
	require.NoError(t, err)
	raw, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("tenant-secret")))
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), string(raw))
	require.ErrorIs(t, err, problems.ErrInvalidToken)
}

func TestAdminKeyWithoutMarkerRejected(t *testing.T) {
	s := newService(t, nil)
	now := time.Now()
	tok, err := jwt.NewBuilder().Issuer("wpmcp").Subject("adm").IssuedAt(now).Expiration(now.Add(time.Hour)).
		Claim("role", "superadmin").Build()
	require.NoError(t, err)
	raw, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("admin-secret")))
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), string(raw))
	require.ErrorIs(t, err, problems.ErrInvalidToken)
}

func TestRevokedTokenFails(t *testing.T) {
	ctx := context.Background()
	deny := NewMemoryDenyList()
	s := newService(t, deny)
	raw, err := s.IssueTenantToken("t1", "a@example.com", "free")
	require.NoError(t, err)
	c, err := s.Verify(ctx, raw)
	require.NoError(t, err)

	require.NoError(t, s.Revoke(ctx, c))
	_, err = s.Verify(ctx, raw)
	require.ErrorIs(t, err, problems.ErrInvalidToken)

	other, err := s.IssueTenantToken("t1", "a@example.com", "free")
	require.NoError(t, err)
	_, err = s.Verify(ctx, other)
	require.NoError(t, err)
}

func TestMemoryDenyListExpires(t *testing.T) {
	d := NewMemoryDenyList()
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }
	require.NoError(t, d.Deny(context.Background(), "j1", time.Minute))
	ok, _ := d.Denied(context.Background(), "j1")
	require.True(t, ok)
	now = now.Add(2 * time.Minute)
	ok, _ = d.Denied(context.Background(), "j1")
	require.False(t, ok)
}
