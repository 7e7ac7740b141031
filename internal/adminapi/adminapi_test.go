package adminapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"wpmcp/internal/platform"
	"wpmcp/pkg/config"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/store"
)

const (
	adminEmail    = "ops@example.com"
	adminPassword = "correct horse"
)

func newPlatform(t *testing.T) *platform.Platform {
	t.Helper()
	p, err := platform.Build(context.Background(), config.Config{
		MasterEncryptionKey: "test-master-key",
		TenantJWTSecret:     "tenant-secret",
		AdminJWTSecret:      "admin-secret",
		WebhookTimeout:      time.Second,
		AdminSeedEmail:      adminEmail,
		AdminSeedPassword:   adminPassword,
	}, nil, nil, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func newApp(t *testing.T) (*App, *platform.Platform) {
	p := newPlatform(t)
	app, err := New(p, Config{}, logger.Nop())
	require.NoError(t, err)
	return app, p
}

func call(t *testing.T, h http.Handler, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func adminToken(t *testing.T, h http.Handler) string {
	rec := call(t, h, http.MethodPost, "/admin/login", "", map[string]string{"email": adminEmail, "password": adminPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sess struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	return sess.Token
}

func tenantOf(t *testing.T, p *platform.Platform, email string) (string, string) {
	sess, err := p.Accounts.Signup(context.Background(), email, "hunter22")
	require.NoError(t, err)
	return sess.Tenant.ID, sess.Token
}

func TestLoginAndAccess(t *testing.T) {
	app, p := newApp(t)
	h := app.Handler()

	rec := call(t, h, http.MethodPost, "/admin/login", "", map[string]string{"email": adminEmail, "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	_, tenantToken := tenantOf(t, p, "t@example.com")
	require.Equal(t, http.StatusUnauthorized, call(t, h, http.MethodGet, "/admin/plans", "", nil).Code)
	require.Equal(t, http.StatusForbidden, call(t, h, http.MethodGet, "/admin/plans", tenantToken, nil).Code)

	rec = call(t, h, http.MethodGet, "/admin/plans", adminToken(t, h), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"enterprise"`)
}

func TestSuspendAndActivate(t *testing.T) {
	app, p := newApp(t)
	h := app.Handler()
	admin := adminToken(t, h)
	tid, tenantToken := tenantOf(t, p, "s@example.com")

	resolve := func() error {
		hdr := http.Header{}
		hdr.Set("Authorization", "Bearer "+tenantToken)
		_, err := p.Resolver.Resolve(context.Background(), hdr)
		return err
	}
	require.NoError(t, resolve())

	rec := call(t, h, http.MethodPost, "/admin/tenants/"+tid+"/suspend", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"suspended"`)
	require.Error(t, resolve())

	rec = call(t, h, http.MethodPost, "/admin/tenants/"+tid+"/activate", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, resolve())

	require.Equal(t, http.StatusNotFound, call(t, h, http.MethodPost, "/admin/tenants/missing/suspend", admin, nil).Code)
}

func TestChangeTier(t *testing.T) {
	app, p := newApp(t)
	h := app.Handler()
	admin := adminToken(t, h)
	tid, _ := tenantOf(t, p, "tier@example.com")

	rec := call(t, h, http.MethodPut, "/admin/tenants/"+tid+"/tier", admin, map[string]string{"tier": "pro"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := p.Accounts.Get(context.Background(), tid)
	require.NoError(t, err)
	require.Equal(t, "pro", got.Tier)

	rec = call(t, h, http.MethodPut, "/admin/tenants/"+tid+"/tier", admin, map[string]string{"tier": "platinum"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageReset(t *testing.T) {
	app, p := newApp(t)
	h := app.Handler()
	admin := adminToken(t, h)
	tid, _ := tenantOf(t, p, "usage@example.com")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := p.Usage.CheckAndIncrement(ctx, tid, "")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	var u struct {
		Used   int64  `json:"used"`
		Period string `json:"period"`
	}
	rec := call(t, h, http.MethodGet, "/admin/tenants/"+tid+"/usage", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	require.EqualValues(t, 2, u.Used)
	period := u.Period

	rec = call(t, h, http.MethodPost, "/admin/tenants/"+tid+"/usage/reset", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	require.Zero(t, u.Used)
	require.Equal(t, period, u.Period)
}

func TestReactivateWebhook(t *testing.T) {
	app, p := newApp(t)
	h := app.Handler()
	admin := adminToken(t, h)
	tid, _ := tenantOf(t, p, "hooks@example.com")
	ctx := context.Background()
	require.NoError(t, p.Store.CreateWebhook(ctx, store.Webhook{
		ID: "wh1", TenantID: tid, URL: "https://hooks.example.com", Secret: "whsec_x",
		Events: []string{"usage.warning"}, IsActive: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	for i := 0; i < 5; i++ {
		_, _, err := p.Store.RecordWebhookFailure(ctx, "wh1", nil, time.Now(), 5)
		require.NoError(t, err)
	}
	before, err := p.Store.GetWebhookByID(ctx, "wh1")
	require.NoError(t, err)
	require.False(t, before.IsActive)

	rec := call(t, h, http.MethodPost, "/admin/webhooks/wh1/reactivate", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	after, err := p.Store.GetWebhookByID(ctx, "wh1")
	require.NoError(t, err)
	require.True(t, after.IsActive)
	require.Zero(t, after.FailureCount)

	require.Equal(t, http.StatusNotFound, call(t, h, http.MethodPost, "/admin/webhooks/nope/reactivate", admin, nil).Code)
}

func TestDeleteTenant(t *testing.T) {
	app, p := newApp(t)
	h := app.Handler()
	admin := adminToken(t, h)
	tid, _ := tenantOf(t, p, "gone@example.com")

	require.Equal(t, http.StatusNoContent, call(t, h, http.MethodDelete, "/admin/tenants/"+tid, admin, nil).Code)
	require.Equal(t, http.StatusNotFound, call(t, h, http.MethodGet, "/admin/tenants/"+tid, admin, nil).Code)
}

func signOIDC(t *testing.T, key jwk.Key, role string) string {
	tok, err := jwt.NewBuilder().
		Issuer("https://idp.example.com").
		Audience([]string{"wpmcp-admin"}).
		Subject("ops-42").
		Expiration(time.Now().Add(time.Hour)).
		Claim("role", role).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestExternalAdminTokens(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	p := newPlatform(t)
	app, err := New(p, Config{OIDCIssuer: "https://idp.example.com", OIDCAudience: "wpmcp-admin"}, logger.Nop())
	require.NoError(t, err)
	h := app.WithKeySet(set).Handler()

	rec := call(t, h, http.MethodGet, "/admin/plans", signOIDC(t, priv, "admin"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodGet, "/admin/plans", signOIDC(t, priv, "viewer"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := jwk.FromRaw(other)
	require.NoError(t, err)
	require.NoError(t, forged.Set(jwk.KeyIDKey, "k1"))
	rec = call(t, h, http.MethodGet, "/admin/plans", signOIDC(t, forged, "admin"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
