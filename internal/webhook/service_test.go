package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wpmcp/internal/features"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

func ptr[T any](v T) *T { return &v }

func newService(t *testing.T, tier string, client *http.Client) (*Service, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	catalog, err := plans.Load("")
	require.NoError(t, err)
	gate, err := features.New(ctx, catalog, nil)
	require.NoError(t, err)
	mem := store.NewMemory(nil)
	require.NoError(t, mem.CreateTenant(ctx, store.Tenant{ID: "t1", Email: "t1@example.com", Tier: tier, Status: store.StatusActive}))
	require.NoError(t, mem.CreateTenant(ctx, store.Tenant{ID: "t2", Email: "t2@example.com", Tier: tier, Status: store.StatusActive}))
	d := NewDispatcher(mem, Config{Timeout: time.Second, Client: client}, nil)
	return NewService(mem, catalog, gate, d, nil), mem
}

func TestCreateRequiresWebhookTier(t *testing.T) {
	svc, _ := newService(t, "free", nil)
	_, err := svc.Create(context.Background(), "t1", Input{URL: ptr("https://hooks.example.com/x"), Events: &[]string{EventUsageWarning}})
	require.ErrorIs(t, err, problems.ErrTierRequired)

	var p *problems.Problem
	require.True(t, errors.As(err, &p))
	require.Equal(t, "pro", p.Extra["required_tier"])
}

func TestCreateValidates(t *testing.T) {
	svc, _ := newService(t, "pro", nil)
	ctx := context.Background()
	cases := map[string]Input{
		"plain http":    {URL: ptr("http://hooks.example.com"), Events: &[]string{EventUsageWarning}},
		"relative url":  {URL: ptr("/hooks"), Events: &[]string{EventUsageWarning}},
		"no events":     {URL: ptr("https://hooks.example.com"), Events: &[]string{}},
		"unknown event": {URL: ptr("https://hooks.example.com"), Events: &[]string{"usage.*"}},
		"test event":    {URL: ptr("https://hooks.example.com"), Events: &[]string{EventTest}},
		"bad filter":    {URL: ptr("https://hooks.example.com"), Events: &[]string{EventUsageWarning}, Filter: ptr("a ==")},
		"missing url":   {Events: &[]string{EventUsageWarning}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(ctx, "t1", in)
			require.Equal(t, problems.ValidationFailed, problems.CodeOf(err))
		})
	}
}

func TestCreateEnforcesPlanCap(t *testing.T) {
	svc, _ := newService(t, "pro", nil)
	ctx := context.Background()
	in := Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventUsageWarning, EventUsageWarning}}
	for i := 0; i < 5; i++ {
		c, err := svc.Create(ctx, "t1", in)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(c.Secret, "whsec_"))
		require.Equal(t, []string{EventUsageWarning}, c.Events)
	}
	_, err := svc.Create(ctx, "t1", in)
	require.Equal(t, problems.Conflict, problems.CodeOf(err))
}

func TestWebhooksAreTenantScoped(t *testing.T) {
	svc, _ := newService(t, "pro", nil)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "t2", c.ID)
	require.ErrorIs(t, err, problems.ErrNotFound)
	_, err = svc.Secret(ctx, "t2", c.ID)
	require.ErrorIs(t, err, problems.ErrNotFound)
	require.ErrorIs(t, svc.Delete(ctx, "t2", c.ID), problems.ErrNotFound)
	_, err = svc.Deliveries(ctx, "t2", c.ID, 10)
	require.ErrorIs(t, err, problems.ErrNotFound)

	list, err := svc.List(ctx, "t2")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRotateSecret(t *testing.T) {
	svc, _ := newService(t, "pro", nil)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)

	rotated, err := svc.RotateSecret(ctx, "t1", c.ID)
	require.NoError(t, err)
	require.NotEqual(t, c.Secret, rotated)

	got, err := svc.Secret(ctx, "t1", c.ID)
	require.NoError(t, err)
	require.Equal(t, rotated, got)
}

func TestPatchReactivationClearsFailures(t *testing.T) {
	svc, mem := newService(t, "pro", nil)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err := mem.RecordWebhookFailure(ctx, c.ID, nil, time.Now(), 5)
		require.NoError(t, err)
	}
	w, _ := svc.Get(ctx, "t1", c.ID)
	require.False(t, w.IsActive)

	w, err = svc.Update(ctx, "t1", c.ID, Input{IsActive: ptr(true)})
	require.NoError(t, err)
	require.True(t, w.IsActive)
	require.Zero(t, w.FailureCount)

	w, err = svc.Update(ctx, "t1", c.ID, Input{Events: &[]string{EventAPIKeyRevoked}, Filter: ptr("name")})
	require.NoError(t, err)
	require.Equal(t, []string{EventAPIKeyRevoked}, w.Events)
	require.Equal(t, "name", w.Filter)

	_, err = svc.Update(ctx, "t1", c.ID, Input{URL: ptr("http://insecure.example.com")})
	require.Equal(t, problems.ValidationFailed, problems.CodeOf(err))
}

// breakerStore trips the breaker between the service's read and its write.
type breakerStore struct {
	*store.Memory
	t *testing.T
}

func (b breakerStore) UpdateWebhook(ctx context.Context, w store.Webhook) error {
	for i := 0; i < 5; i++ {
		_, _, err := b.RecordWebhookFailure(ctx, w.ID, nil, time.Now(), 5)
		require.NoError(b.t, err)
	}
	return b.Memory.UpdateWebhook(ctx, w)
}

func TestEditsDoNotReopenTrippedBreaker(t *testing.T) {
	catalog, err := plans.Load("")
	require.NoError(t, err)
	gate, err := features.New(context.Background(), catalog, nil)
	require.NoError(t, err)
	mem := store.NewMemory(nil)
	ctx := context.Background()
	require.NoError(t, mem.CreateTenant(ctx, store.Tenant{ID: "t1", Email: "t1@example.com", Tier: "pro", Status: store.StatusActive}))
	svc := NewService(breakerStore{Memory: mem, t: t}, catalog, gate, nil, nil)
	c, err := svc.Create(ctx, "t1", Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)

	w, err := svc.Update(ctx, "t1", c.ID, Input{URL: ptr("https://hooks.example.com/v2")})
	require.NoError(t, err)
	require.Equal(t, "https://hooks.example.com/v2", w.URL)
	require.False(t, w.IsActive)

	require.NoError(t, mem.ReactivateWebhook(ctx, c.ID))
	_, err = svc.RotateSecret(ctx, "t1", c.ID)
	require.NoError(t, err)
	got, err := mem.GetWebhook(ctx, "t1", c.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}

func TestPatchDeactivates(t *testing.T) {
	svc, _ := newService(t, "pro", nil)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)

	w, err := svc.Update(ctx, "t1", c.ID, Input{IsActive: ptr(false)})
	require.NoError(t, err)
	require.False(t, w.IsActive)

	w, err = svc.Update(ctx, "t1", c.ID, Input{Filter: ptr("name")})
	require.NoError(t, err)
	require.False(t, w.IsActive)
}

func TestAdminReactivate(t *testing.T) {
	svc, mem := newService(t, "pro", nil)
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", Input{URL: ptr("https://hooks.example.com"), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)
	_, _, _ = mem.RecordWebhookFailure(ctx, c.ID, nil, time.Now(), 1)

	w, err := svc.ReactivateAny(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, w.IsActive)

	_, err = svc.ReactivateAny(ctx, "missing")
	require.ErrorIs(t, err, problems.ErrNotFound)
}

func TestServiceTestDelivery(t *testing.T) {
	e := newEndpoint(t, http.StatusInternalServerError)
	svc, _ := newService(t, "business", e.srv.Client())
	ctx := context.Background()
	c, err := svc.Create(ctx, "t1", Input{URL: ptr(e.srv.URL), Events: &[]string{EventAPIKeyCreated}})
	require.NoError(t, err)

	res, err := svc.Test(ctx, "t1", c.ID)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 500, *res.StatusCode)

	w, _ := svc.Get(ctx, "t1", c.ID)
	require.Zero(t, w.FailureCount)

	logs, err := svc.Deliveries(ctx, "t1", c.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
