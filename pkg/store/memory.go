package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wpmcp/pkg/logger"
)

// Memory is the dev/test Store. A single mutex makes every method atomic,
// which gives IncrementUsage the same guarantee as the conditional UPDATE in Postgres.
type Memory struct {
	log *zap.SugaredLogger

	mu          sync.Mutex
	tenants     map[string]Tenant
	connections map[string]Connection
	keys        map[string]APIKey
	webhooks    map[string]Webhook
	deliveries  map[string][]Delivery // webhookID -> attempts, oldest first
	usage       map[string]UsageCounter
	admins      map[string]Admin // email -> admin
}

func NewMemory(log *zap.SugaredLogger) *Memory {
	return &Memory{
		log:         logger.OrNop(log),
		tenants:     map[string]Tenant{},
		connections: map[string]Connection{},
		keys:        map[string]APIKey{},
		webhooks:    map[string]Webhook{},
		deliveries:  map[string][]Delivery{},
		usage:       map[string]UsageCounter{},
		admins:      map[string]Admin{},
	}
}

var _ Store = (*Memory)(nil)

func usageKey(tenantID, period string) string { return tenantID + ":" + period }

func (m *Memory) CreateTenant(_ context.Context, t Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; ok {
		return ErrConflict
	}
	for _, ex := range m.tenants {
		if strings.EqualFold(ex.Email, t.Email) {
			return ErrConflict
		}
	}
	m.tenants[t.ID] = t
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetTenantByEmail(_ context.Context, email string) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if strings.EqualFold(t.Email, email) {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (m *Memory) UpdateTenantStatus(_ context.Context, id string, status TenantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	m.tenants[id] = t
	return nil
}

func (m *Memory) UpdateTenantTier(_ context.Context, id, tier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrNotFound
	}
	t.Tier = tier
	t.UpdatedAt = time.Now().UTC()
	m.tenants[id] = t
	return nil
}

func (m *Memory) DeleteTenant(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[id]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, id)
	for k, c := range m.connections {
		if c.TenantID == id {
			delete(m.connections, k)
		}
	}
	for k, key := range m.keys {
		if key.TenantID == id {
			delete(m.keys, k)
		}
	}
	for k, w := range m.webhooks {
		if w.TenantID == id {
			delete(m.webhooks, k)
			delete(m.deliveries, k)
		}
	}
	for k, u := range m.usage {
		if u.TenantID == id {
			delete(m.usage, k)
		}
	}
	m.log.Debugw("tenant deleted", "tenant_id", id)
	return nil
}

func (m *Memory) CreateConnection(_ context.Context, c Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[c.TenantID]; !ok {
		return ErrNotFound
	}
	m.connections[c.ID] = c
	return nil
}

func (m *Memory) GetConnection(_ context.Context, tenantID, id string) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok || c.TenantID != tenantID {
		return Connection{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListConnections(_ context.Context, tenantID string) ([]Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Connection{}
	for _, c := range m.connections {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteConnection also removes the API keys bound to it.
func (m *Memory) DeleteConnection(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.connections[id]
	if !ok || c.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.connections, id)
	for k, key := range m.keys {
		if key.ConnectionID == id {
			delete(m.keys, k)
		}
	}
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, k APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.keys {
		if ex.KeyHash == k.KeyHash {
			return ErrConflict
		}
	}
	m.keys[k.ID] = k
	return nil
}

func (m *Memory) FindAPIKeyByHash(_ context.Context, hash string) (APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return APIKey{}, ErrNotFound
}

func (m *Memory) ListAPIKeys(_ context.Context, tenantID string) ([]APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []APIKey{}
	for _, k := range m.keys {
		if k.TenantID == tenantID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, tenantID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.TenantID != tenantID {
		return false, nil
	}
	if k.Status != KeyRevoked {
		k.Status = KeyRevoked
		k.RevokedAt = &at
		m.keys[id] = k
	}
	return true, nil
}

func (m *Memory) DeleteAPIKey(_ context.Context, tenantID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.TenantID != tenantID {
		return false, nil
	}
	delete(m.keys, id)
	return true, nil
}

func (m *Memory) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	k.LastUsedAt = &at
	m.keys[id] = k
	return nil
}

func cloneWebhook(w Webhook) Webhook {
	w.Events = append([]string(nil), w.Events...)
	return w
}

func (m *Memory) CreateWebhook(_ context.Context, w Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[w.TenantID]; !ok {
		return ErrNotFound
	}
	m.webhooks[w.ID] = cloneWebhook(w)
	return nil
}

func (m *Memory) GetWebhook(_ context.Context, tenantID, id string) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return Webhook{}, ErrNotFound
	}
	return cloneWebhook(w), nil
}

func (m *Memory) GetWebhookByID(_ context.Context, id string) (Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return Webhook{}, ErrNotFound
	}
	return cloneWebhook(w), nil
}

func (m *Memory) ListWebhooks(_ context.Context, tenantID string) ([]Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Webhook{}
	for _, w := range m.webhooks {
		if w.TenantID == tenantID {
			out = append(out, cloneWebhook(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateWebhook(_ context.Context, w Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.webhooks[w.ID]
	if !ok || cur.TenantID != w.TenantID {
		return ErrNotFound
	}
	cur.URL = w.URL
	cur.Secret = w.Secret
	cur.Events = append([]string(nil), w.Events...)
	cur.Filter = w.Filter
	cur.UpdatedAt = time.Now().UTC()
	m.webhooks[w.ID] = cur
	return nil
}

func (m *Memory) DeleteWebhook(_ context.Context, tenantID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return false, nil
	}
	delete(m.webhooks, id)
	delete(m.deliveries, id)
	return true, nil
}

func (m *Memory) RecordWebhookSuccess(_ context.Context, id string, status int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	w.FailureCount = 0
	w.LastStatusCode = &status
	w.LastTriggeredAt = &at
	m.webhooks[id] = w
	return nil
}

func (m *Memory) RecordWebhookFailure(_ context.Context, id string, status *int, at time.Time, threshold int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	w.FailureCount++
	w.LastStatusCode = status
	w.LastTriggeredAt = &at
	disabled := false
	if w.FailureCount >= threshold && w.IsActive {
		w.IsActive = false
		disabled = true
	}
	m.webhooks[id] = w
	return w.FailureCount, disabled, nil
}

func (m *Memory) ReactivateWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	w.IsActive = true
	w.FailureCount = 0
	w.UpdatedAt = time.Now().UTC()
	m.webhooks[id] = w
	return nil
}

func (m *Memory) DeactivateWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	w.IsActive = false
	w.UpdatedAt = time.Now().UTC()
	m.webhooks[id] = w
	return nil
}

func (m *Memory) AppendDelivery(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[d.WebhookID] = append(m.deliveries[d.WebhookID], d)
	return nil
}

// ListDeliveries returns newest first.
func (m *Memory) ListDeliveries(_ context.Context, webhookID string, limit int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.deliveries[webhookID]
	out := make([]Delivery, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (m *Memory) IncrementUsage(_ context.Context, tenantID, period string, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey(tenantID, period)
	u, ok := m.usage[k]
	if !ok {
		u = UsageCounter{TenantID: tenantID, Period: period}
	}
	if limit >= 0 && u.Used >= limit {
		m.usage[k] = u
		return u.Used, false, nil
	}
	u.Used++
	u.UpdatedAt = time.Now().UTC()
	m.usage[k] = u
	return u.Used, true, nil
}

func (m *Memory) RecordOutcome(_ context.Context, tenantID, period string, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := usageKey(tenantID, period)
	u, ok := m.usage[k]
	if !ok {
		u = UsageCounter{TenantID: tenantID, Period: period}
	}
	if success {
		u.Successes++
	} else {
		u.Errors++
	}
	u.UpdatedAt = time.Now().UTC()
	m.usage[k] = u
	return nil
}

func (m *Memory) GetUsage(_ context.Context, tenantID, period string) (UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.usage[usageKey(tenantID, period)]; ok {
		return u, nil
	}
	return UsageCounter{TenantID: tenantID, Period: period}, nil
}

func (m *Memory) ResetUsage(_ context.Context, tenantID, period string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[usageKey(tenantID, period)] = UsageCounter{TenantID: tenantID, Period: period, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *Memory) UpsertAdmin(_ context.Context, a Admin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := strings.ToLower(a.Email)
	if ex, ok := m.admins[k]; ok {
		a.ID = ex.ID
		a.CreatedAt = ex.CreatedAt
	}
	m.admins[k] = a
	return nil
}

func (m *Memory) GetAdminByEmail(_ context.Context, email string) (Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.admins[strings.ToLower(email)]
	if !ok {
		return Admin{}, ErrNotFound
	}
	return a, nil
}
