package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: already exists")
)

// Store is the durable state behind every tenant-facing operation.
// Reads and writes that take a tenantID are scoped to it; a row owned by another
// tenant is reported as ErrNotFound.
type Store interface {
	Tenants
	Connections
	APIKeys
	Webhooks
	Usage
	Admins
}

type Tenants interface {
	CreateTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id string) (Tenant, error)
	GetTenantByEmail(ctx context.Context, email string) (Tenant, error)
	UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error
	UpdateTenantTier(ctx context.Context, id, tier string) error
	// DeleteTenant removes the tenant and everything it owns.
	DeleteTenant(ctx context.Context, id string) error
}

type Connections interface {
	CreateConnection(ctx context.Context, c Connection) error
	GetConnection(ctx context.Context, tenantID, id string) (Connection, error)
	ListConnections(ctx context.Context, tenantID string) ([]Connection, error)
	DeleteConnection(ctx context.Context, tenantID, id string) error
}

type APIKeys interface {
	CreateAPIKey(ctx context.Context, k APIKey) error
	FindAPIKeyByHash(ctx context.Context, hash string) (APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) (bool, error)
	DeleteAPIKey(ctx context.Context, tenantID, id string) (bool, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

type Webhooks interface {
	CreateWebhook(ctx context.Context, w Webhook) error
	GetWebhook(ctx context.Context, tenantID, id string) (Webhook, error)
	// GetWebhookByID is unscoped and reserved for admin paths.
	GetWebhookByID(ctx context.Context, id string) (Webhook, error)
	ListWebhooks(ctx context.Context, tenantID string) ([]Webhook, error)
	// UpdateWebhook writes URL, Secret, Events and Filter. IsActive only changes through
	// ReactivateWebhook, DeactivateWebhook and the failure breaker.
	UpdateWebhook(ctx context.Context, w Webhook) error
	DeleteWebhook(ctx context.Context, tenantID, id string) (bool, error)
	RecordWebhookSuccess(ctx context.Context, id string, status int, at time.Time) error
	// RecordWebhookFailure increments failure_count and deactivates the webhook once it
	// reaches threshold, in one atomic step. disabled is true only for the call that tripped it.
	RecordWebhookFailure(ctx context.Context, id string, status *int, at time.Time, threshold int) (count int, disabled bool, err error)
	ReactivateWebhook(ctx context.Context, id string) error
	DeactivateWebhook(ctx context.Context, id string) error
	AppendDelivery(ctx context.Context, d Delivery) error
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error)
}

type Usage interface {
	// IncrementUsage adds one request to the period when used < limit (limit < 0 means unlimited).
	// It returns the counter after the call and whether the increment happened.
	IncrementUsage(ctx context.Context, tenantID, period string, limit int64) (used int64, ok bool, err error)
	RecordOutcome(ctx context.Context, tenantID, period string, success bool) error
	GetUsage(ctx context.Context, tenantID, period string) (UsageCounter, error)
	ResetUsage(ctx context.Context, tenantID, period string) error
}

type Admins interface {
	UpsertAdmin(ctx context.Context, a Admin) error
	GetAdminByEmail(ctx context.Context, email string) (Admin, error)
}
