package connections

import (
	"context"

	"wpmcp/internal/vault"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

// CreateKey issues a key bound to one of the tenant's connections. Revoked keys do not
// count against the plan cap.
func (s *Service) CreateKey(ctx context.Context, tenantID, connectionID, name string) (vault.CreatedKey, error) {
	if connectionID == "" {
		return vault.CreatedKey{}, problems.New(problems.ValidationFailed, "connection_id is required").With("field", "connection_id")
	}
	if _, err := s.Get(ctx, tenantID, connectionID); err != nil {
		return vault.CreatedKey{}, err
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return vault.CreatedKey{}, notFound(err)
	}
	keys, err := s.vault.ListAPIKeys(ctx, tenantID)
	if err != nil {
		return vault.CreatedKey{}, err
	}
	active := 0
	for _, k := range keys {
		if k.Status == store.KeyActive {
			active++
		}
	}
	plan := s.plans.Get(t.Tier)
	if !plans.Allows(plan.MaxAPIKeys, active) {
		return vault.CreatedKey{}, problems.Newf(problems.Conflict, "the %s plan allows %d active API keys", plan.Name, plan.MaxAPIKeys).
			With("limit", plan.MaxAPIKeys)
	}
	created, err := s.vault.CreateAPIKey(ctx, tenantID, connectionID, name)
	if err != nil {
		return vault.CreatedKey{}, err
	}
	s.emit(ctx, tenantID, EventAPIKeyCreated, map[string]any{
		"key_id":        created.Record.ID,
		"key_prefix":    created.Record.KeyPrefix,
		"name":          created.Record.Name,
		"connection_id": connectionID,
	})
	return created, nil
}

func (s *Service) ListKeys(ctx context.Context, tenantID string) ([]store.APIKey, error) {
	return s.vault.ListAPIKeys(ctx, tenantID)
}

// RevokeKey reports another tenant's key as not found.
func (s *Service) RevokeKey(ctx context.Context, tenantID, id string) error {
	ok, err := s.vault.RevokeAPIKey(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return problems.ErrNotFound
	}
	s.emit(ctx, tenantID, EventAPIKeyRevoked, map[string]any{"key_id": id})
	return nil
}

func (s *Service) DeleteKey(ctx context.Context, tenantID, id string) error {
	ok, err := s.vault.DeleteAPIKey(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return problems.ErrNotFound
	}
	s.log.Infow("api key deleted", "tenant_id", tenantID, "key_id", id)
	return nil
}
