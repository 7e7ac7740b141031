// Package vault owns every tenant secret at rest: encrypted WordPress credentials
// and hashed API keys.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wpmcp/pkg/crypto"
	"wpmcp/pkg/logger"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

const (
	// KeyLiteral makes keys recognizable in logs and secret scanners.
	KeyLiteral = "wpmcp_"
	// PrefixLen is how much of a key is kept for display.
	PrefixLen   = 12
	keyBodySize = 32
)

// Vault is safe for concurrent use.
type Vault struct {
	keys   store.APIKeys
	cipher *crypto.Cipher
	log    *zap.SugaredLogger
	now    func() time.Time
}

func New(keys store.APIKeys, cipher *crypto.Cipher, log *zap.SugaredLogger) *Vault {
	return &Vault{keys: keys, cipher: cipher, log: logger.OrNop(log), now: time.Now}
}

// CreatedKey carries the plaintext exactly once.
type CreatedKey struct {
	Plaintext string       `json:"key"`
	Record    store.APIKey `json:"api_key"`
}

func (v *Vault) CreateAPIKey(ctx context.Context, tenantID, connectionID, name string) (CreatedKey, error) {
	body, err := crypto.RandomToken(keyBodySize)
	if err != nil {
		return CreatedKey{}, fmt.Errorf("generate key: %w", err)
	}
	plain := KeyLiteral + body
	rec := store.APIKey{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ConnectionID: connectionID,
		KeyHash:      crypto.SHA256Hex(plain),
		KeyPrefix:    plain[:PrefixLen],
		Name:         strings.TrimSpace(name),
		Status:       store.KeyActive,
		CreatedAt:    v.now().UTC(),
	}
	if err := v.keys.CreateAPIKey(ctx, rec); err != nil {
		return CreatedKey{}, fmt.Errorf("store key: %w", err)
	}
	v.log.Infow("api key created", "tenant_id", tenantID, "key_id", rec.ID, "prefix", rec.KeyPrefix)
	return CreatedKey{Plaintext: plain, Record: rec}, nil
}

// LooksLikeKey reports whether s has the shape of an issued key.
func LooksLikeKey(s string) bool {
	return strings.HasPrefix(s, KeyLiteral) && len(s) > PrefixLen && len(s) <= 256
}

// FindAPIKeyByPlaintext returns nil for unknown or malformed candidates.
// Only storage failures surface as errors.
func (v *Vault) FindAPIKeyByPlaintext(ctx context.Context, candidate string) (*store.APIKey, error) {
	if !LooksLikeKey(candidate) {
		return nil, nil
	}
	k, err := v.keys.FindAPIKeyByHash(ctx, crypto.SHA256Hex(candidate))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup key: %w", err)
	}
	return &k, nil
}

// RevokeAPIKey returns false when the key does not exist or belongs to another tenant.
func (v *Vault) RevokeAPIKey(ctx context.Context, id, tenantID string) (bool, error) {
	ok, err := v.keys.RevokeAPIKey(ctx, tenantID, id, v.now().UTC())
	if err != nil {
		return false, fmt.Errorf("revoke key: %w", err)
	}
	if ok {
		v.log.Infow("api key revoked", "tenant_id", tenantID, "key_id", id)
	}
	return ok, nil
}

func (v *Vault) DeleteAPIKey(ctx context.Context, id, tenantID string) (bool, error) {
	ok, err := v.keys.DeleteAPIKey(ctx, tenantID, id)
	if err != nil {
		return false, fmt.Errorf("delete key: %w", err)
	}
	return ok, nil
}

func (v *Vault) ListAPIKeys(ctx context.Context, tenantID string) ([]store.APIKey, error) {
	return v.keys.ListAPIKeys(ctx, tenantID)
}

// TouchAPIKey is best effort.
func (v *Vault) TouchAPIKey(ctx context.Context, id string) {
	if err := v.keys.TouchAPIKey(ctx, id, v.now().UTC()); err != nil {
		v.log.Warnw("touch api key", "key_id", id, "err", err)
	}
}

func (v *Vault) EncryptConnectionSecret(plaintext string) (string, error) {
	ct, err := v.cipher.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("encrypt connection secret: %w", err)
	}
	return ct, nil
}

// DecryptConnectionSecret fails with CREDENTIAL_DECRYPTION_FAILED and never returns partial plaintext.
func (v *Vault) DecryptConnectionSecret(ciphertext string) (string, error) {
	pt, err := v.cipher.Decrypt(ciphertext)
	if err != nil {
		return "", problems.New(problems.CredentialDecryptionFailed, "stored connection credentials could not be decrypted")
	}
	return pt, nil
}
