package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"wpmcp/pkg/db"
)

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

func NewPostgres(pool *pgxpool.Pool, log *zap.SugaredLogger) *Postgres {
	return &Postgres{pool: pool, log: log}
}

var _ Store = (*Postgres)(nil)

// EnsureSchema creates the tables if they do not already exist. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS customers (
  id uuid PRIMARY KEY,
  email text NOT NULL,
  password_hash text NOT NULL DEFAULT '',
  tier text NOT NULL DEFAULT 'free',
  status text NOT NULL DEFAULT 'active',
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS customers_email_idx ON customers (lower(email));
CREATE TABLE IF NOT EXISTS connections (
  id uuid PRIMARY KEY,
  tenant_id uuid NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
  name text NOT NULL DEFAULT '',
  url text NOT NULL,
  username_enc text NOT NULL,
  password_enc text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS api_keys (
  id uuid PRIMARY KEY,
  tenant_id uuid NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
  connection_id uuid REFERENCES connections(id) ON DELETE CASCADE,
  key_hash text NOT NULL UNIQUE,
  key_prefix text NOT NULL,
  name text NOT NULL DEFAULT '',
  status text NOT NULL DEFAULT 'active',
  last_used_at timestamptz,
  revoked_at timestamptz,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS webhooks (
  id uuid PRIMARY KEY,
  tenant_id uuid NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
  url text NOT NULL,
  secret text NOT NULL,
  events text[] NOT NULL DEFAULT '{}',
  filter text NOT NULL DEFAULT '',
  is_active boolean NOT NULL DEFAULT true,
  failure_count int NOT NULL DEFAULT 0,
  last_triggered_at timestamptz,
  last_status_code int,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS webhook_deliveries (
  id uuid PRIMARY KEY,
  webhook_id uuid NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
  event_id text NOT NULL,
  event_type text NOT NULL,
  status_code int,
  success boolean NOT NULL,
  response_time_ms bigint NOT NULL,
  response_body text NOT NULL DEFAULT '',
  error text NOT NULL DEFAULT '',
  attempt_number int NOT NULL DEFAULT 1,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS webhook_deliveries_webhook_idx ON webhook_deliveries (webhook_id, created_at DESC);
CREATE TABLE IF NOT EXISTS usage_monthly (
  tenant_id uuid NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
  period text NOT NULL,
  used bigint NOT NULL DEFAULT 0,
  successes bigint NOT NULL DEFAULT 0,
  errors bigint NOT NULL DEFAULT 0,
  updated_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (tenant_id, period)
);
CREATE TABLE IF NOT EXISTS admins (
  id uuid PRIMARY KEY,
  email text NOT NULL,
  password_hash text NOT NULL,
  role text NOT NULL DEFAULT 'admin',
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS admins_email_idx ON admins (lower(email));
`)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// validIDs guards uuid columns so a malformed path id reads as not found instead of a cast error.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const tenantCols = `id::text,email,password_hash,tier,status,created_at,updated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	var status string
	if err := row.Scan(&t.ID, &t.Email, &t.PasswordHash, &t.Tier, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Tenant{}, notFound(err)
	}
	t.Status = TenantStatus(status)
	return t, nil
}

func (p *Postgres) CreateTenant(ctx context.Context, t Tenant) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO customers(id,email,password_hash,tier,status,created_at,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$6)`, t.ID, t.Email, t.PasswordHash, t.Tier, string(t.Status), t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *Postgres) GetTenant(ctx context.Context, id string) (Tenant, error) {
	if !validIDs(id) {
		return Tenant{}, ErrNotFound
	}
	return scanTenant(p.pool.QueryRow(ctx, `SELECT `+tenantCols+` FROM customers WHERE id=$1`, id))
}

func (p *Postgres) GetTenantByEmail(ctx context.Context, email string) (Tenant, error) {
	return scanTenant(p.pool.QueryRow(ctx, `SELECT `+tenantCols+` FROM customers WHERE lower(email)=lower($1)`, email))
}

func (p *Postgres) UpdateTenantStatus(ctx context.Context, id string, status TenantStatus) error {
	tag, err := p.pool.Exec(ctx, `UPDATE customers SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateTenantTier(ctx context.Context, id, tier string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE customers SET tier=$2, updated_at=NOW() WHERE id=$1`, id, tier)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTenant relies on ON DELETE CASCADE for dependents.
func (p *Postgres) DeleteTenant(ctx context.Context, id string) error {
	return db.InTenantTx(ctx, p.pool, id, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM customers WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		p.log.Infow("tenant deleted", "tenant_id", id)
		return nil
	})
}

func (p *Postgres) CreateConnection(ctx context.Context, c Connection) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO connections(id,tenant_id,name,url,username_enc,password_enc,created_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7)`, c.ID, c.TenantID, c.Name, c.URL, c.UsernameEnc, c.PasswordEnc, c.CreatedAt)
	return err
}

const connectionCols = `id::text,tenant_id::text,name,url,username_enc,password_enc,created_at`

func scanConnection(row pgx.Row) (Connection, error) {
	var c Connection
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.URL, &c.UsernameEnc, &c.PasswordEnc, &c.CreatedAt)
	return c, err
}

func (p *Postgres) GetConnection(ctx context.Context, tenantID, id string) (Connection, error) {
	if !validIDs(tenantID, id) {
		return Connection{}, ErrNotFound
	}
	c, err := scanConnection(p.pool.QueryRow(ctx, `SELECT `+connectionCols+` FROM connections WHERE id=$1 AND tenant_id=$2`, id, tenantID))
	return c, notFound(err)
}

func (p *Postgres) ListConnections(ctx context.Context, tenantID string) ([]Connection, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+connectionCols+` FROM connections WHERE tenant_id=$1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteConnection(ctx context.Context, tenantID, id string) error {
	if !validIDs(tenantID, id) {
		return ErrNotFound
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM connections WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const keyCols = `id::text,tenant_id::text,COALESCE(connection_id::text,''),key_hash,key_prefix,name,status,last_used_at,revoked_at,created_at`

func scanKey(row pgx.Row) (APIKey, error) {
	var k APIKey
	var status string
	err := row.Scan(&k.ID, &k.TenantID, &k.ConnectionID, &k.KeyHash, &k.KeyPrefix, &k.Name, &status, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt)
	k.Status = KeyStatus(status)
	return k, err
}

func (p *Postgres) CreateAPIKey(ctx context.Context, k APIKey) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO api_keys(id,tenant_id,connection_id,key_hash,key_prefix,name,status,created_at)
	  VALUES ($1,$2,NULLIF($3,'')::uuid,$4,$5,$6,$7,$8)`, k.ID, k.TenantID, k.ConnectionID, k.KeyHash, k.KeyPrefix, k.Name, string(k.Status), k.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (p *Postgres) FindAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	k, err := scanKey(p.pool.QueryRow(ctx, `SELECT `+keyCols+` FROM api_keys WHERE key_hash=$1`, hash))
	return k, notFound(err)
}

func (p *Postgres) ListAPIKeys(ctx context.Context, tenantID string) ([]APIKey, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+keyCols+` FROM api_keys WHERE tenant_id=$1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (p *Postgres) RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) (bool, error) {
	if !validIDs(tenantID, id) {
		return false, nil
	}
	tag, err := p.pool.Exec(ctx, `UPDATE api_keys SET status='revoked', revoked_at=COALESCE(revoked_at,$3)
	  WHERE id=$1 AND tenant_id=$2`, id, tenantID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteAPIKey(ctx context.Context, tenantID, id string) (bool, error) {
	if !validIDs(tenantID, id) {
		return false, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM api_keys WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE api_keys SET last_used_at=$2 WHERE id=$1`, id, at)
	return err
}

const webhookCols = `id::text,tenant_id::text,url,secret,events,filter,is_active,failure_count,last_triggered_at,last_status_code,created_at,updated_at`

func scanWebhook(row pgx.Row) (Webhook, error) {
	var w Webhook
	err := row.Scan(&w.ID, &w.TenantID, &w.URL, &w.Secret, &w.Events, &w.Filter, &w.IsActive, &w.FailureCount,
		&w.LastTriggeredAt, &w.LastStatusCode, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (p *Postgres) CreateWebhook(ctx context.Context, w Webhook) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO webhooks(id,tenant_id,url,secret,events,filter,is_active,created_at,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`, w.ID, w.TenantID, w.URL, w.Secret, w.Events, w.Filter, w.IsActive, w.CreatedAt)
	return err
}

func (p *Postgres) GetWebhook(ctx context.Context, tenantID, id string) (Webhook, error) {
	if !validIDs(tenantID, id) {
		return Webhook{}, ErrNotFound
	}
	w, err := scanWebhook(p.pool.QueryRow(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE id=$1 AND tenant_id=$2`, id, tenantID))
	return w, notFound(err)
}

func (p *Postgres) GetWebhookByID(ctx context.Context, id string) (Webhook, error) {
	if !validIDs(id) {
		return Webhook{}, ErrNotFound
	}
	w, err := scanWebhook(p.pool.QueryRow(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE id=$1`, id))
	return w, notFound(err)
}

func (p *Postgres) ListWebhooks(ctx context.Context, tenantID string) ([]Webhook, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE tenant_id=$1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateWebhook(ctx context.Context, w Webhook) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhooks SET url=$3, secret=$4, events=$5, filter=$6, updated_at=NOW()
	  WHERE id=$1 AND tenant_id=$2`, w.ID, w.TenantID, w.URL, w.Secret, w.Events, w.Filter)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteWebhook(ctx context.Context, tenantID, id string) (bool, error) {
	if !validIDs(tenantID, id) {
		return false, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM webhooks WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) RecordWebhookSuccess(ctx context.Context, id string, status int, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE webhooks SET failure_count=0, last_status_code=$2, last_triggered_at=$3 WHERE id=$1`, id, status, at)
	return err
}

// RecordWebhookFailure: SET expressions see the pre-update row, so failure_count+1 is the new value.
func (p *Postgres) RecordWebhookFailure(ctx context.Context, id string, status *int, at time.Time, threshold int) (int, bool, error) {
	var count int
	var disabled bool
	err := p.pool.QueryRow(ctx, `UPDATE webhooks SET
	    failure_count = failure_count + 1,
	    last_status_code = $2,
	    last_triggered_at = $3,
	    is_active = CASE WHEN failure_count + 1 >= $4 THEN false ELSE is_active END
	  WHERE id=$1
	  RETURNING failure_count, (failure_count = $4)`, id, status, at, threshold).Scan(&count, &disabled)
	if err != nil {
		return 0, false, notFound(err)
	}
	return count, disabled, nil
}

func (p *Postgres) ReactivateWebhook(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhooks SET is_active=true, failure_count=0, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeactivateWebhook(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE webhooks SET is_active=false, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) AppendDelivery(ctx context.Context, d Delivery) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO webhook_deliveries(id,webhook_id,event_id,event_type,status_code,success,response_time_ms,response_body,error,attempt_number,created_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.WebhookID, d.EventID, d.EventType, d.StatusCode, d.Success, d.ResponseTimeMs, d.ResponseBody, d.Error, d.Attempt, d.CreatedAt)
	return err
}

func (p *Postgres) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `SELECT id::text,webhook_id::text,event_id,event_type,status_code,success,response_time_ms,response_body,error,attempt_number,created_at
	  FROM webhook_deliveries WHERE webhook_id=$1 ORDER BY created_at DESC LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Delivery{}
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventID, &d.EventType, &d.StatusCode, &d.Success, &d.ResponseTimeMs,
			&d.ResponseBody, &d.Error, &d.Attempt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IncrementUsage is a single conditional UPDATE, so concurrent callers cannot overshoot limit.
func (p *Postgres) IncrementUsage(ctx context.Context, tenantID, period string, limit int64) (int64, bool, error) {
	if _, err := p.pool.Exec(ctx, `INSERT INTO usage_monthly(tenant_id,period) VALUES ($1,$2) ON CONFLICT DO NOTHING`, tenantID, period); err != nil {
		return 0, false, err
	}
	var used int64
	err := p.pool.QueryRow(ctx, `UPDATE usage_monthly SET used=used+1, updated_at=NOW()
	  WHERE tenant_id=$1 AND period=$2 AND ($3::bigint < 0 OR used < $3::bigint)
	  RETURNING used`, tenantID, period, limit).Scan(&used)
	if err == nil {
		return used, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}
	if err := p.pool.QueryRow(ctx, `SELECT used FROM usage_monthly WHERE tenant_id=$1 AND period=$2`, tenantID, period).Scan(&used); err != nil {
		return 0, false, err
	}
	return used, false, nil
}

func (p *Postgres) RecordOutcome(ctx context.Context, tenantID, period string, success bool) error {
	col := "errors"
	if success {
		col = "successes"
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO usage_monthly(tenant_id,period,`+col+`) VALUES ($1,$2,1)
	  ON CONFLICT (tenant_id,period) DO UPDATE SET `+col+`=usage_monthly.`+col+`+1, updated_at=NOW()`, tenantID, period)
	return err
}

func (p *Postgres) GetUsage(ctx context.Context, tenantID, period string) (UsageCounter, error) {
	u := UsageCounter{TenantID: tenantID, Period: period}
	err := p.pool.QueryRow(ctx, `SELECT used,successes,errors,updated_at FROM usage_monthly WHERE tenant_id=$1 AND period=$2`,
		tenantID, period).Scan(&u.Used, &u.Successes, &u.Errors, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	return u, err
}

func (p *Postgres) ResetUsage(ctx context.Context, tenantID, period string) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO usage_monthly(tenant_id,period) VALUES ($1,$2)
	  ON CONFLICT (tenant_id,period) DO UPDATE SET used=0, successes=0, errors=0, updated_at=NOW()`, tenantID, period)
	return err
}

func (p *Postgres) UpsertAdmin(ctx context.Context, a Admin) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO admins(id,email,password_hash,role,created_at) VALUES ($1,$2,$3,$4,$5)
	  ON CONFLICT (lower(email)) DO UPDATE SET password_hash=EXCLUDED.password_hash, role=EXCLUDED.role`,
		a.ID, strings.ToLower(a.Email), a.PasswordHash, a.Role, a.CreatedAt)
	return err
}

func (p *Postgres) GetAdminByEmail(ctx context.Context, email string) (Admin, error) {
	var a Admin
	err := p.pool.QueryRow(ctx, `SELECT id::text,email,password_hash,role,created_at FROM admins WHERE lower(email)=lower($1)`, email).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	return a, notFound(err)
}
