// Package usage meters billable requests against the tenant's plan.
package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wpmcp/pkg/logger"
	"wpmcp/pkg/metrics"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
	"wpmcp/pkg/store"
)

const (
	EventWarning      = "usage.warning"
	EventLimitReached = "usage.limit_reached"

	warnPercent = 80
)

// Notifier receives usage events. Implementations must not block on delivery.
type Notifier interface {
	Dispatch(ctx context.Context, tenantID, eventType string, data map[string]any) error
}

type Store interface {
	store.Tenants
	store.Usage
}

// Decision describes one gate call. Remaining is -1 when the plan is unlimited.
type Decision struct {
	Allowed   bool          `json:"allowed"`
	Remaining int64         `json:"remaining"`
	Limit     int64         `json:"limit"`
	Used      int64         `json:"used"`
	Period    string        `json:"period"`
	Reason    problems.Code `json:"reason,omitempty"`
}

// Err converts a rejection into its problem.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	p := problems.New(d.Reason, "")
	if d.Reason == problems.QuotaExceeded {
		p = problems.Newf(problems.QuotaExceeded, "monthly request limit of %d reached for %s", d.Limit, d.Period).
			With("limit", d.Limit).With("period", d.Period)
	}
	return p
}

// PeriodKey is the calendar month in UTC.
func PeriodKey(t time.Time) string { return t.UTC().Format("2006-01") }

type Gate struct {
	store  Store
	plans  *plans.Catalog
	window RateWindow
	notify Notifier
	log    *zap.SugaredLogger
	now    func() time.Time
}

// NewGate accepts a nil window (no per-minute limit) and a nil notifier.
func NewGate(st Store, catalog *plans.Catalog, window RateWindow, notify Notifier, log *zap.SugaredLogger) *Gate {
	return &Gate{store: st, plans: catalog, window: window, notify: notify, log: logger.OrNop(log), now: time.Now}
}

// CheckAndIncrement charges one request to period, or to the current period when it is
// empty. A rejected call is never counted.
func (g *Gate) CheckAndIncrement(ctx context.Context, tenantID, period string) (Decision, error) {
	t, err := g.store.GetTenant(ctx, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("load tenant: %w", err)
	}
	plan := g.plans.Get(t.Tier)
	period = g.period(period)
	d := Decision{Period: period, Limit: plan.MonthlyRequests}

	if g.window != nil {
		ok, err := g.window.Allow(ctx, tenantID, plan.RequestsPerMinute)
		if err != nil {
			g.log.Warnw("rate window unavailable, allowing", "tenant_id", tenantID, "err", err)
		} else if !ok {
			cur, _ := g.store.GetUsage(ctx, tenantID, period)
			d.Used = cur.Used
			d.Remaining = remaining(plan.MonthlyRequests, cur.Used)
			d.Reason = problems.RateLimited
			metrics.UsageDecisions.WithLabelValues("rate_limited").Inc()
			return d, nil
		}
	}

	used, ok, err := g.store.IncrementUsage(ctx, tenantID, period, plan.MonthlyRequests)
	if err != nil {
		return Decision{}, fmt.Errorf("increment usage: %w", err)
	}
	d.Used = used
	d.Remaining = remaining(plan.MonthlyRequests, used)
	if !ok {
		d.Reason = problems.QuotaExceeded
		metrics.UsageDecisions.WithLabelValues("quota_exceeded").Inc()
		return d, nil
	}
	d.Allowed = true
	metrics.UsageDecisions.WithLabelValues("allowed").Inc()
	g.thresholds(ctx, tenantID, plan, period, used)
	return d, nil
}

// thresholds fires each event exactly once per period: only the increment that crosses a line sees it.
func (g *Gate) thresholds(ctx context.Context, tenantID string, plan plans.Plan, period string, used int64) {
	limit := plan.MonthlyRequests
	if g.notify == nil || limit <= 0 {
		return
	}
	warnAt := (limit*warnPercent + 99) / 100
	data := func() map[string]any {
		return map[string]any{"period": period, "used": used, "limit": limit, "plan": plan.Name}
	}
	if used == warnAt {
		warn := data()
		warn["percent"] = warnPercent
		if err := g.notify.Dispatch(ctx, tenantID, EventWarning, warn); err != nil {
			g.log.Warnw("usage warning dispatch", "tenant_id", tenantID, "err", err)
		}
	}
	if used == limit {
		if err := g.notify.Dispatch(ctx, tenantID, EventLimitReached, data()); err != nil {
			g.log.Warnw("usage limit dispatch", "tenant_id", tenantID, "err", err)
		}
	}
}

// RecordOutcome feeds analytics only. An empty period means the current one.
func (g *Gate) RecordOutcome(ctx context.Context, tenantID, period string, success bool) error {
	return g.store.RecordOutcome(ctx, tenantID, g.period(period), success)
}

func (g *Gate) period(p string) string {
	if p == "" {
		return PeriodKey(g.now())
	}
	return p
}

// Summary is the current-period view returned to tenants and admins.
type Summary struct {
	store.UsageCounter
	Plan      string `json:"plan"`
	Limit     int64  `json:"limit"`
	Remaining int64  `json:"remaining"`
}

func (g *Gate) Usage(ctx context.Context, tenantID string) (Summary, error) {
	t, err := g.store.GetTenant(ctx, tenantID)
	if err != nil {
		return Summary{}, fmt.Errorf("load tenant: %w", err)
	}
	plan := g.plans.Get(t.Tier)
	u, err := g.store.GetUsage(ctx, tenantID, PeriodKey(g.now()))
	if err != nil {
		return Summary{}, err
	}
	return Summary{UsageCounter: u, Plan: plan.Name, Limit: plan.MonthlyRequests, Remaining: remaining(plan.MonthlyRequests, u.Used)}, nil
}

// Reset zeroes the current period without changing its key.
func (g *Gate) Reset(ctx context.Context, tenantID string) error {
	period := PeriodKey(g.now())
	if err := g.store.ResetUsage(ctx, tenantID, period); err != nil {
		return err
	}
	g.log.Infow("usage reset", "tenant_id", tenantID, "period", period)
	return nil
}

func remaining(limit, used int64) int64 {
	if limit < 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
