// Package features decides which plan-gated capabilities a tier may use.
package features

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"go.uber.org/zap"

	"wpmcp/pkg/logger"
	"wpmcp/pkg/plans"
	"wpmcp/pkg/problems"
)

const (
	Webhooks        = "webhooks"
	MultiConnection = "multi_connection"
)

//go:embed features.rego
var module string

// Gate evaluates a prepared rego query with the plan catalog loaded as data.plans.
type Gate struct {
	query   rego.PreparedEvalQuery
	catalog *plans.Catalog
	log     *zap.SugaredLogger
}

func New(ctx context.Context, catalog *plans.Catalog, log *zap.SugaredLogger) (*Gate, error) {
	byName := map[string]plans.Plan{}
	for _, p := range catalog.All() {
		if p.Features == nil {
			p.Features = []string{}
		}
		byName[p.Name] = p
	}
	raw, err := json.Marshal(map[string]any{"plans": byName})
	if err != nil {
		return nil, err
	}
	q, err := rego.New(
		rego.Query("data.wpmcp.features.allow"),
		rego.Module("features.rego", module),
		rego.Store(inmem.NewFromReader(bytes.NewReader(raw))),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare feature policy: %w", err)
	}
	return &Gate{query: q, catalog: catalog, log: logger.OrNop(log)}, nil
}

// Allowed fails closed on evaluation errors.
func (g *Gate) Allowed(ctx context.Context, tier, feature string) bool {
	rs, err := g.query.Eval(ctx, rego.EvalInput(map[string]any{"tier": tier, "feature": feature}))
	if err != nil {
		g.log.Errorw("feature policy eval", "tier", tier, "feature", feature, "err", err)
		return false
	}
	return rs.Allowed()
}

// Require returns TIER_REQUIRED naming the cheapest plan that has feature.
func (g *Gate) Require(ctx context.Context, tier, feature string) error {
	if g.Allowed(ctx, tier, feature) {
		return nil
	}
	p := problems.Newf(problems.TierRequired, "%s is not included in the %s plan", feature, tier).With("feature", feature)
	if up, ok := g.catalog.LowestWith(feature); ok {
		p = p.With("required_tier", up.Name)
	}
	return p
}
