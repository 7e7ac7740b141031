package plans

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed plans.yaml
var defaultCatalog []byte

// Unlimited marks a quota or cap with no ceiling.
const Unlimited = -1

type Plan struct {
	Name              string   `yaml:"name" json:"name"`
	Rank              int      `yaml:"rank" json:"rank"`
	MonthlyRequests   int64    `yaml:"monthly_requests" json:"monthly_requests"`
	RequestsPerMinute int      `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxConnections    int      `yaml:"max_connections" json:"max_connections"`
	MaxAPIKeys        int      `yaml:"max_api_keys" json:"max_api_keys"`
	MaxWebhooks       int      `yaml:"max_webhooks" json:"max_webhooks"`
	Features          []string `yaml:"features" json:"features"`
}

func (p Plan) Has(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Allows reports whether current is below a cap, honoring Unlimited.
func Allows(limit, current int) bool {
	return limit == Unlimited || current < limit
}

// Catalog is read-only after Load.
type Catalog struct {
	byName map[string]Plan
	ranked []Plan
}

// Load reads path, or the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	raw := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plans: %w", err)
		}
		raw = b
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse plans: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("parse plans: catalog is empty")
	}
	c := &Catalog{byName: map[string]Plan{}}
	for _, p := range doc.Plans {
		if p.Name == "" {
			return nil, fmt.Errorf("parse plans: plan without name")
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("parse plans: duplicate plan %q", p.Name)
		}
		c.byName[p.Name] = p
		c.ranked = append(c.ranked, p)
	}
	sort.SliceStable(c.ranked, func(i, j int) bool { return c.ranked[i].Rank < c.ranked[j].Rank })
	return c, nil
}

// Get returns the named plan. Unknown tiers get the lowest-ranked plan.
func (c *Catalog) Get(tier string) Plan {
	if p, ok := c.byName[tier]; ok {
		return p
	}
	return c.ranked[0]
}

func (c *Catalog) Known(tier string) bool {
	_, ok := c.byName[tier]
	return ok
}

func (c *Catalog) Default() Plan { return c.ranked[0] }

// LowestWith returns the cheapest plan carrying feature.
func (c *Catalog) LowestWith(feature string) (Plan, bool) {
	for _, p := range c.ranked {
		if p.Has(feature) {
			return p, true
		}
	}
	return Plan{}, false
}

// All returns plans ordered by rank.
func (c *Catalog) All() []Plan {
	return append([]Plan(nil), c.ranked...)
}
