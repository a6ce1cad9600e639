package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edvin/edgemetrics/internal/model"
)

// QuerySpec declares one upstream query: its scope, batching behavior,
// tier requirement, and the field sets to request.
type QuerySpec struct {
	Name          string   `yaml:"name"`
	Scope         string   `yaml:"scope"`
	Batched       bool     `yaml:"batched"`
	FullTierOnly  bool     `yaml:"full_tier_only"`
	CacheTTL      Duration `yaml:"cache_ttl"`
	Fields        []string `yaml:"fields"`
	ReducedFields []string `yaml:"reduced_fields"`
	Limit         int      `yaml:"limit"`
}

// Catalogue is the set of queries the collector runs, plus serializer
// list overrides loaded from the optional YAML file.
type Catalogue struct {
	Queries        []QuerySpec `yaml:"queries"`
	MetricDenylist []string    `yaml:"metric_denylist"`
	ExcludeLabels  []string    `yaml:"exclude_labels"`
}

// DefaultCatalogue returns the built-in query set.
func DefaultCatalogue() *Catalogue {
	return &Catalogue{
		Queries: []QuerySpec{
			{
				Name:          "worker-totals",
				Scope:         model.ScopeAccount,
				Fields:        []string{"requests", "errors", "subrequests", "cpuTimeP50", "cpuTimeP99"},
				ReducedFields: []string{"requests", "errors", "subrequests"},
				Limit:         10000,
			},
			{
				Name:         "http-requests",
				Scope:        model.ScopeAccount,
				Batched:      true,
				FullTierOnly: true,
				Fields:       []string{"requests", "bytes", "cachedRequests", "cachedBytes", "threats"},
				Limit:        10000,
			},
			{
				Name:    "firewall-events",
				Scope:   model.ScopeAccount,
				Batched: true,
				Fields:  []string{"count", "action", "source", "ruleId"},
				Limit:   10000,
			},
			{
				Name:     "certificate-packs",
				Scope:    model.ScopeZone,
				CacheTTL: Duration(6 * time.Hour),
				Fields:   []string{"type", "status", "expiresOn"},
				Limit:    100,
			},
		},
	}
}

// LoadCatalogue reads a catalogue YAML file and merges it over the
// built-in defaults: declared queries replace the default set entirely,
// list overrides apply when non-empty.
func LoadCatalogue(path string) (*Catalogue, error) {
	cat := DefaultCatalogue()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue %s: %w", path, err)
	}

	var loaded Catalogue
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse catalogue %s: %w", path, err)
	}

	if len(loaded.Queries) > 0 {
		cat.Queries = loaded.Queries
	}
	if len(loaded.MetricDenylist) > 0 {
		cat.MetricDenylist = loaded.MetricDenylist
	}
	if len(loaded.ExcludeLabels) > 0 {
		cat.ExcludeLabels = loaded.ExcludeLabels
	}

	if err := cat.validate(); err != nil {
		return nil, fmt.Errorf("catalogue %s: %w", path, err)
	}
	return cat, nil
}

func (c *Catalogue) validate() error {
	seen := make(map[string]bool, len(c.Queries))
	for _, q := range c.Queries {
		if q.Name == "" {
			return fmt.Errorf("query with empty name")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate query %q", q.Name)
		}
		seen[q.Name] = true
		if q.Scope != model.ScopeAccount && q.Scope != model.ScopeZone {
			return fmt.Errorf("query %q: unknown scope %q", q.Name, q.Scope)
		}
		if q.Scope == model.ScopeZone && q.CacheTTL <= 0 {
			return fmt.Errorf("query %q: zone-scoped queries need a cache_ttl", q.Name)
		}
	}
	return nil
}

// AccountQueries returns the account-scoped query set. Restricted-tier
// accounts get the reduced set with full-tier-only queries dropped.
func (c *Catalogue) AccountQueries(restricted bool) []QuerySpec {
	out := make([]QuerySpec, 0, len(c.Queries))
	for _, q := range c.Queries {
		if q.Scope != model.ScopeAccount {
			continue
		}
		if restricted && q.FullTierOnly {
			continue
		}
		out = append(out, q)
	}
	return out
}

// ZoneQueries returns the zone-scoped query set.
func (c *Catalogue) ZoneQueries() []QuerySpec {
	out := make([]QuerySpec, 0, len(c.Queries))
	for _, q := range c.Queries {
		if q.Scope == model.ScopeZone {
			out = append(out, q)
		}
	}
	return out
}

// Lookup returns the spec for a query name.
func (c *Catalogue) Lookup(name string) (QuerySpec, bool) {
	for _, q := range c.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return QuerySpec{}, false
}
