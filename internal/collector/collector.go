package collector

import (
	"context"
	"time"

	"github.com/edvin/edgemetrics/internal/config"
	"github.com/edvin/edgemetrics/internal/expose"
	"github.com/edvin/edgemetrics/internal/model"
	"github.com/edvin/edgemetrics/internal/upstream"
)

// Upstream is the slice of the provider client the actor tiers use.
type Upstream interface {
	ListAccounts(ctx context.Context) ([]model.TenantAccount, error)
	ListZones(ctx context.Context, accountID string) ([]model.Zone, error)
	ListFirewallRules(ctx context.Context, zoneID string) (map[string]string, error)
	Query(ctx context.Context, req upstream.QueryRequest) ([]model.MetricSnapshot, error)
}

// Options carries the collector-wide settings shared by all three tiers.
type Options struct {
	Catalogue        *config.Catalogue
	RefreshInterval  time.Duration
	AccountListTTL   time.Duration
	ZoneListTTL      time.Duration
	ScrapeDelay      time.Duration
	TimeWindow       time.Duration
	AccountAllowlist []string
	ZoneAllowlist    []string
	RestrictedPlans  map[string]bool
	Expose           expose.Options
}

// allowed implements allow-list semantics: an empty list allows everything.
func allowed(allowlist []string, id string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, a := range allowlist {
		if a == id {
			return true
		}
	}
	return false
}
