package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/edgemetrics/internal/actor"
	"github.com/edvin/edgemetrics/internal/model"
)

// firewallRuleFanout caps concurrent label lookups during a refresh so a
// large account doesn't burn the whole admission budget at once.
const firewallRuleFanout = 5

// AccountResult is one account's contribution to a fleet export.
type AccountResult struct {
	Metrics             []model.MetricSnapshot
	ZoneCount           int
	RestrictedZoneCount int
}

// AccountCoordinator is the mid-tier actor: one per tenant account. It
// owns the account's zone list and firewall-label caches, fans refresh
// context out to its query exporters, and aggregates their snapshots.
type AccountCoordinator struct {
	mu sync.Mutex

	account model.TenantAccount
	opts    Options

	client Upstream
	store  actor.StateStore
	sched  actor.Scheduler
	logger zerolog.Logger

	state       model.CoordinatorState
	labelMap    map[string]string
	exporters   map[string]*QueryExporter
	initialized bool

	now func() time.Time
}

func NewAccountCoordinator(account model.TenantAccount, opts Options, client Upstream, store actor.StateStore, sched actor.Scheduler, logger zerolog.Logger) *AccountCoordinator {
	return &AccountCoordinator{
		account: account,
		opts:    opts,
		client:  client,
		store:   store,
		sched:   sched,
		logger: logger.With().
			Str("component", "account-coordinator").
			Str("account", account.ID).
			Logger(),
		exporters: make(map[string]*QueryExporter),
		now:       time.Now,
	}
}

func (c *AccountCoordinator) stateKey() string {
	return "coordinator:" + c.account.ID
}

// Init loads persisted state and schedules the first timer tick. Calling
// it again is a no-op.
func (c *AccountCoordinator) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	data, err := c.store.Load(ctx, c.stateKey())
	switch {
	case errors.Is(err, actor.ErrNotFound):
		c.state = model.CoordinatorState{AccountID: c.account.ID}
	case err != nil:
		return fmt.Errorf("load coordinator state: %w", err)
	default:
		if err := json.Unmarshal(data, &c.state); err != nil {
			return fmt.Errorf("decode coordinator state: %w", err)
		}
	}

	c.initialized = true
	c.reschedule()
	return nil
}

// Refresh is the timer entry point: refresh the zone list on TTL expiry,
// resolve firewall labels, compute the cycle's shared time window, and
// push context to every exporter. The timer is always rescheduled, even
// on error.
func (c *AccountCoordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *AccountCoordinator) refreshLocked(ctx context.Context) error {
	defer c.reschedule()

	now := c.now()
	if c.state.LastListFetch.IsZero() || now.Sub(c.state.LastListFetch) > c.opts.ZoneListTTL {
		zones, err := c.client.ListZones(ctx, c.account.ID)
		if err != nil {
			return fmt.Errorf("refresh zone list: %w", err)
		}
		c.state.Zones = filterZones(zones, c.opts.ZoneAllowlist)
		c.state.LastListFetch = now
	}

	c.labelMap = c.resolveLabels(ctx)

	window := ComputeWindow(now, c.opts.ScrapeDelay, c.opts.TimeWindow)
	c.pushContext(ctx, window)

	c.state.LastRefresh = now
	if err := c.persist(ctx); err != nil {
		c.logger.Error().Err(err).Msg("persist coordinator state")
	}
	return nil
}

// resolveLabels fans firewall-rule lookups out across all zones with
// bounded concurrency and merges the results. Individual zone failures are
// logged and skipped.
func (c *AccountCoordinator) resolveLabels(ctx context.Context) map[string]string {
	var (
		mu     sync.Mutex
		merged = make(map[string]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(firewallRuleFanout)
	for _, zone := range c.state.Zones {
		g.Go(func() error {
			labels, err := c.client.ListFirewallRules(gctx, zone.ID)
			if err != nil {
				c.logger.Warn().Err(err).Str("zone", zone.ID).Msg("resolve firewall labels failed")
				return nil
			}
			mu.Lock()
			for id, name := range labels {
				merged[id] = name
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return merged
}

// pushContext updates every account-scoped exporter and initializes every
// zone-scoped exporter concurrently, tolerating individual failures.
func (c *AccountCoordinator) pushContext(ctx context.Context, window model.TimeWindow) {
	var wg sync.WaitGroup

	restricted := c.restrictedTier()
	for _, spec := range c.opts.Catalogue.AccountQueries(restricted) {
		exp := c.exporter(ctx, model.QueryIdentity{
			ScopeType: model.ScopeAccount,
			ScopeID:   c.account.ID,
			QueryName: spec.Name,
		})
		if exp == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := exp.UpdateAccountContext(ctx, c.state.Zones, c.labelMap, window); err != nil {
				c.logger.Warn().Err(err).Str("query", exp.identity.QueryName).Msg("context push failed")
			}
		}()
	}

	for _, spec := range c.opts.Catalogue.ZoneQueries() {
		for _, zone := range c.state.Zones {
			exp := c.exporter(ctx, model.QueryIdentity{
				ScopeType: model.ScopeZone,
				ScopeID:   zone.ID,
				QueryName: spec.Name,
			})
			if exp == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := exp.InitZoneContext(ctx, zone, window); err != nil {
					c.logger.Warn().Err(err).Str("zone", zone.ID).Str("query", exp.identity.QueryName).Msg("zone init failed")
				}
			}()
		}
	}

	wg.Wait()
}

// exporter returns the actor for an identity, creating and initializing it
// on first use.
func (c *AccountCoordinator) exporter(ctx context.Context, id model.QueryIdentity) *QueryExporter {
	if exp, ok := c.exporters[id.String()]; ok {
		return exp
	}
	spec, ok := c.opts.Catalogue.Lookup(id.QueryName)
	if !ok {
		return nil
	}
	exp := NewQueryExporter(id, spec, c.opts, c.client, c.store, c.sched, c.logger)
	if err := exp.Init(ctx); err != nil {
		c.logger.Error().Err(err).Str("identity", id.String()).Msg("exporter init failed")
		return nil
	}
	c.exporters[id.String()] = exp
	return exp
}

// Export aggregates the account's exporter snapshots. A coordinator that
// has never refreshed, was rebuilt after a restart, or whose last refresh
// is older than twice the refresh interval refreshes synchronously first,
// self-healing against missed or failed timers.
func (c *AccountCoordinator) Export(ctx context.Context) (AccountResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.LastRefresh.IsZero() || len(c.exporters) == 0 || c.now().Sub(c.state.LastRefresh) > 2*c.opts.RefreshInterval {
		if err := c.refreshLocked(ctx); err != nil {
			return AccountResult{}, err
		}
	}

	restricted := c.restrictedTier()
	var metrics []model.MetricSnapshot

	for _, spec := range c.opts.Catalogue.AccountQueries(restricted) {
		id := model.QueryIdentity{ScopeType: model.ScopeAccount, ScopeID: c.account.ID, QueryName: spec.Name}
		if exp, ok := c.exporters[id.String()]; ok {
			metrics = append(metrics, c.withAccountLabel(exp.Export())...)
		}
	}
	for _, spec := range c.opts.Catalogue.ZoneQueries() {
		for _, zone := range c.state.Zones {
			id := model.QueryIdentity{ScopeType: model.ScopeZone, ScopeID: zone.ID, QueryName: spec.Name}
			if exp, ok := c.exporters[id.String()]; ok {
				metrics = append(metrics, c.withZoneLabels(exp.Export(), zone)...)
			}
		}
	}

	return AccountResult{
		Metrics:             metrics,
		ZoneCount:           countProducingZones(metrics),
		RestrictedZoneCount: c.countRestrictedZones(),
	}, nil
}

// restrictedTier classifies the whole account: it is restricted when it
// has zones and every one of them is on a restricted plan.
func (c *AccountCoordinator) restrictedTier() bool {
	if len(c.state.Zones) == 0 {
		return false
	}
	for _, z := range c.state.Zones {
		if !z.Restricted(c.opts.RestrictedPlans) {
			return false
		}
	}
	return true
}

func (c *AccountCoordinator) countRestrictedZones() int {
	n := 0
	for _, z := range c.state.Zones {
		if z.Restricted(c.opts.RestrictedPlans) {
			n++
		}
	}
	return n
}

// withAccountLabel stamps the owning account onto every sample row.
func (c *AccountCoordinator) withAccountLabel(snaps []model.MetricSnapshot) []model.MetricSnapshot {
	for i := range snaps {
		for j := range snaps[i].Values {
			if snaps[i].Values[j].Labels == nil {
				snaps[i].Values[j].Labels = make(map[string]string, 1)
			}
			snaps[i].Values[j].Labels["account"] = c.account.Name
		}
	}
	return snaps
}

// withZoneLabels stamps account and zone onto a zone-scoped exporter's rows.
func (c *AccountCoordinator) withZoneLabels(snaps []model.MetricSnapshot, zone model.Zone) []model.MetricSnapshot {
	for i := range snaps {
		for j := range snaps[i].Values {
			if snaps[i].Values[j].Labels == nil {
				snaps[i].Values[j].Labels = make(map[string]string, 2)
			}
			snaps[i].Values[j].Labels["account"] = c.account.Name
			snaps[i].Values[j].Labels["zone"] = zone.Name
		}
	}
	return snaps
}

// countProducingZones counts distinct zones that contributed at least one
// sample row.
func countProducingZones(metrics []model.MetricSnapshot) int {
	zones := make(map[string]bool)
	for _, m := range metrics {
		for _, v := range m.Values {
			if z, ok := v.Labels["zone"]; ok {
				zones[z] = true
			}
		}
	}
	return len(zones)
}

func filterZones(zones []model.Zone, allowlist []string) []model.Zone {
	out := make([]model.Zone, 0, len(zones))
	for _, z := range zones {
		if allowed(allowlist, z.Name) || allowed(allowlist, z.ID) {
			out = append(out, z)
		}
	}
	return out
}

func (c *AccountCoordinator) persist(ctx context.Context) error {
	data, err := json.Marshal(c.state)
	if err != nil {
		return fmt.Errorf("encode coordinator state: %w", err)
	}
	if err := c.store.Save(ctx, c.stateKey(), data); err != nil {
		return fmt.Errorf("save coordinator state: %w", err)
	}
	return nil
}

func (c *AccountCoordinator) reschedule() {
	wake := NextWake(c.now(), c.opts.RefreshInterval)
	c.sched.WakeAt(c.stateKey(), wake, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.RefreshInterval)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.logger.Error().Err(err).Msg("scheduled refresh failed")
		}
	})
}
