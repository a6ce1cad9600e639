package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/edgemetrics/internal/actor"
	"github.com/edvin/edgemetrics/internal/expose"
	"github.com/edvin/edgemetrics/internal/model"
	"github.com/edvin/edgemetrics/internal/upstream"
)

const fleetStateKey = "coordinator:fleet"

// FleetCoordinator is the root actor. It owns the tenant-account list,
// fans export requests out to every account coordinator, and serializes
// the final feed. A single account's failure never fails the whole scrape.
type FleetCoordinator struct {
	mu sync.Mutex

	opts Options

	client Upstream
	store  actor.StateStore
	sched  actor.Scheduler
	logger zerolog.Logger

	state        model.CoordinatorState
	coordinators map[string]*AccountCoordinator

	// Cumulative error tally by (account, error code); exposed as a
	// counter, so it never resets within the process lifetime.
	errorTally map[errorKey]float64

	now func() time.Time
}

type errorKey struct {
	account string
	code    string
}

func NewFleetCoordinator(opts Options, client Upstream, store actor.StateStore, sched actor.Scheduler, logger zerolog.Logger) *FleetCoordinator {
	return &FleetCoordinator{
		opts:         opts,
		client:       client,
		store:        store,
		sched:        sched,
		logger:       logger.With().Str("component", "fleet-coordinator").Logger(),
		coordinators: make(map[string]*AccountCoordinator),
		errorTally:   make(map[errorKey]float64),
		now:          time.Now,
	}
}

// Bootstrap loads persisted state and kicks off the first account
// discovery so the feed is useful before the first scrape arrives.
func (f *FleetCoordinator) Bootstrap(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.store.Load(ctx, fleetStateKey)
	switch {
	case errors.Is(err, actor.ErrNotFound):
		// First start.
	case err != nil:
		return fmt.Errorf("load fleet state: %w", err)
	default:
		if err := json.Unmarshal(data, &f.state); err != nil {
			return fmt.Errorf("decode fleet state: %w", err)
		}
	}

	if err := f.ensureAccountsLocked(ctx); err != nil {
		f.logger.Error().Err(err).Msg("bootstrap account discovery failed")
		return err
	}
	return nil
}

// Export assembles the full metrics feed. It never fails outward: on
// partial or total upstream trouble it returns whatever text it could
// assemble, annotated with error-count metrics.
func (f *FleetCoordinator) Export(ctx context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	up := 1.0
	if err := f.ensureAccountsLocked(ctx); err != nil {
		f.logger.Error().Err(err).Msg("account list refresh failed")
		f.errorTally[errorKey{account: "", code: upstream.ErrorCode(err)}]++
		if len(f.state.Accounts) == 0 {
			up = 0
		}
	}

	type accountExport struct {
		account model.TenantAccount
		result  AccountResult
		err     error
	}

	results := make([]accountExport, len(f.state.Accounts))
	g, gctx := errgroup.WithContext(ctx)
	for i, account := range f.state.Accounts {
		coord, ok := f.coordinators[account.ID]
		if !ok {
			continue
		}
		g.Go(func() error {
			result, err := coord.Export(gctx)
			results[i] = accountExport{account: account, result: result, err: err}
			return nil
		})
	}
	g.Wait()

	var (
		metrics    []model.MetricSnapshot
		zoneCount  int
		restricted int
	)
	for _, r := range results {
		if r.err != nil {
			// Zero-metrics placeholder plus an error tally; sibling
			// accounts are unaffected.
			f.logger.Error().Err(r.err).Str("account", r.account.ID).Msg("account export failed")
			f.errorTally[errorKey{account: r.account.Name, code: upstream.ErrorCode(r.err)}]++
			continue
		}
		metrics = append(metrics, r.result.Metrics...)
		zoneCount += r.result.ZoneCount
		restricted += r.result.RestrictedZoneCount
	}

	metrics = append(metrics, f.selfMetrics(up, zoneCount, restricted)...)
	return expose.Serialize(metrics, f.opts.Expose)
}

// ensureAccountsLocked refreshes the tenant-account list when its TTL has
// lapsed and keeps the coordinator map in step with it. Coordinators are
// reconciled on every call so a restarted process with a still-fresh
// persisted list gets its actors back without an upstream fetch.
func (f *FleetCoordinator) ensureAccountsLocked(ctx context.Context) error {
	now := f.now()
	if f.state.LastListFetch.IsZero() || now.Sub(f.state.LastListFetch) > f.opts.AccountListTTL {
		accounts, err := f.client.ListAccounts(ctx)
		if err != nil {
			return fmt.Errorf("refresh account list: %w", err)
		}

		filtered := make([]model.TenantAccount, 0, len(accounts))
		for _, a := range accounts {
			if allowed(f.opts.AccountAllowlist, a.ID) || allowed(f.opts.AccountAllowlist, a.Name) {
				filtered = append(filtered, a)
			}
		}

		f.state.Accounts = filtered
		f.state.LastListFetch = now
		f.state.LastRefresh = now

		if err := f.persist(ctx); err != nil {
			f.logger.Error().Err(err).Msg("persist fleet state")
		}
	}

	for _, account := range f.state.Accounts {
		if _, ok := f.coordinators[account.ID]; ok {
			continue
		}
		coord := NewAccountCoordinator(account, f.opts, f.client, f.store, f.sched, f.logger)
		if err := coord.Init(ctx); err != nil {
			f.logger.Error().Err(err).Str("account", account.ID).Msg("coordinator init failed")
			continue
		}
		f.coordinators[account.ID] = coord
	}
	return nil
}

// selfMetrics are the fleet's own observability rows appended to every
// export.
func (f *FleetCoordinator) selfMetrics(up float64, zoneCount, restricted int) []model.MetricSnapshot {
	snaps := []model.MetricSnapshot{
		{
			Name:   "edgemetrics_up",
			Help:   "Whether the upstream account list could be served",
			Type:   model.TypeGauge,
			Values: []model.MetricValue{{Value: up}},
		},
		{
			Name:   "edgemetrics_accounts",
			Help:   "Number of tenant accounts being collected",
			Type:   model.TypeGauge,
			Values: []model.MetricValue{{Value: float64(len(f.state.Accounts))}},
		},
		{
			Name:   "edgemetrics_zones_producing",
			Help:   "Number of zones that produced data in the last export",
			Type:   model.TypeGauge,
			Values: []model.MetricValue{{Value: float64(zoneCount)}},
		},
		{
			Name:   "edgemetrics_zones_restricted_tier",
			Help:   "Number of restricted-tier zones across all accounts",
			Type:   model.TypeGauge,
			Values: []model.MetricValue{{Value: float64(restricted)}},
		},
	}

	if len(f.errorTally) > 0 {
		keys := make([]errorKey, 0, len(f.errorTally))
		for k := range f.errorTally {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].account != keys[j].account {
				return keys[i].account < keys[j].account
			}
			return keys[i].code < keys[j].code
		})

		values := make([]model.MetricValue, 0, len(keys))
		for _, k := range keys {
			values = append(values, model.MetricValue{
				Labels: map[string]string{"account": k.account, "code": k.code},
				Value:  f.errorTally[k],
			})
		}
		snaps = append(snaps, model.MetricSnapshot{
			Name:   "edgemetrics_export_errors_total",
			Help:   "Export failures by account and error code",
			Type:   model.TypeCounter,
			Values: values,
		})
	}

	return snaps
}

func (f *FleetCoordinator) persist(ctx context.Context) error {
	data, err := json.Marshal(f.state)
	if err != nil {
		return fmt.Errorf("encode fleet state: %w", err)
	}
	if err := f.store.Save(ctx, fleetStateKey, data); err != nil {
		return fmt.Errorf("save fleet state: %w", err)
	}
	return nil
}
