package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/edgemetrics/internal/accumulate"
	"github.com/edvin/edgemetrics/internal/actor"
	"github.com/edvin/edgemetrics/internal/config"
	"github.com/edvin/edgemetrics/internal/model"
	"github.com/edvin/edgemetrics/internal/upstream"
)

// QueryExporter is the leaf actor: one per (scope, query) pair. It owns a
// metric cache, counter state, and its own refresh timer. Export is a pure
// cache read; only refresh cycles talk upstream.
type QueryExporter struct {
	mu sync.Mutex

	identity model.QueryIdentity
	spec     config.QuerySpec
	opts     Options

	client Upstream
	store  actor.StateStore
	sched  actor.Scheduler
	logger zerolog.Logger

	acc         *accumulate.Accumulator
	state       model.ExporterState
	initialized bool

	now func() time.Time
}

func NewQueryExporter(identity model.QueryIdentity, spec config.QuerySpec, opts Options, client Upstream, store actor.StateStore, sched actor.Scheduler, logger zerolog.Logger) *QueryExporter {
	return &QueryExporter{
		identity: identity,
		spec:     spec,
		opts:     opts,
		client:   client,
		store:    store,
		sched:    sched,
		logger: logger.With().
			Str("component", "query-exporter").
			Str("identity", identity.String()).
			Logger(),
		acc: accumulate.New(),
		now: time.Now,
	}
}

// Init loads persisted state and schedules the first timer tick. Calling
// it again is a no-op.
func (e *QueryExporter) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	data, err := e.store.Load(ctx, e.identity.String())
	switch {
	case errors.Is(err, actor.ErrNotFound):
		e.state = model.ExporterState{Identity: e.identity}
	case err != nil:
		return fmt.Errorf("load exporter state: %w", err)
	default:
		if err := json.Unmarshal(data, &e.state); err != nil {
			return fmt.Errorf("decode exporter state: %w", err)
		}
		e.acc.Restore(e.state.Counters)
	}

	e.initialized = true
	e.reschedule()
	return nil
}

// UpdateAccountContext stores the context pushed by the parent coordinator.
// The very first push triggers an immediate bootstrap fetch; later pushes
// only update cached context and rely on the timer for refresh.
func (e *QueryExporter) UpdateAccountContext(ctx context.Context, zones []model.Zone, labelMap map[string]string, window model.TimeWindow) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Zones = zones
	e.state.LabelMap = labelMap
	e.state.Window = window

	if !e.state.HasEverRefreshed {
		return e.refreshLocked(ctx)
	}
	return e.persist(ctx)
}

// InitZoneContext stores a zone-scoped exporter's zone metadata; the first
// push bootstraps an immediate fetch like UpdateAccountContext.
func (e *QueryExporter) InitZoneContext(ctx context.Context, zone model.Zone, window model.TimeWindow) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Zone = &zone
	e.state.Window = window

	if !e.state.HasEverRefreshed {
		return e.refreshLocked(ctx)
	}
	return e.persist(ctx)
}

// Refresh is the timer entry point: fetch, accumulate, cache, reschedule.
func (e *QueryExporter) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshLocked(ctx)
}

func (e *QueryExporter) refreshLocked(ctx context.Context) error {
	defer e.reschedule()

	if !e.hasContext() {
		// Parent has not pushed context yet; silently wait for the next tick.
		return nil
	}

	if err := e.fetch(ctx); err != nil {
		// Keep the last-good snapshot. Staleness beats blocking or crashing.
		e.state.LastError = err.Error()
		e.logger.Error().Err(err).Msg("refresh failed, keeping last snapshot")
		if perr := e.persist(ctx); perr != nil {
			e.logger.Error().Err(perr).Msg("persist exporter state")
		}
		return err
	}

	e.state.LastError = ""
	e.state.LastRefresh = e.now()
	e.state.HasEverRefreshed = true
	if err := e.persist(ctx); err != nil {
		e.logger.Error().Err(err).Msg("persist exporter state")
	}
	return nil
}

func (e *QueryExporter) hasContext() bool {
	if e.identity.ScopeType == model.ScopeZone {
		return e.state.Zone != nil
	}
	return !e.state.Window.MaxTime.IsZero()
}

func (e *QueryExporter) fetch(ctx context.Context) error {
	window := e.currentWindow()
	if !window.MaxTime.After(e.state.LastWindowMax) {
		// This window was already consumed; adding it again would double
		// count the counters.
		return nil
	}

	req := upstream.QueryRequest{
		QueryName:     e.identity.QueryName,
		MinTime:       window.MinTime,
		MaxTime:       window.MaxTime,
		Limit:         e.spec.Limit,
		Fields:        e.spec.Fields,
		ReducedFields: e.spec.ReducedFields,
	}

	switch {
	case e.identity.ScopeType == model.ScopeZone:
		if e.freshCacheHit() {
			// Cache still valid for this expensive, slow-changing query;
			// skip the upstream call but keep the timer going.
			return nil
		}
		req.ScopeIDs = []string{e.identity.ScopeID}

	case e.spec.Batched:
		scopes := e.batchScopes()
		if len(scopes) == 0 {
			// Tier filtering removed every zone: a skipped cycle with zero
			// metrics, not an error.
			e.state.Metrics = nil
			e.state.LastWindowMax = window.MaxTime
			return nil
		}
		req.ScopeIDs = scopes

	default:
		req.ScopeIDs = []string{e.identity.ScopeID}
	}

	snaps, err := e.client.Query(ctx, req)
	if err != nil {
		return err
	}

	snaps = e.applyLabelMap(snaps)
	e.state.Metrics = e.acc.Apply(snaps)
	e.state.Counters = e.acc.Export()
	e.state.LastWindowMax = window.MaxTime
	e.state.LastFetch = e.now()
	return nil
}

// currentWindow prefers the window pushed by the parent's current cycle;
// when the exporter's own timer outruns the pushes it computes a fresh
// aligned window itself.
func (e *QueryExporter) currentWindow() model.TimeWindow {
	if e.state.Window.MaxTime.After(e.state.LastWindowMax) {
		return e.state.Window
	}
	return ComputeWindow(e.now(), e.opts.ScrapeDelay, e.opts.TimeWindow)
}

func (e *QueryExporter) freshCacheHit() bool {
	ttl := e.spec.CacheTTL.Std()
	return ttl > 0 && !e.state.LastFetch.IsZero() && e.now().Sub(e.state.LastFetch) < ttl
}

// batchScopes returns the zone IDs for a batched account query, dropping
// restricted-tier zones when the query requires full-tier access.
func (e *QueryExporter) batchScopes() []string {
	scopes := make([]string, 0, len(e.state.Zones))
	for _, z := range e.state.Zones {
		if e.spec.FullTierOnly && z.Restricted(e.opts.RestrictedPlans) {
			continue
		}
		scopes = append(scopes, z.ID)
	}
	return scopes
}

// applyLabelMap rewrites raw rule-id labels to their human-readable names
// using the map resolved by the parent coordinator.
func (e *QueryExporter) applyLabelMap(snaps []model.MetricSnapshot) []model.MetricSnapshot {
	if len(e.state.LabelMap) == 0 {
		return snaps
	}
	for i := range snaps {
		for j := range snaps[i].Values {
			labels := snaps[i].Values[j].Labels
			if id, ok := labels["rule_id"]; ok {
				if name, ok := e.state.LabelMap[id]; ok && name != "" {
					labels["rule_name"] = name
				}
			}
		}
	}
	return snaps
}

// Export returns a copy of the cached snapshot. It never calls upstream,
// and callers may stamp additional labels onto the copy.
func (e *QueryExporter) Export() []model.MetricSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.MetricSnapshot, len(e.state.Metrics))
	for i, snap := range e.state.Metrics {
		out[i] = snap
		out[i].Values = make([]model.MetricValue, len(snap.Values))
		for j, v := range snap.Values {
			labels := make(map[string]string, len(v.Labels))
			for k, lv := range v.Labels {
				labels[k] = lv
			}
			out[i].Values[j] = model.MetricValue{Labels: labels, Value: v.Value}
		}
	}
	return out
}

// LastError returns the most recent refresh failure, empty when healthy.
func (e *QueryExporter) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.LastError
}

func (e *QueryExporter) persist(ctx context.Context) error {
	e.state.Counters = e.acc.Export()
	data, err := json.Marshal(e.state)
	if err != nil {
		return fmt.Errorf("encode exporter state: %w", err)
	}
	if err := e.store.Save(ctx, e.identity.String(), data); err != nil {
		return fmt.Errorf("save exporter state: %w", err)
	}
	return nil
}

func (e *QueryExporter) reschedule() {
	wake := NextWake(e.now(), e.opts.RefreshInterval)
	e.sched.WakeAt(e.identity.String(), wake, func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.RefreshInterval)
		defer cancel()
		_ = e.Refresh(ctx)
	})
}
