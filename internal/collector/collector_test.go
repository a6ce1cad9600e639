package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/edgemetrics/internal/actor"
	"github.com/edvin/edgemetrics/internal/config"
	"github.com/edvin/edgemetrics/internal/model"
	"github.com/edvin/edgemetrics/internal/upstream"
)

// fakeUpstream implements Upstream with canned data and per-call recording.
type fakeUpstream struct {
	mu sync.Mutex

	accounts    []model.TenantAccount
	accountsErr error
	zones       map[string][]model.Zone
	zonesErr    map[string]error
	rules       map[string]map[string]string

	queryFn    func(req upstream.QueryRequest) ([]model.MetricSnapshot, error)
	queryCalls []upstream.QueryRequest

	listAccountCalls int
	listZoneCalls    int
}

func (f *fakeUpstream) ListAccounts(context.Context) ([]model.TenantAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listAccountCalls++
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return f.accounts, nil
}

func (f *fakeUpstream) ListZones(_ context.Context, accountID string) ([]model.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listZoneCalls++
	if err := f.zonesErr[accountID]; err != nil {
		return nil, err
	}
	return f.zones[accountID], nil
}

func (f *fakeUpstream) ListFirewallRules(_ context.Context, zoneID string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules[zoneID], nil
}

func (f *fakeUpstream) Query(_ context.Context, req upstream.QueryRequest) ([]model.MetricSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls = append(f.queryCalls, req)
	if f.queryFn != nil {
		return f.queryFn(req)
	}
	return nil, nil
}

func (f *fakeUpstream) setQueryFn(fn func(req upstream.QueryRequest) ([]model.MetricSnapshot, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryFn = fn
}

func (f *fakeUpstream) queries() []upstream.QueryRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]upstream.QueryRequest, len(f.queryCalls))
	copy(out, f.queryCalls)
	return out
}

func (f *fakeUpstream) queryNames() []string {
	names := []string{}
	for _, q := range f.queries() {
		names = append(names, q.QueryName)
	}
	return names
}

// fakeScheduler records registered wakes without ever firing them, so
// tests drive refreshes explicitly.
type fakeScheduler struct {
	mu    sync.Mutex
	wakes map[string]time.Time
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{wakes: make(map[string]time.Time)}
}

func (s *fakeScheduler) WakeAt(key string, t time.Time, _ func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes[key] = t
}

func (s *fakeScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wakes, key)
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Catalogue:       config.DefaultCatalogue(),
		RefreshInterval: time.Minute,
		AccountListTTL:  5 * time.Minute,
		ZoneListTTL:     5 * time.Minute,
		ScrapeDelay:     time.Minute,
		TimeWindow:      time.Minute,
		RestrictedPlans: map[string]bool{"free": true},
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// counterResult answers every query with one counter row per scope,
// labeled with the scope ID as zone.
func counterResult(value float64) func(req upstream.QueryRequest) ([]model.MetricSnapshot, error) {
	return func(req upstream.QueryRequest) ([]model.MetricSnapshot, error) {
		values := make([]model.MetricValue, 0, len(req.ScopeIDs))
		for _, id := range req.ScopeIDs {
			values = append(values, model.MetricValue{
				Labels: map[string]string{"zone": id},
				Value:  value,
			})
		}
		return []model.MetricSnapshot{{
			Name:   "test_requests_total",
			Help:   "Test requests",
			Type:   model.TypeCounter,
			Values: values,
		}}, nil
	}
}

// catalogueQueryFn answers the default catalogue's queries with plausible
// shapes: an unlabeled counter for worker totals, per-zone rows for batched
// queries, and a gauge for certificate inventory.
func catalogueQueryFn(value float64) func(req upstream.QueryRequest) ([]model.MetricSnapshot, error) {
	return func(req upstream.QueryRequest) ([]model.MetricSnapshot, error) {
		switch req.QueryName {
		case "worker-totals":
			return []model.MetricSnapshot{{
				Name:   "edge_worker_requests_total",
				Help:   "Worker requests",
				Type:   model.TypeCounter,
				Values: []model.MetricValue{{Value: value}},
			}}, nil
		case "certificate-packs":
			return []model.MetricSnapshot{{
				Name:   "edge_certificates",
				Help:   "Certificate packs",
				Type:   model.TypeGauge,
				Values: []model.MetricValue{{
					Labels: map[string]string{"status": "active"},
					Value:  1,
				}},
			}}, nil
		case "http-requests":
			values := make([]model.MetricValue, 0, len(req.ScopeIDs))
			for _, id := range req.ScopeIDs {
				values = append(values, model.MetricValue{
					Labels: map[string]string{"zone": id},
					Value:  value,
				})
			}
			return []model.MetricSnapshot{{
				Name:   "edge_http_requests_total",
				Help:   "HTTP requests",
				Type:   model.TypeCounter,
				Values: values,
			}}, nil
		default:
			values := make([]model.MetricValue, 0, len(req.ScopeIDs))
			for _, id := range req.ScopeIDs {
				values = append(values, model.MetricValue{
					Labels: map[string]string{"zone": id, "rule_id": "r1"},
					Value:  value,
				})
			}
			return []model.MetricSnapshot{{
				Name:   "edge_firewall_events_total",
				Help:   "Firewall events",
				Type:   model.TypeCounter,
				Values: values,
			}}, nil
		}
	}
}

var _ actor.Scheduler = (*fakeScheduler)(nil)

var _ Upstream = (*fakeUpstream)(nil)
