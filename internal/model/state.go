package model

import "time"

// TimeWindow is the half-open interval an analytics query is evaluated
// over. Computed once per coordinator refresh cycle and pushed to every
// exporter touched by that cycle so their windows align.
type TimeWindow struct {
	MinTime time.Time `json:"min_time"`
	MaxTime time.Time `json:"max_time"`
}

// CounterState is the running total for one counter series. Loss of this
// state shows up downstream as a counter reset.
type CounterState struct {
	Accumulated float64 `json:"accumulated"`
}

// ExporterState is a query exporter's persisted state blob. One slot per
// exporter; written after every mutation, read once at start-up.
type ExporterState struct {
	Identity         QueryIdentity            `json:"identity"`
	Counters         map[string]*CounterState `json:"counters,omitempty"`
	Metrics          []MetricSnapshot         `json:"metrics,omitempty"`
	LastRefresh      time.Time                `json:"last_refresh"`
	LastError        string                   `json:"last_error,omitempty"`
	HasEverRefreshed bool                     `json:"has_ever_refreshed"`

	// Context pushed by the parent coordinator.
	Zones    []Zone            `json:"zones,omitempty"`
	LabelMap map[string]string `json:"label_map,omitempty"`
	Window   TimeWindow        `json:"window"`
	Zone     *Zone             `json:"zone,omitempty"`

	// Zone-scoped queries carry their own cache TTL, separate from the
	// refresh timer.
	LastFetch time.Time `json:"last_fetch"`

	// Upper bound of the last window actually consumed. Guards against a
	// window being added to the counters twice when a timer fires between
	// coordinator pushes.
	LastWindowMax time.Time `json:"last_window_max"`
}

// CoordinatorState is an account or fleet coordinator's persisted state
// blob: its child list plus the timestamps used for staleness checks.
type CoordinatorState struct {
	AccountID     string          `json:"account_id,omitempty"`
	Accounts      []TenantAccount `json:"accounts,omitempty"`
	Zones         []Zone          `json:"zones,omitempty"`
	LastListFetch time.Time       `json:"last_list_fetch"`
	LastRefresh   time.Time       `json:"last_refresh"`
}
