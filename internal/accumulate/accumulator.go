package accumulate

import (
	"github.com/edvin/edgemetrics/internal/model"
)

// Accumulator folds windowed counter totals into monotonically increasing
// running sums. The upstream API reports per-window totals rather than
// running counters, so each window must be added exactly once, at the
// refresh cycle that fetched it.
type Accumulator struct {
	counters map[string]*model.CounterState
}

func New() *Accumulator {
	return &Accumulator{counters: make(map[string]*model.CounterState)}
}

// Apply rewrites every counter value in the snapshots to its accumulated
// total, creating counter state on first observation of a signature.
// Gauge snapshots pass through unmodified.
func (a *Accumulator) Apply(snapshots []model.MetricSnapshot) []model.MetricSnapshot {
	for i := range snapshots {
		if snapshots[i].Type != model.TypeCounter {
			continue
		}
		for j := range snapshots[i].Values {
			v := &snapshots[i].Values[j]
			sig := model.Signature(snapshots[i].Name, v.Labels)
			state, ok := a.counters[sig]
			if !ok {
				state = &model.CounterState{}
				a.counters[sig] = state
			}
			state.Accumulated += v.Value
			v.Value = state.Accumulated
		}
	}
	return snapshots
}

// Export returns the counter state map for persistence in the owning
// exporter's state blob.
func (a *Accumulator) Export() map[string]*model.CounterState {
	return a.counters
}

// Restore replaces the counter state, resuming accumulated totals across
// a restart.
func (a *Accumulator) Restore(counters map[string]*model.CounterState) {
	if counters == nil {
		counters = make(map[string]*model.CounterState)
	}
	a.counters = counters
}
