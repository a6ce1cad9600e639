package model

import (
	"sort"
	"strings"
)

// Metric types in the exposed feed.
const (
	TypeCounter = "counter"
	TypeGauge   = "gauge"
)

// MetricValue is one sample row: a label set and its value.
type MetricValue struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// MetricSnapshot is the latest processed result for one metric name as
// produced by a query exporter. Counter snapshots hold accumulated totals,
// not raw window deltas.
type MetricSnapshot struct {
	Name   string        `json:"name"`
	Help   string        `json:"help"`
	Type   string        `json:"type"`
	Values []MetricValue `json:"values"`
}

// Signature returns the identity of a sample row: metric name plus the
// label set sorted by key. Rows with equal signatures are the same series.
func Signature(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}
