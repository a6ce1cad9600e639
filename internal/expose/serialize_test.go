package expose

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edvin/edgemetrics/internal/model"
)

func TestSerialize_BasicFormat(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "zone_requests_total",
		Help: "Total HTTP requests",
		Type: model.TypeCounter,
		Values: []model.MetricValue{
			{Labels: map[string]string{"zone": "example.com"}, Value: 42},
		},
	}}

	out := Serialize(snaps, Options{})
	assert.Equal(t,
		"# HELP zone_requests_total Total HTTP requests\n"+
			"# TYPE zone_requests_total counter\n"+
			"zone_requests_total{zone=\"example.com\"} 42\n",
		out)
}

func TestSerialize_OneHeaderPerName(t *testing.T) {
	snaps := []model.MetricSnapshot{
		{
			Name: "zone_requests_total", Help: "Total HTTP requests", Type: model.TypeCounter,
			Values: []model.MetricValue{{Labels: map[string]string{"zone": "a"}, Value: 1}},
		},
		{
			Name: "zone_requests_total", Help: "Total HTTP requests", Type: model.TypeCounter,
			Values: []model.MetricValue{{Labels: map[string]string{"zone": "b"}, Value: 2}},
		},
	}

	out := Serialize(snaps, Options{})
	assert.Equal(t, 1, strings.Count(out, "# HELP zone_requests_total"))
	assert.Equal(t, 1, strings.Count(out, "# TYPE zone_requests_total"))
	assert.Contains(t, out, `zone_requests_total{zone="a"} 1`)
	assert.Contains(t, out, `zone_requests_total{zone="b"} 2`)
}

func TestSerialize_BlankLineBetweenGroups(t *testing.T) {
	snaps := []model.MetricSnapshot{
		{Name: "a_total", Type: model.TypeCounter, Values: []model.MetricValue{{Value: 1}}},
		{Name: "b_total", Type: model.TypeCounter, Values: []model.MetricValue{{Value: 2}}},
	}

	out := Serialize(snaps, Options{})
	assert.Contains(t, out, "a_total 1\n\n# HELP b_total")
}

func TestSerialize_Denylist(t *testing.T) {
	snaps := []model.MetricSnapshot{
		{Name: "keep_me", Type: model.TypeGauge, Values: []model.MetricValue{{Value: 1}}},
		{Name: "drop_me", Type: model.TypeGauge, Values: []model.MetricValue{{Value: 2}}},
		{Name: "drop_me", Type: model.TypeGauge, Values: []model.MetricValue{{Value: 3}}},
	}

	out := Serialize(snaps, Options{Denylist: map[string]bool{"drop_me": true}})
	assert.Contains(t, out, "keep_me")
	assert.NotContains(t, out, "drop_me")
}

func TestSerialize_EmptyDenylistDeniesNothing(t *testing.T) {
	snaps := []model.MetricSnapshot{
		{Name: "keep_me", Type: model.TypeGauge, Values: []model.MetricValue{{Value: 1}}},
	}

	out := Serialize(snaps, NewOptions(nil, nil))
	assert.Contains(t, out, "keep_me 1")
}

func TestSerialize_LabelExclusionSumsCounters(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "requests_total",
		Type: model.TypeCounter,
		Values: []model.MetricValue{
			{Labels: map[string]string{"host": "a"}, Value: 3},
			{Labels: map[string]string{"host": "b"}, Value: 5},
		},
	}}

	out := Serialize(snaps, NewOptions(nil, []string{"host"}))
	assert.Contains(t, out, "requests_total 8\n")
}

func TestSerialize_LabelExclusionMaxesGauges(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "connections",
		Type: model.TypeGauge,
		Values: []model.MetricValue{
			{Labels: map[string]string{"host": "a"}, Value: 3},
			{Labels: map[string]string{"host": "b"}, Value: 5},
		},
	}}

	out := Serialize(snaps, NewOptions(nil, []string{"host"}))
	assert.Contains(t, out, "connections 5\n")
}

func TestSerialize_ExclusionKeepsOtherLabels(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "requests_total",
		Type: model.TypeCounter,
		Values: []model.MetricValue{
			{Labels: map[string]string{"host": "a", "zone": "x"}, Value: 1},
			{Labels: map[string]string{"host": "b", "zone": "x"}, Value: 2},
			{Labels: map[string]string{"host": "b", "zone": "y"}, Value: 4},
		},
	}}

	out := Serialize(snaps, NewOptions(nil, []string{"host"}))
	assert.Contains(t, out, `requests_total{zone="x"} 3`)
	assert.Contains(t, out, `requests_total{zone="y"} 4`)
}

func TestSerialize_EscapesLabelValues(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "m",
		Type: model.TypeGauge,
		Values: []model.MetricValue{
			{Labels: map[string]string{"rule": "line1\nline2 \"quoted\" back\\slash"}, Value: 1},
		},
	}}

	out := Serialize(snaps, Options{})
	assert.Contains(t, out, `rule="line1\nline2 \"quoted\" back\\slash"`)
}

func TestSerialize_EscapesHelp(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name:   "m",
		Help:   "first\nsecond\\third",
		Type:   model.TypeGauge,
		Values: []model.MetricValue{{Value: 1}},
	}}

	out := Serialize(snaps, Options{})
	assert.Contains(t, out, `# HELP m first\nsecond\\third`)
}

func TestSerialize_SpecialValues(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "weird",
		Type: model.TypeGauge,
		Values: []model.MetricValue{
			{Labels: map[string]string{"k": "nan"}, Value: math.NaN()},
			{Labels: map[string]string{"k": "pos"}, Value: math.Inf(1)},
			{Labels: map[string]string{"k": "neg"}, Value: math.Inf(-1)},
		},
	}}

	out := Serialize(snaps, Options{})
	assert.Contains(t, out, `weird{k="nan"} NaN`)
	assert.Contains(t, out, `weird{k="pos"} +Inf`)
	assert.Contains(t, out, `weird{k="neg"} -Inf`)
}

func TestSerialize_DeterministicOutput(t *testing.T) {
	snaps := []model.MetricSnapshot{{
		Name: "m",
		Type: model.TypeGauge,
		Values: []model.MetricValue{
			{Labels: map[string]string{"zone": "b", "account": "x"}, Value: 1},
			{Labels: map[string]string{"zone": "a", "account": "x"}, Value: 2},
		},
	}}

	first := Serialize(snaps, Options{})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Serialize(snaps, Options{}))
	}
}
