package expose

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/edvin/edgemetrics/internal/model"
)

// Options control serialization: denied metric names never appear in the
// output, excluded labels are stripped before grouping.
type Options struct {
	Denylist      map[string]bool
	ExcludeLabels map[string]bool
}

// NewOptions builds Options from the config's list form.
func NewOptions(denylist, excludeLabels []string) Options {
	opts := Options{
		Denylist:      make(map[string]bool, len(denylist)),
		ExcludeLabels: make(map[string]bool, len(excludeLabels)),
	}
	for _, n := range denylist {
		opts.Denylist[n] = true
	}
	for _, l := range excludeLabels {
		opts.ExcludeLabels[l] = true
	}
	return opts
}

type group struct {
	help   string
	typ    string
	order  []string
	values map[string]*row
}

type row struct {
	labels map[string]string
	value  float64
}

// Serialize renders snapshots as Prometheus text exposition format. Rows
// whose post-exclusion label signatures collide are aggregated: summed for
// counters, maximum for gauges (exclusion can collapse previously distinct
// series onto one signature).
func Serialize(snapshots []model.MetricSnapshot, opts Options) string {
	groups := make(map[string]*group)
	var names []string

	for _, snap := range snapshots {
		if opts.Denylist[snap.Name] {
			continue
		}
		g, ok := groups[snap.Name]
		if !ok {
			g = &group{help: snap.Help, typ: snap.Type, values: make(map[string]*row)}
			groups[snap.Name] = g
			names = append(names, snap.Name)
		}
		for _, v := range snap.Values {
			labels := excludeLabels(v.Labels, opts.ExcludeLabels)
			sig := model.Signature(snap.Name, labels)
			r, ok := g.values[sig]
			if !ok {
				g.values[sig] = &row{labels: labels, value: v.Value}
				g.order = append(g.order, sig)
				continue
			}
			if snap.Type == model.TypeCounter {
				r.value += v.Value
			} else if v.Value > r.value {
				r.value = v.Value
			}
		}
	}

	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		g := groups[name]
		b.WriteString("# HELP ")
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(escapeHelp(g.help))
		b.WriteByte('\n')
		b.WriteString("# TYPE ")
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(g.typ)
		b.WriteByte('\n')

		sort.Strings(g.order)
		for _, sig := range g.order {
			r := g.values[sig]
			b.WriteString(name)
			writeLabels(&b, r.labels)
			b.WriteByte(' ')
			b.WriteString(formatValue(r.value))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func excludeLabels(labels map[string]string, exclude map[string]bool) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		if !exclude[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func writeLabels(b *strings.Builder, labels map[string]string) {
	if len(labels) == 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

var helpEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escapeLabelValue(s string) string {
	return labelEscaper.Replace(s)
}

func escapeHelp(s string) string {
	return helpEscaper.Replace(s)
}

func formatValue(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
