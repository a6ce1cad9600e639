package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogue(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalogue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadCatalogue_EmptyPathReturnsDefaults(t *testing.T) {
	cat, err := LoadCatalogue("")
	require.NoError(t, err)

	require.Len(t, cat.Queries, 4)
	spec, ok := cat.Lookup("certificate-packs")
	require.True(t, ok)
	assert.Equal(t, 6*time.Hour, spec.CacheTTL.Std())
}

func TestLoadCatalogue_FileOverridesQueries(t *testing.T) {
	path := writeCatalogue(t, `
queries:
  - name: dns-queries
    scope: account
    batched: true
    fields: [queryCount, responseCode]
    limit: 5000
metric_denylist:
  - edge_dns_queries_total
exclude_labels:
  - colo
`)

	cat, err := LoadCatalogue(path)
	require.NoError(t, err)

	require.Len(t, cat.Queries, 1)
	assert.Equal(t, "dns-queries", cat.Queries[0].Name)
	assert.True(t, cat.Queries[0].Batched)
	assert.Equal(t, []string{"edge_dns_queries_total"}, cat.MetricDenylist)
	assert.Equal(t, []string{"colo"}, cat.ExcludeLabels)
}

func TestLoadCatalogue_ParsesDurations(t *testing.T) {
	path := writeCatalogue(t, `
queries:
  - name: certificates
    scope: zone
    cache_ttl: 12h
    fields: [status]
`)

	cat, err := LoadCatalogue(path)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cat.Queries[0].CacheTTL.Std())
}

func TestLoadCatalogue_ZoneQueryNeedsCacheTTL(t *testing.T) {
	path := writeCatalogue(t, `
queries:
  - name: certificates
    scope: zone
    fields: [status]
`)

	_, err := LoadCatalogue(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_ttl")
}

func TestLoadCatalogue_RejectsDuplicatesAndBadScopes(t *testing.T) {
	dup := writeCatalogue(t, `
queries:
  - name: a
    scope: account
  - name: a
    scope: account
`)
	_, err := LoadCatalogue(dup)
	assert.Error(t, err)

	badScope := writeCatalogue(t, `
queries:
  - name: a
    scope: global
`)
	_, err = LoadCatalogue(badScope)
	assert.Error(t, err)
}

func TestCatalogue_AccountQueriesRespectTier(t *testing.T) {
	cat := DefaultCatalogue()

	full := cat.AccountQueries(false)
	restricted := cat.AccountQueries(true)

	assert.Len(t, full, 3)
	assert.Len(t, restricted, 2)
	for _, q := range restricted {
		assert.False(t, q.FullTierOnly)
	}
}

func TestCatalogue_ZoneQueries(t *testing.T) {
	zone := DefaultCatalogue().ZoneQueries()

	require.Len(t, zone, 1)
	assert.Equal(t, "certificate-packs", zone[0].Name)
}
