package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertFile struct {
	Groups []alertGroup `yaml:"groups"`
}

// exportedSeries lists the metric families the processes register.
var exportedSeries = map[string]bool{
	"odyssey_inventory_batches_total":             true,
	"odyssey_inventory_batch_duration_seconds":    true,
	"odyssey_inventory_adjustments_total":         true,
	"odyssey_inventory_checksum_mismatches_total": true,
	"odyssey_inventory_lots_expired_total":        true,
	"odyssey_jobs_total":                          true,
	"odyssey_jobs_failures_total":                 true,
	"odyssey_jobs_last_success_timestamp_seconds": true,
	"odyssey_http_requests_total":                 true,
}

var seriesPattern = regexp.MustCompile(`odyssey_[a-z_]+`)

func repoFile(t *testing.T, parts ...string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(append([]string{"..", ".."}, parts...)...))
	require.NoError(t, err)
	return data
}

func TestInventoryAlertRules(t *testing.T) {
	var file alertFile
	require.NoError(t, yaml.Unmarshal(repoFile(t, "deploy", "prometheus", "alerts", "inventory.yml"), &file))
	require.Len(t, file.Groups, 1)
	group := file.Groups[0]
	require.Equal(t, "inventory", group.Name)

	expected := map[string]struct {
		severity string
		anchor   string
	}{
		"AdjustmentRollbackSpike": {severity: "warning", anchor: "rollback-spike"},
		"HistoryChecksumMismatch": {severity: "critical", anchor: "checksum-mismatch"},
		"HighLatency":             {severity: "warning", anchor: "high-latency"},
		"JobFailures":             {severity: "warning", anchor: "job-failures"},
		"JobStale":                {severity: "warning", anchor: "job-stale"},
	}
	require.Len(t, group.Rules, len(expected))

	runbook := string(repoFile(t, "docs", "runbook-inventory.md"))
	for _, rule := range group.Rules {
		want, ok := expected[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want.severity, rule.Labels["severity"], rule.Alert)
		require.Equal(t, "docs/runbook-inventory.md#"+want.anchor, rule.Annotations["runbook"], rule.Alert)
		require.Contains(t, runbook, "\n## "+want.anchor+"\n", "runbook section for %s", rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)

		series := seriesPattern.FindAllString(rule.Expr, -1)
		require.NotEmpty(t, series, "rule %s must reference an odyssey series", rule.Alert)
		for _, name := range series {
			name = strings.TrimSuffix(name, "_bucket")
			require.True(t, exportedSeries[name], "rule %s references unknown series %s", rule.Alert, name)
		}
	}
}
