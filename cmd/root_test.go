package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	"github.com/JakeFAU/crawler-fleet/internal/worker"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fleet.yaml")
	body := fmt.Sprintf(`
worker:
  state_file: %s
depth:
  file: %s
logging:
  level: error
`, filepath.Join(dir, "active.json"), filepath.Join(dir, "metrics.json"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBatchStartDryRun(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(`
postcodes: ["2000", "2150", "2250"]
spiders:
  - name: domain_sold
    url_template: "https://www.domain.com.au/sold-listings/?postcode={postcode}"
  - name: domain_buy
    url_template: "https://www.domain.com.au/sale/?postcode={postcode}"
`), 0o600))

	out, err := run(t, "--config", cfgPath, "--dry-run", "batch", "start", "--plan", planPath)
	require.NoError(t, err)

	var batch fleet.Batch
	require.NoError(t, json.Unmarshal([]byte(out), &batch))
	require.Equal(t, int64(6), batch.Expected)
	require.NotEmpty(t, batch.ID)
}

func TestBatchStartRequiresPlan(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, t.TempDir())
	_, err := run(t, "--config", cfgPath, "--dry-run", "batch", "start")
	require.Error(t, err)
}

func TestBatchStatusDryRun(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, t.TempDir())
	out, err := run(t, "--config", cfgPath, "--dry-run", "batch", "status")
	require.NoError(t, err)
	require.Contains(t, out, `"ready_to_terminate": true`)
}

func TestInspectPrintsActiveJobs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out, err := run(t, "--config", cfgPath, "inspect")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(out))

	active := worker.NewActiveSet(filepath.Join(dir, "active.json"))
	require.NoError(t, active.Add(fleet.ActiveJob{ID: "t1", Spider: "domain_sold", StartedAt: time.Unix(0, 0).UTC()}))

	out, err = run(t, "--config", cfgPath, "inspect")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "* {"), "unexpected output %q", out)
	require.Contains(t, out, `"spider":"domain_sold"`)
}

func TestInvalidConfigFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autoscale:\n  max_workers: -1\n"), 0o600))
	_, err := run(t, "--config", path, "inspect")
	require.Error(t, err)
}
