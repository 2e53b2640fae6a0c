package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
	rtmemory "github.com/JakeFAU/crawler-fleet/internal/runtime/memory"
)

func TestParseActiveJobs(t *testing.T) {
	t.Parallel()

	out := "Active jobs:\n" +
		`* {"id":"t1","spider":"domain_sold","args":{"domain_sold":"https://x"},"started_at":"2024-01-01T00:00:00Z"}` + "\n" +
		"* {broken\n" +
		`  * {"id":"t2","spider":"domain_sale","started_at":"2024-01-01T00:00:01Z"}` + "\n"

	jobs, skipped := ParseActiveJobs(out)
	require.Equal(t, 1, skipped)
	require.Len(t, jobs, 2)
	require.Equal(t, "t1", jobs[0].ID)
	require.Equal(t, "https://x", jobs[0].Args["domain_sold"])
	require.Equal(t, "domain_sale", jobs[1].Spider)

	none, skipped := ParseActiveJobs("")
	require.Empty(t, none)
	require.Zero(t, skipped)
}

func TestFormatActiveJobRoundTrip(t *testing.T) {
	t.Parallel()

	job := fleet.ActiveJob{ID: "t1", Spider: "domain_sold", StartedAt: time.Unix(10, 0).UTC()}
	line, err := FormatActiveJob(job)
	require.NoError(t, err)
	jobs, skipped := ParseActiveJobs(line)
	require.Zero(t, skipped)
	require.Equal(t, []fleet.ActiveJob{job}, jobs)
}

func TestActiveJobsDegradesToEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rt := rtmemory.New(nil)
	rt.Seed(fleet.WorkerRecord{ID: "1", Name: "crawler_replica_aaaaaa_container", Status: fleet.WorkerRunning})
	m, _ := newTestManager(rt, &seqSuffixes{})

	rt.SetExecOutput("crawler_replica_aaaaaa_container", "", errors.New("container not running"))
	require.Empty(t, m.ActiveJobs(ctx, "crawler_replica_aaaaaa_container"))

	rt.SetExecOutput("crawler_replica_aaaaaa_container", "", nil)
	require.Empty(t, m.ActiveJobs(ctx, "crawler_replica_aaaaaa_container"))

	rt.SetExecOutput("crawler_replica_aaaaaa_container", `* {"id":"t9","spider":"s"}`, nil)
	jobs := m.ActiveJobs(ctx, "crawler_replica_aaaaaa_container")
	require.Len(t, jobs, 1)
	require.Equal(t, "t9", jobs[0].ID)
}
