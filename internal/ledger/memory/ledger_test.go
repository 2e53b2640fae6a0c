package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

func TestLedgerRecent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := New()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.RecordArmed(ctx, fleet.Batch{ID: id, Expected: 10, ArmedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, l.RecordFinalized(ctx, "b", 10, base.Add(time.Hour)))

	runs, err := l.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "c", runs[0].ID)
	require.Equal(t, "b", runs[1].ID)
	require.NotNil(t, runs[1].FinalizedAt)
	require.Equal(t, int64(10), runs[1].Completed)
	require.Nil(t, runs[0].FinalizedAt)
}

func TestLedgerUnknownBatch(t *testing.T) {
	t.Parallel()

	err := New().RecordFinalized(context.Background(), "missing", 1, time.Now())
	require.ErrorIs(t, err, fleet.ErrUnknownBatch)
}
