package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

var _ fleet.MetricsStore = (*Store)(nil)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client), mr
}

func TestConnect(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s, err := Connect(context.Background(), Options{Addr: mr.Addr(), ConnectTimeout: time.Second}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
}

func TestConnectGivesUp(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Connect(ctx, Options{Addr: "127.0.0.1:1", ConnectTimeout: 300 * time.Millisecond}, nil)
	require.Error(t, err)
}

func TestGetSetSetNX(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	_, ok, err := s.Get(ctx, fleet.KeyReadyToTerminate)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, fleet.KeyReadyToTerminate, "false"))
	v, ok, err := s.Get(ctx, fleet.KeyReadyToTerminate)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "false", v)

	won, err := s.SetNX(ctx, fleet.KeyFinalizationFired, "batch-1")
	require.NoError(t, err)
	require.True(t, won)
	won, err = s.SetNX(ctx, fleet.KeyFinalizationFired, "batch-1")
	require.NoError(t, err)
	require.False(t, won)

	require.NoError(t, s.Del(ctx, fleet.KeyFinalizationFired))
	_, ok, err = s.Get(ctx, fleet.KeyFinalizationFired)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrConcurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Incr(ctx, fleet.KeyCompletedTasks)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := mr.Get(fleet.KeyCompletedTasks)
	require.NoError(t, err)
	require.Equal(t, "100", got)
}

func TestMSetAndSetIfEqual(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.MSet(ctx, map[string]string{
		fleet.KeyTotalExpectedTasks: "3",
		fleet.KeyCompletedTasks:     "3",
		fleet.KeyCurrentBatchID:     "batch-2",
	}))

	applied, err := s.SetIfEqual(ctx, fleet.KeyCurrentBatchID, "batch-1", map[string]string{
		fleet.KeyTotalExpectedTasks: "0",
	})
	require.NoError(t, err)
	require.False(t, applied)
	mr.CheckGet(t, fleet.KeyTotalExpectedTasks, "3")

	applied, err = s.SetIfEqual(ctx, fleet.KeyCurrentBatchID, "batch-2", map[string]string{
		fleet.KeyTotalExpectedTasks: "0",
		fleet.KeyCompletedTasks:     "0",
	})
	require.NoError(t, err)
	require.True(t, applied)
	mr.CheckGet(t, fleet.KeyTotalExpectedTasks, "0")
	mr.CheckGet(t, fleet.KeyCompletedTasks, "0")
}
