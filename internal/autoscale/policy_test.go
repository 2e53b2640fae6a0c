package autoscale

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysReady() (bool, error) { return true, nil }

func TestPolicyDecide(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	tests := []struct {
		name    string
		depth   int64
		current int
		ready   ReadyFunc
		action  Action
		target  int
	}{
		{"grow on backlog", 2, 1, alwaysReady, ActionUp, 2},
		{"capped at max", 50, 15, alwaysReady, ActionNone, 15},
		{"threshold is exclusive", 1, 3, alwaysReady, ActionNone, 3},
		{"shrink when drained", 0, 3, alwaysReady, ActionDown, 2},
		{"floor holds", 0, 1, alwaysReady, ActionNone, 1},
		{"hold while batch in flight", 0, 3, func() (bool, error) { return false, nil }, ActionHold, 3},
		{"hold on readiness error", 0, 3, func() (bool, error) { return false, errors.New("down") }, ActionHold, 3},
		{"below min grows regardless of depth", 0, 0, alwaysReady, ActionUp, 1},
		{"above max shrinks without readiness", 10, 17, func() (bool, error) { return false, nil }, ActionDown, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := p.Decide(tt.depth, tt.current, tt.ready)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, tt.target, d.Target)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestPolicyAboveMaxToFloorWaitsForReadiness(t *testing.T) {
	t.Parallel()

	p := Policy{MinWorkers: 1, MaxWorkers: 1, ScaleUpThreshold: 1}
	notReady := func() (bool, error) { return false, nil }

	d := p.Decide(0, 2, notReady)
	require.Equal(t, ActionHold, d.Action)
	require.Equal(t, 2, d.Target)
	require.False(t, d.Drained)

	d = p.Decide(0, 2, alwaysReady)
	require.Equal(t, ActionDown, d.Action)
	require.Equal(t, 1, d.Target)
	require.True(t, d.Drained)

	wide := Policy{MinWorkers: 1, MaxWorkers: 3, ScaleUpThreshold: 1}
	d = wide.Decide(0, 5, notReady)
	require.Equal(t, ActionDown, d.Action)
	require.Equal(t, 4, d.Target)
	require.False(t, d.Drained, "shrinking toward the maximum is not a drain signal")
}

func TestPolicyOnlyAsksReadinessForScaleDown(t *testing.T) {
	t.Parallel()

	calls := 0
	ready := func() (bool, error) {
		calls++
		return true, nil
	}
	p := DefaultPolicy()
	p.Decide(5, 2, ready)
	p.Decide(1, 2, ready)
	require.Zero(t, calls)
	p.Decide(0, 2, ready)
	require.Equal(t, 1, calls)
}

func TestPolicySequence(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	workers := 1
	var got []int
	for _, depth := range []int64{2, 2, 1, 0, 0} {
		workers = p.Decide(depth, workers, alwaysReady).Target
		got = append(got, workers)
	}
	require.Equal(t, []int{2, 3, 3, 2, 1}, got)
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultPolicy().Validate())
	require.Error(t, Policy{MinWorkers: 5, MaxWorkers: 2}.Validate())
	require.Error(t, Policy{MinWorkers: 1, MaxWorkers: 2, ScaleUpThreshold: 0, ScaleDownThreshold: 3}.Validate())
}
