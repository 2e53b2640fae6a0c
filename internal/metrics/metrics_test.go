package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fleetQueueDepth == nil || fleetWorkers == nil ||
		fleetScalingEventsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestGauges(t *testing.T) {
	SetQueueDepth(42)
	if val := testutil.ToFloat64(fleetQueueDepth); val != 42 {
		t.Errorf("Expected fleetQueueDepth to be 42, got %f", val)
	}

	SetWorkers(3)
	if val := testutil.ToFloat64(fleetWorkers); val != 3 {
		t.Errorf("Expected fleetWorkers to be 3, got %f", val)
	}

	before := testutil.ToFloat64(fleetActiveJobs)
	IncActiveJobs()
	IncActiveJobs()
	DecActiveJobs()
	if val := testutil.ToFloat64(fleetActiveJobs); val != before+1 {
		t.Errorf("Expected fleetActiveJobs to be %f, got %f", before+1, val)
	}
}

func TestCounters(t *testing.T) {
	up := testutil.ToFloat64(fleetScalingEventsTotal.WithLabelValues(DirectionUp))
	ObserveScaling(DirectionUp)
	if val := testutil.ToFloat64(fleetScalingEventsTotal.WithLabelValues(DirectionUp)); val != up+1 {
		t.Errorf("Expected scale-up events to be %f, got %f", up+1, val)
	}

	fallbacks := testutil.ToFloat64(fleetDepthReadFallbacksTotal)
	ObserveDepthFallback()
	if val := testutil.ToFloat64(fleetDepthReadFallbacksTotal); val != fallbacks+1 {
		t.Errorf("Expected fallbacks to be %f, got %f", fallbacks+1, val)
	}

	ObserveLifecycleFailure("create")
	if val := testutil.ToFloat64(fleetLifecycleFailuresTotal.WithLabelValues("create")); val < 1 {
		t.Errorf("Expected create failures to be recorded, got %f", val)
	}

	ObserveCompletion("succeeded")
	ObserveFinalization()
	ObserveFinalizeStepFailure("summary")
	ObserveSubtaskDuration("domain_sold", 3*time.Second)
	if val := testutil.CollectAndCount(fleetSubtaskDurationSeconds); val <= 0 {
		t.Errorf("Expected subtask duration to be observed, got %d", val)
	}
}
