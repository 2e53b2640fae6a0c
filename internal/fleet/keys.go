package fleet

// Metrics store keys shared between processes.
const (
	KeyQueueLength           = "queue_length"
	KeyQueueLengthObservedAt = "queue_length_observed_at"
	KeyCompletedTasks        = "completed_tasks"
	KeyTotalExpectedTasks    = "total_expected_tasks"
	KeyCurrentBatchID        = "current_batch_id"
	KeyCurrentBatchArmedAt   = "current_batch_armed_at"
	KeyFinalizationFired     = "finalization_fired"
	KeyReadyToTerminate      = "all_workers_ready_to_terminate"
)
