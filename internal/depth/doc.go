// Package depth samples the job queue length on a fixed cadence and reads it
// back for the autoscaler.
//
// The Sampler writes every observation to one or more sinks: the shared
// metrics store, a local JSON snapshot, or a Prometheus Pushgateway. The
// Reader tolerates a missing or malformed value by retrying a few times and
// then falling back to the last value it successfully read, so a flaky
// sample never stalls the scaling loop.
package depth
