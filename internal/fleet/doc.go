// Package fleet defines the types and collaborator interfaces shared by the
// autoscaler, the queue-depth sampler, the worker daemons, and the
// task-completion barrier. The daemons never talk to each other directly;
// everything they share lives behind MetricsStore and TaskQueue.
package fleet
