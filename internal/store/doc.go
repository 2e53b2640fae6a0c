// Package store holds helpers shared by the fleet.MetricsStore
// implementations in the redis and memory subpackages. This package must not
// import concrete clients.
package store
