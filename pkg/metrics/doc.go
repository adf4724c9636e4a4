// Package metrics exports SDK activity to Prometheus.
//
// Metrics holds the SDK counters and is registered on a caller supplied
// registerer, so several SDK instances (or tests) do not collide on the
// default registry. All Metrics methods accept a nil receiver and then do
// nothing.
//
// PoolCollector turns threadpool statistics into gauges at scrape time.
package metrics
