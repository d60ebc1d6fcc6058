/*
Package metrics defines and registers blockvault's Prometheus metrics.

Counters and histograms track version lifecycle, bytes read/written/
deduplicated/sparse, restore and scrub outcomes, GC sweep activity, and
storage backend operation latency. Metrics register at package init and
are exposed via Handler for a pull-based /metrics endpoint.

health.go exposes /health, /ready and /live handlers built
on a small in-memory component registry (RegisterComponent, GetHealth).
*/
package metrics
