/*
Package observability turns engine lifecycle events into Prometheus metrics.

Metrics are registered on their own registry so several engines (or tests) can
coexist in one process; expose it with promhttp.HandlerFor(m.Registry(), ...).
*/
package observability
