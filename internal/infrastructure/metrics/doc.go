// Package metrics exposes EquipWatch Core Prometheus metrics.
//
// A Registry owns its own prometheus.Registry (not the global default), so
// tests and multiple servers in one process do not collide.
//
// Metrics:
//
//	equipwatch_auth_events_total{action,outcome}          audit entries by action and outcome
//	equipwatch_http_requests_total{method,route,status}   API requests
//	equipwatch_http_request_duration_seconds{method,route} API latency
//	equipwatch_http_in_flight_requests                     requests being served
//
// plus the standard Go runtime and process collectors.
//
// Routes are labelled with the chi route pattern (/api/v1/users/{username}),
// never the raw path, to keep label cardinality bounded.
package metrics
