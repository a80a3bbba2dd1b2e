/*
Package metrics provides Prometheus metrics collection and exposition for the
active memory manager.

Every counter, gauge, and histogram is registered at init() time via
MustRegister and updated inline by the code that already holds the relevant
state — pkg/amm updates tick/suggestion/dispatch metrics as it runs a tick,
pkg/arbiter increments RejectionsTotal as it rejects a suggestion. The Raft
and control API collectors are registered, but nothing in this module
updates them. There is no separate polling collector: metrics are pushed at
the point of the event they describe.

Handler exposes the registered metrics over HTTP in the Prometheus text
format for cmd/amm's metrics listener. HealthChecker (health.go) is a
parallel, lighter-weight system for /healthz and /readyz: components
register themselves with RegisterComponent, the checker reports healthy
only while every registered component is healthy, and readiness also
requires the critical components (raft and rpc) to be registered.
*/
package metrics
