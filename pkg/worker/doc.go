/*
Package worker is a simulated worker process used to exercise the active
memory manager end to end without a real task-execution runtime: it holds
task results in memory, serves pkg/rpc's AcquireReplicas/RemoveReplicas on
request, and heartbeats its status and holdings back into the shared store.

It is the data-plane half of the "amm simulate" CLI subcommand and of
integration-style tests, which call its RPC methods in-process rather than
over a gRPC listener.
*/
package worker
