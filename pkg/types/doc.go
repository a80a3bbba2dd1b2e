/*
Package types defines the domain model shared by the active memory manager's
arbiter, policies, and state store: Task and Worker snapshots, the Op and
Candidates suggestion vocabulary, and the per-tick Transaction.

These are plain data types with no behavior beyond small
predicate helpers (Eligible, Retiring, FreeMemory); the invariant logic that
consumes them lives in pkg/arbiter.
*/
package types
