/*
Package events provides an in-memory event broker used to expose the active
memory manager's tick and decision activity to subscribers without coupling
them to the tick loop itself. No control API call or CLI command in this
module subscribes to it.

Publish is non-blocking: a full subscriber buffer drops the event rather
than stall the tick. Event types are tick.started, tick.completed,
suggestion.accepted, suggestion.rejected, worker.joined, worker.left,
worker.retiring, and worker.retired.
*/
package events
