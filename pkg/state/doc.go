/*
Package state is the AMM's read-mostly view of scheduler state: task and
worker snapshots, replicated via Raft so the control loop survives a
scheduler restart.

Store is a plain CRUD interface over bbolt (BoltStore). FSM applies
replicated Command entries to a Store and handles Raft snapshot/restore.
Manager wires the two together and bootstraps a Raft group (single-node by
default — see DESIGN.md). WatchingStore layers a join/leave/retiring event
stream on top of a Store for observers that are not ticking the AMM
themselves.

The AMM's policies and arbiter only ever call the List/Get side of Store;
writes come from worker heartbeats and the retirement workflow. cmd/amm
hands those writers the BoltStore from Manager.Store, so they write to it
directly; nothing in this module calls Manager.Apply, and those writes are
not replicated through the Raft log.
*/
package state
