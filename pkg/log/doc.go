/*
Package log provides structured logging for the active memory manager using
zerolog.

Init configures the global Logger once at process start (level, JSON vs
console output). Callers get a child logger via WithComponent,
WithWorkerAddr, or WithTaskKey rather than attaching fields ad hoc, so every
package's logs carry the same field names for a given kind of context:

	logger := log.WithComponent("amm")
	logger.Info().Dur("interval", interval).Msg("active memory manager started")

	wl := log.WithWorkerAddr(addr)
	wl.Warn().Str("task_key", key).Msg("acquire: task no longer exists, skipping")

The package-level Info/Debug/Warn/Error/Fatal helpers write through the
global Logger directly, for the handful of call sites (mostly cmd/amm) that
have no natural component to attach.
*/
package log
