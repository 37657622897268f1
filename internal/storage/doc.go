// Package storage persists an audit trail of completed executions.
//
// It is strictly an observability sink: entries are never read back into
// the scheduler, and a disabled store (driver "none") leaves the engine
// fully functional. The sqlite driver is optional and sits behind the
// "sqlite" build tag so default builds stay dependency-light.
package storage
