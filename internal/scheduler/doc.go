// Package scheduler deploys model versions for one environment.
//
// A deploy pass linearizes the resources of a version, assigns priorities
// with the change-first heuristic, and dispatches each resource to an
// executor once all of its requirements have reached a terminal status and
// the concurrency gate grants a permit.
//
// Concurrency model:
//   - One coordinating goroutine per pass owns all resource state. Workers
//     only wait on the gate and on executor calls, and report back through
//     an event queue.
//   - Each Deploy bumps an epoch. A pass whose epoch is no longer current is
//     superseded: its workers stop at the next suspension point and end as
//     cancelled, always releasing any permit they hold.
//   - Executor calls carry no timeout of their own. The scheduler bounds
//     them with CallTimeout; the executor handle marks itself suspect when
//     that deadline expires.
package scheduler
