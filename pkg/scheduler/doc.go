/*
Package scheduler implements the Master's scheduling loop.

The scheduler is responsible for assigning due Tasks to online Workers and
creating the TaskRun + QueuedTask pair that carries a dispatch onto a
Worker's ready stream. It runs as a continuous background process gated on
this Master instance currently holding leadership (see pkg/master), so at
most one scheduler is actively dispatching at any time.

# Architecture

The scheduler operates on a configurable tick interval, processing all due
Tasks in each cycle:

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler Loop                          │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. List due Tasks (NextRunTime <= now, Active)             │
	│  2. List online Workers                                     │
	│  3. For each Task not already in flight:                    │
	│     • Resolve a target Worker per DispatchStrategy           │
	│     • Create a TaskRun                                       │
	│     • Enqueue a QueuedTask on the Worker's ready stream       │
	└────────────────────────────────────────────────────────────┘

# Dispatch strategies

  - fixed: always binds to Task.BoundWorkerID; fails the cycle for that Task
    if the bound Worker isn't online.
  - any_capable: picks the least-loaded online Worker whose Capabilities
    satisfy the Task's required capabilities.
  - prefer_bound_with_fallback: tries BoundWorkerID first, falls back to
    any_capable if that Worker isn't online.

# In-flight set

A scheduling cycle marks a Task ID in an in-memory set while that Task is
being dispatched and removes it as soon as the dispatch returns. The set
does not carry across ticks: a Task whose earlier TaskRun is still running
is not skipped by it, and the scheduler does not advance a Task's
NextRunTime after dispatching it.

# Design notes

The scheduler maintains no persistent state of its own: all decisions are
read fresh from the store each cycle, so a scheduler restart (or a
leadership handoff to a different Master) loses nothing. It only creates
TaskRuns and enqueues dispatches — it does not execute Tasks (the Worker's
job, pkg/worker) or detect failures (pkg/reconciler's job).
*/
package scheduler
