/*
Package reconciler detects and repairs TaskRun/Worker state drift.

The reconciler continuously monitors TaskRun and Worker state for
deviations from what should be true, running four bounded concerns each
cycle:

 1. Worker heartbeat ageout — marks a Worker offline once its last
    heartbeat has aged past the configured timeout.
 2. TaskRun timeout detection — terminates TaskRuns stuck in dispatch or
    running past their allotted time.
 3. Failed-Worker handling — terminates non-terminal TaskRuns assigned to
    Workers that have gone offline, so capacity frees up and the retry loop
    has a terminal failure to act on.
 4. Zombie cleanup — deletes terminal TaskRuns once they've sat past a
    grace period, bounding store growth.

Every state transition goes through TaskRun.ApplyDispatch/ApplyRuntime,
which enforce the (order(status), timestamp) monotonicity guard — a stale
reconciliation cycle can never un-terminate an already-terminal run.

The reconciler runs only while this Master instance holds leadership (see
pkg/master); it otherwise sits idle. It works in tandem with pkg/scheduler:

	Scheduler: "make it happen" (proactive dispatch)
	Reconciler: "fix what's broken" (reactive repair)
*/
package reconciler
