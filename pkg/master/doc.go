/*
Package master is the Master role's composition root.

Master.Run campaigns for leadership via pkg/election and, for the duration
of each term it wins, runs three subsystems:

	pkg/scheduler  — dispatches due Tasks onto Worker ready streams
	pkg/reconciler — detects and repairs TaskRun/Worker state drift
	pkg/retry      — re-triggers scheduling for TaskRuns whose retry came due

All three are started when a term begins and stopped the moment the term
ends (voluntary stepdown, lock renewal failure, or process shutdown), so at
most one Master in the cluster is ever actively dispatching. Run then
re-campaigns immediately, so a Master that loses leadership keeps trying to
reacquire it rather than exiting.

This mirrors the teacher's composition-root shape (a long-lived struct
holding subsystem handles, gated by an IsLeader()-style check before any
mutating operation) with Raft's cluster-membership concerns replaced by a
single Redis-backed lock plus fencing token.
*/
package master
