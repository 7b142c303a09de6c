/*
Package worker implements the Worker role: a stateless agent that polls a
Gateway (or, in Direct mode, Redis Streams in-process) for queued tasks,
authenticates and executes them inside a sandboxed Python runtime, and
reports their terminal results.

# Architecture

	┌──────────────────────────── WORKER NODE ─────────────────────────────┐
	│                                                                       │
	│  ┌───────────────────────────────────────────────────────┐          │
	│  │                       Engine                            │          │
	│  │  - gatewayrpc.Client (Direct or Gateway transport)       │          │
	│  │  - Heartbeat loop (default 5s)                          │          │
	│  │  - Poll loop (default 3s), N-slot semaphore (default 5)  │          │
	│  │  - In-flight RunState tracking                           │          │
	│  └──────┬───────────────────────────────┬──────────────────┘          │
	│         │                                │                            │
	│  ┌──────▼────────┐              ┌───────▼────────┐                   │
	│  │ dispatchsig    │              │ fetch.Fetcher  │                   │
	│  │ Verify         │              │ download+cache │                   │
	│  └────────────────┘              └───────┬────────┘                   │
	│                                           │                            │
	│                                   ┌───────▼────────┐                   │
	│                                   │ runtime.Manager│                   │
	│                                   │ Prepare/Release│                   │
	│                                   └───────┬────────┘                   │
	│                                           │                            │
	│                                   ┌───────▼────────┐                   │
	│                                   │ plugin.Registry│                   │
	│                                   │ BuildPlan       │                   │
	│                                   └───────┬────────┘                   │
	│                                           │                            │
	│                                   ┌───────▼────────┐                   │
	│                                   │ executor.Run   │                   │
	│                                   │ + logstream    │                   │
	│                                   └────────────────┘                   │
	└───────────────────────────────────────────────────────────────────────┘

# Task lifecycle

Each polled task moves through six stages, mirrored by runTask/execute:

 1. Authenticate - dispatchsig.Verify checks the HMAC signature a Master
    attached when it enqueued the task; failure rejects the task's receipt
    and stops there, with no fetch, execution, or result ever produced.
 2. Ack - the receipt is acknowledged (accepted or rejected) immediately,
    decoupling the queue's at-least-once delivery guarantee from whatever
    the task's execution eventually produces.
 3. Fetch - fetch.Fetcher downloads (or reuses a cached copy of) the
    project artifact the task names.
 4. Prepare - runtime.Manager resolves the runtime.Spec a task's Params
    imply (Python version, requirements, constraints, extras) to a built or
    cached virtualenv Handle.
 5. Build + execute - plugin.Registry.BuildPlan resolves the task's
    ProjectType to an ExecPlan, which executor.Executor runs inside the
    prepared runtime, streaming stdout/stderr through logstream.BatchSender.
 6. Finalize - a terminal TaskResult is reported back over gatewayrpc,
    whichever stage failed (fetch/prepare/build/execute) or however
    execution concluded.

# Concurrency

An Engine accepts at most Config.MaxConcurrent tasks at once, gated by a
buffered channel semaphore acquired before each task's goroutine is
spawned and released when it finishes - independent of, and layered above,
executor.Executor's own internal concurrency limit, which bounds only the
narrower execute stage.

Start launches the heartbeat and poll loops; Stop halts them, waits up to
Config.ShutdownGrace for any in-flight runs to finish on their own, and
force-cancels stragglers afterward.
*/
package worker
