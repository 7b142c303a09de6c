/*
Package runtime implements the content-addressed Python runtime build
system: a Spec hashes to a stable runtime_hash over its deterministic
fields, a Builder turns a spec into a prepared virtualenv keyed by that
hash, and a Manager fronts the two with reference counting, a build lock,
and an idle-reclaim GC loop.

# Architecture

	┌─────────────────────────── Manager ───────────────────────────┐
	│                                                                 │
	│  Prepare(ctx, spec) ──► Lock(hash) ──► already built? ──► Handle│
	│                              │               │ no              │
	│                              │               ▼                 │
	│                              │         Builder.Build            │
	│                              │         - uv venv --python ...  │
	│                              │         - uv pip install ...    │
	│                              │         <hash>/ marks completion │
	│                              ▼                                 │
	│                         usageCount[hash]++                     │
	│                                                                 │
	│  Release(handle) ──► usageCount[hash]--                         │
	│                                                                 │
	│  gcLoop (AutoGC, every GCInterval) ──► GC.Sweep                 │
	│    reclaims venvsDir/<hash> directories with usageCount==0      │
	│    idle longer than GCPolicy.EnvTTL, oldest first past           │
	│    GCPolicy.MaxEnvs                                              │
	└─────────────────────────────────────────────────────────────────┘

# Core components

Spec (spec.go):
  - PythonSpec, LockSource, Constraints, Extras participate in Hash();
    EnvVars, Secrets, Metadata do not, so attaching a secret name or an
    environment variable never forces a rebuild.
  - Hash is the SHA-256 of the canonical JSON encoding of the
    deterministic fields, with slices sorted so construction order never
    affects the digest.

Builder (builder.go):
  - Build shells out to uv to create venvsDir/<hash>/bin (the Python
    interpreter and scripts) from a Spec, honoring BuildTimeout.
  - A Spec whose venvsDir/<hash> directory already exists short-circuits
    straight to a Handle without invoking uv again; a failed build removes
    that directory.

Lock (lock.go):
  - Serializes concurrent Prepare calls for the same hash so two tasks
    requesting an identical environment don't race to build it twice.

GC (gc.go):
  - Sweeps venvsDir for hash directories with zero usageCount, applying
    GCPolicy's idle threshold and total-environment cap.

Manager (manager.go):
  - The Worker-facing façade: Prepare builds or reuses the venv a Spec
    resolves to and hands back a Handle; Release and Remove manage its
    lifecycle; Start/Stop gate the background GC loop.

# Usage

	mgr, err := runtime.NewManager(runtime.DefaultManagerConfig("/var/lib/antcode/venvs"))
	if err != nil {
		log.Fatal(err)
	}
	mgr.Start()
	defer mgr.Stop()

	spec := runtime.Simple("3.12", []string{"requests", "numpy"})
	handle, err := mgr.Prepare(ctx, spec, false)
	if err != nil {
		log.Fatal(err)
	}
	defer mgr.Release(handle)

	// handle.PythonExecutable points at the prepared interpreter.

# Design notes

Two identical Specs always resolve to the same runtime_hash and thus the
same on-disk directory, so concurrent tasks sharing requirements reuse
one build instead of paying for N. usageCount, not last-access time
alone, gates reclamation: a venv with an active reference is never swept
regardless of how long it has been idle.
*/
package runtime
