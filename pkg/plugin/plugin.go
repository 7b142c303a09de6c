// Package plugin implements the Worker's plan-building registry (spec §9's
// "dynamic registry of plugins" re-architected as a polymorphic set enumerated
// at build time): each registered Plugin claims a TaskPayload by ProjectType,
// validates it, and builds the ExecPlan the executor will run.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/antcode/antcode/pkg/executor"
	"github.com/antcode/antcode/pkg/runtime"
	"github.com/antcode/antcode/pkg/types"
)

// TaskPayload is the typed decoding of a dispatched QueuedTask plus the
// Worker-local context (resolved project path, extra positional args) a
// Plugin needs to build an ExecPlan. Replaces runtime reflection on a loosely
// typed payload: every Plugin consumes this same struct.
type TaskPayload struct {
	RunID       string            `validate:"required"`
	TaskID      string            `validate:"required"`
	ProjectID   string            `validate:"required"`
	ProjectType types.ProjectType `validate:"required,oneof=code file rule render"`

	EntryPoint       string `validate:"required"`
	ProjectPath      string `validate:"required"`
	Args             []string
	Params           map[string]any
	EnvVars          map[string]string
	ArtifactPatterns []string
}

// RunContext is the Worker-local execution context available to build_plan:
// resource ceilings and the prepared runtime the plan will run inside.
type RunContext struct {
	TimeoutSeconds  int
	GracePeriod     int
	MemoryLimitMB   int
	CPULimitSeconds int
	Runtime         runtime.Handle
	SandboxEnabled  bool
}

// Plugin builds an ExecPlan for the ProjectType(s) it claims via Match.
type Plugin interface {
	Name() string
	// Priority orders registry lookup; lower values are tried first.
	Priority() int
	Match(payload TaskPayload) bool
	Validate(payload TaskPayload) []string
	BuildPlan(ctx context.Context, runCtx RunContext, payload TaskPayload) (executor.ExecPlan, error)
}

// Registry holds an ordered set of Plugins, priority ascending, and resolves
// a TaskPayload to the first Plugin whose Match returns true - mirroring the
// way the standard library's image.RegisterFormat/sql.Register build a
// lookup table from init()-time registrations rather than runtime reflection.
type Registry struct {
	mu       sync.RWMutex
	plugins  []Plugin
	validate *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{validate: validator.New()}
}

// Register adds p to the registry, keeping plugins sorted by ascending
// Priority (stable, so equal-priority plugins keep registration order).
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
	sort.SliceStable(r.plugins, func(i, j int) bool {
		return r.plugins[i].Priority() < r.plugins[j].Priority()
	})
}

// Resolve returns the first registered Plugin whose Match claims payload.
func (r *Registry) Resolve(payload TaskPayload) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Match(payload) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("plugin: no plugin registered for project_type %q", payload.ProjectType)
}

// ValidatePayload runs struct-tag validation (required fields, the
// ProjectType enum) before handing payload to a Plugin's own Validate, which
// checks plugin-specific fields the struct tags can't express.
func (r *Registry) ValidatePayload(payload TaskPayload) []string {
	var errs []string
	if err := r.validate.Struct(payload); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("%s: failed %q validation", fe.Field(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// BuildPlan resolves payload to a Plugin, validates it (struct tags, then the
// plugin's own Validate), and builds the ExecPlan. Returns the combined
// validation errors joined into a single error when validation fails, rather
// than a partial ExecPlan.
func (r *Registry) BuildPlan(ctx context.Context, runCtx RunContext, payload TaskPayload) (executor.ExecPlan, error) {
	p, err := r.Resolve(payload)
	if err != nil {
		return executor.ExecPlan{}, err
	}

	errs := r.ValidatePayload(payload)
	errs = append(errs, p.Validate(payload)...)
	if len(errs) > 0 {
		return executor.ExecPlan{}, fmt.Errorf("plugin: payload validation failed: %v", errs)
	}

	return p.BuildPlan(ctx, runCtx, payload)
}

// Plugins returns a snapshot of the registered plugins in priority order.
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}
