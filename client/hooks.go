package client

import (
	"context"
	"sync"
	"time"
)

// Stage is a named point in the execution lifecycle where hooks run.
type Stage string

const (
	StageBeforeQuery  Stage = "beforeQuery"
	StageAfterQuery   Stage = "afterQuery"
	StageOnError      Stage = "onError"
	StageBeforeMutate Stage = "beforeMutate"
	StageAfterMutate  Stage = "afterMutate"
)

// Stages returns every valid stage in lifecycle order.
func Stages() []Stage {
	return []Stage{StageBeforeQuery, StageAfterQuery, StageOnError, StageBeforeMutate, StageAfterMutate}
}

// Valid reports whether s is one of the fixed stages.
func (s Stage) Valid() bool {
	for _, st := range Stages() {
		if s == st {
			return true
		}
	}
	return false
}

// HookContext contains information about the statement being executed.
// Which fields are set depends on the stage.
type HookContext struct {
	Stage Stage

	// Statement is set for query stages. Hooks may inspect it but changes
	// do not affect the statement already validated and cached.
	Statement Statement

	// IssuedAt is when the execution began (beforeQuery).
	IssuedAt time.Time

	// Result and ExecutionTime are set for afterQuery.
	Result        *ResultSet
	ExecutionTime time.Duration

	// Err is set for onError.
	Err error

	// Table, Operation and Data are set for the mutate stages. Data may be
	// modified by beforeMutate hooks before the statement is built.
	Table     string
	Operation string
	Data      Row

	// TraceID is the unique identifier for this execution.
	TraceID string

	// Metadata allows hooks to pass data between stages of one execution.
	Metadata map[string]interface{}
}

// HookFunc is a hook callback. Returning an error aborts the surrounding
// operation, except in the onError stage.
type HookFunc func(ctx context.Context, hc *HookContext) error

type hookEntry struct {
	name string
	fn   HookFunc
}

// hookRegistry holds per-stage ordered callbacks.
type hookRegistry struct {
	mu     sync.RWMutex
	stages map[Stage][]hookEntry
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{stages: make(map[Stage][]hookEntry)}
}

// add registers fn under name. An existing name in the same stage is
// replaced in place and keeps its position.
func (r *hookRegistry) add(stage Stage, name string, fn HookFunc) (replaced bool, err error) {
	if !stage.Valid() {
		return false, &InvalidHookStageError{Stage: stage}
	}
	if fn == nil {
		return false, newValidationError("E_NIL_HOOK", "fn", "hook %q has no callback", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.stages[stage]
	for i := range entries {
		if entries[i].name == name {
			entries[i].fn = fn
			return true, nil
		}
	}
	r.stages[stage] = append(entries, hookEntry{name: name, fn: fn})
	return false, nil
}

func (r *hookRegistry) remove(stage Stage, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.stages[stage]
	for i := range entries {
		if entries[i].name == name {
			r.stages[stage] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *hookRegistry) names(stage Stage) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.stages[stage]
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// snapshot copies the stage so callbacks run without the lock held.
func (r *hookRegistry) snapshot(stage Stage) []hookEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]hookEntry, len(r.stages[stage]))
	copy(entries, r.stages[stage])
	return entries
}

// AddHook registers fn for stage under name. Hooks within a stage run in
// registration order. Registering an existing name replaces it in place.
// An unknown stage returns *InvalidHookStageError.
func (c *Client) AddHook(stage Stage, name string, fn HookFunc) error {
	replaced, err := c.hooks.add(stage, name, fn)
	if err != nil {
		return err
	}
	if replaced {
		c.logger.Info("hook replaced", String("stage", string(stage)), String("hook", name))
	} else {
		c.logger.Info("hook registered", String("stage", string(stage)), String("hook", name))
	}
	return nil
}

// RemoveHook removes a hook by stage and name.
// Returns true if the hook was found and removed.
func (c *Client) RemoveHook(stage Stage, name string) bool {
	if c.hooks.remove(stage, name) {
		c.logger.Info("hook removed", String("stage", string(stage)), String("hook", name))
		return true
	}
	return false
}

// Hooks returns the hook names of a stage in execution order.
func (c *Client) Hooks(stage Stage) []string {
	return c.hooks.names(stage)
}

// runHooks runs every hook of hc.Stage in order and stops at the first error.
func (c *Client) runHooks(ctx context.Context, hc *HookContext) error {
	for _, e := range c.hooks.snapshot(hc.Stage) {
		if err := e.fn(ctx, hc); err != nil {
			c.logger.Debug("hook aborted operation",
				String("stage", string(hc.Stage)),
				String("hook", e.name),
				String("trace_id", hc.TraceID),
				Error("error", err))
			return &hookError{stage: hc.Stage, name: e.name, err: err}
		}
	}
	return nil
}

// runErrorHooks runs every onError hook. Their failures are logged and
// never replace the error being reported.
func (c *Client) runErrorHooks(ctx context.Context, hc *HookContext) {
	hc.Stage = StageOnError
	for _, e := range c.hooks.snapshot(StageOnError) {
		if err := e.fn(ctx, hc); err != nil {
			c.logger.Warn("onError hook failed",
				String("hook", e.name),
				String("trace_id", hc.TraceID),
				Error("error", err),
				Error("original_error", hc.Err))
		}
	}
}

// hookError identifies which hook aborted an operation.
type hookError struct {
	stage Stage
	name  string
	err   error
}

func (e *hookError) Error() string {
	return string(e.stage) + " hook " + e.name + ": " + e.err.Error()
}

func (e *hookError) Unwrap() error {
	return e.err
}
