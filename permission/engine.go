package permission

import (
	"context"
	"sync"
	"sync/atomic"
)

// Decision is the outcome of an authorization check.
type Decision uint8

const (
	// Deny is the zero value; anything not explicitly granted is denied.
	Deny Decision = iota
	// Allow means at least one of the subject's roles grants the action.
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Engine evaluates role-based checks against a hot-reloadable policy set.
//
// Check loads the active snapshot with a single atomic read and never blocks.
// Reload compiles a new snapshot off to the side and publishes it with a
// single atomic store, so a check sees either the old or the new set in full.
type Engine struct {
	current atomic.Pointer[snapshot]

	// serializes writers only
	reloadMu sync.Mutex
}

// NewEngine compiles initial and returns an [Engine] serving it as version 1.
func NewEngine(initial PolicySet) (*Engine, error) {
	snap, err := compile(initial, 1)
	if err != nil {
		return nil, err
	}
	e := &Engine{}
	e.current.Store(snap)
	return e, nil
}

// Check returns Allow if any of roles grants action on resource.
// Unknown roles, resources and actions are denied.
func (e *Engine) Check(roles []string, resource, action string) Decision {
	snap := e.current.Load()
	if snap == nil || !snap.allows(roles, resource, action) {
		return Deny
	}
	return Allow
}

// Allowed is Check reduced to a bool.
func (e *Engine) Allowed(roles []string, resource, action string) bool {
	return e.Check(roles, resource, action) == Allow
}

// Reload replaces the active policy set. On error the previous set stays active.
func (e *Engine) Reload(set PolicySet) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	var next uint64 = 1
	if cur := e.current.Load(); cur != nil {
		next = cur.version + 1
	}

	snap, err := compile(set, next)
	if err != nil {
		return err
	}
	e.current.Store(snap)
	return nil
}

// ReloadFrom loads a policy set from src and installs it.
func (e *Engine) ReloadFrom(ctx context.Context, src Source) error {
	set, err := src.Load(ctx)
	if err != nil {
		return err
	}
	return e.Reload(set)
}

// Version returns the version of the active policy set. It increases by one
// per successful reload.
func (e *Engine) Version() uint64 {
	if snap := e.current.Load(); snap != nil {
		return snap.version
	}
	return 0
}

// Permissions returns the number of distinct resource:action pairs in the active set.
func (e *Engine) Permissions() int {
	if snap := e.current.Load(); snap != nil {
		return snap.registry.Count()
	}
	return 0
}
