// Package script models one loaded cart: its compiled body, isolated
// namespace and lifecycle state.
package script

import (
	"errors"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"

	"github.com/microdeck/host/internal/sandbox"
	"github.com/microdeck/host/internal/shared/id"
)

// State is a cart's lifecycle state.
type State int

const (
	StateNone State = iota
	StateStopped
	StateRunning
	StatePaused
	StateFinished
	StateError
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateFinished:
		return "FINISHED"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Outcome reports what a task resume ended on.
type Outcome int

const (
	// OutcomeYieldUpdate: the task crossed its logic yield point; one full
	// iteration completed.
	OutcomeYieldUpdate Outcome = iota
	// OutcomeYieldRender: the task paused at stop-drawing; logic state did
	// not advance.
	OutcomeYieldRender
	// OutcomeDone: the task ran to natural completion.
	OutcomeDone
)

// ErrTaskDead is returned when a resume is attempted on a task that already
// completed. Callers are expected to check Ready first; hitting this is a
// programming error, not a cart failure.
var ErrTaskDead = errors.New("script: resume on dead task")

// ErrNotStarted is returned when a resume is attempted before Start.
var ErrNotStarted = errors.New("script: resume before start")

// Unit is one loaded cart. The namespace and task are created fresh on
// every Start and dropped on Discard; nothing is shared between units.
type Unit struct {
	ID         id.CartID
	SourcePath string

	machine *sandbox.Machine
	code    *lua.FunctionProto
	env     *sandbox.Env
	task    *lua.LState
	taskFn  *lua.LFunction
	cancel  func()
	state   State
}

// NewUnit wraps a compiled chunk. The unit starts in STOPPED: loading
// succeeded, nothing is running yet.
func NewUnit(machine *sandbox.Machine, sourcePath string, code *lua.FunctionProto) *Unit {
	return &Unit{
		ID:         id.NewCartID(),
		SourcePath: sourcePath,
		machine:    machine,
		code:       code,
		state:      StateStopped,
	}
}

// Name is the cart's display name, used in notifications.
func (u *Unit) Name() string {
	return filepath.Base(u.SourcePath)
}

// State returns the current lifecycle state.
func (u *Unit) State() State {
	return u.state
}

// SetState records a transition. Guarding transitions is the scheduler's
// job; the unit only stores the result.
func (u *Unit) SetState(s State) {
	u.state = s
}

// Env returns the unit's namespace, nil before Start.
func (u *Unit) Env() *sandbox.Env {
	return u.env
}

// Start builds a fresh environment and cooperative task around the compiled
// body. Any previous task is discarded first.
func (u *Unit) Start() {
	u.Discard()

	u.env = u.machine.NewEnv(u.Name())

	L := u.machine.State()
	fn := L.NewFunctionFromProto(u.code)
	u.env.Bind(fn)
	u.taskFn = fn

	task, cancel := L.NewThread()
	u.task = task
	u.cancel = cancel
}

// Ready reports whether the task exists and is suspended, i.e. resumable.
func (u *Unit) Ready() bool {
	if u.task == nil {
		return false
	}
	return u.machine.State().Status(u.task) == "suspended"
}

// Resume drives the task to its next suspension point or completion.
func (u *Unit) Resume() (Outcome, error) {
	if u.task == nil {
		return OutcomeDone, ErrNotStarted
	}
	if u.machine.State().Status(u.task) == "dead" {
		return OutcomeDone, ErrTaskDead
	}

	st, err, values := u.machine.State().Resume(u.task, u.taskFn)
	switch st {
	case lua.ResumeError:
		return OutcomeDone, err
	case lua.ResumeOK:
		return OutcomeDone, nil
	default:
		if sandbox.ClassifyYield(values) == sandbox.YieldRender {
			return OutcomeYieldRender, nil
		}
		return OutcomeYieldUpdate, nil
	}
}

// Discard drops the task and namespace. The stepper hook, if any, must be
// cleared by the owner before this is called.
func (u *Unit) Discard() {
	if u.cancel != nil {
		u.cancel()
	}
	u.task = nil
	u.taskFn = nil
	u.cancel = nil
	u.env = nil
}
