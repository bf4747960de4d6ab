package engine

import (
	"bytes"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/microdeck/host/internal/events"
	"github.com/microdeck/host/internal/script"
)

// Load resolves, reads and compiles a cart. Valid from any state; a running
// or paused cart is stopped first. Compile and read failures are recoverable:
// the engine returns to NONE and reports the failure through the
// notification channel rather than an error.
func (e *Engine) Load(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(path)
}

func (e *Engine) loadLocked(path string) bool {
	if e.startDir == "" {
		if wd, err := os.Getwd(); err == nil {
			e.startDir = wd
		}
	}

	if st := e.stateLocked(); st == script.StateRunning || st == script.StatePaused {
		e.stopLocked()
	}

	resolved, _ := e.resolver.Resolve(path, true)
	name := filepath.Base(resolved)

	src, err := os.ReadFile(resolved)
	if err != nil {
		return e.loadFailedLocked(name, err.Error())
	}

	proto, err := e.compile(src, name)
	if err != nil {
		return e.loadFailedLocked(name, err.Error())
	}

	e.unit = script.NewUnit(e.machine, resolved, proto)
	e.totalUpdates = 0
	e.updatesThisSecond = 0
	e.currentUPS = 0

	// The cart's directory becomes the working directory and a search-path
	// entry so its relative file access resolves. The previous cart's entry
	// is dropped first; search paths registered here never outlive the cart.
	dir := filepath.Dir(resolved)
	if err := os.Chdir(dir); err != nil {
		e.logger.Warn("cannot enter cart directory", zap.String("dir", dir), zap.Error(err))
	}
	if e.cartDir != "" {
		e.resolver.RemoveSearchPath(e.cartDir)
	}
	e.resolver.AddSearchPath(dir, false)
	e.cartDir = dir

	if e.metrics != nil {
		e.metrics.CartsLoaded.Inc()
	}
	e.logger.Info("cart loaded",
		zap.String("cart", name),
		zap.String("id", e.unit.ID.String()),
		zap.String("path", resolved))
	e.emitStateLocked(name, script.StateStopped)
	return true
}

func (e *Engine) loadFailedLocked(name, detail string) bool {
	e.unit = nil
	if e.cartDir != "" {
		e.resolver.RemoveSearchPath(e.cartDir)
		e.cartDir = ""
	}
	e.logger.Error("cart load failed", zap.String("cart", name), zap.String("detail", detail))
	e.emit(events.ScriptLoadError, name, detail)
	e.emitStateLocked(name, script.StateNone)
	return false
}

// compile parses the chunk and, when debug hooks are on, instruments the
// cart's own statements with the stepper's line hook before bytecode
// generation. Library chunks loaded later are never instrumented.
func (e *Engine) compile(src []byte, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, err
	}
	if e.cfg.DebugHooks {
		chunk = Instrument(chunk)
	}
	return lua.Compile(chunk, name)
}

// Start builds a fresh namespace and task for the loaded cart. Valid only
// from STOPPED.
func (e *Engine) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked()
}

func (e *Engine) startLocked() bool {
	if e.stateLocked() != script.StateStopped {
		e.warnInvalid("startScript", e.stateLocked())
		return false
	}

	e.unit.Start()
	if e.cfg.DebugHooks {
		e.unit.Env().SetLineHook(e.stepper.hit)
	}

	e.debugMode = false
	now := e.clock.Now()
	e.lastUpdate = now
	e.lastRender = now
	e.upsWindow = now
	e.updatesThisSecond = 0

	e.transitionLocked(script.StateRunning)
	return true
}

// Stop discards the task and namespace. Valid from any non-NONE state.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() bool {
	if e.stateLocked() == script.StateNone {
		e.warnInvalid("stopScript", script.StateNone)
		return false
	}

	// Hooks must not outlive the task.
	e.stepper.Disable()
	if env := e.unit.Env(); env != nil {
		env.SetLineHook(nil)
	}
	e.unit.Discard()
	e.debugMode = false
	e.transitionLocked(script.StateStopped)
	return true
}

// Pause suspends a running cart. An explicit pause leaves debug mode.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debugMode = false
	return e.pauseLocked()
}

func (e *Engine) pauseLocked() bool {
	if e.stateLocked() != script.StateRunning {
		e.warnInvalid("pauseScript", e.stateLocked())
		return false
	}
	e.transitionLocked(script.StatePaused)
	return true
}

// Resume continues a paused cart. An explicit resume leaves debug mode.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debugMode = false
	return e.resumeLocked()
}

func (e *Engine) resumeLocked() bool {
	if e.stateLocked() != script.StatePaused {
		e.warnInvalid("resumeScript", e.stateLocked())
		return false
	}
	// Resuming must not replay the gap spent paused.
	now := e.clock.Now()
	e.lastUpdate = now
	e.lastRender = now
	e.transitionLocked(script.StateRunning)
	return true
}

// PauseOrResume toggles between RUNNING and PAUSED.
func (e *Engine) PauseOrResume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debugMode = false
	if e.stateLocked() == script.StatePaused {
		return e.resumeLocked()
	}
	return e.pauseLocked()
}

// Restart stops and starts the loaded cart. No-op from NONE.
func (e *Engine) Restart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stateLocked() == script.StateNone {
		return false
	}
	if e.stateLocked() != script.StateStopped {
		if !e.stopLocked() {
			return false
		}
	}
	return e.startLocked()
}

// ReloadAndStart re-reads the cart's source from disk, restoring the
// original start directory first so relative resolution is reproducible,
// then loads and starts it. Picks up external edits.
func (e *Engine) ReloadAndStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.unit == nil {
		e.warnInvalid("reloadAndStartScript", script.StateNone)
		return false
	}
	source := e.unit.SourcePath

	if e.startDir != "" {
		if err := os.Chdir(e.startDir); err != nil {
			e.logger.Warn("cannot restore start directory",
				zap.String("dir", e.startDir), zap.Error(err))
		}
	}
	if !e.loadLocked(source) {
		return false
	}
	return e.startLocked()
}

// DebugStep enables single-step mode and toggles pause/resume: while debug
// mode is on, the cart auto-pauses after completing each logic iteration.
func (e *Engine) DebugStep() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.stateLocked() {
	case script.StateRunning:
		e.debugMode = true
		return e.pauseLocked()
	case script.StatePaused:
		e.debugMode = true
		return e.resumeLocked()
	default:
		e.warnInvalid("debugStepScript", e.stateLocked())
		return false
	}
}

// PauseWhile pauses the cart only if it is currently running, executes fn,
// then resumes only if this call introduced the pause. Host operations that
// open modal interactions use this so script time does not advance under a
// dialog.
func (e *Engine) PauseWhile(fn func()) {
	e.mu.Lock()
	introduced := false
	if e.stateLocked() == script.StateRunning {
		introduced = e.pauseLocked()
	}
	e.mu.Unlock()

	fn()

	e.mu.Lock()
	if introduced && e.stateLocked() == script.StatePaused {
		e.resumeLocked()
	}
	e.mu.Unlock()
}

// transitionLocked records the new state and announces it. This is the only
// coupling point to presentation.
func (e *Engine) transitionLocked(s script.State) {
	e.unit.SetState(s)
	if e.metrics != nil {
		e.metrics.StateTransitions.WithLabelValues(s.String()).Inc()
	}
	e.emitStateLocked(e.unit.Name(), s)
}

func (e *Engine) emitStateLocked(name string, s script.State) {
	e.emit(events.ScriptStateChange, name, s.String())
}

func (e *Engine) emit(event string, args ...interface{}) {
	if e.bus != nil {
		e.bus.Emit(event, args...)
	}
}

// warnInvalid logs an operation that is not valid for the current state.
// Invalid transitions are ignored, never propagated as failures.
func (e *Engine) warnInvalid(op string, st script.State) {
	e.logger.Warn("operation not valid in current state",
		zap.String("op", op),
		zap.String("state", st.String()),
	)
}
