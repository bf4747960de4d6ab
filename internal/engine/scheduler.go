package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/microdeck/host/internal/events"
	"github.com/microdeck/host/internal/infrastructure/monitoring"
	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/sandbox"
	"github.com/microdeck/host/internal/script"
	"github.com/microdeck/host/internal/shared/paths"
)

// Config holds scheduler tunables.
type Config struct {
	// UpdateRate is the target logic iterations per second; 0 is unlimited.
	UpdateRate float64
	// RenderRate is the target repaint requests per second; 0 is unlimited.
	RenderRate float64
	// TimerResolution is the periodic-tick interval for the timer strategy.
	// It is deliberately finer than either target rate.
	TimerResolution time.Duration
	// DebugHooks compiles line interception into loaded carts so the
	// stepper can observe them.
	DebugHooks bool
}

// DefaultConfig returns handheld-typical scheduler settings.
func DefaultConfig() Config {
	return Config{
		UpdateRate:      30,
		RenderRate:      30,
		TimerResolution: 2 * time.Millisecond,
	}
}

// Engine drives the current cart's cooperative task at bounded rates. All
// mutable scheduler state is confined behind one mutex; host strategies may
// call Tick from a timer goroutine, but only one tick executes at a time.
type Engine struct {
	mu sync.Mutex

	machine  *sandbox.Machine
	resolver *paths.Resolver
	logger   *logging.Logger
	bus      *events.Bus
	metrics  *monitoring.Metrics
	clock    Clock
	host     Host
	stepper  *Stepper
	cfg      Config

	unit     *script.Unit
	startDir string
	cartDir  string

	updateRate   float64
	renderRate   float64
	updatePeriod time.Duration
	renderPeriod time.Duration
	lastUpdate   time.Time
	lastRender   time.Time

	totalUpdates      uint64
	updatesThisSecond int
	currentUPS        int
	upsWindow         time.Time

	debugMode bool
}

// New creates an engine around a sandbox machine. Collaborators besides the
// machine are optional and attach via the With chain.
func New(machine *sandbox.Machine, cfg Config) *Engine {
	if cfg.TimerResolution <= 0 {
		cfg.TimerResolution = 2 * time.Millisecond
	}
	e := &Engine{
		machine:  machine,
		resolver: machine.Resolver(),
		logger:   logging.NewNop(),
		bus:      events.NewBus(),
		clock:    SystemClock{},
		stepper:  NewStepper(),
		cfg:      cfg,
	}
	e.SetTargetUpdateRate(cfg.UpdateRate)
	e.SetTargetRenderRate(cfg.RenderRate)
	return e
}

// WithLogger attaches the host log sink.
func (e *Engine) WithLogger(l *logging.Logger) *Engine {
	e.logger = l
	return e
}

// WithBus attaches the notification bus.
func (e *Engine) WithBus(b *events.Bus) *Engine {
	e.bus = b
	return e
}

// WithMetrics adds metrics tracking to the engine.
func (e *Engine) WithMetrics(m *monitoring.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithClock overrides the time source. Used by tests.
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// WithHost attaches the windowing-toolkit collaborator.
func (e *Engine) WithHost(h Host) *Engine {
	e.host = h
	return e
}

// Bus returns the notification bus.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Stepper returns the line-level debug stepper.
func (e *Engine) Stepper() *Stepper {
	return e.stepper
}

// SetTargetUpdateRate clamps negative rates to 0 (unlimited) and resets the
// gating baseline so the new rate takes effect immediately.
func (e *Engine) SetTargetUpdateRate(n float64) {
	if n < 0 {
		n = 0
	}
	e.mu.Lock()
	e.updateRate = n
	e.updatePeriod = ratePeriod(n)
	e.lastUpdate = e.clock.Now()
	e.mu.Unlock()
}

// SetTargetRenderRate clamps negative rates to 0 (unlimited) and resets the
// render baseline.
func (e *Engine) SetTargetRenderRate(n float64) {
	if n < 0 {
		n = 0
	}
	e.mu.Lock()
	e.renderRate = n
	e.renderPeriod = ratePeriod(n)
	e.lastRender = e.clock.Now()
	e.mu.Unlock()
}

// GetTargetUpdateRate returns the configured logic rate.
func (e *Engine) GetTargetUpdateRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateRate
}

// GetTargetRenderRate returns the configured render rate.
func (e *Engine) GetTargetRenderRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderRate
}

// GetTotalUpdates returns the number of logic iterations completed since
// the current cart was loaded.
func (e *Engine) GetTotalUpdates() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalUpdates
}

// CurrentUPS returns the iterations completed in the last full second.
func (e *Engine) CurrentUPS() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentUPS
}

// State returns the current cart state, NONE when nothing is loaded.
func (e *Engine) State() script.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// CartID returns the loaded cart's instance ID, empty when nothing is
// loaded. Each Load mints a fresh ID; Restart keeps it.
func (e *Engine) CartID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unit == nil {
		return ""
	}
	return e.unit.ID.String()
}

func (e *Engine) stateLocked() script.State {
	if e.unit == nil {
		return script.StateNone
	}
	return e.unit.State()
}

// Tick runs one pass of the rate-gated scheduler and reports whether any
// work (a logic resume or a repaint request) happened. Strategies call this;
// it is host-integration agnostic.
func (e *Engine) Tick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	worked := false

	if e.updateDueLocked(now) {
		// Advance by a full period, carrying the remainder, so a slow
		// host catches up instead of drifting the schedule.
		if e.updatePeriod > 0 {
			e.lastUpdate = e.lastUpdate.Add(e.updatePeriod)
		} else {
			e.lastUpdate = now
		}
		if e.stateLocked() == script.StateRunning && e.unit.Ready() {
			e.advanceLocked()
			worked = true
		}
	}

	if e.renderDueLocked(now) {
		if e.renderPeriod > 0 {
			e.lastRender = e.lastRender.Add(e.renderPeriod)
		} else {
			e.lastRender = now
		}
		if e.host != nil {
			e.host.RequestRepaint(true)
		}
		if e.metrics != nil {
			e.metrics.RendersTotal.Inc()
		}
		worked = true
	}

	e.rollUPSLocked(now)
	return worked
}

func (e *Engine) updateDueLocked(now time.Time) bool {
	return e.updatePeriod == 0 || now.Sub(e.lastUpdate) >= e.updatePeriod
}

func (e *Engine) renderDueLocked(now time.Time) bool {
	return e.renderPeriod == 0 || now.Sub(e.lastRender) >= e.renderPeriod
}

// advanceLocked resumes the task through render suspensions until it either
// crosses its logic yield point, finishes, or fails.
func (e *Engine) advanceLocked() {
	u := e.unit
	for {
		outcome, err := u.Resume()
		if err != nil {
			msg := sandbox.FormatScriptError(err)
			e.logger.Error("cart raised an error",
				zap.String("cart", u.Name()),
				zap.String("detail", msg),
			)
			e.emit(events.ScriptError, u.Name(), msg)
			if e.metrics != nil {
				e.metrics.ScriptErrors.Inc()
			}
			e.transitionLocked(script.StateError)
			return
		}

		switch outcome {
		case script.OutcomeDone:
			e.transitionLocked(script.StateFinished)
			return
		case script.OutcomeYieldRender:
			// Stop-drawing pause: bookkeeping only, logic did not advance.
			continue
		case script.OutcomeYieldUpdate:
			e.totalUpdates++
			e.updatesThisSecond++
			if e.metrics != nil {
				e.metrics.UpdatesTotal.Inc()
			}
			if e.debugMode {
				e.pauseLocked()
			}
			return
		}
	}
}

// rollUPSLocked rolls the per-second update counter into CurrentUPS.
func (e *Engine) rollUPSLocked(now time.Time) {
	if e.upsWindow.IsZero() {
		e.upsWindow = now
		return
	}
	if now.Sub(e.upsWindow) >= time.Second {
		e.currentUPS = e.updatesThisSecond
		e.updatesThisSecond = 0
		e.upsWindow = now
		if e.metrics != nil {
			e.metrics.CurrentUPS.Set(float64(e.currentUPS))
		}
	}
}

// RunBusy drives ticks on the calling goroutine while the cart runs,
// yielding to the host's own event processing between iterations and
// sleeping briefly whenever both rate gates deferred work.
func (e *Engine) RunBusy() {
	for e.State() == script.StateRunning {
		worked := e.Tick()
		if e.host != nil {
			e.host.PollEvents()
		}
		if !worked {
			time.Sleep(500 * time.Microsecond)
		}
	}
}

// AttachIdle registers the tick as the host's idle handler. Returning true
// re-arms idle processing, so a deferred gate keeps the host event loop
// awake until the cart stops running.
func (e *Engine) AttachIdle(h IdleHost) {
	h.OnIdle(func() bool {
		e.Tick()
		return e.State() == script.StateRunning
	})
}

// AttachTimer registers the tick on a fine-grained periodic host timer so
// both gates are checked at every timer tick. Returns the stop function.
func (e *Engine) AttachTimer(h TimerHost) func() {
	return h.OnTimer(e.cfg.TimerResolution, func() {
		e.Tick()
	})
}

func ratePeriod(n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / n)
}
