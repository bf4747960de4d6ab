/*
Package engine schedules sandboxed cart execution.

# Overview

The Engine owns one cart at a time and drives it through a small state
machine (NONE, STOPPED, RUNNING, PAUSED, FINISHED, ERROR). A rate-gated
scheduler resumes the cart's coroutine for logic iterations and requests
repaints independently, so logic and presentation can run at different
target rates. Host integration is pluggable: RunBusy spins a dedicated
loop, AttachIdle re-arms an idle callback, AttachTimer drives ticks from
a coarse timer.

# Usage

	machine, err := sandbox.NewMachine(resolver, logger)
	if err != nil {
		return err
	}
	eng := engine.New(machine, engine.DefaultConfig()).
		WithLogger(logger).
		WithBus(bus)

	if eng.Load("carts/game.lua") {
		eng.Start()
	}
	stop := eng.AttachTimer(host)

The single-step debugger instruments cart chunks at compile time; enable
it with Config.DebugHooks and drive it with DebugStep.
*/
package engine
