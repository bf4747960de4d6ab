package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microdeck/host/internal/events"
	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/sandbox"
	"github.com/microdeck/host/internal/script"
	"github.com/microdeck/host/internal/shared/paths"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type countingHost struct {
	repaints int
}

func (h *countingHost) RequestRepaint(previous bool) { h.repaints++ }

func (h *countingHost) PollEvents() {}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeClock) {
	t.Helper()

	// Loading a cart enters its directory; keep tests independent.
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })

	machine, err := sandbox.NewMachine(paths.NewResolver(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(machine.Close)

	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	return New(machine, cfg).WithClock(clk), clk
}

func writeCart(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cart.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// tickUntil ticks the engine until the predicate holds or too many
// attempts pass.
func tickUntil(t *testing.T, e *Engine, pred func() bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if pred() {
			return
		}
		e.Tick()
	}
	require.True(t, pred(), "engine never reached expected condition")
}

func unlimited() Config {
	cfg := DefaultConfig()
	cfg.UpdateRate = 0
	cfg.RenderRate = 0
	return cfg
}

func TestLoadMissingFile(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	var loadErrors int
	e.Bus().Subscribe(func(event string, args ...interface{}) {
		if event == events.ScriptLoadError {
			loadErrors++
		}
	})

	assert.False(t, e.Load(filepath.Join(t.TempDir(), "missing.lua")))
	assert.Equal(t, script.StateNone, e.State())
	assert.Equal(t, 1, loadErrors)
}

func TestLoadCompileError(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())
	path := writeCart(t, "for i = 1, do end")

	var detail string
	e.Bus().Subscribe(func(event string, args ...interface{}) {
		if event == events.ScriptLoadError {
			detail = args[1].(string)
		}
	})

	assert.False(t, e.Load(path))
	assert.Equal(t, script.StateNone, e.State())
	assert.NotEmpty(t, detail)
}

func TestRunToCompletion(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `
for i = 1, 3 do
	flip()
end
`)

	require.True(t, e.Load(path))
	assert.Equal(t, script.StateStopped, e.State())
	require.True(t, e.Start())
	assert.Equal(t, script.StateRunning, e.State())

	tickUntil(t, e, func() bool { return e.State() == script.StateFinished })
	assert.Equal(t, uint64(3), e.GetTotalUpdates())
}

func TestUpdateRateGating(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateRate = 10
	cfg.RenderRate = 0
	e, clk := newTestEngine(t, cfg)
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	// One simulated second in 10ms host steps.
	for i := 0; i < 100; i++ {
		clk.Advance(10 * time.Millisecond)
		e.Tick()
	}
	assert.Equal(t, uint64(10), e.GetTotalUpdates())
}

func TestUpdateGateCarriesOver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateRate = 10
	cfg.RenderRate = 0
	e, clk := newTestEngine(t, cfg)
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	// Uneven 70ms host steps against a 100ms period must still average
	// out to the target rate instead of drifting.
	for i := 0; i < 100; i++ {
		clk.Advance(70 * time.Millisecond)
		e.Tick()
	}
	// 7 simulated seconds at 10 updates/s, one tick can lag a period.
	assert.InDelta(t, 70, float64(e.GetTotalUpdates()), 1)
}

func TestRenderYieldDoesNotAdvanceLogic(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `
for i = 1, 4 do
	present()
	flip()
end
`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	tickUntil(t, e, func() bool { return e.State() == script.StateFinished })
	assert.Equal(t, uint64(4), e.GetTotalUpdates())
}

func TestRenderGateRequestsRepaint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateRate = 10
	cfg.RenderRate = 20
	e, clk := newTestEngine(t, cfg)
	host := &countingHost{}
	e.WithHost(host)

	path := writeCart(t, `while true do flip() end`)
	require.True(t, e.Load(path))
	require.True(t, e.Start())

	for i := 0; i < 100; i++ {
		clk.Advance(10 * time.Millisecond)
		e.Tick()
	}
	assert.Equal(t, 20, host.repaints)
}

func TestScriptErrorTransitions(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `
local n = 0
while true do
	n = n + 1
	if n == 2 then
		error("boom")
	end
	flip()
end
`)

	var scriptErrors []string
	e.Bus().Subscribe(func(event string, args ...interface{}) {
		if event == events.ScriptError {
			scriptErrors = append(scriptErrors, args[1].(string))
		}
	})

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	tickUntil(t, e, func() bool { return e.State() == script.StateError })
	assert.Equal(t, uint64(1), e.GetTotalUpdates())
	require.Len(t, scriptErrors, 1)
	assert.Contains(t, scriptErrors[0], "boom")

	// A dead task must not be resumed again.
	e.Tick()
	assert.Equal(t, script.StateError, e.State())
	assert.Len(t, scriptErrors, 1)
}

func TestPauseAndResume(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())
	e.Tick()
	after := e.GetTotalUpdates()

	require.True(t, e.Pause())
	assert.Equal(t, script.StatePaused, e.State())
	e.Tick()
	assert.Equal(t, after, e.GetTotalUpdates(), "paused cart must not advance")

	require.True(t, e.Resume())
	assert.Equal(t, script.StateRunning, e.State())
	e.Tick()
	assert.Equal(t, after+1, e.GetTotalUpdates())
}

func TestPauseOrResumeToggles(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	require.True(t, e.PauseOrResume())
	assert.Equal(t, script.StatePaused, e.State())
	require.True(t, e.PauseOrResume())
	assert.Equal(t, script.StateRunning, e.State())
}

func TestInvalidTransitionsIgnored(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())

	assert.False(t, e.Start())
	assert.False(t, e.Stop())
	assert.False(t, e.Pause())
	assert.False(t, e.Resume())
	assert.False(t, e.Restart())
	assert.False(t, e.DebugStep())
	assert.False(t, e.ReloadAndStart())
	assert.Equal(t, script.StateNone, e.State())

	path := writeCart(t, `flip()`)
	require.True(t, e.Load(path))
	assert.False(t, e.Pause(), "pause is only valid while running")
	assert.False(t, e.Resume(), "resume is only valid while paused")
}

func TestRestartGetsFreshNamespace(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `
if leaked then
	error("state leaked across restart")
end
leaked = true
flip()
`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())
	tickUntil(t, e, func() bool { return e.State() == script.StateFinished })

	require.True(t, e.Restart())
	tickUntil(t, e, func() bool { return e.State() != script.StateRunning })
	assert.Equal(t, script.StateFinished, e.State())
}

func TestReloadPicksUpEdits(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `flip()`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())
	tickUntil(t, e, func() bool { return e.State() == script.StateFinished })
	assert.Equal(t, uint64(1), e.GetTotalUpdates())

	require.NoError(t, os.WriteFile(path, []byte("flip()\nflip()\n"), 0o644))
	require.True(t, e.ReloadAndStart())
	tickUntil(t, e, func() bool { return e.State() == script.StateFinished })
	assert.Equal(t, uint64(2), e.GetTotalUpdates(), "load resets the update counter")
}

func TestDebugStepSingleIteration(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	// First step request pauses the running cart.
	require.True(t, e.DebugStep())
	assert.Equal(t, script.StatePaused, e.State())

	// Each further step runs exactly one logic iteration.
	before := e.GetTotalUpdates()
	require.True(t, e.DebugStep())
	e.Tick()
	assert.Equal(t, script.StatePaused, e.State())
	assert.Equal(t, before+1, e.GetTotalUpdates())

	// An explicit resume leaves step mode.
	require.True(t, e.Resume())
	e.Tick()
	e.Tick()
	assert.Equal(t, script.StateRunning, e.State())
}

func TestPauseWhile(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	e.PauseWhile(func() {
		assert.Equal(t, script.StatePaused, e.State())
	})
	assert.Equal(t, script.StateRunning, e.State())

	// When already paused, the pause must survive the call.
	require.True(t, e.Pause())
	e.PauseWhile(func() {})
	assert.Equal(t, script.StatePaused, e.State())
}

func TestStateChangeEvents(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `flip()`)

	var states []string
	e.Bus().Subscribe(func(event string, args ...interface{}) {
		if event == events.ScriptStateChange {
			states = append(states, args[1].(string))
		}
	})

	require.True(t, e.Load(path))
	require.True(t, e.Start())
	tickUntil(t, e, func() bool { return e.State() == script.StateFinished })
	require.True(t, e.Stop())

	assert.Equal(t, []string{"STOPPED", "RUNNING", "FINISHED", "STOPPED"}, states)
}

func TestRateClampAndGetters(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	e.SetTargetUpdateRate(-5)
	assert.Equal(t, float64(0), e.GetTargetUpdateRate())

	e.SetTargetRenderRate(144)
	assert.Equal(t, float64(144), e.GetTargetRenderRate())
}

func TestCurrentUPSRollsPerSecond(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateRate = 10
	cfg.RenderRate = 0
	e, clk := newTestEngine(t, cfg)
	path := writeCart(t, `while true do flip() end`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	for i := 0; i < 110; i++ {
		clk.Advance(10 * time.Millisecond)
		e.Tick()
	}
	assert.Equal(t, 10, e.CurrentUPS())
}

func TestRunBusyDrivesToCompletion(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	host := &countingHost{}
	e.WithHost(host)
	path := writeCart(t, `
for i = 1, 5 do
	flip()
end
`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())
	e.RunBusy()

	assert.Equal(t, script.StateFinished, e.State())
	assert.Equal(t, uint64(5), e.GetTotalUpdates())
}

func TestLoadReplacesPreviousCartSearchPath(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())

	dirA := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "a.lua"), []byte("flip()\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dirA, "secret.lua"), []byte("return 1\n"), 0o644))
	dirB := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dirB, "b.lua"), []byte("flip()\n"), 0o644))

	require.True(t, e.Load(filepath.Join(dirA, "a.lua")))
	require.True(t, e.Load(filepath.Join(dirB, "b.lua")))

	_, found := e.resolver.Resolve("secret.lua", true)
	assert.False(t, found, "previous cart's directory still on the search path")
	assert.NotContains(t, e.resolver.SearchPaths(), dirA)
	assert.Contains(t, e.resolver.SearchPaths(), dirB)
}

func TestReloadDoesNotDuplicateSearchPath(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, "flip()\n")
	dir := filepath.Dir(path)

	require.True(t, e.Load(path))
	require.True(t, e.Load(path))

	entries := 0
	for _, p := range e.resolver.SearchPaths() {
		if p == dir {
			entries++
		}
	}
	assert.Equal(t, 1, entries)
}

type recordingIdleHost struct {
	countingHost
	handler func() bool
}

func (h *recordingIdleHost) OnIdle(fn func() bool) { h.handler = fn }

func TestAttachIdleRearmsWhileRunning(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `
for i = 1, 3 do
	flip()
end
`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	h := &recordingIdleHost{}
	e.AttachIdle(h)
	require.NotNil(t, h.handler)

	arms := 0
	for h.handler() {
		arms++
		require.Less(t, arms, 100, "idle handler never declined re-arm")
	}
	assert.Equal(t, script.StateFinished, e.State())
	assert.False(t, h.handler(), "finished cart must not re-arm idle processing")
}

func TestHeadlessHostIdleDrivesToCompletion(t *testing.T) {
	e, _ := newTestEngine(t, unlimited())
	path := writeCart(t, `
for i = 1, 3 do
	flip()
end
`)

	require.True(t, e.Load(path))
	require.True(t, e.Start())

	h := NewHeadlessHost(nil)
	defer h.Close()
	e.AttachIdle(h)

	require.Eventually(t, func() bool {
		return e.State() == script.StateFinished
	}, 5*time.Second, time.Millisecond)
}
