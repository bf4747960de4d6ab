package sandbox

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/shared/paths"
)

// Yield markers distinguish the two suspension points a cart task crosses:
// the once-per-iteration frame yield and the end-of-render pause. Values use
// a NUL prefix so cart strings cannot collide with them by accident.
const (
	markerUpdate = lua.LString("\x00deck:frame")
	markerRender = lua.LString("\x00deck:draw")
)

// YieldKind classifies what a resumed task suspended on.
type YieldKind int

const (
	// YieldUpdate is the logic yield point: one full iteration completed.
	YieldUpdate YieldKind = iota
	// YieldRender is the stop-drawing suspension; it does not advance logic.
	YieldRender
)

// ClassifyYield maps the values a task yielded to a YieldKind. Anything that
// is not the render marker counts as the logic yield point.
func ClassifyYield(values []lua.LValue) YieldKind {
	if len(values) > 0 && values[0] == markerRender {
		return YieldRender
	}
	return YieldUpdate
}

// LineHookName is the global the debug stepper's instrumented chunks call.
const LineHookName = "__mdstep"

// Machine owns the engine's single Lua state and the process-wide module
// cache. Environments for individual carts are created with NewEnv.
type Machine struct {
	state    *lua.LState
	resolver *paths.Resolver
	logger   *logging.Logger
	modules  *ModuleRegistry
	pcallFn  *lua.LFunction
}

// NewMachine creates the Lua state, opens the standard libraries and
// installs the device API plus the sandbox-wide primitive overrides.
func NewMachine(resolver *paths.Resolver, logger *logging.Logger) (*Machine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	L := lua.NewState()
	m := &Machine{
		state:    L,
		resolver: resolver,
		logger:   logger,
	}
	m.modules = newModuleRegistry(m)

	if err := m.compileProtectedCall(); err != nil {
		L.Close()
		return nil, fmt.Errorf("sandbox bootstrap: %w", err)
	}
	m.wrapPathPrimitives()
	m.installDeviceAPI()
	return m, nil
}

// Close releases the Lua state.
func (m *Machine) Close() {
	m.state.Close()
}

// State exposes the underlying Lua state for task creation and resumption.
func (m *Machine) State() *lua.LState {
	return m.state
}

// Resolver returns the path resolver the sandbox routes file access through.
func (m *Machine) Resolver() *paths.Resolver {
	return m.resolver
}

// Modules returns the process-wide module registry.
func (m *Machine) Modules() *ModuleRegistry {
	return m.modules
}

// protectedCallSource rebuilds pcall on a nested coroutine so that a yield
// inside the protected function propagates out to the scheduler instead of
// hitting the host pcall boundary. Resume arguments flow back in through the
// re-yield, preserving the standard (ok, results...) contract.
const protectedCallSource = `
local create = coroutine.create
local resume = coroutine.resume
local status = coroutine.status
local yield = coroutine.yield
local select = select
local unpack = unpack

return function(f, ...)
	local co
	if type(f) == "function" then
		co = create(f)
	else
		-- __call-able values cannot back a coroutine directly; the wrapper
		-- forwards the caller's arguments and every result.
		local n = select("#", ...)
		local args = {...}
		co = create(function() return f(unpack(args, 1, n)) end)
	end
	local function pass(ok, ...)
		if not ok then
			return false, ...
		end
		if status(co) == "dead" then
			return true, ...
		end
		return pass(resume(co, yield(...)))
	end
	return pass(resume(co, ...))
end
`

func (m *Machine) compileProtectedCall() error {
	L := m.state
	if err := L.DoString(protectedCallSource); err != nil {
		return err
	}
	fn, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		return fmt.Errorf("protected-call bootstrap did not return a function")
	}
	m.pcallFn = fn
	return nil
}

// installDeviceAPI publishes the handheld surface carts are written against:
// the frame yield points, the log capability and the sandboxed fs module.
// Environment tables pick these up through the global shallow copy.
func (m *Machine) installDeviceAPI() {
	L := m.state

	flip := L.NewFunction(func(L *lua.LState) int {
		return L.Yield(markerUpdate)
	})
	present := L.NewFunction(func(L *lua.LState) int {
		return L.Yield(markerRender)
	})

	deck := L.NewTable()
	deck.RawSetString("flip", flip)
	deck.RawSetString("present", present)
	deck.RawSetString("log", L.NewFunction(m.luaLog))
	L.SetGlobal("deck", deck)
	L.SetGlobal("flip", flip)
	L.SetGlobal("present", present)

	fs := L.NewTable()
	fs.RawSetString("dir", L.NewFunction(m.luaDir))
	fs.RawSetString("exists", L.NewFunction(m.luaExists))
	L.SetGlobal("fs", fs)

	L.SetGlobal("print", L.NewFunction(m.luaPrint))
	L.SetGlobal("error", L.NewFunction(m.luaError))
	L.SetGlobal("pcall", m.pcallFn)

	// Default no-op line hook; the stepper overrides it per environment.
	L.SetGlobal(LineHookName, L.NewFunction(func(L *lua.LState) int { return 0 }))
}

// luaLog implements deck.log(level, message).
func (m *Machine) luaLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)
	m.logger.Log(level, message, "cart")
	return 0
}

// luaPrint routes print output through the host log sink.
func (m *Machine) luaPrint(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	m.logger.Log("info", strings.Join(parts, "\t"), "cart")
	return 0
}

// luaError wraps the error primitive: string messages get their embedded
// paths re-flowed for narrow displays, and the level offset accounts for the
// extra frame this wrapper introduces.
func (m *Machine) luaError(L *lua.LState) int {
	value := L.Get(1)
	level := L.OptInt(2, 1)
	if s, ok := value.(lua.LString); ok {
		value = lua.LString(ReflowPaths(string(s)))
	}
	if level > 0 {
		level++
	}
	L.Error(value, level)
	return 0
}
