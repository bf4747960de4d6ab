package sandbox

import (
	lua "github.com/yuin/gopher-lua"
)

// Env is one cart's isolated global namespace: a shallow copy of the machine
// globals with the module-loading primitives rebound to operate on this
// environment instead of the real global table.
type Env struct {
	machine *Machine
	name    string
	globals *lua.LTable
	loaded  *lua.LTable
}

// NewEnv builds a fresh environment. name identifies the cart in module
// bookkeeping and diagnostics.
func (m *Machine) NewEnv(name string) *Env {
	L := m.state

	globals := L.NewTable()
	L.G.Global.ForEach(func(k, v lua.LValue) {
		globals.RawSet(k, v)
	})

	e := &Env{
		machine: m,
		name:    name,
		globals: globals,
		loaded:  L.NewTable(),
	}

	globals.RawSetString("_G", globals)
	globals.RawSetString("dofile", L.NewFunction(e.luaDoFile))
	globals.RawSetString("require", L.NewFunction(e.luaRequire))
	globals.RawSetString("module", L.NewFunction(e.luaModule))
	return e
}

// Globals returns the environment table.
func (e *Env) Globals() *lua.LTable {
	return e.globals
}

// Name returns the cart identifier this environment was created for.
func (e *Env) Name() string {
	return e.name
}

// Bind retargets fn's environment at this namespace. Called for the cart's
// main chunk and for every chunk dofile pulls in.
func (e *Env) Bind(fn *lua.LFunction) {
	e.machine.state.SetFEnv(fn, e.globals)
}

// SetLineHook installs the per-line callback instrumented chunks report to.
// A nil fn restores the machine-wide no-op, which must happen before the
// owning task is discarded.
func (e *Env) SetLineHook(fn func(line int)) {
	if fn == nil {
		e.globals.RawSetString(LineHookName, e.machine.state.GetGlobal(LineHookName))
		return
	}
	e.globals.RawSetString(LineHookName, e.machine.state.NewFunction(func(L *lua.LState) int {
		fn(L.CheckInt(1))
		return 0
	}))
}

// luaDoFile loads and executes the target chunk under the calling cart's
// namespace; the stock dofile would hand it the real global table.
func (e *Env) luaDoFile(L *lua.LState) int {
	path := L.CheckString(1)
	resolved, _ := e.machine.resolver.Resolve(path, true)

	fn, err := L.LoadFile(resolved)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	e.Bind(fn)

	top := L.GetTop()
	L.Push(fn)
	L.Call(0, lua.MultRet)
	return L.GetTop() - top
}

// luaRequire consults the cart's own module view first and otherwise defers
// to the registry's borrow-and-restore import.
func (e *Env) luaRequire(L *lua.LState) int {
	name := L.CheckString(1)

	if cached := e.loaded.RawGetString(name); cached != lua.LNil {
		L.Push(cached)
		return 1
	}

	result, err := e.machine.modules.RequireInto(L, name, e.loaded)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(result)
	return 1
}

// luaModule declares a module table inside the cart's namespace and
// retargets the calling chunk's environment at it, mirroring the Lua 5.1
// module() contract without ever touching the real global table. The module
// table indexes through to the cart globals, so seeall-style access works
// by default.
func (e *Env) luaModule(L *lua.LState) int {
	name := L.CheckString(1)

	var mod *lua.LTable
	if v, ok := e.loaded.RawGetString(name).(*lua.LTable); ok {
		mod = v
	} else if v, ok := e.globals.RawGetString(name).(*lua.LTable); ok {
		mod = v
	}
	if mod == nil {
		mod = L.NewTable()
	}

	mod.RawSetString("_NAME", lua.LString(name))
	mod.RawSetString("_M", mod)

	mt := L.NewTable()
	mt.RawSetString("__index", e.globals)
	L.SetMetatable(mod, mt)

	e.globals.RawSetString(name, mod)
	e.loaded.RawSetString(name, mod)

	if dbg, ok := L.GetStack(1); ok {
		if fn, err := L.GetInfo("f", dbg, lua.LNil); err == nil {
			if caller, ok := fn.(*lua.LFunction); ok {
				L.SetFEnv(caller, mod)
			}
		}
	}
	return 0
}
