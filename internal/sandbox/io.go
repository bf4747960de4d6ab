package sandbox

import (
	"os"

	lua "github.com/yuin/gopher-lua"
)

// wrapPathPrimitives rewires the stdlib file primitives so every path
// argument runs through the resolver before the real implementation sees it.
// Non-string arguments pass through untouched; a resolution miss still
// forwards the best-effort path and lets the primitive report the failure.
func (m *Machine) wrapPathPrimitives() {
	L := m.state

	if ioTbl, ok := L.GetGlobal("io").(*lua.LTable); ok {
		m.wrapPathArg(ioTbl, "open")
		m.wrapPathArg(ioTbl, "lines")
	}
	if osTbl, ok := L.GetGlobal("os").(*lua.LTable); ok {
		m.wrapPathArg(osTbl, "remove")
		m.wrapRename(osTbl)
	}
}

// wrapPathArg replaces tbl[field] with a version that resolves its first
// argument when it is a string.
func (m *Machine) wrapPathArg(tbl *lua.LTable, field string) {
	orig := tbl.RawGetString(field)
	if orig == lua.LNil {
		return
	}
	tbl.RawSetString(field, m.state.NewFunction(func(L *lua.LState) int {
		args := collectArgs(L)
		if len(args) > 0 {
			if s, ok := args[0].(lua.LString); ok {
				resolved, _ := m.resolver.Resolve(string(s), true)
				args[0] = lua.LString(resolved)
			}
		}
		return callWith(L, orig, args)
	}))
}

// wrapRename resolves the source through the search path and the destination
// through plain root remapping, since the destination need not exist yet.
func (m *Machine) wrapRename(osTbl *lua.LTable) {
	orig := osTbl.RawGetString("rename")
	if orig == lua.LNil {
		return
	}
	osTbl.RawSetString("rename", m.state.NewFunction(func(L *lua.LState) int {
		args := collectArgs(L)
		if len(args) > 0 {
			if s, ok := args[0].(lua.LString); ok {
				resolved, _ := m.resolver.Resolve(string(s), true)
				args[0] = lua.LString(resolved)
			}
		}
		if len(args) > 1 {
			if s, ok := args[1].(lua.LString); ok {
				real, _ := m.resolver.ToRealPath(string(s))
				args[1] = lua.LString(real)
			}
		}
		return callWith(L, orig, args)
	}))
}

// luaDir implements fs.dir(path): an iterator over directory entry names,
// path resolved through the sandbox root first.
func (m *Machine) luaDir(L *lua.LState) int {
	dir := L.CheckString(1)
	resolved, _ := m.resolver.Resolve(dir, true)

	entries, err := os.ReadDir(resolved)
	if err != nil {
		L.RaiseError("cannot open %s: %v", dir, err)
		return 0
	}

	i := 0
	L.Push(L.NewFunction(func(L *lua.LState) int {
		if i >= len(entries) {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(entries[i].Name()))
		i++
		return 1
	}))
	return 1
}

// luaExists implements fs.exists(path).
func (m *Machine) luaExists(L *lua.LState) int {
	path := L.CheckString(1)
	_, found := m.resolver.Resolve(path, true)
	L.Push(lua.LBool(found))
	return 1
}

// collectArgs copies the call arguments off the stack.
func collectArgs(L *lua.LState) []lua.LValue {
	args := make([]lua.LValue, L.GetTop())
	for i := range args {
		args[i] = L.Get(i + 1)
	}
	return args
}

// callWith invokes fn with args, forwarding every return value.
func callWith(L *lua.LState, fn lua.LValue, args []lua.LValue) int {
	L.SetTop(0)
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	L.Call(len(args), lua.MultRet)
	return L.GetTop()
}
