package sandbox

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ModuleRegistry mediates between per-cart module views and the machine-wide
// package.loaded cache. A module imported by one cart is cached in that
// cart's view, while the first real load stays in the machine cache so an
// unrelated cart importing the same name does not recompile the file.
type ModuleRegistry struct {
	mu      sync.Mutex
	machine *Machine
}

func newModuleRegistry(m *Machine) *ModuleRegistry {
	return &ModuleRegistry{machine: m}
}

// loadedTable returns the real package.loaded table.
func (r *ModuleRegistry) loadedTable(L *lua.LState) *lua.LTable {
	pkg := L.GetGlobal("package")
	loaded, _ := L.GetField(pkg, "loaded").(*lua.LTable)
	return loaded
}

// RequireInto runs the real require for name on behalf of a cart, borrowing
// the machine-wide cache slot for the duration of the call: the cart's own
// cached instance is swapped in first (so a re-import sees the cart's copy),
// and any previous machine-wide occupant is put back afterwards.
func (r *ModuleRegistry) RequireInto(L *lua.LState, name string, view *lua.LTable) (lua.LValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := r.loadedTable(L)
	if loaded == nil {
		return lua.LNil, nil
	}

	saved := loaded.RawGetString(name)
	if cached := view.RawGetString(name); cached != lua.LNil {
		loaded.RawSetString(name, cached)
	}

	requireFn := L.GetGlobal("require")
	err := L.CallByParam(lua.P{Fn: requireFn, NRet: 1, Protect: true}, lua.LString(name))
	if err != nil {
		loaded.RawSetString(name, saved)
		return lua.LNil, err
	}

	result := L.Get(-1)
	L.Pop(1)
	view.RawSetString(name, result)

	// The first-ever load stays in the machine cache; an earlier occupant
	// (another cart's borrow target) is restored.
	if saved != lua.LNil {
		loaded.RawSetString(name, saved)
	}
	return result, nil
}
