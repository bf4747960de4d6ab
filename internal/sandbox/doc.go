// Package sandbox gives each loaded cart an isolated Lua environment.
//
// One Machine (a single lua.LState) is shared by the whole engine; every
// cart gets its own environment table built by shallow-copying the machine
// globals and overriding the module-loading primitives, so globals defined
// by one cart never leak into another while the process-wide module cache
// keeps files from being compiled twice. Path-sensitive primitives resolve
// their arguments through the paths.Resolver before touching the real
// filesystem, and the protected-call primitive is rebuilt on a nested
// coroutine so carts can cross their frame yield point from inside pcall.
package sandbox
