package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/shared/paths"
)

func newRootedMachine(t *testing.T) (*Machine, string) {
	t.Helper()
	root := t.TempDir()
	resolver := paths.NewResolver()
	resolver.SetVirtualRoot(root + string(os.PathSeparator))

	m, err := NewMachine(resolver, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, root
}

func TestIOOpenResolvesVirtualRoot(t *testing.T) {
	m, root := newRootedMachine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.txt"), []byte("payload"), 0o644))

	env := m.NewEnv("cart")
	runChunk(t, m, env, `
local f = assert(io.open("/data.txt", "r"))
content = f:read("*a")
f:close()
`)
	assert.Equal(t, lua.LString("payload"), env.Globals().RawGetString("content"))
}

func TestIOLinesResolvesVirtualRoot(t *testing.T) {
	m, root := newRootedMachine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "rows.txt"), []byte("a\nb\n"), 0o644))

	env := m.NewEnv("cart")
	runChunk(t, m, env, `
count = 0
for _ in io.lines("/rows.txt") do
	count = count + 1
end
`)
	assert.Equal(t, lua.LNumber(2), env.Globals().RawGetString("count"))
}

func TestOSRemoveResolvesVirtualRoot(t *testing.T) {
	m, root := newRootedMachine(t)
	target := filepath.Join(root, "gone.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	env := m.NewEnv("cart")
	runChunk(t, m, env, `assert(os.remove("/gone.txt"))`)

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestOSRenameResolvesBothArguments(t *testing.T) {
	m, root := newRootedMachine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644))

	env := m.NewEnv("cart")
	// The destination does not exist yet, so only root remapping applies.
	runChunk(t, m, env, `assert(os.rename("/a.txt", "/b.txt"))`)

	_, err := os.Stat(filepath.Join(root, "b.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "a.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestFSExists(t *testing.T) {
	m, root := newRootedMachine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "here.txt"), []byte("x"), 0o644))

	env := m.NewEnv("cart")
	runChunk(t, m, env, `
yes = fs.exists("/here.txt")
no = fs.exists("/absent.txt")
`)
	assert.Equal(t, lua.LTrue, env.Globals().RawGetString("yes"))
	assert.Equal(t, lua.LFalse, env.Globals().RawGetString("no"))
}

func TestFSDirIterates(t *testing.T) {
	m, root := newRootedMachine(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.lua"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "two.lua"), []byte(""), 0o644))

	env := m.NewEnv("cart")
	runChunk(t, m, env, `
names = {}
for name in fs.dir("/") do
	names[name] = true
end
`)
	names, ok := env.Globals().RawGetString("names").(*lua.LTable)
	require.True(t, ok)
	assert.Equal(t, lua.LTrue, names.RawGetString("one.lua"))
	assert.Equal(t, lua.LTrue, names.RawGetString("two.lua"))
}

func TestFSDirMissingDirectoryRaises(t *testing.T) {
	m, _ := newRootedMachine(t)

	env := m.NewEnv("cart")
	L := m.State()
	fn, err := L.LoadString(`fs.dir("/nope")()`)
	require.NoError(t, err)
	env.Bind(fn)
	err = L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	assert.Error(t, err)
}
