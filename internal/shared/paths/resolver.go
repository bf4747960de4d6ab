package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
)

// Separator is the path separator carts use, regardless of host OS.
const Separator = "/"

// devicePrefix matches firmware drive markers such as "NAND:" or "ms0:".
var devicePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*:`)

// Resolver remaps cart paths into a virtual root and locates files through
// an ordered search-path list. The zero value is usable: no virtual root,
// no search paths.
type Resolver struct {
	mu            sync.RWMutex
	virtualRoot   string
	searchPaths   []string
	caseSensitive bool
}

// NewResolver creates a resolver with host case sensitivity detected from
// the OS. Windows and macOS default filesystems fold case already, so the
// per-segment lookup is only needed elsewhere.
func NewResolver() *Resolver {
	return &Resolver{
		caseSensitive: runtime.GOOS != "windows" && runtime.GOOS != "darwin",
	}
}

// SetCaseSensitive overrides case-sensitivity detection.
func (r *Resolver) SetCaseSensitive(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caseSensitive = v
}

// SetVirtualRoot stores a normalized root with a trailing separator.
// An empty root disables remapping.
func (r *Resolver) SetVirtualRoot(root string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if root == "" {
		r.virtualRoot = ""
		return
	}
	root = filepath.ToSlash(filepath.Clean(root))
	if !strings.HasSuffix(root, Separator) {
		root += Separator
	}
	r.virtualRoot = root
}

// VirtualRoot returns the configured root, empty when remapping is disabled.
func (r *Resolver) VirtualRoot() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.virtualRoot
}

// ToRealPath replaces a leading separator with the virtual root. A path that
// already starts with the virtual root is returned unchanged, so remapping
// an already-remapped path is a no-op. Device prefixes are stripped first.
func (r *Resolver) ToRealPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toRealPathLocked(path)
}

func (r *Resolver) toRealPathLocked(path string) (string, bool) {
	if m := devicePrefix.FindString(path); m != "" {
		path = path[len(m):]
	}
	if r.virtualRoot == "" {
		return path, false
	}
	if strings.HasPrefix(path, r.virtualRoot) {
		return path, false
	}
	if strings.HasPrefix(path, Separator) {
		return r.virtualRoot + path[len(Separator):], true
	}
	return path, false
}

// ToVirtualPath is the inverse of ToRealPath: a leading virtual-root prefix
// becomes the cart-visible separator.
func (r *Resolver) ToVirtualPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.virtualRoot != "" && strings.HasPrefix(path, r.virtualRoot) {
		return Separator + path[len(r.virtualRoot):], true
	}
	return path, false
}

// Resolve translates a cart path to a real path and reports whether the file
// or directory was found. Resolution never fails with an error: a miss
// returns the best-effort path with found=false, and callers decide whether
// absence matters. Empty paths pass through untouched.
func (r *Resolver) Resolve(path string, useSearchPath bool) (string, bool) {
	if path == "" {
		return path, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	resolved, found, remapped := r.resolveOne(path)
	if found {
		return resolved, true
	}

	// Search paths only apply to relative, unremapped paths.
	if useSearchPath && !remapped && !strings.HasPrefix(path, Separator) && !filepath.IsAbs(path) {
		for _, sp := range r.searchPaths {
			candidate := filepath.Join(sp, path)
			if p, ok, _ := r.resolveOne(candidate); ok {
				return p, true
			}
		}
	}
	return resolved, false
}

// resolveOne runs the verbatim / remap / case-walk steps for a single
// candidate path. Callers hold r.mu.
func (r *Resolver) resolveOne(path string) (resolved string, found bool, remapped bool) {
	// The bare separator is skipped here so remapping still applies to "/".
	if path != Separator && pathExists(path) {
		return path, true, false
	}

	real, remapped := r.toRealPathLocked(path)
	if pathExists(real) {
		return real, true, remapped
	}

	if r.caseSensitive {
		if fixed, ok := r.resolveCase(real); ok {
			return fixed, true, remapped
		}
	}
	return real, false, remapped
}

// resolveCase walks path segments from the base, matching each one
// case-insensitively against the directory's actual entries. The walk aborts
// as soon as one segment has no match.
func (r *Resolver) resolveCase(path string) (string, bool) {
	norm := filepath.ToSlash(path)
	base := "."
	if strings.HasPrefix(norm, Separator) {
		base = Separator
		norm = strings.TrimPrefix(norm, Separator)
	}
	if norm == "" {
		return path, false
	}

	current := base
	for _, segment := range strings.Split(norm, Separator) {
		if segment == "" {
			continue
		}
		next := filepath.Join(current, segment)
		if pathExists(next) {
			current = next
			continue
		}
		actual, ok := FindCaseInsensitive(current, segment)
		if !ok {
			return path, false
		}
		current = filepath.Join(current, actual)
	}
	return current, true
}

// FindCaseInsensitive searches dir for an entry whose lowercase form matches
// name's lowercase form. A miss returns name unchanged.
func FindCaseInsensitive(dir, name string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return name, false
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Name(), name) {
			return entry.Name(), true
		}
	}
	return name, false
}

// AddSearchPath appends a directory to the search list, or inserts it first
// when prepend is set. Duplicates are kept as registered.
func (r *Resolver) AddSearchPath(path string, prepend bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prepend {
		r.searchPaths = append([]string{path}, r.searchPaths...)
		return
	}
	r.searchPaths = append(r.searchPaths, path)
}

// RemoveSearchPath removes every registered occurrence of path.
func (r *Resolver) RemoveSearchPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.searchPaths[:0]
	for _, sp := range r.searchPaths {
		if sp != path {
			kept = append(kept, sp)
		}
	}
	r.searchPaths = kept
}

// SetSearchPath resets the list to the single given directory.
func (r *Resolver) SetSearchPath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchPaths = []string{path}
}

// SearchPaths returns a copy of the search list in registration order.
func (r *Resolver) SearchPaths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.searchPaths))
	copy(out, r.searchPaths)
	return out
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
