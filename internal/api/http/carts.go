package http

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gin-gonic/gin"
)

// cartPattern matches cart entry points anywhere under the cart directory.
const cartPattern = "**/*.lua"

// ListCarts walks the cart directory and returns every cart source it finds,
// relative to the directory.
func (h *Handlers) ListCarts(c *gin.Context) {
	carts, err := findCarts(h.cartDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"directory": h.cartDir,
		"carts":     carts,
		"count":     len(carts),
	})
}

func findCarts(root string) ([]string, error) {
	var (
		mu    sync.Mutex
		carts []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ok, _ := doublestar.Match(cartPattern, rel); ok {
			mu.Lock()
			carts = append(carts, rel)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(carts)
	return carts, nil
}
