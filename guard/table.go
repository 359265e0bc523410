package guard

import (
	"path"
	"strings"
	"sync"
)

// Route attaches guards to a path and everything below it.
type Route struct {
	Path   string
	Guards []Guard
}

// Table is a route configuration. Resolve picks the most specific matching route.
type Table struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func NewTable(routes ...Route) *Table {
	t := &Table{routes: make(map[string]Route)}
	for _, r := range routes {
		t.Add(r)
	}
	return t
}

func (t *Table) Add(r Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Path = cleanPath(r.Path)
	t.routes[r.Path] = r
}

// Resolve evaluates the guards of the longest route that is path or a parent of it.
// Paths no route covers are public.
func (t *Table) Resolve(s Session, path string) Decision {
	path = cleanPath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for p := path; ; p = parent(p) {
		if r, ok := t.routes[p]; ok {
			return All(r.Guards...)(s)
		}
		if p == "/" {
			return Proceed
		}
	}
}

// cleanPath resolves dot segments and duplicate slashes so a route cannot be reached around its guards.
func cleanPath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func parent(p string) string {
	i := strings.LastIndex(p, "/")
	if i <= 0 {
		return "/"
	}
	return p[:i]
}
