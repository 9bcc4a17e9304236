// Package assemblies holds the set of loaded assemblies and the sources
// they are read from.
package assemblies

import (
	"strings"
	"sync"

	"ilview/internal/engine/metadata"
	"ilview/internal/shared/observability"
)

// EventKind tells a listener what happened to an assembly.
type EventKind int

const (
	Added EventKind = iota
	Removed
)

func (k EventKind) String() string {
	if k == Removed {
		return "removed"
	}
	return "added"
}

// Listener is called after the cache changed, outside the cache lock.
type Listener func(kind EventKind, asm *metadata.Assembly)

// Cache is the set of loaded assemblies keyed by full name, compared
// case-insensitively. Writes are expected from one goroutine; reads may come
// from any.
type Cache struct {
	mu         sync.RWMutex
	assemblies []*metadata.Assembly
	listeners  []Listener
}

func NewCache() *Cache {
	return &Cache{}
}

// Subscribe registers l for add and remove events.
func (c *Cache) Subscribe(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Add registers asm. An entry with the same full name is replaced; adding
// the same instance twice does nothing.
func (c *Cache) Add(asm *metadata.Assembly) {
	if asm == nil {
		return
	}
	c.mu.Lock()
	for i, existing := range c.assemblies {
		if existing == asm {
			c.mu.Unlock()
			return
		}
		if strings.EqualFold(existing.FullName(), asm.FullName()) {
			c.assemblies = append(c.assemblies[:i], c.assemblies[i+1:]...)
			break
		}
	}
	c.assemblies = append(c.assemblies, asm)
	n := len(c.assemblies)
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	observability.CachedAssemblies.Set(float64(n))
	for _, l := range listeners {
		l(Added, asm)
	}
}

// Remove drops asm, or the entry sharing its full name. It reports whether
// anything was removed.
func (c *Cache) Remove(asm *metadata.Assembly) bool {
	if asm == nil {
		return false
	}
	c.mu.Lock()
	idx := -1
	for i, existing := range c.assemblies {
		if existing == asm {
			idx = i
			break
		}
	}
	if idx < 0 {
		for i, existing := range c.assemblies {
			if strings.EqualFold(existing.FullName(), asm.FullName()) {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.assemblies = append(c.assemblies[:idx], c.assemblies[idx+1:]...)
	n := len(c.assemblies)
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	observability.CachedAssemblies.Set(float64(n))
	for _, l := range listeners {
		l(Removed, asm)
	}
	return true
}

// All returns a snapshot in insertion order.
func (c *Cache) All() []*metadata.Assembly {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*metadata.Assembly(nil), c.assemblies...)
}

// Find returns the assembly with exactly this full name, or nil.
func (c *Cache) Find(fullName string) *metadata.Assembly {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.assemblies {
		if a.FullName() == fullName {
			return a
		}
	}
	return nil
}

// FindByName returns every assembly with the given simple name, compared
// case-insensitively.
func (c *Cache) FindByName(name string) []*metadata.Assembly {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*metadata.Assembly
	for _, a := range c.assemblies {
		if strings.EqualFold(a.Name.Name, name) {
			out = append(out, a)
		}
	}
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assemblies)
}
