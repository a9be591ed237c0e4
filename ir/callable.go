package ir

import (
	"sync"
	"sync/atomic"
)

// CallableID identifies a [Callable] in the process-wide registry.
type CallableID uint64

// Callable is a named, separately recorded function body. Call instructions refer
// to callables by ID and are resolved through the registry at generation time,
// which lets callee bodies be generated independently and linked alongside the caller.
type Callable struct {
	ID   CallableID
	Name string
	Body *Buffer
}

var (
	lastCallableID atomic.Uint64
	registry       = struct {
		mu sync.RWMutex
		m  map[CallableID]*Callable
	}{m: make(map[CallableID]*Callable)}
)

// NewCallable allocates a fresh ID and registers a callable named name with body.
func NewCallable(name string, body *Buffer) *Callable {
	return Register(CallableID(lastCallableID.Add(1)), name, body)
}

// Register points the registry entry for id at a new callable. Any previous
// registration of id is replaced.
func Register(id CallableID, name string, body *Buffer) *Callable {
	c := &Callable{ID: id, Name: name, Body: body}
	c.Relink()
	return c
}

// Relink points the registry entry for c.ID at c. Callables that are copied must be
// relinked so lookups observe the live copy.
func (c *Callable) Relink() {
	registry.mu.Lock()
	registry.m[c.ID] = c
	registry.mu.Unlock()
}

// Unlink removes c from the registry if the registry still points at c.
func (c *Callable) Unlink() {
	registry.mu.Lock()
	if registry.m[c.ID] == c {
		delete(registry.m, c.ID)
	}
	registry.mu.Unlock()
}

// Unregister removes the registry entry for id.
func Unregister(id CallableID) {
	registry.mu.Lock()
	delete(registry.m, id)
	registry.mu.Unlock()
}

// Lookup returns the name and body registered under id.
func Lookup(id CallableID) (name string, body *Buffer, ok bool) {
	c, ok := LookupCallable(id)
	if !ok {
		return "", nil, false
	}
	return c.Name, c.Body, true
}

// LookupCallable returns the callable registered under id.
func LookupCallable(id CallableID) (*Callable, bool) {
	registry.mu.RLock()
	c, ok := registry.m[id]
	registry.mu.RUnlock()
	return c, ok
}

// MustLookup returns the callable registered under id or raises a linkage error
// attributed to the call instruction at site.
func MustLookup(id CallableID, site Index) *Callable {
	c, ok := LookupCallable(id)
	if !ok {
		Fatalf(ClassLinkage, site, KindCall, "callee %d not registered", id)
	}
	return c
}
