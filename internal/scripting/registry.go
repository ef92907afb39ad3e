// Package scripting runs automation scripts against a single remote-desktop
// session: native entry points registered in code and recorded step lists
// loaded from the script store.
package scripting

import (
	"context"
	"fmt"
	"sync"

	"github.com/mfdoom84/automatevnc/internal/vnc"
)

// ContextFunc is an entry point that wants the full execution context.
type ContextFunc func(ctx context.Context, ec *ExecutionContext) error

// SessionFunc is an entry point that only drives the session.
type SessionFunc func(ctx context.Context, s *vnc.Session) error

// entryKind is the parameter shape an entry point declared at registration.
// It is resolved once, never re-derived per call.
type entryKind int

const (
	wantsContext entryKind = iota
	wantsSession
)

// Entry is a resolved script entry point.
type Entry struct {
	kind      entryKind
	ctxFn     ContextFunc
	sessionFn SessionFunc
}

// invoke dispatches on the registration-time tag.
func (e Entry) invoke(ctx context.Context, ec *ExecutionContext) error {
	if e.kind == wantsSession {
		return e.sessionFn(ctx, ec.Session())
	}
	return e.ctxFn(ctx, ec)
}

// Registry holds native script entry points by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// RegisterContext registers an entry point that receives the execution
// context. Duplicate names are rejected.
func (r *Registry) RegisterContext(name string, fn ContextFunc) error {
	return r.register(name, Entry{kind: wantsContext, ctxFn: fn})
}

// RegisterSession registers an entry point that receives only the session.
func (r *Registry) RegisterSession(name string, fn SessionFunc) error {
	return r.register(name, Entry{kind: wantsSession, sessionFn: fn})
}

func (r *Registry) register(name string, entry Entry) error {
	if name == "" {
		return fmt.Errorf("script entry point missing name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("duplicate script entry point %q", name)
	}
	r.entries[name] = entry
	return nil
}

// Lookup resolves a registered entry point.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}
