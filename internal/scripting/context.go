package scripting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mfdoom84/automatevnc/internal/domain/run"
	"github.com/mfdoom84/automatevnc/internal/ports"
	"github.com/mfdoom84/automatevnc/internal/vnc"
)

// ContextConfig wires an execution context.
type ContextConfig struct {
	Scripts   ports.ScriptStore
	Templates ports.TemplateStore
	Registry  *Registry
	Logger    *slog.Logger
	Variables map[string]any
}

// ExecutionContext is the runtime shared by one or more chained scripts
// against a single session: variable scope, script resolution and caching,
// sequencing. Its lifecycle equals the run's.
type ExecutionContext struct {
	session   *vnc.Session
	scripts   ports.ScriptStore
	templates ports.TemplateStore
	registry  *Registry
	logger    *slog.Logger

	mu        sync.RWMutex
	variables map[string]any
	resolved  map[string]Entry
}

// NewContext builds an execution context around a connected session.
func NewContext(session *vnc.Session, cfg ContextConfig) *ExecutionContext {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	variables := cfg.Variables
	if variables == nil {
		variables = make(map[string]any)
	}
	return &ExecutionContext{
		session:   session,
		scripts:   cfg.Scripts,
		templates: cfg.Templates,
		registry:  registry,
		logger:    logger,
		variables: variables,
		resolved:  make(map[string]Entry),
	}
}

// Session returns the remote-desktop session all chained scripts share.
func (c *ExecutionContext) Session() *vnc.Session { return c.session }

// Set stores a shared variable.
func (c *ExecutionContext) Set(key string, value any) {
	c.mu.Lock()
	c.variables[key] = value
	c.mu.Unlock()
}

// Get returns a shared variable.
func (c *ExecutionContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// GetString returns a shared variable as a string, or the fallback.
func (c *ExecutionContext) GetString(key, fallback string) string {
	if v, ok := c.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// RunScript resolves a script by name and runs it. Native registry entries
// win over stored step lists; resolution is cached for the context's
// lifetime. A missing script fails with run.ErrNotFound.
func (c *ExecutionContext) RunScript(ctx context.Context, name string) error {
	entry, err := c.resolve(ctx, name)
	if err != nil {
		return err
	}
	c.logger.Info("running script", "script", name)
	if err := entry.invoke(ctx, c); err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	return nil
}

// Chain executes scripts sequentially, aborting on the first failure and
// propagating it unchanged.
func (c *ExecutionContext) Chain(ctx context.Context, names ...string) error {
	for _, name := range names {
		if err := c.RunScript(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *ExecutionContext) resolve(ctx context.Context, name string) (Entry, error) {
	c.mu.RLock()
	entry, ok := c.resolved[name]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	if entry, ok = c.registry.Lookup(name); !ok {
		var err error
		entry, err = c.compileStored(ctx, name)
		if err != nil {
			return Entry{}, err
		}
	}

	c.mu.Lock()
	c.resolved[name] = entry
	c.mu.Unlock()
	return entry, nil
}

// compileStored turns a stored step list into an entry point.
func (c *ExecutionContext) compileStored(ctx context.Context, name string) (Entry, error) {
	if c.scripts == nil {
		return Entry{}, fmt.Errorf("script %q: %w", name, run.ErrNotFound)
	}
	stored, err := c.scripts.Load(ctx, name)
	if err != nil {
		return Entry{}, fmt.Errorf("load script %q: %w", name, err)
	}
	if err := stored.Validate(); err != nil {
		return Entry{}, err
	}
	return Entry{
		kind: wantsContext,
		ctxFn: func(ctx context.Context, ec *ExecutionContext) error {
			return ec.runSteps(ctx, stored)
		},
	}, nil
}
