package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a built-in tool.
type Factory func() (Tool, error)

// Catalog resolves definitions to implementations: a script engine for
// definitions that carry source and a registration table of built-ins for
// those that do not.
type Catalog struct {
	mu       sync.RWMutex
	builtins map[string]Factory
	engine   *ScriptEngine
}

// NewCatalog creates a catalog. engine may be nil, in which case script
// definitions fail to load.
func NewCatalog(engine *ScriptEngine) *Catalog {
	return &Catalog{builtins: make(map[string]Factory), engine: engine}
}

// Register adds a built-in under name. Registering a name twice replaces the
// earlier factory.
func (c *Catalog) Register(name string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builtins[name] = factory
}

// RegisterTool registers a ready-made tool under its own name.
func (c *Catalog) RegisterTool(tool Tool) {
	c.Register(tool.Name(), func() (Tool, error) { return tool, nil })
}

// HasBuiltin reports whether name is a registered built-in.
func (c *Catalog) HasBuiltin(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.builtins[name]
	return ok
}

// Builtins lists registered built-in names.
func (c *Catalog) Builtins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.builtins))
	for name := range c.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build produces the implementation for def along with its kind.
func (c *Catalog) Build(def Definition) (Tool, string, error) {
	if def.Source != "" {
		if c.engine == nil {
			return nil, "", fmt.Errorf("script tools are not supported")
		}
		tool, err := c.engine.Compile(def.Name, def.Source)
		if err != nil {
			return nil, "", err
		}
		return tool, "script", nil
	}
	c.mu.RLock()
	factory, ok := c.builtins[def.Name]
	c.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("no source and no built-in named %q", def.Name)
	}
	tool, err := factory()
	if err != nil {
		return nil, "", err
	}
	return tool, "builtin:" + def.Name, nil
}
