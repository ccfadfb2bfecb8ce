package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/toolrun/internal/observability"
)

// MaxToolParamsSize is the maximum size of tool arguments (10MB).
const MaxToolParamsSize = 10 << 20

// snapshot is an immutable view of the loaded instances.
type snapshot struct {
	instances   map[string]*Instance
	descriptors []Descriptor
}

func newSnapshot(instances map[string]*Instance) *snapshot {
	descriptors := make([]Descriptor, 0, len(instances))
	for _, inst := range instances {
		descriptors = append(descriptors, inst.Descriptor())
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return &snapshot{instances: instances, descriptors: descriptors}
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Guard   Guard
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Registry holds the live set of tool instances built from a DefinitionStore.
// Readers never lock: every reload publishes a complete new snapshot with a
// single atomic store. Mutations serialize on mu.
type Registry struct {
	store   DefinitionStore
	catalog *Catalog
	env     *invokeEnv
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry. Call Load to populate it.
func NewRegistry(store DefinitionStore, catalog *Catalog, opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "tools")
	r := &Registry{
		store:   store,
		catalog: catalog,
		logger:  logger,
		metrics: opts.Metrics,
		env: &invokeEnv{
			guard:   opts.Guard,
			logger:  logger,
			metrics: opts.Metrics,
			tracer:  opts.Tracer,
		},
	}
	r.current.Store(newSnapshot(map[string]*Instance{}))
	return r
}

// Load reads every definition and rebuilds the instance map. Disabled
// definitions are skipped; a definition that fails to build is logged and
// left out without affecting the others. If the store cannot be read the
// previous snapshot stays in place.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Registry) loadLocked(ctx context.Context) error {
	defs, err := r.store.LoadAll(ctx)
	if err != nil {
		r.metrics.RecordRegistryLoad(err, r.Len())
		return fmt.Errorf("load tool definitions: %w", err)
	}

	instances := make(map[string]*Instance, len(defs))
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		inst, err := r.build(def)
		if err != nil {
			loadErr := &LoadError{Name: def.Name, Cause: err}
			r.logger.WarnContext(ctx, "skipping tool", "tool", def.Name, "error", loadErr)
			r.metrics.RecordRegistryLoadFailure(def.Name)
			continue
		}
		instances[def.Name] = inst
	}

	r.current.Store(newSnapshot(instances))
	r.metrics.RecordRegistryLoad(nil, len(instances))
	r.logger.DebugContext(ctx, "tools loaded", "count", len(instances))
	return nil
}

func (r *Registry) build(def Definition) (*Instance, error) {
	if err := ValidateName(def.Name); err != nil {
		return nil, err
	}
	tool, kind, err := r.catalog.Build(def)
	if err != nil {
		return nil, err
	}
	return newInstance(def, tool, kind, r.env)
}

// Get returns the loaded instance for name.
func (r *Registry) Get(name string) (*Instance, bool) {
	inst, ok := r.current.Load().instances[name]
	return inst, ok
}

// List returns a copy of the loaded instances keyed by name.
func (r *Registry) List() map[string]*Instance {
	snap := r.current.Load()
	out := make(map[string]*Instance, len(snap.instances))
	for name, inst := range snap.instances {
		out[name] = inst
	}
	return out
}

// Describe returns the function-calling descriptors of the loaded tools, sorted by name.
func (r *Registry) Describe() []Descriptor {
	snap := r.current.Load()
	out := make([]Descriptor, len(snap.descriptors))
	copy(out, snap.descriptors)
	return out
}

// Len returns the number of loaded tools.
func (r *Registry) Len() int {
	return len(r.current.Load().instances)
}

// Execute invokes the named tool. An unknown name yields a "Tool not found"
// payload rather than an error.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage) Result {
	if len(raw) > MaxToolParamsSize {
		err := &ExecutionError{Type: ExecutionInvalidArgs, ToolName: name, Message: fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsSize)}
		out, _ := json.Marshal(err.Payload())
		return Result{Output: out, Err: err}
	}
	inst, ok := r.Get(name)
	if !ok {
		out, _ := json.Marshal(Errorf("Tool not found"))
		return Result{Output: out, Err: fmt.Errorf("%w: %s", ErrNotFound, name)}
	}
	return inst.Invoke(ctx, raw)
}

// Source returns the stored source of name. Built-ins have empty source.
func (r *Registry) Source(ctx context.Context, name string) (string, error) {
	def, err := r.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	return def.Source, nil
}

// Definitions returns every stored definition, enabled or not.
func (r *Registry) Definitions(ctx context.Context) ([]Definition, error) {
	return r.store.LoadAll(ctx)
}

// Create stores a new enabled definition and reloads. Source is compiled
// before anything is written. Empty source is accepted only for a
// registered built-in.
func (r *Registry) Create(ctx context.Context, name, source string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Get(ctx, name); err == nil {
		return fmt.Errorf("%w: %s", ErrConflict, name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	def := Definition{Name: name, Enabled: true, Source: source}
	if err := r.check(def); err != nil {
		return err
	}
	if err := r.store.Put(ctx, def); err != nil {
		return fmt.Errorf("store tool %s: %w", name, err)
	}
	r.logger.InfoContext(ctx, "tool created", "tool", name)
	return r.loadLocked(ctx)
}

// Update replaces the source of an existing definition and reloads. The
// enabled flag is preserved.
func (r *Registry) Update(ctx context.Context, name, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.Get(ctx, name)
	if err != nil {
		return err
	}
	def := Definition{Name: name, Enabled: existing.Enabled, Source: source}
	if err := r.check(def); err != nil {
		return err
	}
	if err := r.store.Put(ctx, def); err != nil {
		return fmt.Errorf("store tool %s: %w", name, err)
	}
	r.logger.InfoContext(ctx, "tool updated", "tool", name)
	return r.loadLocked(ctx)
}

// Delete removes name from the store and the live map. Deleting an absent
// tool is a no-op.
func (r *Registry) Delete(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("delete tool %s: %w", name, err)
	}
	if err := r.loadLocked(ctx); err != nil {
		// The store is gone or unreadable; drop the instance anyway.
		r.dropLocked(name)
		return err
	}
	r.logger.InfoContext(ctx, "tool deleted", "tool", name)
	return nil
}

// SetEnabled toggles a stored definition and reloads.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, err := r.store.Get(ctx, name)
	if err != nil {
		return err
	}
	if def.Enabled == enabled {
		return nil
	}
	def.Enabled = enabled
	if err := r.store.Put(ctx, def); err != nil {
		return fmt.Errorf("store tool %s: %w", name, err)
	}
	r.logger.InfoContext(ctx, "tool toggled", "tool", name, "enabled", enabled)
	return r.loadLocked(ctx)
}

func (r *Registry) check(def Definition) error {
	if def.Source == "" && !r.catalog.HasBuiltin(def.Name) {
		return &ValidationError{Field: "code", Message: "code is required"}
	}
	if _, err := r.build(def); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return &ValidationError{Field: "code", Message: err.Error(), Cause: err}
	}
	return nil
}

func (r *Registry) dropLocked(name string) {
	old := r.current.Load()
	if _, ok := old.instances[name]; !ok {
		return
	}
	next := make(map[string]*Instance, len(old.instances))
	for n, inst := range old.instances {
		if n != name {
			next[n] = inst
		}
	}
	r.current.Store(newSnapshot(next))
}
