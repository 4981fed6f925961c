package grantd

import (
	"context"
	stderrors "errors"

	"github.com/lumenweb/grantd/errors"
)

// The base plugin interface.
type Plugin interface {
	// Name of the plugin, used for querying and dependency resolution.
	Name() string
}

// Implemented if plugin depends on other plugins.
type DependentPlugin interface {
	// Deps returns the names for plugins which this plugin depends on.
	Deps() []string
}

// Implemented if plugin has optional dependencies, which should be initialized
// before the plugin, but are not required.
type OptionalDependentPlugin interface {
	// OptDeps returns the names for plugins which this plugin optionally depends on.
	OptDeps() []string
}

// Implemented if the plugin needs to be initialized outside construction.
type InitializablePlugin interface {
	// Init the plugin. Will be called in dependency order.
	Init(ctx context.Context, r *Registry) error
}

// Implemented if the plugin holds resources that must be released when the
// server stops, such as storage connections.
type ShutdownPlugin interface {
	Shutdown(ctx context.Context) error
}

// Registry manages plugins and their dependencies.
type Registry struct {
	plugins map[string]Plugin
	keys    []string

	// Names in the order Init visited them.
	initOrder []string
}

// Get a plugin.
func (r *Registry) Get(key string) Plugin {
	if p, ok := r.plugins[key]; ok {
		return p
	}
	return nil
}

// Register a plugin.
func (r *Registry) Register(plugin Plugin) {
	if r.plugins == nil {
		r.plugins = map[string]Plugin{}
	}
	n := plugin.Name()
	if _, ok := r.plugins[n]; !ok {
		r.keys = append(r.keys, n)
	}
	r.plugins[n] = plugin
}

// Init all plugins in the Registry. Plugins will be visited in dependency order.
func (r *Registry) Init(ctx context.Context) error {
	if r.plugins == nil {
		return nil
	}

	// Validate dependency graph first.
	visiting := make(map[string]bool)
	for _, key := range r.keys {
		if err := r.validateDeps(key, visiting, true); err != nil {
			return err
		}
	}

	initialized := make(map[string]bool)
	for _, key := range r.keys {
		if err := r.initPlugin(ctx, key, initialized); err != nil {
			return err
		}
	}

	return nil
}

// Shutdown visits initialized plugins in reverse dependency order. All
// plugins are visited even if some fail.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(r.initOrder) - 1; i >= 0; i-- {
		if p, ok := r.plugins[r.initOrder[i]].(ShutdownPlugin); ok {
			if err := p.Shutdown(ctx); err != nil {
				errs = append(errs, errors.WrapPrefix(err, "plugin: failed to shut down '"+r.initOrder[i]+"'", 0))
			}
		}
	}
	r.initOrder = nil
	return stderrors.Join(errs...)
}

// Walks the plugin dependency graph and ensures that deps are registered and that
// there are no cycles.
func (r *Registry) validateDeps(key string, visiting map[string]bool, required bool) error {
	if visiting[key] {
		return errors.Errorf("plugin: dependency cycle detected involving '%v'", key)
	}

	plugin, ok := r.plugins[key]
	if !ok {
		if !required {
			return nil
		}
		return errors.Errorf("plugin: missing dependency, '%v' not registered", key)
	}

	visiting[key] = true
	defer delete(visiting, key)

	for _, dep := range deps(plugin) {
		if err := r.validateDeps(dep, visiting, true); err != nil {
			return err
		}
	}
	for _, dep := range optDeps(plugin) {
		if err := r.validateDeps(dep, visiting, false); err != nil {
			return err
		}
	}
	return nil
}

// Ensures plugins are initialized in dependency order. Optional dependencies
// that are registered are initialized first too.
func (r *Registry) initPlugin(ctx context.Context, key string, initialized map[string]bool) error {
	if initialized[key] {
		return nil
	}

	plugin, ok := r.plugins[key]
	if !ok {
		return errors.Errorf("plugin '%v' not registered", key)
	}

	for _, dep := range deps(plugin) {
		if err := r.initPlugin(ctx, dep, initialized); err != nil {
			return err
		}
	}
	for _, dep := range optDeps(plugin) {
		if _, ok := r.plugins[dep]; !ok {
			continue
		}
		if err := r.initPlugin(ctx, dep, initialized); err != nil {
			return err
		}
	}

	if p, ok := plugin.(InitializablePlugin); ok {
		if err := p.Init(ctx, r); err != nil {
			return errors.Errorf("plugin: failed to initialize '%v': %w", key, err)
		}
	}

	initialized[key] = true
	r.initOrder = append(r.initOrder, key)
	return nil
}

func deps(p Plugin) []string {
	if d, ok := p.(DependentPlugin); ok {
		return d.Deps()
	}
	return nil
}

func optDeps(p Plugin) []string {
	if d, ok := p.(OptionalDependentPlugin); ok {
		return d.OptDeps()
	}
	return nil
}
