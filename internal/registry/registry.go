// Package registry holds the explicit table of runnable checks and actions,
// keyed by their "module/function" dispatch string.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// CheckFunc is a check body. It fills in check and returns an error only for
// failures it wants recorded as an ERROR run.
type CheckFunc func(ctx context.Context, conn *connection.Connection, check *result.Check) error

// ActionFunc is an action body.
type ActionFunc func(ctx context.Context, conn *connection.Connection, action *result.Action) error

// Descriptor describes one registered check or action.
type Descriptor struct {
	Module      string
	Function    string
	Kind        types.Kind
	Description string
	Defaults    types.Kwargs
	Check       CheckFunc
	Action      ActionFunc
}

// Key returns the dispatch string.
func (d Descriptor) Key() string { return d.Module + "/" + d.Function }

// ApplyDefaults returns a copy of kwargs with defaults filled in for every key
// the caller omitted.
func (d Descriptor) ApplyDefaults(kwargs types.Kwargs) types.Kwargs {
	out := kwargs.Clone()
	for k, v := range d.Defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Option configures a registration.
type Option func(*Descriptor)

// WithDefaults sets default kwargs.
func WithDefaults(kw types.Kwargs) Option {
	return func(d *Descriptor) { d.Defaults = kw }
}

// WithDescription sets a human-readable description.
func WithDescription(s string) Option {
	return func(d *Descriptor) { d.Description = s }
}

// Registry maps dispatch strings to descriptors.
type Registry struct {
	items map[string]Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{items: map[string]Descriptor{}}
}

// Register adds d. Duplicate keys and descriptors without a body matching
// their kind are rejected.
func (r *Registry) Register(d Descriptor) error {
	if d.Module == "" || d.Function == "" || strings.Contains(d.Module, "/") || strings.Contains(d.Function, "/") {
		return fmt.Errorf("invalid registration %q", d.Key())
	}
	switch d.Kind {
	case types.KindCheck:
		if d.Check == nil {
			return fmt.Errorf("check %q has no function", d.Key())
		}
	case types.KindAction:
		if d.Action == nil {
			return fmt.Errorf("action %q has no function", d.Key())
		}
	default:
		return fmt.Errorf("%q has unknown kind %q", d.Key(), d.Kind)
	}
	if _, exists := r.items[d.Key()]; exists {
		return fmt.Errorf("duplicate registration %q", d.Key())
	}
	r.items[d.Key()] = d
	return nil
}

// RegisterCheck registers fn as the check module/function.
func (r *Registry) RegisterCheck(module, function string, fn CheckFunc, opts ...Option) error {
	d := Descriptor{Module: module, Function: function, Kind: types.KindCheck, Check: fn}
	for _, o := range opts {
		o(&d)
	}
	return r.Register(d)
}

// RegisterAction registers fn as the action module/function.
func (r *Registry) RegisterAction(module, function string, fn ActionFunc, opts ...Option) error {
	d := Descriptor{Module: module, Function: function, Kind: types.KindAction, Action: fn}
	for _, o := range opts {
		o(&d)
	}
	return r.Register(d)
}

// Lookup returns the descriptor for module/function.
func (r *Registry) Lookup(module, function string) (Descriptor, bool) {
	d, ok := r.items[module+"/"+function]
	return d, ok
}

// HasModule reports whether anything is registered under module.
func (r *Registry) HasModule(module string) bool {
	for _, d := range r.items {
		if d.Module == module {
			return true
		}
	}
	return false
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	seen := map[string]struct{}{}
	for _, d := range r.items {
		seen[d.Module] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// List returns every descriptor sorted by dispatch string.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.items))
	for _, d := range r.items {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Names returns the result namespace names (function names) of every entry, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.items))
	for _, d := range r.List() {
		out = append(out, d.Function)
	}
	return out
}

// Configure returns a registry restricted to specs, with each spec's
// defaults overlaid on the registered ones. An empty spec list keeps
// everything.
func (r *Registry) Configure(specs []types.CheckSpec) (*Registry, error) {
	if len(specs) == 0 {
		return r, nil
	}
	out := New()
	for _, s := range specs {
		d, ok := r.items[s.Name]
		if !ok {
			return nil, fmt.Errorf("configured check %q is not registered", s.Name)
		}
		if len(s.Defaults) > 0 {
			merged := d.Defaults.Clone()
			for k, v := range s.Defaults {
				merged[k] = v
			}
			d.Defaults = merged
		}
		if err := out.Register(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DecodeKwargs decodes kwargs into the struct pointed to by target, accepting
// strings for numbers and booleans.
func DecodeKwargs(kwargs types.Kwargs, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(kwargs)); err != nil {
		return fmt.Errorf("decoding kwargs: %w", err)
	}
	return nil
}
