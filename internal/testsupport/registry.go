// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package testsupport

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/patrickl3/openems-pf/internal/idalloc"
	"github.com/patrickl3/openems-pf/internal/model"
)

// Registry is an in-memory model.ComponentRegistry, keyed by component ID.
type Registry struct {
	mu         sync.Mutex
	components map[string]model.RegisteredComponent
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{components: make(map[string]model.RegisteredComponent)}
}

// Register records comp as currently live, as if a prior aggregator commit
// had realized it.
func (r *Registry) Register(comp model.RegisteredComponent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[comp.ID] = comp
}

// Unregister removes a component by ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, id)
}

// GetComponent implements model.ComponentRegistry.
func (r *Registry) GetComponent(ctx context.Context, id string) (model.RegisteredComponent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.components[id]
	return c, ok, nil
}

// GetComponentByConfig implements model.ComponentRegistry, matching on
// byte-equivalence via internal/idalloc.ByteEquivalent (spec.md §4.5 step 2).
func (r *Registry) GetComponentByConfig(ctx context.Context, spec model.ComponentDefinition) (model.RegisteredComponent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.components))
	for id := range r.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := r.components[id]
		def := model.ComponentDefinition{ID: c.ID, FactoryID: c.FactoryID, Properties: c.Properties}
		if idalloc.ByteEquivalent(def, spec) {
			return c, true, nil
		}
	}
	return model.RegisteredComponent{}, false, nil
}

// NextAvailableID implements model.ComponentRegistry: appends the first
// unclaimed numeric suffix >= startingDigit to base.
func (r *Registry) NextAvailableID(ctx context.Context, base string, startingDigit int, claimed map[string]struct{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := startingDigit; ; n++ {
		candidate := fmt.Sprintf("%s%d", base, n)
		if _, inClaimed := claimed[candidate]; inClaimed {
			continue
		}
		if _, inRegistry := r.components[candidate]; inRegistry {
			continue
		}
		return candidate, nil
	}
}
