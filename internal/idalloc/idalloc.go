// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package idalloc implements spec.md §4.5's IdReconciler: assigning stable
// component IDs in a rendered AppConfiguration, reusing IDs from the
// registry or the previous instance where possible and allocating fresh
// ones (base name with trailing digits stripped, plus the next free
// numeric suffix) otherwise.
package idalloc

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/go-cmp/cmp"

	"github.com/patrickl3/openems-pf/internal/model"
)

var trailingDigits = regexp.MustCompile(`[0-9]+$`)

// Registry is the subset of model.ComponentRegistry the reconciler needs.
type Registry interface {
	GetComponent(ctx context.Context, id string) (model.RegisteredComponent, bool, error)
	GetComponentByConfig(ctx context.Context, spec model.ComponentDefinition) (model.RegisteredComponent, bool, error)
	NextAvailableID(ctx context.Context, base string, startingDigit int, claimed map[string]struct{}) (string, error)
}

// Reconciler assigns IDs to the replaceable components of a rendered
// configuration.
type Reconciler struct {
	registry Registry
}

// New returns a Reconciler backed by registry.
func New(registry Registry) *Reconciler {
	return &Reconciler{registry: registry}
}

// Render is the signature of App.Render, reused here so the reconciler can
// probe it independently of the walker's single render pass.
type Render func(target model.Target, alias string, properties *model.PropertySet, language string) (model.AppConfiguration, error)

// slot describes one property-driven component ID.
type slot struct {
	propertyKey  string
	componentIdx int
	defaultID    string
}

// Reconcile assigns final component IDs to cfg (the configuration already
// rendered once with the instance's current properties) and returns the
// updated properties (slot values rewritten to the chosen IDs) alongside
// the reconciled configuration. claimedThisTx accumulates IDs claimed by
// other nodes already processed in the same transaction and is mutated in
// place so later nodes see earlier claims.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	render Render,
	target model.Target,
	alias string,
	properties *model.PropertySet,
	oldProperties *model.PropertySet,
	language string,
	claimedThisTx map[string]struct{},
) (model.AppConfiguration, *model.PropertySet, error) {
	cfg, err := render(target, alias, properties, language)
	if err != nil {
		return model.AppConfiguration{}, nil, err
	}

	slots, err := r.findReplaceableSlots(render, target, alias, properties, language, cfg)
	if err != nil {
		return model.AppConfiguration{}, nil, err
	}

	updatedProps := properties.Clone()
	claimedThisRender := make(map[string]struct{})
	oldIDValues := collectStringValues(oldProperties)

	for _, s := range slots {
		comp := cfg.Components[s.componentIdx]
		chosenID, err := r.chooseID(ctx, comp, s, oldProperties, oldIDValues, claimedThisRender, claimedThisTx)
		if err != nil {
			return model.AppConfiguration{}, nil, err
		}
		comp.ID = chosenID
		cfg.Components[s.componentIdx] = comp
		claimedThisRender[chosenID] = struct{}{}
		claimedThisTx[chosenID] = struct{}{}
		raw, _ := json.Marshal(chosenID)
		updatedProps.Set(s.propertyKey, raw)
	}

	// Non-replaceable components keep their rendered ID; a collision among
	// them (or with a chosen slot ID) is a catalog-authoring error.
	seen := make(map[string]bool, len(cfg.Components))
	for _, comp := range cfg.Components {
		if seen[comp.ID] {
			return model.AppConfiguration{}, nil, &model.InternalError{
				Message: fmt.Sprintf("duplicate component id %q produced for alias %q", comp.ID, alias),
			}
		}
		seen[comp.ID] = true
	}

	return cfg, updatedProps, nil
}

// findReplaceableSlots renders once more with every string-valued property
// simultaneously replaced by a unique per-key sentinel, then compares
// component IDs position-by-position: any component whose ID became a
// sentinel value is sourced from that property (spec.md §4.5 step 1).
func (r *Reconciler) findReplaceableSlots(
	render Render,
	target model.Target,
	alias string,
	properties *model.PropertySet,
	language string,
	defaultCfg model.AppConfiguration,
) ([]slot, error) {
	probeProps := properties.Clone()
	sentinelOf := make(map[string]string) // sentinel -> property key
	for _, key := range properties.Keys() {
		raw, _ := properties.Get(key)
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue // not a string-valued property, cannot source an ID
		}
		sentinel := fmt.Sprintf("__idprobe_%s__", key)
		sentinelOf[sentinel] = key
		sentinelRaw, _ := json.Marshal(sentinel)
		probeProps.Set(key, sentinelRaw)
	}
	if len(sentinelOf) == 0 {
		return nil, nil
	}

	probeCfg, err := render(target, alias, probeProps, language)
	if err != nil {
		// Probe render failing is not fatal to the real render that already
		// succeeded; simply report no replaceable slots.
		return nil, nil
	}
	if len(probeCfg.Components) != len(defaultCfg.Components) {
		// Catalog renders a structurally different component list under the
		// probe - cannot correlate by position, so treat as no slots found.
		return nil, nil
	}

	var slots []slot
	for i, comp := range probeCfg.Components {
		if key, ok := sentinelOf[comp.ID]; ok {
			slots = append(slots, slot{
				propertyKey:  key,
				componentIdx: i,
				defaultID:    defaultCfg.Components[i].ID,
			})
		}
	}
	return slots, nil
}

func (r *Reconciler) chooseID(
	ctx context.Context,
	comp model.ComponentDefinition,
	s slot,
	oldProperties *model.PropertySet,
	oldIDValues map[string]bool,
	claimedThisRender, claimedThisTx map[string]struct{},
) (string, error) {
	// 1. Reuse a byte-equivalent registered component's ID.
	if existing, found, err := r.registry.GetComponentByConfig(ctx, comp); err != nil {
		return "", err
	} else if found {
		return existing.ID, nil
	}

	// 2. Reuse the old instance's ID for this slot, unless the factory
	// mismatches or another app in this transaction already claims it.
	if oldProperties != nil {
		if raw, ok := oldProperties.Get(s.propertyKey); ok {
			var oldID string
			if err := json.Unmarshal(raw, &oldID); err == nil && oldID != "" {
				if _, claimed := claimedThisTx[oldID]; !claimed {
					reg, found, err := r.registry.GetComponent(ctx, oldID)
					if err != nil {
						return "", err
					}
					if !found || reg.FactoryID == comp.FactoryID {
						return oldID, nil
					}
				}
			}
		}
	}

	// 3. Use the default ID from this render if unclaimed.
	if !isClaimed(comp.ID, claimedThisRender, claimedThisTx, oldIDValues) {
		if _, found, err := r.registry.GetComponent(ctx, comp.ID); err != nil {
			return "", err
		} else if !found {
			return comp.ID, nil
		}
	}

	// 4. Allocate a fresh ID.
	base := trailingDigits.ReplaceAllString(comp.ID, "")
	claimed := mergeClaimed(claimedThisRender, claimedThisTx, oldIDValues)
	return r.registry.NextAvailableID(ctx, base, 0, claimed)
}

func isClaimed(id string, claimedThisRender, claimedThisTx map[string]struct{}, oldIDValues map[string]bool) bool {
	if _, ok := claimedThisRender[id]; ok {
		return true
	}
	if _, ok := claimedThisTx[id]; ok {
		return true
	}
	return oldIDValues[id]
}

func mergeClaimed(a, b map[string]struct{}, oldIDValues map[string]bool) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b)+len(oldIDValues))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	for k, v := range oldIDValues {
		if v {
			out[k] = struct{}{}
		}
	}
	return out
}

func collectStringValues(props *model.PropertySet) map[string]bool {
	out := make(map[string]bool)
	if props == nil {
		return out
	}
	for _, key := range props.Keys() {
		raw, _ := props.Get(key)
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			out[s] = true
		}
	}
	return out
}

// ByteEquivalent reports whether two component definitions are
// byte-equivalent for reuse purposes (ignores ID, since that is what is
// being reconciled).
func ByteEquivalent(a, b model.ComponentDefinition) bool {
	a.ID, b.ID = "", ""
	return cmp.Equal(a.FactoryID, b.FactoryID) &&
		cmp.Equal(a.Alias, b.Alias) &&
		propsEqual(a.Properties, b.Properties)
}

func propsEqual(a, b *model.PropertySet) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}
