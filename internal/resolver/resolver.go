// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package resolver implements spec.md §4.3's DependencyResolver: for one
// DependencyDeclaration during a walk, decide which concrete child
// satisfies it (reuse existing, create new, or skip). The resulting
// ChooseAlternative/IncludeEdge closures are handed to internal/walker by
// internal/planner, keeping resolution policy (this package) separate from
// traversal mechanics (internal/walker), the same split as the teacher's
// DependencyResolver/GraphWalker components.
package resolver

import (
	"sort"

	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/policy"
)

// LiveView is the subset of the live (pre-transaction) instance graph the
// resolver needs to make reuse decisions.
type LiveView interface {
	// InstancesOfApp returns every live instance of the given catalog app.
	InstancesOfApp(appID string) []model.AppInstance
	// ReferrersOf returns the instance IDs of live instances with a
	// dependency edge pointing at instanceID.
	ReferrersOf(instanceID string) []string
	// InstanceByID returns the live instance with the given ID, if any.
	InstanceByID(instanceID string) (model.AppInstance, bool)
}

// Decision is the outcome of resolving one declaration.
type Decision int

const (
	// DecisionSkip : do not include this edge at all.
	DecisionSkip Decision = iota
	// DecisionReuse : an existing live instance satisfies the dependency.
	DecisionReuse
	// DecisionCreate : no existing instance satisfies it; one must be created.
	DecisionCreate
)

// Resolver resolves declarations against a LiveView, tracking instances
// already promised to another edge earlier in the same walk so the same
// live instance is not double-counted (spec.md §4.3 step 3, last bullet).
type Resolver struct {
	live      LiveView
	promised  map[string]bool
	stabilize bool
}

// New returns a Resolver bound to live. promised starts empty; call
// MarkPromised as nodes are resolved during a single walk. stabilize
// resolves spec.md §9's second Open Question: when more than one orphaned
// live instance could adopt a CreateAlways declaration, sort candidates by
// instance ID before picking instead of taking whatever order live returns
// them in (which, backed by a real store, is otherwise encounter order and
// not guaranteed stable run to run).
func New(live LiveView, stabilize bool) *Resolver {
	return &Resolver{live: live, promised: make(map[string]bool), stabilize: stabilize}
}

// MarkPromised records that instanceID has already been claimed by an edge
// resolved earlier in this walk.
func (r *Resolver) MarkPromised(instanceID string) {
	if instanceID != "" {
		r.promised[instanceID] = true
	}
}

// ChooseAlternative implements spec.md §4.3 step 1: if there is a single
// alternative, use it. Otherwise prefer a "lonely" candidate - an
// alternative whose AppID has a live instance with no existing parents -
// since it is the most reusable; fall back to the first alternative.
func (r *Resolver) ChooseAlternative(alternatives []model.AppDependencyConfig) model.AppDependencyConfig {
	if len(alternatives) == 1 {
		return alternatives[0]
	}
	for _, alt := range alternatives {
		if alt.AppID == "" {
			continue
		}
		for _, inst := range r.live.InstancesOfApp(alt.AppID) {
			if r.promised[inst.InstanceID] {
				continue
			}
			if len(r.live.ReferrersOf(inst.InstanceID)) == 0 {
				return alt
			}
		}
	}
	return alternatives[0]
}

// FindNeededApp implements spec.md §4.3 step 2.
func (r *Resolver) FindNeededApp(decl model.DependencyDeclaration, chosen model.AppDependencyConfig) (instanceID string, decision Decision) {
	if chosen.SpecificInstanceID != "" {
		if _, ok := r.live.InstanceByID(chosen.SpecificInstanceID); ok {
			return chosen.SpecificInstanceID, DecisionReuse
		}
		return "", DecisionSkip
	}

	candidates := r.live.InstancesOfApp(chosen.AppID)
	if r.stabilize {
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].InstanceID < candidates[j].InstanceID
		})
	}

	switch decl.CreatePolicy {
	case model.CreateAlways:
		for _, inst := range candidates {
			if r.promised[inst.InstanceID] {
				continue
			}
			if len(r.live.ReferrersOf(inst.InstanceID)) == 0 {
				return inst.InstanceID, DecisionReuse
			}
		}
		return "", DecisionCreate
	case model.CreateIfNotExisting:
		for _, inst := range candidates {
			if !r.promised[inst.InstanceID] {
				return inst.InstanceID, DecisionReuse
			}
		}
		return "", DecisionCreate
	case model.CreateNever:
		for _, inst := range candidates {
			if !r.promised[inst.InstanceID] {
				return inst.InstanceID, DecisionReuse
			}
		}
		return "", DecisionSkip
	}
	return "", DecisionSkip
}

// Include implements spec.md §4.3 step 3, combining FindNeededApp's result
// with the declaration's CreatePolicy into a final inclusion call. The
// caller (internal/planner, via internal/walker's IncludeEdge hook) is
// responsible for registering a tentative new instance in the transaction
// when ShouldCreate is true, and for calling MarkPromised when ResolvedID
// is reused.
type Inclusion struct {
	Include      bool
	ShouldCreate bool
	ResolvedID   string
}

// Include resolves one declaration end-to-end.
func (r *Resolver) Include(decl model.DependencyDeclaration, chosen model.AppDependencyConfig) Inclusion {
	instanceID, decision := r.FindNeededApp(decl, chosen)
	switch decision {
	case DecisionSkip:
		return Inclusion{Include: false}
	case DecisionCreate:
		return Inclusion{Include: true, ShouldCreate: true}
	case DecisionReuse:
		if r.promised[instanceID] {
			// Already claimed earlier in this walk: avoid double counting.
			return Inclusion{Include: false}
		}
		return Inclusion{Include: true, ResolvedID: instanceID}
	}
	return Inclusion{Include: false}
}

// liveInstancesAdapter adapts LiveView to policy.LiveInstances for the
// PolicyEngine's allowedToCreate.
type liveInstancesAdapter struct {
	live LiveView
}

// NewLiveInstancesAdapter wraps a LiveView for use with internal/policy.
func NewLiveInstancesAdapter(live LiveView) policy.LiveInstances {
	return &liveInstancesAdapter{live: live}
}

func (a *liveInstancesAdapter) ReferrersOf(instanceID string) []string {
	return a.live.ReferrersOf(instanceID)
}

func (a *liveInstancesAdapter) InstancesOfApp(appID string) []policy.InstanceRef {
	insts := a.live.InstancesOfApp(appID)
	out := make([]policy.InstanceRef, 0, len(insts))
	for _, inst := range insts {
		out = append(out, policy.InstanceRef{
			InstanceID: inst.InstanceID,
			HasParent:  len(a.live.ReferrersOf(inst.InstanceID)) > 0,
		})
	}
	return out
}
