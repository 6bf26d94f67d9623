// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"

	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/policy"
	"github.com/patrickl3/openems-pf/internal/txn"
	"github.com/patrickl3/openems-pf/internal/walker"
)

// deleteInternal implements spec.md §4.4.2.
func (p *Planner) deleteInternal(ctx context.Context, tx *txn.Transaction, user string, instance model.AppInstance) (*model.AppInstance, error) {
	// Step 4 (checked up front so the request fails before any aggregator
	// sees a delta): every live parent still pointing at instance must be
	// allowed, by its own declaration, to have this child deleted out from
	// under it.
	parents, err := p.store.GetAppsWithDependencyTo(ctx, instance.InstanceID)
	if err != nil {
		return nil, err
	}
	for _, parent := range parents {
		dep, found := findDependencyTo(parent, instance.InstanceID)
		if !found {
			continue
		}
		parentApp, found, err := p.store.GetAppByID(ctx, parent.AppID)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		decl, found := parentApp.DeclarationByKey(dep.Key)
		if !found {
			continue
		}
		if !policy.ParentMayDeleteChild(decl) {
			return nil, &model.PolicyDeniedError{
				DeclarationKey: decl.Key,
				Reason:         "dependency delete not allowed while parent " + parent.InstanceID + " exists",
			}
		}
	}

	view := newLiveView(ctx, p.store, tx)
	lookup := &appLookup{ctx: ctx, store: p.store, tx: tx}
	w := walker.New(lookup, p.log)

	includeInstance := func(parent, child model.AppInstance, decl model.DependencyDeclaration) bool {
		switch decl.DeletePolicy {
		case model.DeleteAlways:
			return true
		case model.DeleteIfMine:
			referrers := view.ReferrersOf(child.InstanceID)
			if len(referrers) == 1 && referrers[0] == parent.InstanceID {
				return true
			}
		}
		// DeleteNever, or DeleteIfMine with another referrer: the child
		// survives. Step 1's demotion: a read-write edge is made
		// read-only before the parent disappears.
		p.demoteToUpdateIfAlwaysUpdatable(ctx, tx, user, child, decl)
		return false
	}

	var root *model.AppInstance
	onNode := func(ctx context.Context, node walker.ExistingNode) (bool, error) {
		oldCfg := node.Config
		p.aggregate(ctx, nil, &oldCfg)
		tx.PutDeleting(node.Instance)
		if node.ParentApp == nil {
			inst := node.Instance
			root = &inst
		}
		return true, nil
	}

	if err := w.WalkExisting(ctx, instance, model.TargetDelete, "", lookup, onNode, includeInstance); err != nil {
		if _, isMissing := err.(*walker.RootNotFoundError); isMissing {
			return nil, &model.InstanceNotFoundError{InstanceID: instance.InstanceID}
		}
		return nil, err
	}

	// Step 3: surviving referrers (live instances untouched by the walk)
	// lose their edges into the deleted set.
	if err := p.fixLiveDanglingEdges(ctx, tx); err != nil {
		return nil, err
	}
	removeDanglingEdges(tx)

	if root == nil {
		root = &instance
	}
	return root, nil
}

// demoteToUpdateIfAlwaysUpdatable implements the second half of spec.md
// §4.4.2 step 1: a child skipped by the delete gate whose UpdatePolicy is
// ALWAYS gets D's property overrides applied via a nested updateInternal
// call, so it is left in a consistent state once the parent vanishes.
func (p *Planner) demoteToUpdateIfAlwaysUpdatable(ctx context.Context, tx *txn.Transaction, user string, child model.AppInstance, decl model.DependencyDeclaration) {
	if decl.UpdatePolicy != model.UpdateAlways {
		return
	}
	childApp, found, err := p.store.GetAppByID(ctx, child.AppID)
	if err != nil || !found {
		return
	}
	overridden := child.Properties.Merge(parentConfiguredProperties(decl))
	if _, err := p.updateInternal(ctx, tx, user, &child, childApp, child.Alias, overridden); err != nil {
		p.log.Warnf("demote-to-update for instance %s failed: %v", child.InstanceID, err)
	}
}

// fixLiveDanglingEdges drops edges into the deleted set from live
// instances the delete walk never touched (they were not descendants of
// the deleted subtree, only referrers of one of its nodes).
func (p *Planner) fixLiveDanglingEdges(ctx context.Context, tx *txn.Transaction) error {
	for _, deleted := range tx.Deleting() {
		referrers, err := p.store.GetAppsWithDependencyTo(ctx, deleted.InstanceID)
		if err != nil {
			return err
		}
		for _, r := range referrers {
			if tx.IsDeleting(r.InstanceID) {
				continue
			}
			inst := r
			if replacement, found, _ := tx.Get(r.InstanceID); found {
				inst = replacement
			}
			var kept []model.Dependency
			changed := false
			for _, d := range inst.Dependencies {
				if tx.IsDeleting(d.InstanceID) {
					changed = true
					continue
				}
				kept = append(kept, d)
			}
			if changed {
				inst.Dependencies = kept
				tx.PutModifying(inst)
			}
		}
	}
	return nil
}
