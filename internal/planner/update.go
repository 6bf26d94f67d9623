// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"
	"sort"

	"github.com/google/go-cmp/cmp"

	"github.com/patrickl3/openems-pf/internal/idalloc"
	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/policy"
	"github.com/patrickl3/openems-pf/internal/resolver"
	"github.com/patrickl3/openems-pf/internal/txn"
	"github.com/patrickl3/openems-pf/internal/walker"
)

// oldDepEntry is one entry of the old installed subtree, indexed by
// (parentAppID, declKey) per spec.md §4.4.1 step 3.
type oldDepEntry struct {
	Child            model.AppInstance
	ParentInstanceID string
	Decl             model.DependencyDeclaration
}

// updateInternal implements spec.md §4.4.1. oldInstance is nil for an
// install. It returns the root node's final instance so the caller can
// populate Result.Root.
func (p *Planner) updateInternal(
	ctx context.Context,
	tx *txn.Transaction,
	user string,
	oldInstance *model.AppInstance,
	app model.App,
	alias string,
	properties *model.PropertySet,
) (*model.AppInstance, error) {
	// Step 1: installability check on a fresh install.
	if oldInstance == nil {
		cfg, err := app.Render(model.TargetTest, alias, properties, "")
		if err != nil {
			return nil, &model.RenderFailedError{AppID: app.AppID, Alias: alias, Cause: err}
		}
		status, err := p.validator.Status(ctx, cfg)
		if err != nil {
			return nil, err
		}
		switch status {
		case model.StatusIncompatible:
			return nil, &model.NotCompatibleError{AppID: app.AppID, Message: p.validator.Message(ctx, "")}
		case model.StatusCompatible:
			return nil, &model.NotInstallableError{AppID: app.AppID, Message: p.validator.Message(ctx, "")}
		}
	}

	rootInstanceID := newInstanceID()
	if oldInstance != nil {
		rootInstanceID = oldInstance.InstanceID
		// Step 2: protect properties configured by oldInstance's own
		// live parents before the new properties are allowed to take
		// effect.
		restored, warnings, err := p.restoreParentConfiguredProperties(ctx, *oldInstance, properties)
		if err != nil {
			return nil, err
		}
		properties = restored
		for _, w := range warnings {
			tx.AddWarning(w)
		}
	}

	// Step 3: index the old installed subtree by (parentAppID, declKey).
	oldDependencies := make(map[string]oldDepEntry)
	if oldInstance != nil {
		lookup := &appLookup{ctx: ctx, store: p.store, tx: tx}
		w := walker.New(lookup, p.log)
		err := w.WalkExisting(ctx, *oldInstance, model.TargetTest, "", lookup,
			func(ctx context.Context, node walker.ExistingNode) (bool, error) {
				if node.ParentApp != nil && node.ParentInst != nil && node.Declaration != nil {
					oldDependencies[declKeyIndex(node.ParentApp.AppID, node.Declaration.Key)] = oldDepEntry{
						Child:            node.Instance,
						ParentInstanceID: node.ParentInst.InstanceID,
						Decl:             *node.Declaration,
					}
				}
				return true, nil
			},
			func(parent, child model.AppInstance, decl model.DependencyDeclaration) bool { return true },
		)
		if _, isRootMissing := err.(*walker.RootNotFoundError); isRootMissing {
			return nil, &model.InstanceNotFoundError{InstanceID: oldInstance.InstanceID}
		}
		if err != nil {
			return nil, err
		}
	}
	matchedOld := make(map[string]bool, len(oldDependencies))

	view := newLiveView(ctx, p.store, tx)
	res := resolver.New(view, p.opts.StabilizeAlwaysParentOrder)
	reconciler := idalloc.New(componentRegistryAdapter(p.registry))
	lookup := &appLookup{ctx: ctx, store: p.store, tx: tx}
	w := walker.New(lookup, p.log)

	// childEdges accumulates, per node instance ID, the Dependency edges
	// resolved for that node's own declarations - populated as soon as
	// includeEdge decides an inclusion, consumed when onNode fires for
	// that instance.
	childEdges := make(map[string][]model.Dependency)

	// treeParents collects every instance ID that acts as a declaring parent
	// somewhere in this walk (seeded with the root), so opportunistic
	// cross-parent linking (step 4b) never re-links a node already part of
	// this request's own tree.
	treeParents := map[string]bool{rootInstanceID: true}

	includeEdge := func(parentApp model.App, parentInstanceID string, decl model.DependencyDeclaration, chosen model.AppDependencyConfig) (walker.IncludeDecision, string) {
		treeParents[parentInstanceID] = true
		incl := res.Include(decl, chosen)
		if !incl.Include {
			return walker.NotIncluded, ""
		}
		if incl.ShouldCreate {
			if !policy.AllowedToCreate(decl, resolver.NewLiveInstancesAdapter(view)) {
				return walker.NotIncluded, ""
			}
			newID := newInstanceID()
			childEdges[parentInstanceID] = append(childEdges[parentInstanceID], model.Dependency{Key: decl.Key, InstanceID: newID})
			return walker.IncludeWithDependencies, newID
		}
		res.MarkPromised(incl.ResolvedID)
		childEdges[parentInstanceID] = append(childEdges[parentInstanceID], model.Dependency{Key: decl.Key, InstanceID: incl.ResolvedID})
		return walker.IncludeOnlyApp, incl.ResolvedID
	}

	var root *model.AppInstance
	claimedIDs := make(map[string]struct{})

	onNode := func(ctx context.Context, node walker.DesiredNode) (bool, error) {
		if node.Reused {
			// Reuse edges are already recorded via childEdges. If this
			// declaration already pointed at the same live instance
			// before this request, mark the old entry matched so step 5
			// does not mistake it for a dropped dependency. Step 4b only
			// applies when that is not the case - i.e. this request is
			// what newly adopts the live instance for this declaration.
			wasAlreadyWired := false
			if node.ParentApp != nil && node.Declaration != nil {
				key := declKeyIndex(node.ParentApp.AppID, node.Declaration.Key)
				if entry, ok := oldDependencies[key]; ok && entry.Child.InstanceID == node.InstanceID {
					wasAlreadyWired = true
					matchedOld[key] = true
				}
			}
			if !wasAlreadyWired {
				if err := p.linkOpportunisticDependent(ctx, tx, view, node.InstanceID, node.App.AppID, treeParents); err != nil {
					return false, err
				}
			}
			return true, nil
		}

		var oldChild *model.AppInstance
		key := ""
		if node.ParentApp != nil && node.Declaration != nil {
			key = declKeyIndex(node.ParentApp.AppID, node.Declaration.Key)
			if entry, ok := oldDependencies[key]; ok {
				matchedOld[key] = true
				oldChild = &entry.Child
			}
		} else if oldInstance != nil {
			oldChild = oldInstance
		}

		finalProps := node.Properties
		var oldProps *model.PropertySet
		if oldChild != nil {
			oldProps = oldChild.Properties
			if oldChild.AppID == node.App.AppID {
				// 4a: carry forward properties the new config did not set.
				finalProps = oldChild.Properties.Merge(node.Properties)
			}
			// else: AppID mismatch under the same declaration key is a
			// replacement; oldChild's subtree is left unmatched and is
			// removed in the unmatched-old-dependency pass below.
		}

		cfg, updatedProps, err := reconciler.Reconcile(ctx, node.App.Render, model.TargetUpdate, node.Alias, finalProps, oldProps, "", claimedIDs)
		if err != nil {
			p.log.Warnf("render/reconcile failed for app %s alias %q: %v", node.App.AppID, node.Alias, err)
			return false, nil
		}

		stored := stripNonPersistable(node.App, updatedProps)
		inst := model.AppInstance{
			InstanceID:   node.InstanceID,
			AppID:        node.App.AppID,
			Alias:        node.Alias,
			Properties:   stored,
			Dependencies: childEdges[node.InstanceID],
		}
		delete(childEdges, node.InstanceID)

		tx.RecordConfig(inst.InstanceID, cfg)
		var oldCfgPtr *model.AppConfiguration
		if oldChild != nil {
			oc, err := node.App.Render(model.TargetTest, oldChild.Alias, oldChild.Properties, "")
			if err == nil {
				oldCfgPtr = &oc
			}
		}
		p.aggregate(ctx, &cfg, oldCfgPtr)

		if oldChild != nil {
			// Invariant 5 (spec.md §8): modifying holds only instances whose
			// rendered configuration genuinely differs from what is already
			// live, so a true no-op update is not reported as a change.
			if oldCfgPtr == nil || !instanceUnchanged(*oldChild, inst, cfg, *oldCfgPtr) {
				tx.PutModifying(inst)
			}
		} else {
			tx.PutCreating(inst)
		}

		if node.ParentApp == nil && node.Declaration == nil {
			root = &inst
		}
		return true, nil
	}

	if err := w.WalkDesired(ctx, app, alias, properties, rootInstanceID, model.TargetUpdate, "", onNode, includeEdge, res.ChooseAlternative); err != nil {
		return nil, err
	}

	// Step 5: unmatched old dependencies are removals.
	for key, entry := range oldDependencies {
		if matchedOld[key] {
			continue
		}
		if !policy.AllowedToDelete(entry.Decl, entry.ParentInstanceID, entry.Child.InstanceID, resolver.NewLiveInstancesAdapter(view)) {
			continue
		}
		oldCfg, _ := func() (model.AppConfiguration, error) {
			childApp, found, err := p.store.GetAppByID(ctx, entry.Child.AppID)
			if err != nil || !found {
				return model.AppConfiguration{}, err
			}
			return childApp.Render(model.TargetTest, entry.Child.Alias, entry.Child.Properties, "")
		}()
		p.aggregate(ctx, nil, &oldCfg)
		tx.PutDeleting(entry.Child)
	}

	// Step 6: drop dangling edges on surviving instances.
	removeDanglingEdges(tx)

	if root == nil && oldInstance != nil {
		root = oldInstance
	}
	return root, nil
}

// instanceUnchanged reports whether oldInst/oldCfg and newInst/newCfg are
// equivalent: same alias, same persisted properties, same dependency edges
// and the same rendered configuration. cmp.Equal walks AppConfiguration's
// nested *PropertySet fields via PropertySet's own Equal method rather than
// panicking on its unexported keys/values slots.
func instanceUnchanged(oldInst, newInst model.AppInstance, newCfg, oldCfg model.AppConfiguration) bool {
	if oldInst.Alias != newInst.Alias {
		return false
	}
	if !oldInst.Properties.Equal(newInst.Properties) {
		return false
	}
	if !dependenciesEqual(oldInst.Dependencies, newInst.Dependencies) {
		return false
	}
	return cmp.Equal(oldCfg, newCfg)
}

// dependenciesEqual compares two dependency-edge sets by (key -> instance
// ID), ignoring order.
func dependenciesEqual(a, b []model.Dependency) bool {
	if len(a) != len(b) {
		return false
	}
	am := make(map[string]string, len(a))
	for _, d := range a {
		am[d.Key] = d.InstanceID
	}
	for _, d := range b {
		if got, ok := am[d.Key]; !ok || got != d.InstanceID {
			return false
		}
	}
	return true
}

// linkOpportunisticDependent implements spec.md §4.4.1 step 4b: when this
// walk adopts (reuses) an existing live instance for one of its own
// declarations, that adoption is also a chance to satisfy some *other* live
// instance's unrelated, still-unsatisfied dependency on the same child app.
// At most one such instance is linked, preferring a lonely candidate (no
// referrers of its own yet) and otherwise falling back to a candidate whose
// declaration uses the ALWAYS create policy - the same preference order
// internal/resolver's own ChooseAlternative/FindNeededApp apply when picking
// among several live candidates for a single declaration.
func (p *Planner) linkOpportunisticDependent(ctx context.Context, tx *txn.Transaction, view *liveView, childInstanceID, childAppID string, treeParents map[string]bool) error {
	candidates, err := p.store.GetUnsatisfiedDependents(ctx, childAppID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	filtered := make([]model.UnsatisfiedDependent, 0, len(candidates))
	for _, c := range candidates {
		if treeParents[c.Instance.InstanceID] || c.Instance.InstanceID == childInstanceID {
			continue
		}
		if tx.IsDeleting(c.Instance.InstanceID) {
			continue
		}
		if !policy.AllowedToCreate(c.Decl, resolver.NewLiveInstancesAdapter(view)) {
			continue
		}
		filtered = append(filtered, c)
	}
	if len(filtered) == 0 {
		return nil
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Instance.InstanceID < filtered[j].Instance.InstanceID
	})

	var chosen *model.UnsatisfiedDependent
	for i := range filtered {
		if len(view.ReferrersOf(filtered[i].Instance.InstanceID)) == 0 {
			chosen = &filtered[i]
			break
		}
	}
	if chosen == nil {
		for i := range filtered {
			if filtered[i].Decl.CreatePolicy == model.CreateAlways {
				chosen = &filtered[i]
				break
			}
		}
	}
	if chosen == nil {
		return nil
	}

	dependent := chosen.Instance
	if replacement, found, deleting := tx.Get(dependent.InstanceID); found {
		dependent = replacement
	} else if deleting {
		return nil
	}

	oldCfg, err := p.renderInstance(ctx, dependent)
	if err != nil {
		return nil
	}
	dependent.Dependencies = append(append([]model.Dependency(nil), dependent.Dependencies...),
		model.Dependency{Key: chosen.Decl.Key, InstanceID: childInstanceID})

	newCfg, err := p.renderInstance(ctx, dependent)
	if err != nil {
		return nil
	}
	p.aggregate(ctx, &newCfg, &oldCfg)
	tx.RecordConfig(dependent.InstanceID, newCfg)
	tx.PutModifying(dependent)
	return nil
}

// renderInstance renders inst's current catalog app against its own
// properties, the way onNode diffs an instance's before/after configuration.
func (p *Planner) renderInstance(ctx context.Context, inst model.AppInstance) (model.AppConfiguration, error) {
	app, found, err := p.store.GetAppByID(ctx, inst.AppID)
	if err != nil {
		return model.AppConfiguration{}, err
	}
	if !found {
		return model.AppConfiguration{}, &model.AppNotFoundError{AppID: inst.AppID}
	}
	return app.Render(model.TargetTest, inst.Alias, inst.Properties, "")
}

// restoreParentConfiguredProperties implements spec.md §4.4.1 step 2: for
// every live parent of oldInstance, re-apply DependencyUpdatePolicy to
// decide whether newProperties may keep its changes to properties that
// parent originally configured.
func (p *Planner) restoreParentConfiguredProperties(ctx context.Context, oldInstance model.AppInstance, newProperties *model.PropertySet) (*model.PropertySet, []string, error) {
	parents, err := p.store.GetAppsWithDependencyTo(ctx, oldInstance.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	result := newProperties.Clone()
	var warnings []string
	for _, parent := range parents {
		dep, found := findDependencyTo(parent, oldInstance.InstanceID)
		if !found {
			continue
		}
		parentApp, found, err := p.store.GetAppByID(ctx, parent.AppID)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			continue
		}
		decl, found := parentApp.DeclarationByKey(dep.Key)
		if !found {
			continue
		}
		configured := parentConfiguredProperties(decl)
		for _, key := range configured.Keys() {
			parentVal, _ := configured.Get(key)
			newVal, hasNew := result.Get(key)
			oldVal, _ := oldInstance.Properties.Get(key)
			changed := hasNew && string(newVal) != string(oldVal)
			switch decl.DependencyUpdatePolicy {
			case model.AllowNoUpdates:
				if changed {
					return nil, nil, &model.PolicyDeniedError{
						DeclarationKey: decl.Key,
						Reason:         "property " + key + " is owned by parent and DependencyUpdatePolicy is ALLOW_NONE",
					}
				}
			case model.AllowOnlyUnconfiguredProperties:
				if !policy.ChildMayOverride(decl, key, configured) && changed {
					result.Set(key, parentVal)
					warnings = append(warnings, "property "+key+" restored to parent-configured value (declaration "+decl.Key+")")
				}
			case model.AllowAllUpdates:
				// no restriction
			}
		}
	}
	return result, warnings, nil
}

func parentConfiguredProperties(decl model.DependencyDeclaration) *model.PropertySet {
	out := model.NewPropertySet()
	for _, alt := range decl.Alternatives {
		if alt.Properties == nil {
			continue
		}
		for _, k := range alt.Properties.Keys() {
			v, _ := alt.Properties.Get(k)
			out.Set(k, v)
		}
	}
	return out
}

func findDependencyTo(inst model.AppInstance, targetInstanceID string) (model.Dependency, bool) {
	for _, d := range inst.Dependencies {
		if d.InstanceID == targetInstanceID {
			return d, true
		}
	}
	return model.Dependency{}, false
}

func stripNonPersistable(app model.App, props *model.PropertySet) *model.PropertySet {
	out := model.NewPropertySet()
	for _, key := range props.Keys() {
		if !app.IsPersistable(key) {
			continue
		}
		v, _ := props.Get(key)
		out.Set(key, v)
	}
	return out
}

// removeDanglingEdges implements spec.md §4.4.1 step 6: any surviving
// instance (creating or modifying) whose dependencies point at an instance
// now staged for deletion has those edges dropped and is re-recorded as
// modifying.
func removeDanglingEdges(tx *txn.Transaction) {
	fix := func(inst model.AppInstance) (model.AppInstance, bool) {
		var kept []model.Dependency
		changed := false
		for _, d := range inst.Dependencies {
			if tx.IsDeleting(d.InstanceID) {
				changed = true
				continue
			}
			kept = append(kept, d)
		}
		inst.Dependencies = kept
		return inst, changed
	}
	for _, inst := range tx.Creating() {
		if fixed, changed := fix(inst); changed {
			tx.PutCreating(fixed)
		}
	}
	for _, inst := range tx.Modifying() {
		if fixed, changed := fix(inst); changed {
			tx.PutModifying(fixed)
		}
	}
}
