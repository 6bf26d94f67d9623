// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package walker implements the two depth-first traversals of spec.md
// §4.2: walkDesired (descends an app's declared dependency tree) and
// walkExisting (descends an installed instance's stored dependency edges).
// Both are recursive with an explicit visited-set, post-order ("children
// before parent"), matching spec.md's "Recursive, cycle-safe traversal"
// characterization of GraphWalker.
package walker

import (
	"context"
	"fmt"

	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/logging"
)

// IncludeDecision is the result of deciding whether/how to descend into a
// declared dependency, per spec.md §4.3's includeEdge.
type IncludeDecision int

const (
	// NotIncluded : the edge is not followed at all.
	NotIncluded IncludeDecision = iota
	// IncludeOnlyApp : reuse an existing subgraph as-is, do not recurse
	// into its own dependencies (they are already satisfied).
	IncludeOnlyApp
	// IncludeWithDependencies : descend and resolve this node's own
	// dependencies too (used for freshly created nodes).
	IncludeWithDependencies
)

// AppLookup resolves a catalog appID to its App definition.
type AppLookup interface {
	GetAppByID(ctx context.Context, appID string) (model.App, bool, error)
}

// DesiredNode is what onNode receives for each node of the desired tree.
type DesiredNode struct {
	App         model.App
	Alias       string
	Properties  *model.PropertySet
	Config      model.AppConfiguration
	ParentApp   *model.App
	Declaration *model.DependencyDeclaration
	// InstanceID is this node's own resolved instance ID - the root's
	// instance ID for the root node, otherwise whatever IncludeEdge
	// returned for the declaration this node satisfies.
	InstanceID string
	// Reused is true when this node corresponds to the reuse of an
	// existing live instance (decision == IncludeOnlyApp) rather than a
	// freshly created one; in that case App carries only the AppID and
	// Alias/Properties/Config are zero, since the subgraph is not
	// re-rendered.
	Reused bool
}

// ChooseAlternative implements spec.md §4.3 step 1.
type ChooseAlternative func(alternatives []model.AppDependencyConfig) model.AppDependencyConfig

// IncludeEdge implements spec.md §4.3 steps 2-3. parentInstanceID is the
// resolved instance ID of the node declaring decl. When the decision is
// IncludeOnlyApp, resolvedInstanceID must be the instance ID being reused;
// for IncludeWithDependencies it must be the (possibly freshly allocated)
// instance ID the descended subtree will be assigned.
type IncludeEdge func(parentApp model.App, parentInstanceID string, decl model.DependencyDeclaration, chosen model.AppDependencyConfig) (decision IncludeDecision, resolvedInstanceID string)

// OnDesiredNode is invoked in post-order for every visited desired node.
// Returning false hides the node from the caller's result set without
// aborting the walk (used for render failures, per spec.md §4.2).
type OnDesiredNode func(ctx context.Context, node DesiredNode) (surface bool, err error)

// Walker runs both traversal modes.
type Walker struct {
	apps AppLookup
	log  *logging.Logger
}

// New returns a Walker that resolves catalog apps via apps.
func New(apps AppLookup, log *logging.Logger) *Walker {
	return &Walker{apps: apps, log: log}
}

// WalkDesired descends the desired dependency tree rooted at rootApp,
// invoking onNode in post-order (every included dependency of a node fires
// onNode before the node itself does). Siblings are visited in declaration
// order. Cycles are broken by a visited-set of specificInstanceId values
// already entered on the current path.
func (w *Walker) WalkDesired(
	ctx context.Context,
	rootApp model.App,
	rootAlias string,
	rootProperties *model.PropertySet,
	rootInstanceID string,
	target model.Target,
	language string,
	onNode OnDesiredNode,
	includeEdge IncludeEdge,
	chooseAlternative ChooseAlternative,
) error {
	visited := make(map[string]bool)
	_, err := w.walkDesiredNode(ctx, rootApp, rootAlias, rootProperties, rootInstanceID, target, language,
		nil, nil, "", onNode, includeEdge, chooseAlternative, visited)
	return err
}

func (w *Walker) walkDesiredNode(
	ctx context.Context,
	app model.App,
	alias string,
	properties *model.PropertySet,
	instanceID string,
	target model.Target,
	language string,
	parentApp *model.App,
	decl *model.DependencyDeclaration,
	cycleKey string,
	onNode OnDesiredNode,
	includeEdge IncludeEdge,
	chooseAlternative ChooseAlternative,
	visited map[string]bool,
) (surfaced bool, err error) {
	if cycleKey != "" {
		if visited[cycleKey] {
			return false, &CycleError{InstanceID: cycleKey}
		}
		visited[cycleKey] = true
		defer delete(visited, cycleKey)
	}

	cfg, err := app.Render(target, alias, properties, language)
	if err != nil {
		w.log.Warnf("render failed for app %s alias %q: %v", app.AppID, alias, err)
		return false, nil // skipped, not fatal - see spec.md §7 RenderFailed
	}

	// Children before parent: resolve every declaration first.
	for i := range cfg.ChildDeclarations {
		childDecl := cfg.ChildDeclarations[i]
		if len(childDecl.Alternatives) == 0 {
			continue
		}
		chosen := chooseAlternative(childDecl.Alternatives)
		decision, resolvedID := includeEdge(app, instanceID, childDecl, chosen)
		switch decision {
		case NotIncluded:
			continue
		case IncludeOnlyApp:
			node := DesiredNode{
				App:         model.App{AppID: chosen.AppID},
				ParentApp:   &app,
				Declaration: &childDecl,
				InstanceID:  resolvedID,
				Reused:      true,
			}
			if _, err := onNode(ctx, node); err != nil {
				return false, err
			}
		case IncludeWithDependencies:
			childApp, found, lookupErr := w.apps.GetAppByID(ctx, chosen.AppID)
			if lookupErr != nil {
				return false, lookupErr
			}
			if !found {
				w.log.Warnf("app %s referenced by declaration %q not found, skipping",
					chosen.AppID, childDecl.Key)
				continue
			}
			childAlias := chosen.Alias
			if childAlias == "" {
				childAlias = childDecl.Key
			}
			childProps := mergeChildProperties(chosen)
			if _, err := w.walkDesiredNode(ctx, childApp, childAlias, childProps, resolvedID, target, language,
				&app, &childDecl, resolvedID, onNode, includeEdge, chooseAlternative, visited); err != nil {
				return false, err
			}
		}
	}

	node := DesiredNode{
		App:         app,
		Alias:       alias,
		Properties:  properties,
		Config:      cfg,
		ParentApp:   parentApp,
		Declaration: decl,
		InstanceID:  instanceID,
	}
	surface, err := onNode(ctx, node)
	if err != nil {
		return false, err
	}
	return surface, nil
}

func mergeChildProperties(chosen model.AppDependencyConfig) *model.PropertySet {
	props := model.NewPropertySet()
	if chosen.InitialProperties != nil {
		props = props.Merge(chosen.InitialProperties)
	}
	if chosen.Properties != nil {
		props = props.Merge(chosen.Properties)
	}
	return props
}

// InstanceLookup resolves a stored instance ID to its AppInstance.
type InstanceLookup interface {
	GetInstanceByID(ctx context.Context, instanceID string) (model.AppInstance, bool, error)
}

// ExistingNode is what onNode receives for each node of an installed graph.
type ExistingNode struct {
	Instance      model.AppInstance
	App           model.App
	Config        model.AppConfiguration
	ParentApp     *model.App
	ParentInst    *model.AppInstance
	Declaration   *model.DependencyDeclaration
}

// IncludeInstance gates whether an edge of the installed graph is followed.
type IncludeInstance func(parent, child model.AppInstance, decl model.DependencyDeclaration) bool

// OnExistingNode is invoked in post-order for every visited existing node.
type OnExistingNode func(ctx context.Context, node ExistingNode) (surface bool, err error)

// WalkExisting descends the installed dependency graph rooted at
// rootInstance, invoking onNode in post-order. Cycles are broken by a
// visited-set of instance IDs already entered on the current path.
func (w *Walker) WalkExisting(
	ctx context.Context,
	rootInstance model.AppInstance,
	target model.Target,
	language string,
	instances InstanceLookup,
	onNode OnExistingNode,
	includeInstance IncludeInstance,
) error {
	visited := make(map[string]bool)
	_, err := w.walkExistingNode(ctx, rootInstance, target, language, instances,
		nil, nil, nil, onNode, includeInstance, visited)
	if _, isMissingRoot := err.(*RootNotFoundError); isMissingRoot {
		return err
	}
	return err
}

func (w *Walker) walkExistingNode(
	ctx context.Context,
	inst model.AppInstance,
	target model.Target,
	language string,
	instances InstanceLookup,
	parentApp *model.App,
	parentInst *model.AppInstance,
	decl *model.DependencyDeclaration,
	onNode OnExistingNode,
	includeInstance IncludeInstance,
	visited map[string]bool,
) (surfaced bool, err error) {
	if visited[inst.InstanceID] {
		return false, &CycleError{InstanceID: inst.InstanceID}
	}
	visited[inst.InstanceID] = true
	defer delete(visited, inst.InstanceID)

	app, found, err := w.apps.GetAppByID(ctx, inst.AppID)
	if err != nil {
		return false, err
	}
	if !found {
		if parentApp == nil {
			return false, &RootNotFoundError{InstanceID: inst.InstanceID}
		}
		w.log.Warnf("catalog app %s for instance %s not found, skipping", inst.AppID, inst.InstanceID)
		return false, nil
	}

	for i := range inst.Dependencies {
		dep := inst.Dependencies[i]
		childDecl, found := app.DeclarationByKey(dep.Key)
		if !found {
			w.log.Warnf("declaration %q on app %s no longer exists, skipping stale edge to %s",
				dep.Key, app.AppID, dep.InstanceID)
			continue
		}
		child, found, err := instances.GetInstanceByID(ctx, dep.InstanceID)
		if err != nil {
			return false, err
		}
		if !found {
			w.log.Warnf("instance %s (dependency %q of %s) not found, skipping dangling edge",
				dep.InstanceID, dep.Key, inst.InstanceID)
			continue
		}
		if !includeInstance(inst, child, childDecl) {
			continue
		}
		if _, err := w.walkExistingNode(ctx, child, target, language, instances,
			&app, &inst, &childDecl, onNode, includeInstance, visited); err != nil {
			return false, err
		}
	}

	cfg, renderErr := app.Render(target, inst.Alias, inst.Properties, language)
	if renderErr != nil {
		w.log.Warnf("render failed for instance %s (app %s): %v", inst.InstanceID, app.AppID, renderErr)
		return false, nil
	}
	node := ExistingNode{
		Instance:    inst,
		App:         app,
		Config:      cfg,
		ParentApp:   parentApp,
		ParentInst:  parentInst,
		Declaration: decl,
	}
	return onNode(ctx, node)
}

// CycleError signals that a cycle was detected and broken by the
// visited-set (spec.md §7 Internal error kind).
type CycleError struct {
	InstanceID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("internal error: dependency cycle detected while walking at %q", e.InstanceID)
}

// RootNotFoundError signals that the request's root app/instance itself
// could not be resolved - unlike non-root misses, this aborts the request
// (spec.md §7).
type RootNotFoundError struct {
	InstanceID string
}

func (e *RootNotFoundError) Error() string {
	return fmt.Sprintf("root instance %s not found", e.InstanceID)
}
