// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements the pure predicate functions of spec.md §4.1.
// They are kept as free functions over model.DependencyDeclaration rather
// than methods on the policy enums, per spec.md §9's design note, so the
// declaration stays a plain value with no behavior of its own - the same
// separation the teacher keeps between depgraph.Item (pure data) and
// reconciler.Configurator (the behavior that interprets it).
package policy

import "github.com/patrickl3/openems-pf/internal/model"

// LiveInstances abstracts the subset of the live+scratch graph the policy
// functions need: who (if anyone) currently refers to a given instance.
type LiveInstances interface {
	// ReferrersOf returns the instance IDs of every live instance with a
	// dependency edge pointing at instanceID.
	ReferrersOf(instanceID string) []string
	// InstancesOfApp returns every live instance of appID, each flagged
	// with whether it has a parent (HasParent false means "lonely").
	InstancesOfApp(appID string) []InstanceRef
}

// InstanceRef is a minimal live-instance reference used by policy checks.
type InstanceRef struct {
	InstanceID string
	HasParent  bool
}

// AllowedToCreate implements spec.md §4.1's allowedToCreate.
func AllowedToCreate(decl model.DependencyDeclaration, existingChildren LiveInstances) bool {
	switch decl.CreatePolicy {
	case model.CreateAlways:
		return true
	case model.CreateNever:
		return false
	case model.CreateIfNotExisting:
		for _, alt := range decl.Alternatives {
			if alt.AppID == "" {
				continue
			}
			for _, ref := range existingChildren.InstancesOfApp(alt.AppID) {
				if !ref.HasParent {
					return false
				}
			}
		}
		return true
	}
	return false
}

// AllowedToUpdate implements spec.md §4.1's allowedToUpdate.
func AllowedToUpdate(decl model.DependencyDeclaration, parentInstanceID, childInstanceID string, live LiveInstances) bool {
	switch decl.UpdatePolicy {
	case model.UpdateAlways:
		return true
	case model.UpdateNever:
		return false
	case model.UpdateIfMine:
		referrers := live.ReferrersOf(childInstanceID)
		return len(referrers) == 1 && referrers[0] == parentInstanceID
	}
	return false
}

// AllowedToDelete implements spec.md §4.1's allowedToDelete.
func AllowedToDelete(decl model.DependencyDeclaration, parentInstanceID, childInstanceID string, live LiveInstances) bool {
	switch decl.DeletePolicy {
	case model.DeleteAlways:
		return true
	case model.DeleteNever:
		return false
	case model.DeleteIfMine:
		referrers := live.ReferrersOf(childInstanceID)
		return len(referrers) == 1 && referrers[0] == parentInstanceID
	}
	return false
}

// ChildMayOverride implements spec.md §4.1's childMayOverride.
func ChildMayOverride(decl model.DependencyDeclaration, propertyName string, parentValue *model.PropertySet) bool {
	switch decl.DependencyUpdatePolicy {
	case model.AllowAllUpdates:
		return true
	case model.AllowNoUpdates:
		return false
	case model.AllowOnlyUnconfiguredProperties:
		return !parentValue.Has(propertyName)
	}
	return false
}

// ParentMayDeleteChild implements spec.md §4.1's parentMayDeleteChild.
func ParentMayDeleteChild(decl model.DependencyDeclaration) bool {
	return decl.DependencyDeletePolicy == model.DeleteAllowed
}
