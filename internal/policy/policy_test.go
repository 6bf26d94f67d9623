// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package policy_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/policy"
)

// fakeLive is a minimal policy.LiveInstances backed by plain maps, enough to
// drive the predicate tests without needing a real store or transaction.
type fakeLive struct {
	referrers map[string][]string
	instances map[string][]policy.InstanceRef
}

func (f *fakeLive) ReferrersOf(instanceID string) []string {
	return f.referrers[instanceID]
}

func (f *fakeLive) InstancesOfApp(appID string) []policy.InstanceRef {
	return f.instances[appID]
}

func TestAllowedToCreate(t *testing.T) {
	g := NewWithT(t)

	g.Expect(policy.AllowedToCreate(model.DependencyDeclaration{CreatePolicy: model.CreateAlways}, &fakeLive{})).To(BeTrue())
	g.Expect(policy.AllowedToCreate(model.DependencyDeclaration{CreatePolicy: model.CreateNever}, &fakeLive{})).To(BeFalse())

	declIfNotExisting := model.DependencyDeclaration{
		CreatePolicy: model.CreateIfNotExisting,
		Alternatives: []model.AppDependencyConfig{{AppID: "Meter"}},
	}
	// No live instance of Meter at all: creating is allowed.
	g.Expect(policy.AllowedToCreate(declIfNotExisting, &fakeLive{})).To(BeTrue())

	// A live, unclaimed (lonely) instance exists: creating another is denied
	// since the lonely one should be adopted instead.
	lonely := &fakeLive{instances: map[string][]policy.InstanceRef{
		"Meter": {{InstanceID: "m0", HasParent: false}},
	}}
	g.Expect(policy.AllowedToCreate(declIfNotExisting, lonely)).To(BeFalse())

	// Every live instance already has a parent: creating a new one is fine.
	allClaimed := &fakeLive{instances: map[string][]policy.InstanceRef{
		"Meter": {{InstanceID: "m0", HasParent: true}},
	}}
	g.Expect(policy.AllowedToCreate(declIfNotExisting, allClaimed)).To(BeTrue())
}

func TestAllowedToUpdate(t *testing.T) {
	g := NewWithT(t)

	g.Expect(policy.AllowedToUpdate(model.DependencyDeclaration{UpdatePolicy: model.UpdateAlways}, "p", "c", &fakeLive{})).To(BeTrue())
	g.Expect(policy.AllowedToUpdate(model.DependencyDeclaration{UpdatePolicy: model.UpdateNever}, "p", "c", &fakeLive{})).To(BeFalse())

	decl := model.DependencyDeclaration{UpdatePolicy: model.UpdateIfMine}
	sole := &fakeLive{referrers: map[string][]string{"c": {"p"}}}
	g.Expect(policy.AllowedToUpdate(decl, "p", "c", sole)).To(BeTrue())

	shared := &fakeLive{referrers: map[string][]string{"c": {"p", "other"}}}
	g.Expect(policy.AllowedToUpdate(decl, "p", "c", shared)).To(BeFalse())
}

func TestAllowedToDelete(t *testing.T) {
	g := NewWithT(t)

	g.Expect(policy.AllowedToDelete(model.DependencyDeclaration{DeletePolicy: model.DeleteAlways}, "p", "c", &fakeLive{})).To(BeTrue())
	g.Expect(policy.AllowedToDelete(model.DependencyDeclaration{DeletePolicy: model.DeleteNever}, "p", "c", &fakeLive{})).To(BeFalse())

	decl := model.DependencyDeclaration{DeletePolicy: model.DeleteIfMine}
	sole := &fakeLive{referrers: map[string][]string{"c": {"p"}}}
	g.Expect(policy.AllowedToDelete(decl, "p", "c", sole)).To(BeTrue())

	shared := &fakeLive{referrers: map[string][]string{"c": {"p", "other"}}}
	g.Expect(policy.AllowedToDelete(decl, "p", "c", shared)).To(BeFalse())
}

func TestChildMayOverride(t *testing.T) {
	g := NewWithT(t)

	g.Expect(policy.ChildMayOverride(model.DependencyDeclaration{DependencyUpdatePolicy: model.AllowAllUpdates}, "mode", model.NewPropertySet())).To(BeTrue())
	g.Expect(policy.ChildMayOverride(model.DependencyDeclaration{DependencyUpdatePolicy: model.AllowNoUpdates}, "mode", model.NewPropertySet())).To(BeFalse())

	decl := model.DependencyDeclaration{DependencyUpdatePolicy: model.AllowOnlyUnconfiguredProperties}
	configured := model.NewPropertySet()
	configured.Set("mode", []byte(`"fixed"`))
	g.Expect(policy.ChildMayOverride(decl, "mode", configured)).To(BeFalse())
	g.Expect(policy.ChildMayOverride(decl, "other", configured)).To(BeTrue())
}

func TestParentMayDeleteChild(t *testing.T) {
	g := NewWithT(t)

	g.Expect(policy.ParentMayDeleteChild(model.DependencyDeclaration{DependencyDeletePolicy: model.DeleteAllowed})).To(BeTrue())
	g.Expect(policy.ParentMayDeleteChild(model.DependencyDeclaration{DependencyDeletePolicy: model.DeleteNotAllowed})).To(BeFalse())
}
