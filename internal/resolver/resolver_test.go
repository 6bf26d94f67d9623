// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package resolver_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/resolver"
)

// fakeLiveView is a minimal resolver.LiveView backed by plain maps.
type fakeLiveView struct {
	byApp     map[string][]model.AppInstance
	byID      map[string]model.AppInstance
	referrers map[string][]string
}

func (f *fakeLiveView) InstancesOfApp(appID string) []model.AppInstance { return f.byApp[appID] }
func (f *fakeLiveView) ReferrersOf(instanceID string) []string          { return f.referrers[instanceID] }
func (f *fakeLiveView) InstanceByID(instanceID string) (model.AppInstance, bool) {
	inst, ok := f.byID[instanceID]
	return inst, ok
}

func TestChooseAlternativeSingleChoice(t *testing.T) {
	g := NewWithT(t)
	r := resolver.New(&fakeLiveView{}, true)
	alts := []model.AppDependencyConfig{{AppID: "Meter"}}
	g.Expect(r.ChooseAlternative(alts)).To(Equal(alts[0]))
}

func TestChooseAlternativePrefersLonelyCandidate(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{
		byApp: map[string][]model.AppInstance{
			"BigBattery":   {{InstanceID: "bb0"}},
			"SmallBattery": {{InstanceID: "sb0"}},
		},
		referrers: map[string][]string{"bb0": {"someone"}},
	}
	r := resolver.New(live, true)
	alts := []model.AppDependencyConfig{{AppID: "BigBattery"}, {AppID: "SmallBattery"}}
	g.Expect(r.ChooseAlternative(alts).AppID).To(Equal("SmallBattery"))
}

func TestFindNeededAppSpecificInstanceID(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{byID: map[string]model.AppInstance{"m0": {InstanceID: "m0"}}}
	r := resolver.New(live, true)

	id, decision := r.FindNeededApp(model.DependencyDeclaration{}, model.AppDependencyConfig{SpecificInstanceID: "m0"})
	g.Expect(decision).To(Equal(resolver.DecisionReuse))
	g.Expect(id).To(Equal("m0"))

	_, decision = r.FindNeededApp(model.DependencyDeclaration{}, model.AppDependencyConfig{SpecificInstanceID: "missing"})
	g.Expect(decision).To(Equal(resolver.DecisionSkip))
}

func TestFindNeededAppCreateIfNotExistingReusesExisting(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{byApp: map[string][]model.AppInstance{"Meter": {{InstanceID: "m0"}}}}
	r := resolver.New(live, true)

	decl := model.DependencyDeclaration{CreatePolicy: model.CreateIfNotExisting}
	id, decision := r.FindNeededApp(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(decision).To(Equal(resolver.DecisionReuse))
	g.Expect(id).To(Equal("m0"))
}

func TestFindNeededAppCreateIfNotExistingCreatesWhenNoneLive(t *testing.T) {
	g := NewWithT(t)
	r := resolver.New(&fakeLiveView{}, true)
	decl := model.DependencyDeclaration{CreatePolicy: model.CreateIfNotExisting}
	_, decision := r.FindNeededApp(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(decision).To(Equal(resolver.DecisionCreate))
}

func TestFindNeededAppCreateNeverSkipsWhenNoneLive(t *testing.T) {
	g := NewWithT(t)
	r := resolver.New(&fakeLiveView{}, true)
	decl := model.DependencyDeclaration{CreatePolicy: model.CreateNever}
	_, decision := r.FindNeededApp(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(decision).To(Equal(resolver.DecisionSkip))
}

func TestFindNeededAppCreateAlwaysAdoptsOrphanBeforeCreating(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{byApp: map[string][]model.AppInstance{
		"Meter": {{InstanceID: "m0"}},
	}}
	r := resolver.New(live, true)
	decl := model.DependencyDeclaration{CreatePolicy: model.CreateAlways}

	id, decision := r.FindNeededApp(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(decision).To(Equal(resolver.DecisionReuse))
	g.Expect(id).To(Equal("m0"))
}

func TestFindNeededAppCreateAlwaysCreatesWhenAllClaimed(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{
		byApp:     map[string][]model.AppInstance{"Meter": {{InstanceID: "m0"}}},
		referrers: map[string][]string{"m0": {"someone"}},
	}
	r := resolver.New(live, true)
	decl := model.DependencyDeclaration{CreatePolicy: model.CreateAlways}

	_, decision := r.FindNeededApp(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(decision).To(Equal(resolver.DecisionCreate))
}

func TestFindNeededAppStabilizesCandidateOrder(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{byApp: map[string][]model.AppInstance{
		"Meter": {{InstanceID: "z9"}, {InstanceID: "a1"}},
	}}
	decl := model.DependencyDeclaration{CreatePolicy: model.CreateAlways}

	stable := resolver.New(live, true)
	id, _ := stable.FindNeededApp(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(id).To(Equal("a1"))
}

// A second declaration needing the same app, after the only live instance
// was already promised to the first, falls back to creating a fresh one
// instead of double-counting the promised instance.
func TestIncludeFallsBackToCreateOnceCandidateIsPromised(t *testing.T) {
	g := NewWithT(t)
	live := &fakeLiveView{byApp: map[string][]model.AppInstance{"Meter": {{InstanceID: "m0"}}}}
	r := resolver.New(live, true)
	decl := model.DependencyDeclaration{CreatePolicy: model.CreateIfNotExisting}

	first := r.Include(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(first.Include).To(BeTrue())
	g.Expect(first.ResolvedID).To(Equal("m0"))
	r.MarkPromised(first.ResolvedID)

	second := r.Include(decl, model.AppDependencyConfig{AppID: "Meter"})
	g.Expect(second.Include).To(BeTrue())
	g.Expect(second.ShouldCreate).To(BeTrue())
}
