// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package apptx_test

import (
	"context"
	"encoding/json"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/patrickl3/openems-pf/apptx"
	"github.com/patrickl3/openems-pf/internal/config"
	"github.com/patrickl3/openems-pf/internal/testsupport"
)

// meterApp is a leaf app with a single "mode" property, used across
// scenarios the way spec.md §8 reuses its BatteryMonitor/Meter pair.
func meterApp() apptx.App {
	return apptx.App{
		AppID: "Meter",
		Properties: []apptx.PropertyDescriptor{
			{Name: "mode", IsPersistable: true},
		},
		Render: func(target apptx.Target, alias string, props *apptx.PropertySet, language string) (apptx.AppConfiguration, error) {
			return apptx.AppConfiguration{
				Components: []apptx.ComponentDefinition{
					{ID: "meter0", FactoryID: "Meter", Alias: alias, Properties: props},
				},
			}, nil
		},
	}
}

// batteryMonitorApp declares one "meter" dependency slot. createPolicy and
// updatePolicy let individual tests dial in the exact policy combination a
// scenario needs without duplicating the whole fixture.
func batteryMonitorApp(createPolicy apptx.CreatePolicy, updatePolicy apptx.DependencyUpdatePolicy, parentProps *apptx.PropertySet) apptx.App {
	decl := apptx.DependencyDeclaration{
		Key:                    "meter",
		Alternatives:           []apptx.AppDependencyConfig{{AppID: "Meter", Properties: parentProps}},
		CreatePolicy:           createPolicy,
		UpdatePolicy:           apptx.UpdateIfMine,
		DeletePolicy:           apptx.DeleteIfMine,
		DependencyUpdatePolicy: updatePolicy,
	}
	return apptx.App{
		AppID:        "BatteryMonitor",
		Dependencies: []apptx.DependencyDeclaration{decl},
		Render: func(target apptx.Target, alias string, props *apptx.PropertySet, language string) (apptx.AppConfiguration, error) {
			return apptx.AppConfiguration{
				Components:        []apptx.ComponentDefinition{{ID: "bms0", FactoryID: "BatteryMonitor", Alias: alias}},
				ChildDeclarations: []apptx.DependencyDeclaration{decl},
			}, nil
		},
	}
}

func newTestCore(store *testsupport.Store, opts config.Options) *apptx.Core {
	return apptx.New(store, testsupport.NewValidator(), testsupport.NewRegistry(), testsupport.NewTranslator(), testsupport.NewAggregators(), nil, opts)
}

func jsonProp(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return json.RawMessage(b)
}

// S1 - Install with fresh dependency: live set empty, creating = {BM, Meter}
// with BM's dependency edge pointing at the freshly created Meter.
func TestInstallWithFreshDependency(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	bm := batteryMonitorApp(apptx.CreateIfNotExisting, apptx.AllowAllUpdates, nil)
	store.PutApp(bm)

	core := newTestCore(store, config.Default())
	values, err := core.Install(context.Background(), "alice", bm, "bms0", apptx.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(values.CreatedOrModified).To(HaveLen(2))
	g.Expect(values.Deleted).To(BeEmpty())

	var root, meter *apptx.AppInstance
	for i := range values.CreatedOrModified {
		inst := values.CreatedOrModified[i]
		switch inst.AppID {
		case "BatteryMonitor":
			root = &inst
		case "Meter":
			meter = &inst
		}
	}
	g.Expect(root).NotTo(BeNil())
	g.Expect(meter).NotTo(BeNil())

	dep, found := root.DependencyByKey("meter")
	g.Expect(found).To(BeTrue())
	g.Expect(dep.InstanceID).To(Equal(meter.InstanceID))
}

// S2 - Install reusing existing: a compatible orphan Meter0 already lives in
// the store, so install(BM) creates only BM and points its dependency edge
// at the reused instance rather than creating a second Meter.
func TestInstallReusingExistingInstance(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	bm := batteryMonitorApp(apptx.CreateIfNotExisting, apptx.AllowAllUpdates, nil)
	store.PutApp(bm)

	meter0 := apptx.AppInstance{InstanceID: "meter-0", AppID: "Meter", Alias: "meter0", Properties: apptx.NewPropertySet()}
	store.PutInstance(meter0)

	core := newTestCore(store, config.Default())
	values, err := core.Install(context.Background(), "alice", bm, "bms0", apptx.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(values.CreatedOrModified).To(HaveLen(1))
	g.Expect(values.CreatedOrModified[0].AppID).To(Equal("BatteryMonitor"))

	dep, found := values.CreatedOrModified[0].DependencyByKey("meter")
	g.Expect(found).To(BeTrue())
	g.Expect(dep.InstanceID).To(Equal("meter-0"))
}

// S3 - Update under ALLOW_NONE: the parent configured the child's "mode"
// property, and DependencyUpdatePolicy forbids any change to it. Updating
// the child directly with a different value raises PolicyDenied.
func TestUpdateChildPropertyDeniedByAllowNone(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	parentProps := apptx.NewPropertySet()
	parentProps.Set("mode", jsonProp("fixed"))
	bm := batteryMonitorApp(apptx.CreateIfNotExisting, apptx.AllowNoUpdates, parentProps)
	store.PutApp(bm)

	core := newTestCore(store, config.Default())
	installed, err := core.Install(context.Background(), "alice", bm, "bms0", apptx.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())

	var meter apptx.AppInstance
	for _, inst := range installed.CreatedOrModified {
		if inst.AppID == "Meter" {
			meter = inst
		}
	}
	g.Expect(meter.InstanceID).NotTo(BeEmpty())
	store.Apply(installed.CreatedOrModified, installed.Deleted)

	newProps := meter.Properties.Clone()
	newProps.Set("mode", jsonProp("adaptive"))

	_, err = core.Update(context.Background(), "alice", meterApp(), meter, meter.Alias, newProps)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("ALLOW_NONE"))
}

// S4 - Cascade delete IF_MINE: deleting BM also deletes its sole-referenced
// Meter, but not once a second app also depends on that Meter.
func TestCascadeDeleteIfMine(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	bm := batteryMonitorApp(apptx.CreateIfNotExisting, apptx.AllowAllUpdates, nil)
	store.PutApp(bm)

	core := newTestCore(store, config.Default())
	installed, err := core.Install(context.Background(), "alice", bm, "bms0", apptx.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())
	store.Apply(installed.CreatedOrModified, installed.Deleted)

	var root apptx.AppInstance
	for _, inst := range installed.CreatedOrModified {
		if inst.AppID == "BatteryMonitor" {
			root = inst
		}
	}

	deleted, err := core.Delete(context.Background(), "alice", root)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(deleted.Deleted).To(HaveLen(2))
}

// S4 continued: a second referrer of the same Meter instance keeps it alive
// when the first parent is deleted.
func TestCascadeDeleteIfMineKeepsSharedChild(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	bm := batteryMonitorApp(apptx.CreateIfNotExisting, apptx.AllowAllUpdates, nil)
	store.PutApp(bm)

	core := newTestCore(store, config.Default())
	installed, err := core.Install(context.Background(), "alice", bm, "bms0", apptx.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())
	store.Apply(installed.CreatedOrModified, installed.Deleted)

	var root, meter apptx.AppInstance
	for _, inst := range installed.CreatedOrModified {
		switch inst.AppID {
		case "BatteryMonitor":
			root = inst
		case "Meter":
			meter = inst
		}
	}

	// A second, unrelated app referencing the same Meter instance directly.
	otherReferrer := apptx.AppInstance{
		InstanceID:   "other-1",
		AppID:        "BatteryMonitor",
		Alias:        "other",
		Properties:   apptx.NewPropertySet(),
		Dependencies: []apptx.Dependency{{Key: "meter", InstanceID: meter.InstanceID}},
	}
	store.PutInstance(otherReferrer)

	deleted, err := core.Delete(context.Background(), "alice", root)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(deleted.Deleted).To(HaveLen(1))
	g.Expect(deleted.Deleted[0].AppID).To(Equal("BatteryMonitor"))
}

// S6 - Aggregator failure rollback: the scheduler aggregator's commit fails,
// and the returned error joins every failing aggregator's message with " | ".
func TestAggregatorFailureJoinsErrors(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())

	aggs := testsupport.NewAggregators()
	aggs.Scheduler.(*testsupport.Aggregator).FailNext = &aggregatorBoom{}

	core := apptx.New(store, testsupport.NewValidator(), testsupport.NewRegistry(), testsupport.NewTranslator(), aggs, nil, config.Default())
	_, err := core.Install(context.Background(), "alice", meterApp(), "meter0", apptx.NewPropertySet())
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("scheduler aggregator commit failed"))
}

type aggregatorBoom struct{}

func (e *aggregatorBoom) Error() string { return "boom" }

// Idempotent no-op update: re-issuing an update with unchanged properties
// and alias produces no warnings and leaves the dependency graph unchanged.
func TestUpdateWithNoChangesIsIdempotent(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	bm := batteryMonitorApp(apptx.CreateIfNotExisting, apptx.AllowAllUpdates, nil)
	store.PutApp(bm)

	core := newTestCore(store, config.Default())
	installed, err := core.Install(context.Background(), "alice", bm, "bms0", apptx.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())
	store.Apply(installed.CreatedOrModified, installed.Deleted)

	var root apptx.AppInstance
	for _, inst := range installed.CreatedOrModified {
		if inst.AppID == "BatteryMonitor" {
			root = inst
		}
	}

	values, err := core.Update(context.Background(), "alice", bm, root, root.Alias, root.Properties.Clone())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(values.Warnings).To(BeEmpty())
	g.Expect(values.Deleted).To(BeEmpty())
	g.Expect(values.CreatedOrModified).To(BeEmpty())
}
