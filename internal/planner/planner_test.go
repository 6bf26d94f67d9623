// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package planner_test

import (
	"context"
	"encoding/json"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/patrickl3/openems-pf/internal/config"
	"github.com/patrickl3/openems-pf/internal/logging"
	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/planner"
	"github.com/patrickl3/openems-pf/internal/testsupport"
)

func newTestPlanner(store *testsupport.Store, registry *testsupport.Registry, opts config.Options) *planner.Planner {
	log := logging.New(logrus.StandardLogger(), "planner_test")
	return planner.New(store, testsupport.NewValidator(), registry, testsupport.NewTranslator(), testsupport.NewAggregators(), log, opts)
}

func jsonVal(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return json.RawMessage(b)
}

// meterApp renders a single component whose ID comes from the "componentID"
// property when set, defaulting to "meter0" otherwise - the property-driven
// ID slot internal/idalloc's reconciler looks for.
func meterApp() model.App {
	return model.App{
		AppID: "Meter",
		Properties: []model.PropertyDescriptor{
			{Name: "componentID", IsPersistable: true},
		},
		Render: func(target model.Target, alias string, props *model.PropertySet, language string) (model.AppConfiguration, error) {
			id := "meter0"
			if props != nil {
				if raw, ok := props.Get("componentID"); ok {
					var s string
					if err := json.Unmarshal(raw, &s); err == nil && s != "" {
						id = s
					}
				}
			}
			return model.AppConfiguration{
				Components: []model.ComponentDefinition{{ID: id, FactoryID: "Meter", Alias: alias}},
			}, nil
		},
	}
}

// S5 - ID allocation: meter0 and meter1 are already registered by other,
// byte-inequivalent components. Installing a new Meter whose componentID
// slot defaults to the already-claimed "meter0" gets reconciled to the next
// free suffix, "meter2".
func TestIDAllocationSkipsClaimedSuffixes(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())

	registry := testsupport.NewRegistry()
	registry.Register(model.RegisteredComponent{ID: "meter0", FactoryID: "Meter"})
	registry.Register(model.RegisteredComponent{ID: "meter1", FactoryID: "Meter"})

	p := newTestPlanner(store, registry, config.Default())

	props := model.NewPropertySet()
	props.Set("componentID", jsonVal("meter0"))

	result, err := p.Install(context.Background(), "alice", meterApp(), "meter-new", props)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.CreatedOrModified).To(HaveLen(1))

	allocated, found := result.CreatedOrModified[0].Properties.Get("componentID")
	g.Expect(found).To(BeTrue())
	var id string
	g.Expect(json.Unmarshal(allocated, &id)).To(Succeed())
	g.Expect(id).To(Equal("meter2"))
}

// CreatedOrModified is always returned sorted by InstanceID, regardless of
// how many nodes a request touches, so embedders get a deterministic order
// to persist in.
func TestCreatedOrModifiedIsSortedByInstanceID(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	bm := model.App{
		AppID: "BatteryMonitor",
		Dependencies: []model.DependencyDeclaration{{
			Key:          "meter",
			Alternatives: []model.AppDependencyConfig{{AppID: "Meter"}},
			CreatePolicy: model.CreateIfNotExisting,
			UpdatePolicy: model.UpdateIfMine,
			DeletePolicy: model.DeleteIfMine,
		}},
		Render: func(target model.Target, alias string, props *model.PropertySet, language string) (model.AppConfiguration, error) {
			return model.AppConfiguration{
				Components: []model.ComponentDefinition{{ID: "bms0", FactoryID: "BatteryMonitor", Alias: alias}},
				ChildDeclarations: []model.DependencyDeclaration{{
					Key:          "meter",
					Alternatives: []model.AppDependencyConfig{{AppID: "Meter"}},
					CreatePolicy: model.CreateIfNotExisting,
					UpdatePolicy: model.UpdateIfMine,
					DeletePolicy: model.DeleteIfMine,
				}},
			}, nil
		},
	}
	store.PutApp(bm)

	p := newTestPlanner(store, testsupport.NewRegistry(), config.Default())
	result, err := p.Install(context.Background(), "alice", bm, "bms0", model.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(result.CreatedOrModified).To(HaveLen(2))
	g.Expect(result.CreatedOrModified[0].InstanceID < result.CreatedOrModified[1].InstanceID).To(BeTrue())
}

// TemporaryApps reflects the in-flight transaction's scratch state only
// while a request is active, and is nil again once it returns.
func TestTemporaryAppsIsNilBetweenRequests(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())
	p := newTestPlanner(store, testsupport.NewRegistry(), config.Default())

	g.Expect(p.TemporaryApps()).To(BeNil())
	_, err := p.Install(context.Background(), "alice", meterApp(), "meter0", model.NewPropertySet())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p.TemporaryApps()).To(BeNil())
}

// Aggregator commit strictness: under StrictAggregatorCommit, the first
// failing aggregator stops the remaining commits, so only one
// AggregatorFailedError is joined instead of one per failing aggregator.
func TestStrictAggregatorCommitStopsAtFirstFailure(t *testing.T) {
	g := NewWithT(t)

	store := testsupport.NewStore()
	store.PutApp(meterApp())

	aggs := testsupport.NewAggregators()
	boom := errBoom("boom")
	aggs.Components.(*testsupport.Aggregator).FailNext = boom
	aggs.Scheduler.(*testsupport.Aggregator).FailNext = boom

	log := logging.New(logrus.StandardLogger(), "planner_test")
	p := planner.New(store, testsupport.NewValidator(), testsupport.NewRegistry(), testsupport.NewTranslator(), aggs, log, config.Options{StrictAggregatorCommit: true})

	_, err := p.Install(context.Background(), "alice", meterApp(), "meter0", model.NewPropertySet())
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("components aggregator commit failed"))
	g.Expect(err.Error()).NotTo(ContainSubstring("scheduler aggregator"))
}

type errBoom string

func (e errBoom) Error() string { return string(e) }
