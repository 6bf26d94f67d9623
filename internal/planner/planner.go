// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package planner implements spec.md §4.4's TransactionPlanner: the
// orchestrator that wires PolicyEngine, GraphWalker, DependencyResolver and
// IdReconciler together into install/update/delete, and drives the three
// aggregators through a scoped acquire/reset/commit cycle per request. It
// plays the same role the teacher's pkg/pillar/depgraph.depGraph.Sync and
// libs/reconciler.reconciler.Reconcile play for their own graphs: the one
// place that actually mutates state, everything else below it is either
// pure or a passive collaborator.
package planner

import (
	"context"
	"sort"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/patrickl3/openems-pf/internal/config"
	"github.com/patrickl3/openems-pf/internal/idalloc"
	"github.com/patrickl3/openems-pf/internal/logging"
	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/txn"
)

// OpLogEntry records one state transition the planner performed during a
// request, in the style of libs/reconciler.OpLogEntry - a supplemented
// feature not named by spec.md §6 but present in the teacher's fuller
// reconciliation API.
type OpLogEntry struct {
	InstanceID string
	AppID      string
	Operation  string // "create", "modify" or "delete"
	StartTime  time.Time
	EndTime    time.Time
	Err        error
}

// Result is the planner's internal view of spec.md §6's UpdateValues. The
// apptx facade converts this into the public type.
type Result struct {
	Root              *model.AppInstance
	CreatedOrModified []model.AppInstance
	Deleted           []model.AppInstance
	Warnings          []string
	OperationLog      []OpLogEntry
}

// Planner is the TransactionPlanner. Not safe for concurrent use - per
// spec.md §5 the caller must serialize requests.
type Planner struct {
	store      model.AppStore
	validator  model.Validator
	registry   model.ComponentRegistry
	translator model.Translator
	aggs       model.Aggregators
	log        *logging.Logger
	opts       config.Options

	// current is exposed via TemporaryApps while a request is in flight;
	// it is nil between requests.
	current *txn.Transaction
}

// New returns a Planner wired to its collaborators.
func New(
	store model.AppStore,
	validator model.Validator,
	registry model.ComponentRegistry,
	translator model.Translator,
	aggs model.Aggregators,
	log *logging.Logger,
	opts config.Options,
) *Planner {
	return &Planner{
		store:      store,
		validator:  validator,
		registry:   registry,
		translator: translator,
		aggs:       aggs,
		log:        log,
		opts:       opts,
	}
}

// TemporaryApps returns the scratch transaction of the request currently in
// flight, or nil if no request is active. Per spec.md §6.
func (p *Planner) TemporaryApps() *txn.Transaction {
	return p.current
}

// Install runs an install request for a brand-new instance of app.
func (p *Planner) Install(ctx context.Context, user string, app model.App, alias string, properties *model.PropertySet) (Result, error) {
	return p.runTransaction(ctx, user, func(tx *txn.Transaction) (*model.AppInstance, error) {
		return p.updateInternal(ctx, tx, user, nil, app, alias, properties)
	})
}

// Update runs an update request, transitioning oldInstance toward the
// properties/alias carried by newAlias/newProperties.
func (p *Planner) Update(ctx context.Context, user string, app model.App, oldInstance model.AppInstance, newAlias string, newProperties *model.PropertySet) (Result, error) {
	return p.runTransaction(ctx, user, func(tx *txn.Transaction) (*model.AppInstance, error) {
		old := oldInstance
		return p.updateInternal(ctx, tx, user, &old, app, newAlias, newProperties)
	})
}

// Delete runs a delete request against instance.
func (p *Planner) Delete(ctx context.Context, user string, instance model.AppInstance) (Result, error) {
	return p.runTransaction(ctx, user, func(tx *txn.Transaction) (*model.AppInstance, error) {
		return p.deleteInternal(ctx, tx, user, instance)
	})
}

// runTransaction implements spec.md §4.4's scoped transaction manager:
// acquire a fresh Transaction, reset the aggregators, run body, then commit
// in fixed order. Any failure (body or commit) discards the transaction and
// resets the aggregators again before returning the joined error.
func (p *Planner) runTransaction(ctx context.Context, user string, body func(tx *txn.Transaction) (*model.AppInstance, error)) (Result, error) {
	start := time.Now()
	tx := txn.New()
	p.current = tx
	defer func() { p.current = nil }()

	p.resetAggregators(ctx)

	root, err := body(tx)
	if err != nil {
		p.resetAggregators(ctx)
		return Result{}, err
	}

	if err := p.commitAggregators(ctx, user, tx); err != nil {
		p.resetAggregators(ctx)
		return Result{}, err
	}
	end := time.Now()

	result := Result{
		Root:              root,
		CreatedOrModified: append(tx.Creating(), tx.Modifying()...),
		Deleted:           tx.Deleting(),
		Warnings:          tx.Warnings(),
		OperationLog:      buildOpLog(tx, start, end),
	}
	sort.Slice(result.CreatedOrModified, func(i, j int) bool {
		return result.CreatedOrModified[i].InstanceID < result.CreatedOrModified[j].InstanceID
	})
	return result, nil
}

// buildOpLog records one audit-trail entry per instance touched by tx, in
// the style of libs/reconciler.OperationLog: every entry shares the
// transaction's start/end time since the core reports per-aggregator, not
// per-instance, commit timing.
func buildOpLog(tx *txn.Transaction, start, end time.Time) []OpLogEntry {
	var log []OpLogEntry
	for _, inst := range tx.Creating() {
		log = append(log, OpLogEntry{InstanceID: inst.InstanceID, AppID: inst.AppID, Operation: "create", StartTime: start, EndTime: end})
	}
	for _, inst := range tx.Modifying() {
		log = append(log, OpLogEntry{InstanceID: inst.InstanceID, AppID: inst.AppID, Operation: "modify", StartTime: start, EndTime: end})
	}
	for _, inst := range tx.Deleting() {
		log = append(log, OpLogEntry{InstanceID: inst.InstanceID, AppID: inst.AppID, Operation: "delete", StartTime: start, EndTime: end})
	}
	return log
}

func newInstanceID() string {
	return uuid.NewV4().String()
}

func (p *Planner) resetAggregators(ctx context.Context) {
	for _, a := range p.aggs.All() {
		if a != nil {
			a.Reset(ctx)
		}
	}
}

// aggregate pushes (newCfg, oldCfg) to every wired aggregator, skipping any
// slot the embedder left nil.
func (p *Planner) aggregate(ctx context.Context, newCfg, oldCfg *model.AppConfiguration) {
	for _, a := range p.aggs.All() {
		if a != nil {
			a.Aggregate(ctx, newCfg, oldCfg)
		}
	}
}

// liveView adapts the request's AppStore plus the in-flight scratch
// transaction into resolver.LiveView / policy.LiveInstances, so
// resolution and policy decisions see tentative creating/modifying/
// deleting edits without the caller's store having to know about them.
type liveView struct {
	ctx   context.Context
	store model.AppStore
	tx    *txn.Transaction
}

func newLiveView(ctx context.Context, store model.AppStore, tx *txn.Transaction) *liveView {
	return &liveView{ctx: ctx, store: store, tx: tx}
}

func (v *liveView) InstancesOfApp(appID string) []model.AppInstance {
	base, err := v.store.GetInstancesOfApp(v.ctx, appID)
	if err != nil {
		return nil
	}
	out := make([]model.AppInstance, 0, len(base))
	for _, inst := range base {
		if v.tx.IsDeleting(inst.InstanceID) {
			continue
		}
		if replacement, found, _ := v.tx.Get(inst.InstanceID); found {
			out = append(out, replacement)
			continue
		}
		out = append(out, inst)
	}
	for _, inst := range v.tx.Creating() {
		if inst.AppID == appID {
			out = append(out, inst)
		}
	}
	return out
}

func (v *liveView) ReferrersOf(instanceID string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(inst model.AppInstance) {
		if v.tx.IsDeleting(inst.InstanceID) {
			return
		}
		for _, d := range inst.Dependencies {
			if d.InstanceID == instanceID && !seen[inst.InstanceID] {
				seen[inst.InstanceID] = true
				out = append(out, inst.InstanceID)
			}
		}
	}
	referrers, err := v.store.GetAppsWithDependencyTo(v.ctx, instanceID)
	if err == nil {
		for _, r := range referrers {
			if replacement, found, _ := v.tx.Get(r.InstanceID); found {
				add(replacement)
			} else if !v.tx.IsDeleting(r.InstanceID) {
				add(r)
			}
		}
	}
	for _, inst := range v.tx.Creating() {
		add(inst)
	}
	for _, inst := range v.tx.Modifying() {
		add(inst)
	}
	return out
}

func (v *liveView) InstanceByID(instanceID string) (model.AppInstance, bool) {
	if v.tx.IsDeleting(instanceID) {
		return model.AppInstance{}, false
	}
	if replacement, found, _ := v.tx.Get(instanceID); found {
		return replacement, true
	}
	inst, found, err := v.store.GetInstanceByID(v.ctx, instanceID)
	if err != nil || !found {
		return model.AppInstance{}, false
	}
	return inst, true
}

// appLookup adapts model.AppStore to walker.AppLookup / walker.InstanceLookup.
type appLookup struct {
	ctx   context.Context
	store model.AppStore
	tx    *txn.Transaction
}

func (a *appLookup) GetAppByID(ctx context.Context, appID string) (model.App, bool, error) {
	return a.store.GetAppByID(ctx, appID)
}

func (a *appLookup) GetInstanceByID(ctx context.Context, instanceID string) (model.AppInstance, bool, error) {
	if a.tx != nil {
		if a.tx.IsDeleting(instanceID) {
			return model.AppInstance{}, false, nil
		}
		if replacement, found, _ := a.tx.Get(instanceID); found {
			return replacement, true, nil
		}
	}
	return a.store.GetInstanceByID(ctx, instanceID)
}

func componentRegistryAdapter(reg model.ComponentRegistry) idalloc.Registry {
	return registryAdapter{reg: reg}
}

type registryAdapter struct {
	reg model.ComponentRegistry
}

func (r registryAdapter) GetComponent(ctx context.Context, id string) (model.RegisteredComponent, bool, error) {
	return r.reg.GetComponent(ctx, id)
}

func (r registryAdapter) GetComponentByConfig(ctx context.Context, spec model.ComponentDefinition) (model.RegisteredComponent, bool, error) {
	return r.reg.GetComponentByConfig(ctx, spec)
}

func (r registryAdapter) NextAvailableID(ctx context.Context, base string, startingDigit int, claimed map[string]struct{}) (string, error) {
	return r.reg.NextAvailableID(ctx, base, startingDigit, claimed)
}

func declKeyIndex(parentAppID, declKey string) string {
	return parentAppID + "\x00" + declKey
}
