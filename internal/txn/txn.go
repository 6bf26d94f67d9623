// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package txn implements the per-request scratch transaction: three
// disjoint sets of AppInstance values (creating, modifying, deleting) plus
// the bookkeeping needed to validate the invariants spec.md §3/§8 require
// of a finished plan. It intentionally mirrors the teacher's
// "keep three sets of immutable values, edit == replace-by-key" approach
// (pkg/pillar/depgraph's plannedChanges / node.newValue split) rather than
// mutating AppInstance values in place.
package txn

import (
	"sort"

	"github.com/patrickl3/openems-pf/internal/model"
)

// Transaction is the per-request scratch state. Not safe for concurrent
// use - per spec.md §5 requests are serialized by the caller.
type Transaction struct {
	creating  map[string]model.AppInstance
	modifying map[string]model.AppInstance
	deleting  map[string]model.AppInstance

	// configs holds the rendered AppConfiguration for every node touched in
	// this transaction, keyed by instance ID, for Aggregator.Commit's
	// otherAppConfigs parameter.
	configs map[string]model.AppConfiguration

	warnings []string
}

// New returns a fresh, empty transaction.
func New() *Transaction {
	return &Transaction{
		creating:  make(map[string]model.AppInstance),
		modifying: make(map[string]model.AppInstance),
		deleting:  make(map[string]model.AppInstance),
		configs:   make(map[string]model.AppConfiguration),
	}
}

// PutCreating records inst as a to-be-created instance.
func (t *Transaction) PutCreating(inst model.AppInstance) {
	delete(t.modifying, inst.InstanceID)
	delete(t.deleting, inst.InstanceID)
	t.creating[inst.InstanceID] = inst
}

// PutModifying records inst as a to-be-modified instance.
func (t *Transaction) PutModifying(inst model.AppInstance) {
	if _, isNew := t.creating[inst.InstanceID]; isNew {
		t.creating[inst.InstanceID] = inst
		return
	}
	delete(t.deleting, inst.InstanceID)
	t.modifying[inst.InstanceID] = inst
}

// PutDeleting records inst as a to-be-deleted instance.
func (t *Transaction) PutDeleting(inst model.AppInstance) {
	delete(t.creating, inst.InstanceID)
	delete(t.modifying, inst.InstanceID)
	t.deleting[inst.InstanceID] = inst
}

// RecordConfig stores the rendered configuration for instanceID, for later
// retrieval by Aggregator.Commit's otherAppConfigs slice.
func (t *Transaction) RecordConfig(instanceID string, cfg model.AppConfiguration) {
	t.configs[instanceID] = cfg
}

// Configs returns every recorded configuration, sorted by instance ID for
// determinism.
func (t *Transaction) Configs() []model.AppConfiguration {
	ids := make([]string, 0, len(t.configs))
	for id := range t.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.AppConfiguration, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.configs[id])
	}
	return out
}

// Get returns the scratch view of instanceID: the pending replacement if
// one is staged (creating or modifying), or found=false if it is staged
// for deletion. The caller falls back to the live store when found is
// false and deleting is also false.
func (t *Transaction) Get(instanceID string) (inst model.AppInstance, found bool, deleting bool) {
	if inst, ok := t.creating[instanceID]; ok {
		return inst, true, false
	}
	if inst, ok := t.modifying[instanceID]; ok {
		return inst, true, false
	}
	if _, ok := t.deleting[instanceID]; ok {
		return model.AppInstance{}, false, true
	}
	return model.AppInstance{}, false, false
}

// IsDeleting reports whether instanceID is staged for deletion.
func (t *Transaction) IsDeleting(instanceID string) bool {
	_, ok := t.deleting[instanceID]
	return ok
}

// AddWarning appends a user-facing warning to the result.
func (t *Transaction) AddWarning(msg string) {
	t.warnings = append(t.warnings, msg)
}

// Warnings returns all warnings recorded so far.
func (t *Transaction) Warnings() []string {
	return append([]string(nil), t.warnings...)
}

// Creating returns the to-be-created instances, sorted by instance ID.
func (t *Transaction) Creating() []model.AppInstance { return sortedValues(t.creating) }

// Modifying returns the to-be-modified instances, sorted by instance ID.
func (t *Transaction) Modifying() []model.AppInstance { return sortedValues(t.modifying) }

// Deleting returns the to-be-deleted instances, sorted by instance ID.
func (t *Transaction) Deleting() []model.AppInstance { return sortedValues(t.deleting) }

func sortedValues(m map[string]model.AppInstance) []model.AppInstance {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.AppInstance, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// ValidateInvariants checks invariants 1-3 of spec.md §8 against the
// current scratch state plus the supplied live (pre-transaction) instances.
// Invariant 4 (policy soundness) and 6 (delete authorization) are enforced
// at decision time by internal/policy and internal/planner, not here.
func (t *Transaction) ValidateInvariants(live map[string]model.AppInstance) error {
	// 1. Set disjointness is structurally guaranteed by PutCreating/
	// PutModifying/PutDeleting always removing from the other two maps,
	// but double-check defensively since it is cheap.
	for id := range t.creating {
		if _, ok := t.modifying[id]; ok {
			return &disjointnessViolation{id}
		}
		if _, ok := t.deleting[id]; ok {
			return &disjointnessViolation{id}
		}
	}
	for id := range t.modifying {
		if _, ok := t.deleting[id]; ok {
			return &disjointnessViolation{id}
		}
	}

	// Build the surviving instance set: live minus deleting, plus
	// creating, plus modifying.
	surviving := make(map[string]model.AppInstance, len(live)+len(t.creating))
	for id, inst := range live {
		if _, gone := t.deleting[id]; gone {
			continue
		}
		surviving[id] = inst
	}
	for id, inst := range t.creating {
		surviving[id] = inst
	}
	for id, inst := range t.modifying {
		surviving[id] = inst
	}

	// 2. Referential closure.
	for _, inst := range surviving {
		for _, dep := range inst.Dependencies {
			if _, ok := surviving[dep.InstanceID]; !ok {
				return &referentialClosureViolation{
					from: inst.InstanceID,
					to:   dep.InstanceID,
				}
			}
		}
	}

	// 3. Acyclicity: DFS with a three-color visited map.
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(surviving))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			return &cycleViolation{id}
		}
		color[id] = gray
		inst := surviving[id]
		for _, dep := range inst.Dependencies {
			if err := visit(dep.InstanceID); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for id := range surviving {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

type disjointnessViolation struct{ instanceID string }

func (e *disjointnessViolation) Error() string {
	return "internal error: instance " + e.instanceID + " appears in more than one transaction set"
}

type referentialClosureViolation struct{ from, to string }

func (e *referentialClosureViolation) Error() string {
	return "internal error: instance " + e.from + " depends on non-surviving instance " + e.to
}

type cycleViolation struct{ instanceID string }

func (e *cycleViolation) Error() string {
	return "internal error: dependency cycle detected at instance " + e.instanceID
}
