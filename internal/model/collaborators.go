// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package model

import "context"

// ValidatorStatus is the outcome of a compatibility/installability check.
type ValidatorStatus int

const (
	// StatusIncompatible : the app cannot run on this appliance at all.
	StatusIncompatible ValidatorStatus = iota
	// StatusCompatible : the app could run, but is not currently installable
	// (e.g. a conflicting app already occupies a required resource).
	StatusCompatible
	// StatusInstallable : the app may be installed right now.
	StatusInstallable
)

// AppStore is the persistent catalog and instance store. It is an external
// collaborator: this module only consumes it.
type AppStore interface {
	// GetAppByID returns the catalog entry for appID.
	GetAppByID(ctx context.Context, appID string) (App, bool, error)
	// GetInstanceByID returns the installed instance with the given ID.
	GetInstanceByID(ctx context.Context, instanceID string) (AppInstance, bool, error)
	// GetAppsWithDependencyTo returns every live instance that has a
	// dependency edge pointing at the given instance.
	GetAppsWithDependencyTo(ctx context.Context, instanceID string) ([]AppInstance, error)
	// GetInstancesOfApp returns every live instance of the given catalog
	// app, in the order the DependencyResolver should consider them.
	GetInstancesOfApp(ctx context.Context, appID string) ([]AppInstance, error)
	// GetAppConfiguration renders the configuration an app/instance would
	// produce for the given target, without requiring a full App value
	// (convenience used by some external callers; the core itself always
	// renders through App.Render directly).
	GetAppConfiguration(ctx context.Context, target Target, instance AppInstance) (AppConfiguration, error)
	// GetUnsatisfiedDependents returns every live instance whose catalog app
	// declares a dependency compatible with childAppID (one of its
	// Alternatives names childAppID) for which the instance has no
	// Dependency edge yet. Used for the TransactionPlanner's cross-parent
	// opportunistic linking on adoption (spec.md §4.4.1 step 4b).
	GetUnsatisfiedDependents(ctx context.Context, childAppID string) ([]UnsatisfiedDependent, error)
}

// UnsatisfiedDependent pairs a live instance with one of its own catalog
// app's dependency declarations that has no edge yet.
type UnsatisfiedDependent struct {
	Instance AppInstance
	Decl     DependencyDeclaration
}

// Validator is the compatibility/installability checker.
type Validator interface {
	// Status reports whether cfg may be installed.
	Status(ctx context.Context, cfg AppConfiguration) (ValidatorStatus, error)
	// Message returns a human-readable explanation for the last Status
	// result, in the given locale.
	Message(ctx context.Context, locale string) string
}

// RegisteredComponent is what the live component registry reports back for
// a given component ID.
type RegisteredComponent struct {
	ID         string
	FactoryID  string
	Properties *PropertySet
}

// ComponentRegistry is the live component registry consulted by the ID
// reconciler.
type ComponentRegistry interface {
	// GetComponent returns the currently registered component with the
	// given ID, if any.
	GetComponent(ctx context.Context, id string) (RegisteredComponent, bool, error)
	// GetComponentByConfig returns a registered component whose
	// configuration is byte-equivalent to the given spec, if one exists.
	GetComponentByConfig(ctx context.Context, spec ComponentDefinition) (RegisteredComponent, bool, error)
	// NextAvailableID returns an unclaimed component ID derived from base
	// (base with trailing digits stripped), starting the numeric suffix
	// search at startingDigit and skipping anything already present in
	// claimed.
	NextAvailableID(ctx context.Context, base string, startingDigit int, claimed map[string]struct{}) (string, error)
}

// Translator resolves a locale + message key (+ args) into display text.
type Translator interface {
	Translate(ctx context.Context, locale, key string, args ...interface{}) string
}

// ComponentAggregator, SchedulerAggregator and StaticIPAggregator are the
// three pluggable sinks that accumulate configuration deltas during a
// transaction and realize them on commit. The core never interprets the
// payloads itself — each is opaque AppConfiguration/nil pairs.
type Aggregator interface {
	// Reset clears any pending batch.
	Reset(ctx context.Context)
	// Aggregate accumulates the delta contribution of one node. oldCfg is
	// nil for a newly created node, newCfg is nil for a deleted node.
	Aggregate(ctx context.Context, newCfg, oldCfg *AppConfiguration)
	// Commit realizes the accumulated batch against the underlying
	// subsystem. otherAppConfigs gives access to every other node's final
	// configuration in this transaction, for cross-referencing.
	Commit(ctx context.Context, user string, otherAppConfigs []AppConfiguration) error
}

// Aggregators bundles the three downstream sinks. Commit order is fixed:
// Components, then Scheduler, then StaticIPs (scheduler entries reference
// components; static IPs are independent but committed last).
type Aggregators struct {
	Components ComponentAggregator
	Scheduler  SchedulerAggregator
	StaticIPs  StaticIPAggregator
}

// ComponentAggregator aggregates component-registry deltas.
type ComponentAggregator interface {
	Aggregator
}

// SchedulerAggregator aggregates scheduler-entry deltas.
type SchedulerAggregator interface {
	Aggregator
}

// StaticIPAggregator aggregates static-IP-table deltas.
type StaticIPAggregator interface {
	Aggregator
}

// All returns the three aggregators in fixed commit order: Components,
// Scheduler, StaticIPs.
func (a Aggregators) All() []Aggregator {
	return []Aggregator{a.Components, a.Scheduler, a.StaticIPs}
}
