// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package model contains the pure data model shared by the apptx facade
// and every internal/* package: App, AppInstance, Dependency, the
// collaborator interfaces, and the error kinds. It has no dependency on
// internal/planner or the other orchestration packages, which avoids an
// import cycle between the public apptx facade and its internal
// implementation.
package model

import (
	"encoding/json"
)

// Target is passed to App.Render and tells the catalog entry which kind
// of configuration change is being rendered for.
type Target int

const (
	// TargetUnknown is the zero value and should never be rendered.
	TargetUnknown Target = iota
	// TargetAdd : instance is being installed for the first time.
	TargetAdd
	// TargetUpdate : instance already exists and is being reconfigured.
	TargetUpdate
	// TargetDelete : instance is being removed.
	TargetDelete
	// TargetTest : render for a dry-run/validation pass only, nothing
	// produced is meant to be committed.
	TargetTest
)

// String implements fmt.Stringer.
func (t Target) String() string {
	switch t {
	case TargetAdd:
		return "add"
	case TargetUpdate:
		return "update"
	case TargetDelete:
		return "delete"
	case TargetTest:
		return "test"
	}
	return "unknown"
}

// CreatePolicy governs whether a declared dependency may be satisfied by
// creating a new app instance.
type CreatePolicy int

const (
	// CreateAlways : adopt an orphaned live instance of the alternative's
	// app (one with no other referrer) if one exists, otherwise create a
	// fresh instance.
	CreateAlways CreatePolicy = iota
	// CreateIfNotExisting : create only if no reusable live instance exists.
	CreateIfNotExisting
	// CreateNever : never create, only reuse (or skip) an existing instance.
	CreateNever
)

// UpdatePolicy governs whether a parent may rewrite a child's properties.
type UpdatePolicy int

const (
	// UpdateAlways : parent may always update the child.
	UpdateAlways UpdatePolicy = iota
	// UpdateNever : parent may never update the child.
	UpdateNever
	// UpdateIfMine : parent may update only if it is the child's sole referrer.
	UpdateIfMine
)

// DeletePolicy governs cascade-delete behavior when the parent is removed.
type DeletePolicy int

const (
	// DeleteAlways : child is always deleted along with the parent.
	DeleteAlways DeletePolicy = iota
	// DeleteNever : child is never deleted as a result of the parent's removal.
	DeleteNever
	// DeleteIfMine : child is deleted only if the parent is its sole referrer.
	DeleteIfMine
)

// DependencyUpdatePolicy governs what a child may modify when the parent
// declares its own properties for the child.
type DependencyUpdatePolicy int

const (
	// AllowAllUpdates : child may change any property, parent never restores them.
	AllowAllUpdates DependencyUpdatePolicy = iota
	// AllowNoUpdates : a child update attempt that touches a parent-set
	// property fails the request outright.
	AllowNoUpdates
	// AllowOnlyUnconfiguredProperties : child may freely change properties
	// the parent did not configure; parent-configured ones are restored.
	AllowOnlyUnconfiguredProperties
)

// DependencyDeletePolicy governs whether a child may be deleted while this
// parent still lists a dependency on it.
type DependencyDeletePolicy int

const (
	// DeleteAllowed : the child may be deleted independently of this parent.
	DeleteAllowed DependencyDeletePolicy = iota
	// DeleteNotAllowed : the child may not be deleted while this parent exists.
	DeleteNotAllowed
)

// PropertySet is an insertion-ordered string -> JSON value map. It exists
// because AppInstance.Properties must preserve declaration/assignment order
// (for stable, reproducible rendering) while still round-tripping through
// JSON. See DESIGN.md for why this is hand-rolled instead of pulled from a
// third-party ordered-map library.
type PropertySet struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewPropertySet returns an empty property set.
func NewPropertySet() *PropertySet {
	return &PropertySet{values: make(map[string]json.RawMessage)}
}

// Set inserts or overwrites a property, preserving first-insertion order.
func (p *PropertySet) Set(key string, value json.RawMessage) {
	if p.values == nil {
		p.values = make(map[string]json.RawMessage)
	}
	if _, exists := p.values[key]; !exists {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key and whether it was present.
func (p *PropertySet) Get(key string) (json.RawMessage, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is set.
func (p *PropertySet) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Delete removes key if present.
func (p *PropertySet) Delete(key string) {
	if p == nil || p.values == nil {
		return
	}
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the set's keys in insertion order.
func (p *PropertySet) Keys() []string {
	if p == nil {
		return nil
	}
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of properties.
func (p *PropertySet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clone returns a deep-enough copy (RawMessage values are shared, but that
// is safe since they are treated as immutable once set).
func (p *PropertySet) Clone() *PropertySet {
	out := NewPropertySet()
	if p == nil {
		return out
	}
	for _, k := range p.keys {
		out.Set(k, p.values[k])
	}
	return out
}

// Equal compares two property sets for value equality, ignoring order.
func (p *PropertySet) Equal(other *PropertySet) bool {
	if p.Len() != other.Len() {
		return false
	}
	for _, k := range p.Keys() {
		v1, _ := p.Get(k)
		v2, ok := other.Get(k)
		if !ok || string(v1) != string(v2) {
			return false
		}
	}
	return true
}

// Merge overlays other on top of p, returning a new set. Keys already in p
// keep their original position; keys only in other are appended in other's
// order.
func (p *PropertySet) Merge(other *PropertySet) *PropertySet {
	out := p.Clone()
	for _, k := range other.Keys() {
		v, _ := other.Get(k)
		out.Set(k, v)
	}
	return out
}

// PropertyDescriptor describes one property an App exposes.
type PropertyDescriptor struct {
	Name string
	// IsPersistable : if false, the property is stripped from the stored
	// AppInstance before it is committed (it is render-only scratch state).
	IsPersistable bool
}

// Dependency is a graph edge: the key identifying the declaration it
// satisfies, and the instance ID of the target it resolves to.
type Dependency struct {
	Key        string
	InstanceID string
}

// AppDependencyConfig is one alternative for satisfying a DependencyDeclaration.
type AppDependencyConfig struct {
	// AppID selects any live instance of this catalog app. Mutually
	// exclusive with SpecificInstanceID.
	AppID string
	// SpecificInstanceID pins the dependency to one exact instance.
	SpecificInstanceID string
	// Alias overrides the alias the child instance is given on creation.
	Alias string
	// Properties are merged onto the child's properties (parent-owned).
	Properties *PropertySet
	// InitialProperties are applied only when the child is freshly created.
	InitialProperties *PropertySet
}

// MatchesAppID reports whether this alternative is satisfied by an instance
// of the given catalog app ID (ignored when SpecificInstanceID is set).
func (c AppDependencyConfig) MatchesAppID(appID string) bool {
	if c.SpecificInstanceID != "" {
		return false
	}
	return c.AppID == appID
}

// DependencyDeclaration is one dependency slot on an App.
type DependencyDeclaration struct {
	Key          string
	Alternatives []AppDependencyConfig

	CreatePolicy           CreatePolicy
	UpdatePolicy           UpdatePolicy
	DeletePolicy           DeletePolicy
	DependencyUpdatePolicy DependencyUpdatePolicy
	DependencyDeletePolicy DependencyDeletePolicy
}

// ComponentDefinition is one rendered configuration-registry component.
type ComponentDefinition struct {
	ID         string
	FactoryID  string
	Alias      string
	Properties *PropertySet
}

// NetworkInterfaceConfig is one rendered static-IP/network fragment.
type NetworkInterfaceConfig struct {
	InterfaceName string
	Properties    *PropertySet
}

// AppConfiguration is the value produced by App.Render.
type AppConfiguration struct {
	Components      []ComponentDefinition
	SchedulerOrder  []string // component IDs, execution order
	NetworkConfigs  []NetworkInterfaceConfig
	ChildDeclarations []DependencyDeclaration
}

// AppInstance is a graph node: a specific installation of an App.
// Value type; equality is by InstanceID. Edits produce replacements keyed
// by InstanceID, never in-place mutation (see internal/txn).
type AppInstance struct {
	InstanceID string
	AppID      string
	Alias      string
	Properties *PropertySet
	Dependencies []Dependency
}

// Clone returns a deep-enough copy of the instance (Properties cloned,
// Dependencies copied).
func (a AppInstance) Clone() AppInstance {
	out := a
	out.Properties = a.Properties.Clone()
	out.Dependencies = append([]Dependency(nil), a.Dependencies...)
	return out
}

// DependencyByKey returns the dependency edge with the given key, if any.
func (a AppInstance) DependencyByKey(key string) (Dependency, bool) {
	for _, d := range a.Dependencies {
		if d.Key == key {
			return d, true
		}
	}
	return Dependency{}, false
}

// App is an immutable catalog entry.
type App struct {
	AppID string
	// Name is locale-indexed: locale -> human name.
	Name map[string]string
	// Dependencies declared by this app, in declaration order.
	Dependencies []DependencyDeclaration
	// Properties exposed by this app.
	Properties []PropertyDescriptor
	// ValidatorConfig is opaque configuration handed to the Validator.
	ValidatorConfig interface{}
	// Render is a pure function producing the configuration for one
	// instance of this app.
	Render func(target Target, alias string, properties *PropertySet, language string) (AppConfiguration, error)
}

// IsPersistable reports whether the named property should survive into the
// stored AppInstance (vs. being render-only scratch state).
func (a App) IsPersistable(name string) bool {
	for _, p := range a.Properties {
		if p.Name == name {
			return p.IsPersistable
		}
	}
	// Unknown properties default to persistable: a property the catalog
	// entry did not declare is most likely instance-specific user data.
	return true
}

// DeclarationByKey returns the dependency declaration with the given key.
func (a App) DeclarationByKey(key string) (DependencyDeclaration, bool) {
	for _, d := range a.Dependencies {
		if d.Key == key {
			return d, true
		}
	}
	return DependencyDeclaration{}, false
}
