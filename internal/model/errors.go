// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package model

import "fmt"

// NotCompatibleError is returned when the Validator reports an app as
// incompatible with this appliance.
type NotCompatibleError struct {
	AppID   string
	Message string
}

// Error message.
func (e *NotCompatibleError) Error() string {
	return fmt.Sprintf("app %s is not compatible: %s", e.AppID, e.Message)
}

// NotInstallableError is returned when the Validator reports an app as
// compatible but not currently installable.
type NotInstallableError struct {
	AppID   string
	Message string
}

// Error message.
func (e *NotInstallableError) Error() string {
	return fmt.Sprintf("app %s is not installable: %s", e.AppID, e.Message)
}

// PolicyDeniedError is returned when a policy (create/update/delete/
// dependency-update/dependency-delete) forbids the requested change.
type PolicyDeniedError struct {
	DeclarationKey string
	Reason         string
}

// Error message.
func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied change to dependency %q: %s",
		e.DeclarationKey, e.Reason)
}

// AppNotFoundError is returned when a catalog entry is missing.
type AppNotFoundError struct {
	AppID string
}

// Error message.
func (e *AppNotFoundError) Error() string {
	return fmt.Sprintf("app %s not found in catalog", e.AppID)
}

// InstanceNotFoundError is returned when a dangling instance reference is
// encountered at the request root (non-root occurrences are recovered
// locally by skipping the edge, see internal/walker).
type InstanceNotFoundError struct {
	InstanceID string
}

// Error message.
func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("instance %s not found", e.InstanceID)
}

// RenderFailedError wraps a failure from App.Render.
type RenderFailedError struct {
	AppID string
	Alias string
	Cause error
}

// Error message.
func (e *RenderFailedError) Error() string {
	return fmt.Sprintf("render failed for app %s (alias %q): %v",
		e.AppID, e.Alias, e.Cause)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *RenderFailedError) Unwrap() error {
	return e.Cause
}

// AggregatorFailedError wraps one aggregator's commit failure. Multiple
// instances of this are joined with "|" by internal/planner using
// go-multierror; see DESIGN.md.
type AggregatorFailedError struct {
	Aggregator string
	Cause      error
}

// Error message.
func (e *AggregatorFailedError) Error() string {
	return fmt.Sprintf("%s aggregator commit failed: %v", e.Aggregator, e.Cause)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *AggregatorFailedError) Unwrap() error {
	return e.Cause
}

// InternalError signals an invariant violation: a cycle that survived
// visited-set tracking, a duplicate instance ID, or similar programming
// errors. Always fatal.
type InternalError struct {
	Message string
}

// Error message.
func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}
