// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package apptx

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/patrickl3/openems-pf/internal/model"
)

// Error kinds, unchanged in meaning from spec.md §7. Aliased so callers can
// errors.As/errors.Is against apptx.* names without importing internal/model.
type (
	NotCompatibleError    = model.NotCompatibleError
	NotInstallableError   = model.NotInstallableError
	PolicyDeniedError     = model.PolicyDeniedError
	AppNotFoundError      = model.AppNotFoundError
	InstanceNotFoundError = model.InstanceNotFoundError
	RenderFailedError     = model.RenderFailedError
	AggregatorFailedError = model.AggregatorFailedError
	InternalError         = model.InternalError
)

// wrapCollaboratorErr annotates an error raised by a caller-supplied
// collaborator (AppStore, Validator, ComponentRegistry) with which request
// surfaced it, using github.com/pkg/errors so the original stack context
// survives past internal/planner's joined multierror. The known error kinds
// above are left unwrapped since callers type-switch on them directly (see
// Core.Localize) - only opaque collaborator failures are annotated.
func wrapCollaboratorErr(err error, requestKind string) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *model.NotCompatibleError, *model.NotInstallableError, *model.PolicyDeniedError,
		*model.AppNotFoundError, *model.InstanceNotFoundError, *model.RenderFailedError,
		*model.AggregatorFailedError, *model.InternalError:
		return err
	default:
		return pkgerrors.Wrapf(err, "%s failed", requestKind)
	}
}
