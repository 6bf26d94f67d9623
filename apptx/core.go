// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package apptx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/patrickl3/openems-pf/internal/config"
	"github.com/patrickl3/openems-pf/internal/logging"
	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/planner"
)

// UpdateValues is spec.md §6's result type, returned by every Core
// operation. OperationLog is a supplemented field (not named by spec.md)
// carrying the same post-hoc audit trail libs/reconciler.Status.OperationLog
// gives its callers.
type UpdateValues struct {
	Root              *AppInstance
	CreatedOrModified []AppInstance
	Deleted           []AppInstance
	Warnings          []string
	OperationLog      OperationLog
}

// OpLogEntry is one entry of a Core operation's audit trail, in the style
// of libs/reconciler.OpLogEntry.
type OpLogEntry struct {
	InstanceID string
	AppID      string
	Operation  string
	StartTime  time.Time
	EndTime    time.Time
	Err        error
}

// OperationLog is an ordered list of OpLogEntry, printable for operator
// troubleshooting the same way libs/reconciler.OperationLog is.
type OperationLog []OpLogEntry

// String renders a multi-line description of every logged operation, in the
// style of libs/reconciler.OperationLog.String().
func (l OperationLog) String() string {
	var lines []string
	for _, e := range l {
		status := "ok"
		if e.Err != nil {
			status = "error: " + e.Err.Error()
		}
		lines = append(lines, fmt.Sprintf("[%v - %v] %s instance:%s app:%s %s",
			e.StartTime, e.EndTime, strings.ToUpper(e.Operation), e.InstanceID, e.AppID, status))
	}
	return strings.Join(lines, "\n")
}

// Core is the public TransactionPlanner facade (spec.md §6's "Core API").
// Not safe for concurrent use - per spec.md §5 the caller must serialize
// install/update/delete requests.
type Core struct {
	p          *planner.Planner
	translator Translator
	log        *logging.Logger
}

// New wires a Core to its collaborators. log may be nil, in which case a
// standalone logrus logger is used (matching depGraph's fallback when no
// base.LogObject is supplied).
func New(store AppStore, validator Validator, registry ComponentRegistry, translator Translator, aggs Aggregators, log *logging.Logger, opts config.Options) *Core {
	if log == nil {
		log = logging.New(logrus.StandardLogger(), "apptx")
	}
	return &Core{
		p:          planner.New(store, validator, registry, translator, aggs, log, opts),
		translator: translator,
		log:        log,
	}
}

// Install runs an install request for a brand-new instance of app.
func (c *Core) Install(ctx context.Context, user string, app App, alias string, properties *PropertySet) (UpdateValues, error) {
	res, err := c.p.Install(ctx, user, app, alias, properties)
	if err != nil {
		return UpdateValues{}, wrapCollaboratorErr(err, "install")
	}
	return fromPlannerResult(res), nil
}

// Update runs an update request, transitioning oldInstance toward newAlias/newProperties.
func (c *Core) Update(ctx context.Context, user string, app App, oldInstance AppInstance, newAlias string, newProperties *PropertySet) (UpdateValues, error) {
	res, err := c.p.Update(ctx, user, app, oldInstance, newAlias, newProperties)
	if err != nil {
		return UpdateValues{}, wrapCollaboratorErr(err, "update")
	}
	return fromPlannerResult(res), nil
}

// Delete runs a delete request against instance.
func (c *Core) Delete(ctx context.Context, user string, instance AppInstance) (UpdateValues, error) {
	res, err := c.p.Delete(ctx, user, instance)
	if err != nil {
		return UpdateValues{}, wrapCollaboratorErr(err, "delete")
	}
	return fromPlannerResult(res), nil
}

// TemporaryApps returns a snapshot of the in-flight transaction's scratch
// state, or nil if no request is currently active. Per spec.md §6.
func (c *Core) TemporaryApps() []AppInstance {
	tx := c.p.TemporaryApps()
	if tx == nil {
		return nil
	}
	out := append([]AppInstance{}, tx.Creating()...)
	out = append(out, tx.Modifying()...)
	return out
}

func fromPlannerResult(res planner.Result) UpdateValues {
	var log OperationLog
	for _, e := range res.OperationLog {
		log = append(log, OpLogEntry{
			InstanceID: e.InstanceID,
			AppID:      e.AppID,
			Operation:  e.Operation,
			StartTime:  e.StartTime,
			EndTime:    e.EndTime,
			Err:        e.Err,
		})
	}
	return UpdateValues{
		Root:              res.Root,
		CreatedOrModified: res.CreatedOrModified,
		Deleted:           res.Deleted,
		Warnings:          res.Warnings,
		OperationLog:      log,
	}
}

// Localize turns a known apptx error kind into a display string in the
// given locale via the Translator collaborator, keeping internal/* itself
// free of locale concerns (SPEC_FULL.md §7). Unrecognized error kinds fall
// back to err.Error().
func (c *Core) Localize(ctx context.Context, err error, locale string) string {
	if err == nil || c.translator == nil {
		return ""
	}
	switch e := err.(type) {
	case *model.NotCompatibleError:
		return c.translator.Translate(ctx, locale, "error.not_compatible", e.AppID, e.Message)
	case *model.NotInstallableError:
		return c.translator.Translate(ctx, locale, "error.not_installable", e.AppID, e.Message)
	case *model.PolicyDeniedError:
		return c.translator.Translate(ctx, locale, "error.policy_denied", e.DeclarationKey, e.Reason)
	case *model.InstanceNotFoundError:
		return c.translator.Translate(ctx, locale, "error.instance_not_found", e.InstanceID)
	case *model.AggregatorFailedError:
		return c.translator.Translate(ctx, locale, "error.aggregator_failed", e.Aggregator, e.Cause)
	default:
		return err.Error()
	}
}
