// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package testsupport

import (
	"context"
	"sync"

	"github.com/patrickl3/openems-pf/internal/model"
)

// Validator is an in-memory model.Validator whose verdict per factory ID is
// pre-programmed by the test, mirroring mockConfigurator's failToCreate/
// failToDelete flags from libs/depgraph/depgraph_mock_test.go. Fixture apps
// are expected to render a first component whose FactoryID names the app,
// since AppConfiguration carries no AppID of its own.
type Validator struct {
	mu       sync.Mutex
	statuses map[string]model.ValidatorStatus
	messages map[string]string
	lastMsg  string
	// Default is returned for a factory ID with no explicit entry.
	Default model.ValidatorStatus
}

// NewValidator returns a Validator that reports StatusInstallable by default.
func NewValidator() *Validator {
	return &Validator{
		statuses: make(map[string]model.ValidatorStatus),
		messages: make(map[string]string),
		Default:  model.StatusInstallable,
	}
}

// SetStatus programs the verdict Status returns when the rendered
// configuration's first component has the given FactoryID.
func (v *Validator) SetStatus(factoryID string, status model.ValidatorStatus, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses[factoryID] = status
	v.messages[factoryID] = message
}

// Status implements model.Validator.
func (v *Validator) Status(ctx context.Context, cfg model.AppConfiguration) (model.ValidatorStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(cfg.Components) == 0 {
		v.lastMsg = ""
		return v.Default, nil
	}
	factoryID := cfg.Components[0].FactoryID
	if status, ok := v.statuses[factoryID]; ok {
		v.lastMsg = v.messages[factoryID]
		return status, nil
	}
	v.lastMsg = ""
	return v.Default, nil
}

// Message implements model.Validator, returning the message attached to the
// most recent Status verdict regardless of locale (this fake does not
// localize).
func (v *Validator) Message(ctx context.Context, locale string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastMsg
}
