// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package apptx

import "github.com/patrickl3/openems-pf/internal/model"

// Collaborator interfaces an embedder must implement, unchanged in meaning
// from spec.md §6.
type (
	AppStore            = model.AppStore
	Validator           = model.Validator
	ComponentRegistry   = model.ComponentRegistry
	Translator          = model.Translator
	RegisteredComponent = model.RegisteredComponent
)

// Aggregator is the contract one downstream sink implements (Components,
// Scheduler, StaticIPs), per spec.md §4.6.
type (
	Aggregator          = model.Aggregator
	ComponentAggregator = model.ComponentAggregator
	SchedulerAggregator = model.SchedulerAggregator
	StaticIPAggregator  = model.StaticIPAggregator
	Aggregators         = model.Aggregators
)
