// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package main implements apptxctl, a small operator CLI that drives
// apptx.Core against in-memory internal/testsupport fakes, for demoing
// install/delete plans from a fixture catalog without a real
// appliance. It is a demonstration/debugging surface only, not a
// transport/RPC wrapper around the core.
package main

import (
	"encoding/json"

	"github.com/patrickl3/openems-pf/apptx"
)

// demoCatalog builds the fixture catalog used by every subcommand: a
// BatteryMonitor app declaring a "meter" dependency satisfied by any live
// Meter instance, matching spec.md §8's S1/S2 scenarios.
func demoCatalog() []apptx.App {
	meter := apptx.App{
		AppID: "Meter",
		Name:  map[string]string{"en": "Meter"},
		Properties: []apptx.PropertyDescriptor{
			{Name: "componentID", IsPersistable: true},
		},
		Render: func(target apptx.Target, alias string, props *apptx.PropertySet, language string) (apptx.AppConfiguration, error) {
			id := "meter0"
			if props != nil {
				if raw, ok := props.Get("componentID"); ok {
					var s string
					if err := json.Unmarshal(raw, &s); err == nil && s != "" {
						id = s
					}
				}
			}
			return apptx.AppConfiguration{
				Components: []apptx.ComponentDefinition{
					{ID: id, FactoryID: "Meter", Alias: alias},
				},
			}, nil
		},
	}

	batteryMonitor := apptx.App{
		AppID: "BatteryMonitor",
		Name:  map[string]string{"en": "Battery Monitor"},
		Dependencies: []apptx.DependencyDeclaration{
			{
				Key: "meter",
				Alternatives: []apptx.AppDependencyConfig{
					{AppID: "Meter"},
				},
				CreatePolicy: apptx.CreateIfNotExisting,
				UpdatePolicy: apptx.UpdateIfMine,
				DeletePolicy: apptx.DeleteIfMine,
			},
		},
		Render: func(target apptx.Target, alias string, props *apptx.PropertySet, language string) (apptx.AppConfiguration, error) {
			return apptx.AppConfiguration{
				Components: []apptx.ComponentDefinition{
					{ID: "bms0", FactoryID: "BatteryMonitor", Alias: alias},
				},
				ChildDeclarations: []apptx.DependencyDeclaration{
					{
						Key:          "meter",
						Alternatives: []apptx.AppDependencyConfig{{AppID: "Meter"}},
						CreatePolicy: apptx.CreateIfNotExisting,
						UpdatePolicy: apptx.UpdateIfMine,
						DeletePolicy: apptx.DeleteIfMine,
					},
				},
			}, nil
		},
	}

	return []apptx.App{meter, batteryMonitor}
}
