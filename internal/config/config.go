// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the load-time options that govern the two Open
// Questions spec.md §9 leaves as implementation choices: aggregator commit
// strictness, and the stabilization of which existing parent adopts a new
// ALWAYS-created child when more than one candidate parent exists.
package config

import (
	"os"

	"github.com/hashicorp/go-envparse"
)

// Options are load-time switches for the transaction planner. These are not
// per-request parameters (the core itself has no configuration surface per
// spec.md §5/§6) but knobs an embedder sets once at startup.
type Options struct {
	// StrictAggregatorCommit, when true, stops committing aggregators at
	// the first failure instead of attempting all three and joining their
	// errors. Default false: the teacher's behavior (pkg/pillar/depgraph.Sync
	// and libs/reconciler) is lenient, and spec.md §9 documents preserving
	// that as the resolution of its first Open Question.
	StrictAggregatorCommit bool
	// StabilizeAlwaysParentOrder, when true, makes the dependency resolver
	// sort the live candidate instances for a declaration by instance ID
	// before picking one, instead of taking them in store order. Candidate
	// parents are not sorted by declaration key. Default true.
	StabilizeAlwaysParentOrder bool
}

// Default returns the documented default options.
func Default() Options {
	return Options{
		StrictAggregatorCommit:     false,
		StabilizeAlwaysParentOrder: true,
	}
}

// LoadOptions reads a .env-style file (KEY=value lines) at path and overlays
// recognized keys onto Default(). Missing path is not an error; Default() is
// returned unchanged. Recognized keys:
//
//	APPTX_STRICT_AGGREGATOR_COMMIT=true|false
//	APPTX_STABILIZE_ALWAYS_PARENT_ORDER=true|false
func LoadOptions(path string) (Options, error) {
	opts := Default()
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return opts, nil
	}
	if err != nil {
		return opts, err
	}
	defer f.Close()

	env, err := envparse.Parse(f)
	if err != nil {
		return opts, err
	}
	if v, ok := env["APPTX_STRICT_AGGREGATOR_COMMIT"]; ok {
		opts.StrictAggregatorCommit = isTruthy(v)
	}
	if v, ok := env["APPTX_STABILIZE_ALWAYS_PARENT_ORDER"]; ok {
		opts.StabilizeAlwaysParentOrder = isTruthy(v)
	}
	return opts, nil
}

func isTruthy(v string) bool {
	switch v {
	case "1", "t", "T", "true", "TRUE", "True":
		return true
	}
	return false
}
