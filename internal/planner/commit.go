// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/patrickl3/openems-pf/internal/model"
)

// commitAggregators realizes the batch each aggregator accumulated during
// the walk, in the fixed order Components -> Scheduler -> StaticIPs (spec.md
// §4.6). Failures from all three are collected and joined with " | ",
// mirroring pkg/pillar/depgraph.depGraph.Sync's strings.Join(errMsgs, "; ")
// pattern but built on hashicorp/go-multierror, which the rest of the
// retrieved corpus already depends on directly for this exact purpose
// (backend client error aggregation). When config.Options.
// StrictAggregatorCommit is set, the first failing aggregator stops the
// remaining commits instead of attempting all three - this is the
// strict/lenient Open Question from spec.md §9; lenient is the default.
func (p *Planner) commitAggregators(ctx context.Context, user string, tx interface {
	Configs() []model.AppConfiguration
}) error {
	otherConfigs := tx.Configs()

	names := []string{"components", "scheduler", "static-ips"}
	var merr *multierror.Error
	for i, a := range p.aggs.All() {
		if a == nil {
			continue
		}
		if err := a.Commit(ctx, user, otherConfigs); err != nil {
			merr = multierror.Append(merr, &model.AggregatorFailedError{
				Aggregator: names[i],
				Cause:      err,
			})
			if p.opts.StrictAggregatorCommit {
				break
			}
		}
	}
	if merr == nil {
		return nil
	}
	merr.ErrorFormat = func(errs []error) string {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return joinPipe(msgs)
	}
	return merr.ErrorOrNil()
}

func joinPipe(msgs []string) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += " | "
		}
		out += m
	}
	return out
}
