// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package testsupport

import (
	"context"
	"sync"

	"github.com/patrickl3/openems-pf/internal/model"
)

// delta is one node's contribution to an aggregator's pending batch.
type delta struct {
	New *model.AppConfiguration
	Old *model.AppConfiguration
}

// Aggregator is a generic in-memory model.Aggregator used for all three
// sinks (Components, Scheduler, StaticIPs), mirroring
// libs/depgraph/depgraph_mock_test.go's mockConfigurator in spirit: a fake
// with a recorded operations log and a programmable failure.
type Aggregator struct {
	mu      sync.Mutex
	name    string
	pending []delta
	// Committed accumulates every batch this aggregator has realized,
	// across Commit calls, for test assertions.
	Committed [][]delta
	// FailNext, if non-nil, is returned by the next Commit call and then
	// cleared.
	FailNext error
}

// NewAggregator returns a named, empty Aggregator.
func NewAggregator(name string) *Aggregator {
	return &Aggregator{name: name}
}

// Reset implements model.Aggregator.
func (a *Aggregator) Reset(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
}

// Aggregate implements model.Aggregator.
func (a *Aggregator) Aggregate(ctx context.Context, newCfg, oldCfg *model.AppConfiguration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, delta{New: newCfg, Old: oldCfg})
}

// Commit implements model.Aggregator.
func (a *Aggregator) Commit(ctx context.Context, user string, otherAppConfigs []model.AppConfiguration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailNext != nil {
		err := a.FailNext
		a.FailNext = nil
		return err
	}
	a.Committed = append(a.Committed, a.pending)
	a.pending = nil
	return nil
}

// PendingLen reports how many deltas are queued since the last Reset.
func (a *Aggregator) PendingLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// NewAggregators returns a model.Aggregators bundle of three independent
// in-memory Aggregator fakes, named for their slot.
func NewAggregators() model.Aggregators {
	return model.Aggregators{
		Components: NewAggregator("components"),
		Scheduler:  NewAggregator("scheduler"),
		StaticIPs:  NewAggregator("static-ips"),
	}
}
