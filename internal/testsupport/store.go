// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport provides in-memory fakes for the collaborator
// interfaces apptx/internal/model declares (AppStore, Validator,
// ComponentRegistry, Translator, the three Aggregators), in the style of
// libs/depgraph/depgraph_mock_test.go's mockConfigurator and
// libs/reconciler/reconciler_test.go's mockItem: plain structs with no
// external dependencies, used only by tests and by cmd/apptxctl's demo mode.
package testsupport

import (
	"context"
	"sync"

	"github.com/patrickl3/openems-pf/internal/model"
)

// Store is an in-memory model.AppStore backed by two maps, guarded by a
// mutex since cmd/apptxctl and tests may share one across goroutines even
// though the core itself is single-threaded per request.
type Store struct {
	mu        sync.Mutex
	apps      map[string]model.App
	instances map[string]model.AppInstance
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		apps:      make(map[string]model.App),
		instances: make(map[string]model.AppInstance),
	}
}

// PutApp registers a catalog entry.
func (s *Store) PutApp(app model.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.AppID] = app
}

// PutInstance records a live instance, as if persisted by a prior request.
func (s *Store) PutInstance(inst model.AppInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.InstanceID] = inst.Clone()
}

// RemoveInstance deletes a live instance, mirroring what the embedder would
// do once a Core.Delete's UpdateValues.Deleted is applied.
func (s *Store) RemoveInstance(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instanceID)
}

// Apply commits a Core result's CreatedOrModified/Deleted sets, the way an
// embedder's persistence layer would after a successful request.
func (s *Store) Apply(createdOrModified, deleted []model.AppInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range createdOrModified {
		s.instances[inst.InstanceID] = inst.Clone()
	}
	for _, inst := range deleted {
		delete(s.instances, inst.InstanceID)
	}
}

// GetAppByID implements model.AppStore.
func (s *Store) GetAppByID(ctx context.Context, appID string) (model.App, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[appID]
	return app, ok, nil
}

// GetInstanceByID implements model.AppStore.
func (s *Store) GetInstanceByID(ctx context.Context, instanceID string) (model.AppInstance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[instanceID]
	return inst, ok, nil
}

// GetAppsWithDependencyTo implements model.AppStore.
func (s *Store) GetAppsWithDependencyTo(ctx context.Context, instanceID string) ([]model.AppInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AppInstance
	for _, inst := range s.instances {
		for _, dep := range inst.Dependencies {
			if dep.InstanceID == instanceID {
				out = append(out, inst)
				break
			}
		}
	}
	return out, nil
}

// GetInstancesOfApp implements model.AppStore.
func (s *Store) GetInstancesOfApp(ctx context.Context, appID string) ([]model.AppInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AppInstance
	for _, inst := range s.instances {
		if inst.AppID == appID {
			out = append(out, inst)
		}
	}
	return out, nil
}

// GetAppConfiguration implements model.AppStore by rendering through the
// catalog App directly (the convenience accessor spec.md §6 documents).
func (s *Store) GetAppConfiguration(ctx context.Context, target model.Target, instance model.AppInstance) (model.AppConfiguration, error) {
	s.mu.Lock()
	app, ok := s.apps[instance.AppID]
	s.mu.Unlock()
	if !ok {
		return model.AppConfiguration{}, &model.AppNotFoundError{AppID: instance.AppID}
	}
	return app.Render(target, instance.Alias, instance.Properties, "")
}

// GetUnsatisfiedDependents implements model.AppStore by scanning every live
// instance's catalog app for a declaration compatible with childAppID that
// instance has not yet wired up an edge for.
func (s *Store) GetUnsatisfiedDependents(ctx context.Context, childAppID string) ([]model.UnsatisfiedDependent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.UnsatisfiedDependent
	for _, inst := range s.instances {
		app, ok := s.apps[inst.AppID]
		if !ok {
			continue
		}
		for _, decl := range app.Dependencies {
			if !declHasAlternative(decl, childAppID) {
				continue
			}
			if _, found := inst.DependencyByKey(decl.Key); found {
				continue
			}
			out = append(out, model.UnsatisfiedDependent{Instance: inst.Clone(), Decl: decl})
		}
	}
	return out, nil
}

func declHasAlternative(decl model.DependencyDeclaration, appID string) bool {
	for _, alt := range decl.Alternatives {
		if alt.MatchesAppID(appID) {
			return true
		}
	}
	return false
}
