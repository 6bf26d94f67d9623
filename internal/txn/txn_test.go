// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package txn_test

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/patrickl3/openems-pf/internal/model"
	"github.com/patrickl3/openems-pf/internal/txn"
)

func inst(id string, deps ...model.Dependency) model.AppInstance {
	return model.AppInstance{InstanceID: id, AppID: "App", Properties: model.NewPropertySet(), Dependencies: deps}
}

func TestPutCreatingThenModifyingStaysInCreating(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutCreating(inst("a"))
	tx.PutModifying(inst("a"))

	g.Expect(tx.Creating()).To(HaveLen(1))
	g.Expect(tx.Modifying()).To(BeEmpty())
}

func TestPutDeletingRemovesFromOtherSets(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutCreating(inst("a"))
	tx.PutDeleting(inst("a"))

	g.Expect(tx.Creating()).To(BeEmpty())
	g.Expect(tx.Deleting()).To(HaveLen(1))
	g.Expect(tx.IsDeleting("a")).To(BeTrue())
}

func TestGetReflectsScratchState(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutModifying(inst("a"))

	replacement, found, deleting := tx.Get("a")
	g.Expect(found).To(BeTrue())
	g.Expect(deleting).To(BeFalse())
	g.Expect(replacement.InstanceID).To(Equal("a"))

	tx.PutDeleting(inst("b"))
	_, found, deleting = tx.Get("b")
	g.Expect(found).To(BeFalse())
	g.Expect(deleting).To(BeTrue())

	_, found, deleting = tx.Get("untouched")
	g.Expect(found).To(BeFalse())
	g.Expect(deleting).To(BeFalse())
}

func TestCreatingModifyingDeletingAreSortedByInstanceID(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutCreating(inst("b"))
	tx.PutCreating(inst("a"))
	tx.PutCreating(inst("c"))

	ids := make([]string, 0, 3)
	for _, i := range tx.Creating() {
		ids = append(ids, i.InstanceID)
	}
	g.Expect(ids).To(Equal([]string{"a", "b", "c"}))
}

func TestConfigsReturnsSortedByInstanceID(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.RecordConfig("b", model.AppConfiguration{SchedulerOrder: []string{"b"}})
	tx.RecordConfig("a", model.AppConfiguration{SchedulerOrder: []string{"a"}})

	cfgs := tx.Configs()
	g.Expect(cfgs).To(HaveLen(2))
	g.Expect(cfgs[0].SchedulerOrder).To(Equal([]string{"a"}))
	g.Expect(cfgs[1].SchedulerOrder).To(Equal([]string{"b"}))
}

func TestValidateInvariantsRejectsDanglingDependency(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutCreating(inst("a", model.Dependency{Key: "x", InstanceID: "missing"}))

	err := tx.ValidateInvariants(map[string]model.AppInstance{})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("non-surviving instance"))
}

func TestValidateInvariantsRejectsCycle(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutCreating(inst("a", model.Dependency{Key: "x", InstanceID: "b"}))
	tx.PutCreating(inst("b", model.Dependency{Key: "y", InstanceID: "a"}))

	err := tx.ValidateInvariants(map[string]model.AppInstance{})
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("cycle"))
}

func TestValidateInvariantsAcceptsAcyclicClosedGraph(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	tx.PutCreating(inst("a", model.Dependency{Key: "x", InstanceID: "b"}))
	tx.PutCreating(inst("b"))

	g.Expect(tx.ValidateInvariants(map[string]model.AppInstance{})).To(Succeed())
}

func TestValidateInvariantsTreatsDeletedLiveInstanceAsGone(t *testing.T) {
	g := NewWithT(t)
	tx := txn.New()
	live := map[string]model.AppInstance{
		"b": inst("b"),
	}
	tx.PutDeleting(inst("b"))
	tx.PutModifying(inst("a", model.Dependency{Key: "x", InstanceID: "b"}))

	err := tx.ValidateInvariants(live)
	g.Expect(err).To(HaveOccurred())
	g.Expect(err.Error()).To(ContainSubstring("non-surviving instance"))
}
