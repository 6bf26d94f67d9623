// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patrickl3/openems-pf/apptx"
	"github.com/patrickl3/openems-pf/internal/logging"
	"github.com/patrickl3/openems-pf/internal/testsupport"

	"github.com/sirupsen/logrus"
)

// demo wires a fresh Core plus its backing store for one CLI invocation;
// apptxctl has no persistence, so every run starts from the fixture catalog
// with an empty live set.
type demo struct {
	core  *apptx.Core
	store *testsupport.Store
}

func newDemo() (*demo, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, err
	}
	store := testsupport.NewStore()
	for _, app := range demoCatalog() {
		store.PutApp(app)
	}
	log := logging.New(logrus.StandardLogger(), "apptxctl")
	core := apptx.New(store, testsupport.NewValidator(), testsupport.NewRegistry(), testsupport.NewTranslator(), testsupport.NewAggregators(), log, opts)
	return &demo{core: core, store: store}, nil
}

func printResult(values apptx.UpdateValues) {
	out, _ := json.MarshalIndent(struct {
		Root              *apptx.AppInstance  `json:"root,omitempty"`
		CreatedOrModified []apptx.AppInstance `json:"createdOrModified"`
		Deleted           []apptx.AppInstance `json:"deleted"`
		Warnings          []string            `json:"warnings,omitempty"`
	}{values.Root, values.CreatedOrModified, values.Deleted, values.Warnings}, "", "  ")
	fmt.Println(string(out))
	if len(values.OperationLog) > 0 {
		fmt.Println("---")
		fmt.Println(values.OperationLog.String())
	}
}

func newInstallCmd() *cobra.Command {
	var alias string
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a BatteryMonitor instance against the fixture catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDemo()
			if err != nil {
				return err
			}
			app, found, err := d.store.GetAppByID(context.Background(), "BatteryMonitor")
			if err != nil || !found {
				return fmt.Errorf("fixture catalog missing BatteryMonitor")
			}
			values, err := d.core.Install(context.Background(), "apptxctl", app, alias, apptx.NewPropertySet())
			if err != nil {
				return fmt.Errorf("install failed: %s", d.core.Localize(context.Background(), err, locale))
			}
			printResult(values)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "bms", "alias for the new instance")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var instanceID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a previously installed instance by ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			if instanceID == "" {
				return fmt.Errorf("--instance is required")
			}
			d, err := newDemo()
			if err != nil {
				return err
			}
			inst, found, err := d.store.GetInstanceByID(context.Background(), instanceID)
			if err != nil || !found {
				return fmt.Errorf("instance %s not found (apptxctl has no persistence across invocations; run install and delete in the same demo scenario)", instanceID)
			}
			values, err := d.core.Delete(context.Background(), "apptxctl", inst)
			if err != nil {
				return fmt.Errorf("delete failed: %s", d.core.Localize(context.Background(), err, locale))
			}
			printResult(values)
			return nil
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "instance ID to delete")
	return cmd
}

func newPlanCmd() *cobra.Command {
	var alias string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Render the plan a completed install produces as Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDemo()
			if err != nil {
				return err
			}
			app, found, err := d.store.GetAppByID(context.Background(), "BatteryMonitor")
			if err != nil || !found {
				return fmt.Errorf("fixture catalog missing BatteryMonitor")
			}
			values, err := d.core.Install(context.Background(), "apptxctl", app, alias, apptx.NewPropertySet())
			if err != nil {
				return fmt.Errorf("install failed: %s", d.core.Localize(context.Background(), err, locale))
			}
			fmt.Println(apptx.RenderDOT(values.CreatedOrModified, values.Deleted))
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "bms", "alias for the new instance")
	return cmd
}
