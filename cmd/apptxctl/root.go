// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patrickl3/openems-pf/internal/config"
)

var (
	configPath string
	locale     string
)

// newRootCmd builds the apptxctl command tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "apptxctl",
		Short: "Drive the application dependency resolver and transaction planner against a fixture catalog",
		Long: "apptxctl demos install/delete plans from a fixture catalog of apps " +
			"(BatteryMonitor depending on Meter) run against in-memory testsupport fakes. " +
			"It is a debugging aid, not a production management interface.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a .env-style options file (APPTX_STRICT_AGGREGATOR_COMMIT, APPTX_STABILIZE_ALWAYS_PARENT_ORDER)")
	root.PersistentFlags().StringVar(&locale, "locale", "en", "locale used to render error messages")

	root.AddCommand(newInstallCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newPlanCmd())
	return root
}

func loadOptions() (config.Options, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	opts, err := config.LoadOptions(configPath)
	if err != nil {
		return config.Options{}, fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	return opts, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
