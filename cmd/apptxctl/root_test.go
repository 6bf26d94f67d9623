// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmdHasSubcommands(t *testing.T) {
	root := newRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["install"])
	require.True(t, names["delete"])
	require.True(t, names["plan"])
}

func TestInstallCmdRunsAgainstFixtureCatalog(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"install", "--alias", "bms-test"})
	var out bytes.Buffer
	root.SetOut(&out)
	require.NoError(t, root.Execute())
}

func TestDeleteCmdRequiresInstanceFlag(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"delete"})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "--instance is required")
}

func TestPlanCmdAcceptsAliasFlag(t *testing.T) {
	root := newRootCmd()
	cmd, args, err := root.Find([]string{"plan", "--alias", "custom"})
	require.NoError(t, err)
	require.Equal(t, "plan", cmd.Name())
	require.NoError(t, cmd.ParseFlags(args))
	aliasFlag := cmd.Flags().Lookup("alias")
	require.NotNil(t, aliasFlag)
	require.Equal(t, "custom", aliasFlag.Value.String())
}
