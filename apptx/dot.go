// Copyright (c) 2024 openems-pf contributors
// SPDX-License-Identifier: Apache-2.0

package apptx

import (
	"fmt"
	"sort"
	"strings"
)

// RenderPlanDOT renders the in-flight transaction's scratch state (creating,
// modifying, deleting instances and their dependency edges) as Graphviz DOT
// text, for operator troubleshooting. Returns "digraph G {}" if no request
// is currently active - TemporaryApps (and therefore this) only reflects
// state while a request is actually running, e.g. from within a collaborator
// callback invoked synchronously during Install/Update/Delete. Supplemented
// feature (spec.md §6's TemporaryApps has no rendering of its own) grounded
// on libs/depgraph/depgraph_dot.go and pkg/pillar/depgraph/depgraph_dot.go's
// DotExporter.
func (c *Core) RenderPlanDOT() string {
	tx := c.p.TemporaryApps()
	if tx == nil {
		return "digraph G {}"
	}
	return RenderDOT(append(tx.Creating(), tx.Modifying()...), tx.Deleting())
}

// RenderDOT renders a finished UpdateValues-shaped result (or any other
// creating/modifying plus deleting instance set) as Graphviz DOT text.
// Unlike RenderPlanDOT this needs no active request, so callers can render
// the plan a completed Install/Update/Delete just produced.
func RenderDOT(createdOrModified, deleted []AppInstance) string {
	type coloredNode struct {
		inst  AppInstance
		color string
	}
	var nodes []coloredNode
	for _, inst := range createdOrModified {
		nodes = append(nodes, coloredNode{inst, "lightblue"})
	}
	for _, inst := range deleted {
		nodes = append(nodes, coloredNode{inst, "red"})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].inst.InstanceID < nodes[j].inst.InstanceID })

	var sb strings.Builder
	sb.WriteString("digraph G {\n")
	for _, n := range nodes {
		sb.WriteString(fmt.Sprintf("\t%s [style=filled, fillcolor=%s, label=%q];\n",
			dotID(n.inst.InstanceID), n.color, n.inst.AppID+"\\n"+n.inst.Alias))
	}
	for _, n := range nodes {
		if n.color == "red" {
			continue
		}
		for _, dep := range n.inst.Dependencies {
			sb.WriteString(fmt.Sprintf("\t%s -> %s [label=%q];\n",
				dotID(n.inst.InstanceID), dotID(dep.InstanceID), dep.Key))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func dotID(instanceID string) string {
	return fmt.Sprintf("%q", instanceID)
}
