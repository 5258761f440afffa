// File: cmd/mgnctl/graph.go
// Brief: `mgnctl graph <task>`: print the resolved deploy order or a DOT graph.

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/mgnctl/internal/engine"
	"github.com/example/mgnctl/internal/protocol"
)

func newGraphCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "graph <task>",
		Short: "Render a task's unit graph (table or dot)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := protocol.TaskByName(args[0])
			if err != nil {
				return err
			}
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "", "table":
				return printPlanTable(cmd.OutOrStdout(), task)
			case "dot":
				return printPlanDOT(cmd.OutOrStdout(), task)
			default:
				return fmt.Errorf("unknown --format %q (expected table|dot)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "Graph format: table|dot")
	return cmd
}

func printPlanTable(w io.Writer, task engine.Task) error {
	ordered, _, err := engine.Plan(task)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tUNIT\tKIND\tNEEDS\tACTIONS")
	for i, u := range ordered {
		needs := "-"
		if len(u.Needs) > 0 {
			needs = strings.Join(u.Needs, ",")
		}
		kind := u.KindOrName()
		if u.BindOnly() {
			kind += " (recorded)"
		}
		var actions []string
		for _, a := range u.PostDeploy {
			actions = append(actions, a.Name)
		}
		post := "-"
		if len(actions) > 0 {
			post = strings.Join(actions, ",")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, u.Name, kind, needs, post)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(task.PostSetup) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SETUP\tNEEDS")
	for _, s := range task.PostSetup {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, strings.Join(s.Needs, ","))
	}
	return tw.Flush()
}

func printPlanDOT(w io.Writer, task engine.Task) error {
	ordered, g, err := engine.Plan(task)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "digraph %q {\n", task.Name)
	fmt.Fprintln(w, "  rankdir=LR;")
	for _, u := range ordered {
		shape := "box"
		if u.BindOnly() {
			shape = "box, style=dashed"
		}
		fmt.Fprintf(w, "  %q [shape=%s];\n", u.Name, shape)
	}
	// Edges point from a dependency to the unit that needs it.
	for _, e := range g.Edges() {
		fmt.Fprintf(w, "  %q -> %q;\n", e[1], e[0])
	}
	fmt.Fprintln(w, "}")
	return nil
}
