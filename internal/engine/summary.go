// File: internal/engine/summary.go
// Brief: Human-friendly run summary table output.

package engine

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/example/mgnctl/internal/checkpoint"
)

var (
	statusDeployed   = color.New(color.FgGreen).SprintFunc()
	statusRecorded   = color.New(color.FgCyan).SprintFunc()
	statusFailed     = color.New(color.FgRed).SprintFunc()
	statusUnresolved = color.New(color.FgYellow).SprintFunc()
)

// PrintReport writes the per-unit outcome of a run followed by its failures.
func PrintReport(w io.Writer, r *Report, colorize bool) error {
	if r == nil || r.Result == nil {
		return errors.New("no report")
	}
	paint := func(f func(a ...interface{}) string, s string) string {
		if !colorize || color.NoColor {
			return s
		}
		return f(s)
	}
	res := r.Result
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "RUN\t%s\n", r.RunID)
	fmt.Fprintf(tw, "TASK\t%s\n", r.Task)
	fmt.Fprintf(tw, "ENV\t%s (%s)\n", r.Env, r.Network)
	fmt.Fprintf(tw, "TOTALS\t%s\n", summaryLine(r))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "UNIT\tSTATUS\tID")

	deployed := setOf(res.Deployed)
	rehydrated := setOf(res.Rehydrated)
	failed := map[string]bool{}
	for _, f := range res.Failures {
		if f.Action == "" && !errors.Is(f.Err, ErrUnresolvedDependency) {
			failed[f.Unit] = true
		}
	}
	for _, name := range r.Order {
		var status string
		switch {
		case deployed[name]:
			status = paint(statusDeployed, "DEPLOYED")
		case rehydrated[name]:
			status = paint(statusRecorded, "RECORDED")
		case failed[name]:
			status = paint(statusFailed, "FAILED")
		default:
			status = paint(statusUnresolved, "UNRESOLVED")
		}
		id := res.Record[name]
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, status, id)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tACTION\tCLASS\tERROR")
	for _, f := range failures {
		action := f.Action
		if action == "" {
			action = "-"
		}
		msg := truncate(strings.TrimSpace(f.Err.Error()), 140)
		if blocked := r.Blocked[f.Unit]; f.Action == "" && len(blocked) > 0 {
			msg += fmt.Sprintf(" (blocks %s)", strings.Join(blocked, ", "))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Unit, action, ErrorClass(f.Err), msg)
	}
	return tw.Flush()
}

// PrintRecord lists a checkpoint against the units of a task. Units present
// in the record but unknown to the task are listed last.
func PrintRecord(w io.Writer, t Task, rec checkpoint.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tKIND\tID")
	known := map[string]bool{}
	ordered, _, err := Plan(t)
	if err != nil {
		return err
	}
	for _, u := range ordered {
		known[u.Name] = true
		id := rec[u.Name]
		if strings.TrimSpace(id) == "" {
			id = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Name, u.KindOrName(), id)
	}
	var extra []string
	for name := range rec {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		fmt.Fprintf(tw, "%s\t?\t%s\n", name, rec[name])
	}
	return tw.Flush()
}

func setOf(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

// truncate clips s to n terminal cells so wide characters do not break the
// table alignment.
func truncate(s string, n int) string {
	return runewidth.Truncate(s, n, "...")
}
