// File: internal/journal/print.go
// Brief: Human-friendly printing for `mgnctl runs`.

package journal

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
)

func PrintRunsTable(w io.Writer, runs []RunEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "RUN\tTASK\tENV\tSTATUS\tSTARTED\tSUMMARY")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.RunID,
			r.Task,
			r.Env,
			strings.ToUpper(r.Status),
			r.StartedAt.Format(time.RFC3339),
			r.Summary,
		)
	}
	return nil
}

func PrintUnitsTable(w io.Writer, units []UnitEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "UNIT\tSTATUS\tID\tERROR")
	for _, u := range units {
		id := u.ArtifactID
		if id == "" {
			id = "-"
		}
		msg := runewidth.Truncate(strings.TrimSpace(u.Error), 140, "...")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Unit, strings.ToUpper(u.Status), id, msg)
	}
	return nil
}
