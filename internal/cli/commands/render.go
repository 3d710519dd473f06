package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/simdb-io/simdb/internal/store"
	"github.com/simdb-io/simdb/pkg/core"
)

// renderSimulations prints one row per simulation.
func renderSimulations(w io.Writer, sims []*core.Simulation) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"UUID", "Alias", "Status", "Created"})
	for _, sim := range sims {
		t.AppendRow(table.Row{
			sim.UUID.String()[:8],
			sim.Alias,
			string(sim.Status),
			sim.CreatedAt.Format(time.DateTime),
		})
	}
	t.Render()
	fmt.Fprintf(w, "(%d simulations)\n", len(sims))
}

// renderSimulation prints the full record of one simulation.
func renderSimulation(w io.Writer, sim *core.Simulation) {
	fmt.Fprintf(w, "UUID:    %s\n", sim.UUID)
	if sim.Alias != "" {
		fmt.Fprintf(w, "Alias:   %s\n", sim.Alias)
	}
	fmt.Fprintf(w, "Status:  %s\n", sim.Status)
	fmt.Fprintf(w, "Created: %s\n", sim.CreatedAt.Format(time.RFC3339))
	if sim.Replaces != uuid.Nil {
		fmt.Fprintf(w, "Replaces: %s\n", sim.Replaces)
	}

	if len(sim.Meta) > 0 {
		fmt.Fprintln(w, "\nMetadata:")
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Element", "Value"})
		entries := append([]core.MetaEntry(nil), sim.Meta...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Element < entries[j].Element })
		for _, m := range entries {
			t.AppendRow(table.Row{m.Element, m.Value})
		}
		t.Render()
	}

	renderFiles(w, "Inputs", sim.Inputs)
	renderFiles(w, "Outputs", sim.Outputs)
}

func renderFiles(w io.Writer, title string, files []core.FileRef) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"UUID", "Kind", "URI", "Checksum"})
	for _, f := range files {
		sum := f.Checksum
		if len(sum) > 12 {
			sum = sum[:12]
		}
		t.AppendRow(table.Row{f.UUID.String()[:8], f.Kind, f.URI, sum})
	}
	t.Render()
}

// renderProvenance prints the append-only provenance trail.
func renderProvenance(w io.Writer, entries []store.ProvenanceEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Recorded", "Element", "Value"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.RecordedAt.Format(time.DateTime), e.Element, e.Value})
	}
	t.Render()
}

// renderWatchers prints the watcher list of one simulation.
func renderWatchers(w io.Writer, watchers []core.Watcher) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Username", "Email", "Notifications"})
	for _, watcher := range watchers {
		t.AppendRow(table.Row{watcher.Username, watcher.Email, watcher.Notification.Name()})
	}
	t.Render()
}

// renderVocabularies prints registered controlled vocabularies.
func renderVocabularies(w io.Writer, vocabs []core.Vocabulary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Words"})
	for _, v := range vocabs {
		t.AppendRow(table.Row{v.Name, len(v.Words)})
	}
	t.Render()
}

// renderBaselines prints reference baselines for one device/scenario.
func renderBaselines(w io.Writer, baselines []core.Baseline) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Path", "Range", "Mean", "Median", "Mandatory"})
	for _, b := range baselines {
		t.AppendRow(table.Row{
			b.Path,
			fmt.Sprintf("[%g, %g]", b.RangeLow, b.RangeHigh),
			fmt.Sprintf("[%g, %g]", b.MeanLow, b.MeanHigh),
			fmt.Sprintf("[%g, %g]", b.MedianLow, b.MedianHigh),
			b.Mandatory,
		})
	}
	t.Render()
}
