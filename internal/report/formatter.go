// Package report renders delta reports as Telegram HTML messages.
package report

import (
	"fmt"
	"html"
	"slices"
	"strings"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
)

const (
	dateLayout = "02.01.2006"
	closing    = "Bleib gesund! 😷"
)

// Formatter renders the state block plus a configured selection of counties.
// Output depends only on its input.
type Formatter struct {
	selected map[domain.RegionID]bool
}

// NewFormatter selects the counties to include by id. The state total is
// always shown. Unknown ids are an error.
func NewFormatter(catalog *domain.Catalog, regions []string) (*Formatter, error) {
	f := &Formatter{selected: make(map[domain.RegionID]bool, len(regions))}
	for _, id := range regions {
		r, ok := catalog.Lookup(domain.RegionID(id))
		if !ok {
			return nil, fmt.Errorf("report region %q is not in catalog %s", id, catalog.Version())
		}
		if r.State {
			continue
		}
		f.selected[r.ID] = true
	}
	return f, nil
}

// Format renders the daily report.
func (f *Formatter) Format(r domain.DeltaReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Dein täglicher Corona-Statusbericht vom %s:\n", r.CurrentDate.Format(dateLayout))
	if r.Baseline {
		b.WriteString("<i>Erster Bericht: Veränderungen werden ab dem nächsten Stand angezeigt.</i>\n")
	} else {
		fmt.Fprintf(&b, "<i>Veränderung zum Stand vom %s</i>\n", r.PreviousDate.Format(dateLayout))
	}
	b.WriteString("\n")

	for _, d := range f.blocks(r) {
		writeBlock(&b, d, r.Baseline)
	}

	if note := anomalyNote(r); note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}

	b.WriteString(closing)
	return b.String()
}

// FormatStatus renders cumulative figures only. It backs the on-demand
// /report command, which has no previous day to compare against.
func (f *Formatter) FormatStatus(r domain.DeltaReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Aktueller Corona-Stand vom %s:\n\n", r.CurrentDate.Format(dateLayout))
	for _, d := range f.blocks(r) {
		writeBlock(&b, d, true)
	}
	b.WriteString(closing)
	return b.String()
}

func (f *Formatter) blocks(r domain.DeltaReport) []domain.RegionDelta {
	out := []domain.RegionDelta{r.State}
	for _, d := range r.Regions {
		if f.selected[d.Region.ID] {
			out = append(out, d)
		}
	}
	return out
}

func writeBlock(b *strings.Builder, d domain.RegionDelta, cumulativeOnly bool) {
	fmt.Fprintf(b, "<b>%s:</b>", html.EscapeString(d.Region.Name))
	if d.Corrected {
		b.WriteString(" ⚠️")
	}
	b.WriteString("\n")

	if cumulativeOnly {
		fmt.Fprintf(b, "• <b>%d</b> Infektionen insgesamt\n", d.CumulativeInfections)
		fmt.Fprintf(b, "• <b>%d</b> Todesfälle insgesamt\n\n", d.CumulativeDeaths)
		return
	}
	fmt.Fprintf(b, "• <b>%+d</b> Neuinfektionen (%d « %d)\n", d.NewInfections, d.CumulativeInfections, d.PreviousInfections)
	fmt.Fprintf(b, "• <b>%+d</b> Todesfälle (%d « %d)\n\n", d.NewDeaths, d.CumulativeDeaths, d.PreviousDeaths)
}

func anomalyNote(r domain.DeltaReport) string {
	if !r.HasAnomalies() {
		return ""
	}

	var corrected []string
	if r.State.Corrected {
		corrected = append(corrected, html.EscapeString(r.State.Region.Name))
	}
	for _, d := range r.Regions {
		if d.Corrected {
			corrected = append(corrected, html.EscapeString(d.Region.Name))
		}
	}

	mismatch := slices.ContainsFunc(r.Anomalies, func(a domain.Anomaly) bool {
		return a.Kind == domain.AnomalyAggregateMismatch
	})

	var lines []string
	if len(corrected) > 0 {
		lines = append(lines, "⚠️ Gemeldete Werte sind gesunken und wurden als 0 gezählt: "+strings.Join(corrected, ", ")+".")
	}
	if mismatch {
		lines = append(lines, "⚠️ Die Landessumme weicht von der Summe der Kreise ab.")
	}
	return strings.Join(lines, "\n")
}
