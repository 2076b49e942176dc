package domain

import (
	"slices"
	"time"
)

// RegionDelta is the day-over-day change for one region.
type RegionDelta struct {
	Region               Region `json:"region"`
	NewInfections        int64  `json:"new_infections"`
	NewDeaths            int64  `json:"new_deaths"`
	CumulativeInfections int64  `json:"cumulative_infections"`
	CumulativeDeaths     int64  `json:"cumulative_deaths"`
	PreviousInfections   int64  `json:"previous_infections"`
	PreviousDeaths       int64  `json:"previous_deaths"`
	// Corrected is set when a cumulative count decreased and the delta was clamped to zero.
	Corrected bool `json:"corrected,omitempty"`
}

// DeltaReport compares two consecutive observations.
type DeltaReport struct {
	CatalogVersion string        `json:"catalog_version"`
	CurrentDate    time.Time     `json:"current_date"`
	PreviousDate   time.Time     `json:"previous_date,omitzero"`
	Baseline       bool          `json:"baseline"` // no previous observation to compare with
	State          RegionDelta   `json:"state"`
	Regions        []RegionDelta `json:"regions"` // counties in catalog order
	Anomalies      []Anomaly     `json:"anomalies,omitempty"`
}

// HasAnomalies reports whether the report needs an anomaly note.
func (r DeltaReport) HasAnomalies() bool { return len(r.Anomalies) > 0 }

// Annotate appends the anomalies the report does not already carry, such as
// the ones an observation store flagged while committing.
func (r *DeltaReport) Annotate(anomalies []Anomaly) {
	for _, a := range anomalies {
		if !slices.Contains(r.Anomalies, a) {
			r.Anomalies = append(r.Anomalies, a)
		}
	}
}

// Region returns the delta for the given region id, including the state.
func (r DeltaReport) Region(id RegionID) (RegionDelta, bool) {
	if r.State.Region.ID == id {
		return r.State, true
	}
	for _, d := range r.Regions {
		if d.Region.ID == id {
			return d, true
		}
	}
	return RegionDelta{}, false
}

// CountyTotals sums the county deltas.
func (r DeltaReport) CountyTotals() RegionDelta {
	var sum RegionDelta
	for _, d := range r.Regions {
		sum.NewInfections += d.NewInfections
		sum.NewDeaths += d.NewDeaths
		sum.CumulativeInfections += d.CumulativeInfections
		sum.CumulativeDeaths += d.CumulativeDeaths
		sum.PreviousInfections += d.PreviousInfections
		sum.PreviousDeaths += d.PreviousDeaths
	}
	return sum
}

// ComputeDelta derives the report for current against previous. A nil
// previous yields a baseline report with zero deltas. Decreasing cumulative
// counts are clamped to a zero delta and recorded as anomalies; cumulative
// figures always carry the raw current values.
func ComputeDelta(catalog *Catalog, previous *Observation, current Observation) DeltaReport {
	report := DeltaReport{
		CatalogVersion: catalog.Version(),
		CurrentDate:    Day(current.Date),
		Baseline:       previous == nil,
		Regions:        make([]RegionDelta, 0, len(catalog.counties)),
	}
	if previous != nil {
		report.PreviousDate = Day(previous.Date)
	}

	for _, region := range catalog.counties {
		d, anomalies := regionDelta(region, previous, current)
		report.Regions = append(report.Regions, d)
		report.Anomalies = append(report.Anomalies, anomalies...)
	}

	state, anomalies := regionDelta(catalog.state, previous, current)
	report.State = state
	report.Anomalies = append(report.Anomalies, anomalies...)
	report.Anomalies = append(report.Anomalies, aggregateMismatches(report)...)

	return report
}

func regionDelta(region Region, previous *Observation, current Observation) (RegionDelta, []Anomaly) {
	cur := current.Counts[region.ID]
	prev := cur
	if previous != nil {
		if p, ok := previous.Counts[region.ID]; ok {
			prev = p
		}
	}

	d := RegionDelta{
		Region:               region,
		CumulativeInfections: cur.Infections,
		CumulativeDeaths:     cur.Deaths,
		PreviousInfections:   prev.Infections,
		PreviousDeaths:       prev.Deaths,
	}

	var anomalies []Anomaly
	d.NewInfections = cur.Infections - prev.Infections
	if d.NewInfections < 0 {
		anomalies = append(anomalies, Anomaly{Kind: AnomalyDecrease, Region: region.ID, Metric: MetricInfections, Previous: prev.Infections, Current: cur.Infections})
		d.NewInfections = 0
		d.Corrected = true
	}
	d.NewDeaths = cur.Deaths - prev.Deaths
	if d.NewDeaths < 0 {
		anomalies = append(anomalies, Anomaly{Kind: AnomalyDecrease, Region: region.ID, Metric: MetricDeaths, Previous: prev.Deaths, Current: cur.Deaths})
		d.NewDeaths = 0
		d.Corrected = true
	}
	return d, anomalies
}

func aggregateMismatches(report DeltaReport) []Anomaly {
	sum := report.CountyTotals()
	var out []Anomaly
	if sum.CumulativeInfections != report.State.CumulativeInfections {
		out = append(out, Anomaly{
			Kind:     AnomalyAggregateMismatch,
			Region:   report.State.Region.ID,
			Metric:   MetricInfections,
			Previous: sum.CumulativeInfections,
			Current:  report.State.CumulativeInfections,
		})
	}
	if sum.CumulativeDeaths != report.State.CumulativeDeaths {
		out = append(out, Anomaly{
			Kind:     AnomalyAggregateMismatch,
			Region:   report.State.Region.ID,
			Metric:   MetricDeaths,
			Previous: sum.CumulativeDeaths,
			Current:  report.State.CumulativeDeaths,
		})
	}
	return out
}
