package domain

import "fmt"

// AnomalyKind classifies a data anomaly in the source workbook.
type AnomalyKind string

const (
	// AnomalyDecrease marks a cumulative count that went down between two
	// observations, usually a correction by the provider.
	AnomalyDecrease AnomalyKind = "decrease"
	// AnomalyAggregateMismatch marks a state total that differs from the sum
	// of its counties.
	AnomalyAggregateMismatch AnomalyKind = "aggregate-mismatch"
)

// Metric names the counted quantity.
type Metric string

const (
	MetricInfections Metric = "infections"
	MetricDeaths     Metric = "deaths"
)

// Anomaly is a non-fatal inconsistency. It never aborts a cycle.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Region   RegionID    `json:"region"`
	Metric   Metric      `json:"metric"`
	Previous int64       `json:"previous"`
	Current  int64       `json:"current"`
}

func (a Anomaly) String() string {
	switch a.Kind {
	case AnomalyDecrease:
		return fmt.Sprintf("%s %s decreased from %d to %d", a.Region, a.Metric, a.Previous, a.Current)
	case AnomalyAggregateMismatch:
		return fmt.Sprintf("%s %s total %d differs from county sum %d", a.Region, a.Metric, a.Current, a.Previous)
	default:
		return fmt.Sprintf("%s %s %s", a.Kind, a.Region, a.Metric)
	}
}

// CheckMonotonic returns one anomaly per region and metric whose cumulative
// count decreased from previous to current. Regions absent from previous are
// not checked. The result is ordered by region id.
func CheckMonotonic(previous *Observation, current Observation) []Anomaly {
	if previous == nil {
		return nil
	}
	var out []Anomaly
	for _, id := range current.Regions() {
		prev, ok := previous.Counts[id]
		if !ok {
			continue
		}
		cur := current.Counts[id]
		if cur.Infections < prev.Infections {
			out = append(out, Anomaly{Kind: AnomalyDecrease, Region: id, Metric: MetricInfections, Previous: prev.Infections, Current: cur.Infections})
		}
		if cur.Deaths < prev.Deaths {
			out = append(out, Anomaly{Kind: AnomalyDecrease, Region: id, Metric: MetricDeaths, Previous: prev.Deaths, Current: cur.Deaths})
		}
	}
	return out
}
