package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2020, time.June, 29, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2020, time.June, 30, 0, 0, 0, 0, time.UTC)
)

const testCatalog = `
version: test
layout: {infections_sheet: 0, deaths_sheet: 1, date_cell: B7, label_column: A, value_column: B}
regions:
  - {id: a, name: Kreis A, label: Kreis A, row: 8}
  - {id: b, name: Kreis B, label: Kreis B, row: 9}
  - {id: c, name: Kreis C, label: Kreis C, row: 10}
  - {id: s, name: Land, label: Summe, row: 11, state: true}
`

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	return c
}

// observationOf builds an observation whose state row is the county sum.
func observationOf(date time.Time, counties map[RegionID]Counts) Observation {
	o := Observation{Date: date, Counts: map[RegionID]Counts{}}
	var total Counts
	for id, c := range counties {
		o.Counts[id] = c
		total.Infections += c.Infections
		total.Deaths += c.Deaths
	}
	o.Counts["s"] = total
	return o
}

func TestComputeDelta_Baseline(t *testing.T) {
	cat := mustCatalog(t)
	cur := observationOf(day2, map[RegionID]Counts{
		"a": {Infections: 100, Deaths: 3},
		"b": {Infections: 200, Deaths: 5},
		"c": {Infections: 300, Deaths: 7},
	})

	report := ComputeDelta(cat, nil, cur)

	assert.True(t, report.Baseline)
	assert.True(t, report.PreviousDate.IsZero())
	assert.Equal(t, day2, report.CurrentDate)
	assert.Equal(t, "test", report.CatalogVersion)
	require.Len(t, report.Regions, 3)
	for _, d := range report.Regions {
		assert.Zero(t, d.NewInfections, d.Region.ID)
		assert.Zero(t, d.NewDeaths, d.Region.ID)
	}
	assert.Equal(t, int64(600), report.State.CumulativeInfections)
	assert.Equal(t, int64(15), report.State.CumulativeDeaths)
	assert.Empty(t, report.Anomalies)
}

func TestComputeDelta_StateAggregateMatchesCountySum(t *testing.T) {
	cat := mustCatalog(t)
	prev := observationOf(day1, map[RegionID]Counts{
		"a": {Infections: 400, Deaths: 10},
		"b": {Infections: 350, Deaths: 10},
		"c": {Infections: 250, Deaths: 5},
	})
	cur := observationOf(day2, map[RegionID]Counts{
		"a": {Infections: 420, Deaths: 11},
		"b": {Infections: 360, Deaths: 10},
		"c": {Infections: 270, Deaths: 6},
	})
	require.Equal(t, int64(1000), prev.Counts["s"].Infections)
	require.Equal(t, int64(1050), cur.Counts["s"].Infections)

	report := ComputeDelta(cat, &prev, cur)

	assert.False(t, report.Baseline)
	assert.Equal(t, day1, report.PreviousDate)
	assert.Equal(t, int64(50), report.State.NewInfections)
	assert.Equal(t, int64(2), report.State.NewDeaths)
	assert.Equal(t, int64(50), report.CountyTotals().NewInfections)
	assert.Equal(t, int64(2), report.CountyTotals().NewDeaths)
	assert.Empty(t, report.Anomalies)

	a, ok := report.Region("a")
	require.True(t, ok)
	assert.Equal(t, int64(20), a.NewInfections)
	assert.Equal(t, int64(400), a.PreviousInfections)
}

func TestComputeDelta_DecreaseIsClampedAndFlagged(t *testing.T) {
	cat := mustCatalog(t)
	prev := observationOf(day1, map[RegionID]Counts{
		"a": {Infections: 100, Deaths: 4},
		"b": {Infections: 100},
		"c": {Infections: 100},
	})
	cur := observationOf(day2, map[RegionID]Counts{
		"a": {Infections: 97, Deaths: 3},
		"b": {Infections: 110},
		"c": {Infections: 100},
	})

	report := ComputeDelta(cat, &prev, cur)

	a, _ := report.Region("a")
	assert.Zero(t, a.NewInfections)
	assert.Zero(t, a.NewDeaths)
	assert.Equal(t, int64(97), a.CumulativeInfections)
	assert.Equal(t, int64(3), a.CumulativeDeaths)
	assert.True(t, a.Corrected)

	b, _ := report.Region("b")
	assert.Equal(t, int64(10), b.NewInfections)
	assert.False(t, b.Corrected)

	want := []Anomaly{
		{Kind: AnomalyDecrease, Region: "a", Metric: MetricInfections, Previous: 100, Current: 97},
		{Kind: AnomalyDecrease, Region: "a", Metric: MetricDeaths, Previous: 4, Current: 3},
		{Kind: AnomalyDecrease, Region: "s", Metric: MetricDeaths, Previous: 4, Current: 3},
	}
	if diff := cmp.Diff(want, report.Anomalies); diff != "" {
		t.Fatalf("anomalies mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, report.HasAnomalies())
}

func TestComputeDelta_Deterministic(t *testing.T) {
	cat := mustCatalog(t)
	prev := observationOf(day1, map[RegionID]Counts{"a": {Infections: 5}, "b": {Infections: 9}, "c": {Infections: 1}})
	cur := observationOf(day2, map[RegionID]Counts{"a": {Infections: 8}, "b": {Infections: 7}, "c": {Infections: 1}})

	first := ComputeDelta(cat, &prev, cur)
	for range 20 {
		if diff := cmp.Diff(first, ComputeDelta(cat, &prev, cur)); diff != "" {
			t.Fatalf("report changed between runs (-first +got):\n%s", diff)
		}
	}
}

func TestComputeDelta_AggregateMismatch(t *testing.T) {
	cat := mustCatalog(t)
	cur := observationOf(day2, map[RegionID]Counts{"a": {Infections: 1}, "b": {Infections: 2}, "c": {Infections: 3}})
	cur.Counts["s"] = Counts{Infections: 10}

	report := ComputeDelta(cat, nil, cur)

	require.Len(t, report.Anomalies, 1)
	got := report.Anomalies[0]
	assert.Equal(t, AnomalyAggregateMismatch, got.Kind)
	assert.Equal(t, int64(6), got.Previous)
	assert.Equal(t, int64(10), got.Current)
	assert.Contains(t, got.String(), "differs from county sum 6")
}

func TestComputeDelta_RegionMissingFromPrevious(t *testing.T) {
	cat := mustCatalog(t)
	prev := observationOf(day1, map[RegionID]Counts{"a": {Infections: 5}, "b": {Infections: 5}})
	cur := observationOf(day2, map[RegionID]Counts{"a": {Infections: 6}, "b": {Infections: 5}, "c": {Infections: 40}})

	report := ComputeDelta(cat, &prev, cur)

	c, ok := report.Region("c")
	require.True(t, ok)
	assert.Zero(t, c.NewInfections)
	assert.Equal(t, int64(40), c.CumulativeInfections)
}

func TestCheckMonotonic(t *testing.T) {
	prev := observationOf(day1, map[RegionID]Counts{"a": {Infections: 10, Deaths: 1}, "b": {Infections: 10}})
	cur := observationOf(day2, map[RegionID]Counts{"a": {Infections: 12, Deaths: 0}, "b": {Infections: 9}})

	got := CheckMonotonic(&prev, cur)

	want := []Anomaly{
		{Kind: AnomalyDecrease, Region: "a", Metric: MetricDeaths, Previous: 1, Current: 0},
		{Kind: AnomalyDecrease, Region: "b", Metric: MetricInfections, Previous: 10, Current: 9},
		{Kind: AnomalyDecrease, Region: "s", Metric: MetricDeaths, Previous: 1, Current: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("anomalies mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, CheckMonotonic(nil, cur))
}

func TestDeltaReport_Annotate(t *testing.T) {
	cat := mustCatalog(t)
	prev := observationOf(day1, map[RegionID]Counts{"a": {Infections: 100}, "b": {Infections: 5}, "c": {Infections: 1}})
	cur := observationOf(day2, map[RegionID]Counts{"a": {Infections: 97}, "b": {Infections: 5}, "c": {Infections: 1}})
	report := ComputeDelta(cat, &prev, cur)
	require.Len(t, report.Anomalies, 2)

	extra := Anomaly{Kind: AnomalyDecrease, Region: "x", Metric: MetricDeaths, Previous: 2, Current: 1}
	report.Annotate(append(CheckMonotonic(&prev, cur), extra))

	want := []Anomaly{
		{Kind: AnomalyDecrease, Region: "a", Metric: MetricInfections, Previous: 100, Current: 97},
		{Kind: AnomalyDecrease, Region: "s", Metric: MetricInfections, Previous: 106, Current: 103},
		extra,
	}
	if diff := cmp.Diff(want, report.Anomalies); diff != "" {
		t.Fatalf("anomalies mismatch (-want +got):\n%s", diff)
	}
}
