package domain

import (
	"maps"
	"slices"
	"time"
)

// Counts holds cumulative figures for one region.
type Counts struct {
	Infections int64 `json:"infections"`
	Deaths     int64 `json:"deaths"`
}

// Observation is one published reporting day: cumulative counts per region.
type Observation struct {
	Date   time.Time           `json:"date"`
	Counts map[RegionID]Counts `json:"counts"`
}

// CommitResult is what an observation store hands back when a new
// observation replaces the stored one.
type CommitResult struct {
	Previous  *Observation
	Anomalies []Anomaly
}

// SubscriberID is the Telegram chat id of a subscriber.
type SubscriberID int64

// Day truncates t to a calendar date in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate reports whether both observations describe the same reporting day.
func (o Observation) SameDate(other Observation) bool {
	return Day(o.Date).Equal(Day(other.Date))
}

// Regions returns the region ids present in the observation, sorted.
func (o Observation) Regions() []RegionID {
	return slices.Sorted(maps.Keys(o.Counts))
}

// Clone returns a deep copy so stores never share maps with callers.
func (o Observation) Clone() Observation {
	return Observation{Date: o.Date, Counts: maps.Clone(o.Counts)}
}
