// Command genfixture writes a synthetic case workbook in the ministry's
// layout, for local runs against a file server and for parser fixtures.
//
// Usage:
//
//	go run ./cmd/genfixture \
//	  -out testdata/Tabelle_Coronavirus-Faelle-BW.xlsx \
//	  -date 2020-06-30 -days 3 \
//	  -json testdata/observations.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/corona-report-bot/internal/adapter/xlsx"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the xlsx workbook")
	jsonOut := flag.String("json", "", "optional output path for the observations as JSON")
	dateStr := flag.String("date", time.Now().Format(time.DateOnly), "date of the newest column (YYYY-MM-DD)")
	days := flag.Int("days", 2, "number of date columns, newest first")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *days < 1 {
		return fmt.Errorf("-days must be at least 1")
	}
	newest, err := time.Parse(time.DateOnly, *dateStr)
	if err != nil {
		return fmt.Errorf("parse -date: %w", err)
	}

	catalog := domain.DefaultCatalog()
	observations := make([]domain.Observation, *days)
	for i := range observations {
		// Day 0 is the newest; counts grow by one step per day.
		observations[i] = synthesize(catalog, newest.AddDate(0, 0, -i), *days-i)
	}

	data, err := xlsx.Encode(catalog, observations...)
	if err != nil {
		return err
	}
	if err := writeFile(*out, data); err != nil {
		return err
	}
	log.Printf("workbook: %s (%d days, %d regions)", *out, *days, len(catalog.All()))

	if *jsonOut != "" {
		data, err := json.MarshalIndent(observations, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal observations: %w", err)
		}
		if err := writeFile(*jsonOut, append(data, '\n')); err != nil {
			return err
		}
		log.Printf("observations: %s", *jsonOut)
	}
	return nil
}

// synthesize derives plausible cumulative counts from each county's row so
// fixtures are reproducible. The state row is the exact county sum.
func synthesize(catalog *domain.Catalog, date time.Time, step int) domain.Observation {
	obs := domain.Observation{Date: domain.Day(date), Counts: make(map[domain.RegionID]domain.Counts)}
	var state domain.Counts
	for _, r := range catalog.Counties() {
		c := domain.Counts{
			Infections: int64(r.Row*37 + step*(r.Row%7+1)),
			Deaths:     int64(r.Row + step*(r.Row%3)/2),
		}
		obs.Counts[r.ID] = c
		state.Infections += c.Infections
		state.Deaths += c.Deaths
	}
	obs.Counts[catalog.State().ID] = state
	return obs
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // fixture output is not sensitive
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
