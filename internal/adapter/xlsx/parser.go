// Package xlsx reads and writes the ministry's case workbook using excelize.
package xlsx

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/couchcryptid/corona-report-bot/internal/domain"
	"github.com/xuri/excelize/v2"
)

// groupedRe matches integers written with thousands separators, one regexp per
// separator since RE2 has no backreferences.
var groupedRe = []*regexp.Regexp{
	regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`),
	regexp.MustCompile(`^\d{1,3}(,\d{3})+$`),
	regexp.MustCompile(`^\d{1,3}('\d{3})+$`),
}

// dateLayouts are the textual date forms seen in the header cell.
var dateLayouts = []string{"02.01.2006", "2.1.2006", "2006-01-02", "02.01.06"}

// Parser extracts an observation from a workbook laid out as described by a catalog.
// It implements pipeline.Parser.
type Parser struct {
	catalog *domain.Catalog
}

// NewParser creates a Parser for the given catalog.
func NewParser(catalog *domain.Catalog) *Parser {
	return &Parser{catalog: catalog}
}

// Parse decodes the workbook bytes. It returns a *domain.ParseError when the
// workbook deviates from the catalog layout; no partial observation is ever
// returned.
func (p *Parser) Parse(data []byte) (domain.Observation, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return domain.Observation{}, &domain.ParseError{Reason: domain.ReasonMissingSheet, Detail: "not a readable workbook", Err: err}
	}
	defer f.Close()

	layout := p.catalog.Layout()
	sheets := f.GetSheetList()
	infSheet, err := sheetAt(sheets, layout.InfectionsSheet)
	if err != nil {
		return domain.Observation{}, err
	}
	deathSheet, err := sheetAt(sheets, layout.DeathsSheet)
	if err != nil {
		return domain.Observation{}, err
	}

	infDate, err := p.readDate(f, infSheet)
	if err != nil {
		return domain.Observation{}, err
	}
	deathDate, err := p.readDate(f, deathSheet)
	if err != nil {
		return domain.Observation{}, err
	}
	if !infDate.Equal(deathDate) {
		return domain.Observation{}, &domain.ParseError{
			Reason: domain.ReasonDateMismatch,
			Sheet:  deathSheet,
			Cell:   layout.DateCell,
			Detail: fmt.Sprintf("infections dated %s, deaths dated %s", infDate.Format(time.DateOnly), deathDate.Format(time.DateOnly)),
		}
	}

	infections, err := p.readValues(f, infSheet)
	if err != nil {
		return domain.Observation{}, err
	}
	deaths, err := p.readValues(f, deathSheet)
	if err != nil {
		return domain.Observation{}, err
	}

	obs := domain.Observation{Date: infDate, Counts: make(map[domain.RegionID]domain.Counts, len(infections))}
	for _, r := range p.catalog.All() {
		obs.Counts[r.ID] = domain.Counts{Infections: infections[r.ID], Deaths: deaths[r.ID]}
	}
	return obs, nil
}

func sheetAt(sheets []string, index int) (string, error) {
	if index >= len(sheets) {
		return "", &domain.ParseError{
			Reason: domain.ReasonMissingSheet,
			Detail: fmt.Sprintf("workbook has %d sheets, need index %d", len(sheets), index),
		}
	}
	return sheets[index], nil
}

func (p *Parser) readDate(f *excelize.File, sheet string) (time.Time, error) {
	cell := p.catalog.Layout().DateCell
	raw, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return time.Time{}, &domain.ParseError{Reason: domain.ReasonMissingDate, Sheet: sheet, Cell: cell, Err: err}
	}
	d, ok := parseDate(raw)
	if !ok {
		return time.Time{}, &domain.ParseError{Reason: domain.ReasonMissingDate, Sheet: sheet, Cell: cell, Detail: fmt.Sprintf("%q is not a date", raw)}
	}
	return d, nil
}

func (p *Parser) readValues(f *excelize.File, sheet string) (map[domain.RegionID]int64, error) {
	layout := p.catalog.Layout()
	regions := p.catalog.All()
	out := make(map[domain.RegionID]int64, len(regions))

	for _, r := range regions {
		labelCell := layout.LabelColumn + strconv.Itoa(r.Row)
		label, err := f.GetCellValue(sheet, labelCell)
		if err != nil {
			return nil, &domain.ParseError{Reason: domain.ReasonMissingColumn, Sheet: sheet, Cell: labelCell, Err: err}
		}
		if got := normalizeLabel(label); got != r.Label {
			return nil, &domain.ParseError{
				Reason: domain.ReasonMissingColumn,
				Sheet:  sheet,
				Cell:   labelCell,
				Detail: fmt.Sprintf("region %s: want label %q, got %q", r.ID, r.Label, got),
			}
		}

		valueCell := layout.ValueColumn + strconv.Itoa(r.Row)
		raw, err := f.GetCellValue(sheet, valueCell, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, &domain.ParseError{Reason: domain.ReasonMissingColumn, Sheet: sheet, Cell: valueCell, Err: err}
		}
		n, err := parseCount(raw)
		if err != nil {
			return nil, &domain.ParseError{
				Reason: domain.ReasonNonNumericValue,
				Sheet:  sheet,
				Cell:   valueCell,
				Detail: fmt.Sprintf("region %s: %q", r.ID, raw),
				Err:    err,
			}
		}
		out[r.ID] = n
	}
	return out, nil
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseCount converts a cell to a non-negative count. Whitespace and
// thousands separators are dropped; an empty cell counts as zero.
func parseCount(raw string) (int64, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return 0, nil
	}

	for _, re := range groupedRe {
		if re.MatchString(s) {
			s = strings.NewReplacer(".", "", ",", "", "'", "").Replace(s)
			break
		}
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative count %d", n)
		}
		return n, nil
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || math.Abs(v-math.Round(v)) > 1e-6 || v > math.MaxInt64/2 {
		return 0, fmt.Errorf("%q is not a whole non-negative count", raw)
	}
	return int64(math.Round(v)), nil
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimPrefix(s, "Stand:"))
	if s == "" {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < 1 {
			return time.Time{}, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return domain.Day(t), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.Day(t), true
		}
	}
	return time.Time{}, false
}
