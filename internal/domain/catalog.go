package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// RegionID is the stable identifier of a region (the state or one county).
type RegionID string

// Region is a catalog entry: how a region is shown and where it lives in the workbook.
type Region struct {
	ID    RegionID `yaml:"id" json:"id"`
	Name  string   `yaml:"name" json:"name"`             // display name used in reports
	Label string   `yaml:"label" json:"-"`               // expected text in the label column
	Row   int      `yaml:"row" json:"-"`                 // 1-based worksheet row
	State bool     `yaml:"state" json:"state,omitempty"` // true for the state-wide total row
}

// Layout describes the fixed cell positions shared by both sheets.
type Layout struct {
	InfectionsSheet int    `yaml:"infections_sheet"` // 0-based sheet index
	DeathsSheet     int    `yaml:"deaths_sheet"`
	DateCell        string `yaml:"date_cell"` // e.g. "B7"
	LabelColumn     string `yaml:"label_column"`
	ValueColumn     string `yaml:"value_column"`
}

// Catalog is the validated, immutable region mapping for one workbook layout.
type Catalog struct {
	version  string
	layout   Layout
	counties []Region
	state    Region
	byID     map[RegionID]Region
}

type catalogFile struct {
	Version string   `yaml:"version"`
	Layout  Layout   `yaml:"layout"`
	Regions []Region `yaml:"regions"`
}

var (
	columnRe = regexp.MustCompile(`^[A-Z]{1,3}$`)
	cellRe   = regexp.MustCompile(`^[A-Z]{1,3}[1-9][0-9]*$`)
)

// ParseCatalog decodes and validates a YAML region catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if f.Version == "" {
		return nil, errors.New("catalog: version is required")
	}
	if err := validateLayout(f.Layout); err != nil {
		return nil, err
	}

	c := &Catalog{
		version: f.Version,
		layout:  f.Layout,
		byID:    make(map[RegionID]Region, len(f.Regions)),
	}
	rows := make(map[int]RegionID, len(f.Regions))
	var haveState bool

	for _, r := range f.Regions {
		if r.ID == "" || r.Label == "" || r.Name == "" {
			return nil, fmt.Errorf("catalog: region at row %d needs id, name and label", r.Row)
		}
		if r.Row < 1 {
			return nil, fmt.Errorf("catalog: region %q has invalid row %d", r.ID, r.Row)
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate region id %q", r.ID)
		}
		if other, dup := rows[r.Row]; dup {
			return nil, fmt.Errorf("catalog: regions %q and %q share row %d", other, r.ID, r.Row)
		}
		rows[r.Row] = r.ID
		c.byID[r.ID] = r

		if r.State {
			if haveState {
				return nil, fmt.Errorf("catalog: second state row %q", r.ID)
			}
			haveState = true
			c.state = r
			continue
		}
		c.counties = append(c.counties, r)
	}

	if !haveState {
		return nil, errors.New("catalog: no state row")
	}
	if len(c.counties) == 0 {
		return nil, errors.New("catalog: no county rows")
	}
	return c, nil
}

func validateLayout(l Layout) error {
	if l.InfectionsSheet < 0 || l.DeathsSheet < 0 || l.InfectionsSheet == l.DeathsSheet {
		return fmt.Errorf("catalog: invalid sheet indexes %d/%d", l.InfectionsSheet, l.DeathsSheet)
	}
	if !cellRe.MatchString(l.DateCell) {
		return fmt.Errorf("catalog: invalid date cell %q", l.DateCell)
	}
	if !columnRe.MatchString(l.LabelColumn) || !columnRe.MatchString(l.ValueColumn) {
		return fmt.Errorf("catalog: invalid columns %q/%q", l.LabelColumn, l.ValueColumn)
	}
	return nil
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
})

// DefaultCatalog returns the embedded catalog. It panics if the embedded file
// is invalid, which is a build-time defect.
func DefaultCatalog() *Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(err)
	}
	return c
}

// Version identifies the workbook layout the catalog was written for.
func (c *Catalog) Version() string { return c.version }

// Layout returns the shared cell positions.
func (c *Catalog) Layout() Layout { return c.layout }

// State returns the state-wide total region.
func (c *Catalog) State() Region { return c.state }

// Counties returns the county regions in catalog order.
func (c *Catalog) Counties() []Region {
	out := make([]Region, len(c.counties))
	copy(out, c.counties)
	return out
}

// All returns every region, counties first and the state last.
func (c *Catalog) All() []Region {
	return append(c.Counties(), c.state)
}

// Lookup returns the region with the given id.
func (c *Catalog) Lookup(id RegionID) (Region, bool) {
	r, ok := c.byID[id]
	return r, ok
}
