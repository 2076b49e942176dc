package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()

	assert.Equal(t, "2020-06", c.Version())
	assert.Len(t, c.Counties(), 44)
	assert.Equal(t, RegionID("bw"), c.State().ID)
	assert.Equal(t, "Summe", c.State().Label)
	assert.Equal(t, 52, c.State().Row)
	assert.Len(t, c.All(), 45)

	l := c.Layout()
	assert.Equal(t, "B7", l.DateCell)
	assert.Equal(t, "A", l.LabelColumn)
	assert.Equal(t, "B", l.ValueColumn)

	fr, ok := c.Lookup("freiburg")
	require.True(t, ok)
	assert.Equal(t, "Freiburg im Breisgau (Stadtkreis)", fr.Label)

	// Counties occupy consecutive rows directly above the state row.
	for i, r := range c.Counties() {
		assert.Equal(t, 8+i, r.Row, r.ID)
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	layout := "layout: {infections_sheet: 0, deaths_sheet: 1, date_cell: B7, label_column: A, value_column: B}\n"

	cases := map[string]struct {
		yaml string
		want string
	}{
		"no version": {
			yaml: layout + "regions: [{id: s, name: S, label: Summe, row: 9, state: true}]",
			want: "version is required",
		},
		"bad date cell": {
			yaml: "version: x\nlayout: {infections_sheet: 0, deaths_sheet: 1, date_cell: 7B, label_column: A, value_column: B}\n",
			want: "invalid date cell",
		},
		"same sheet twice": {
			yaml: "version: x\nlayout: {infections_sheet: 0, deaths_sheet: 0, date_cell: B7, label_column: A, value_column: B}\n",
			want: "invalid sheet indexes",
		},
		"duplicate id": {
			yaml: "version: x\n" + layout + "regions:\n  - {id: a, name: A, label: A, row: 8}\n  - {id: a, name: A2, label: A2, row: 9}\n",
			want: "duplicate region id",
		},
		"shared row": {
			yaml: "version: x\n" + layout + "regions:\n  - {id: a, name: A, label: A, row: 8}\n  - {id: b, name: B, label: B, row: 8}\n",
			want: "share row 8",
		},
		"no state": {
			yaml: "version: x\n" + layout + "regions:\n  - {id: a, name: A, label: A, row: 8}\n",
			want: "no state row",
		},
		"two states": {
			yaml: "version: x\n" + layout + "regions:\n  - {id: a, name: A, label: A, row: 8, state: true}\n  - {id: b, name: B, label: B, row: 9, state: true}\n",
			want: "second state row",
		},
		"no counties": {
			yaml: "version: x\n" + layout + "regions:\n  - {id: s, name: S, label: Summe, row: 8, state: true}\n",
			want: "no county rows",
		},
		"missing label": {
			yaml: "version: x\n" + layout + "regions:\n  - {id: a, name: A, row: 8}\n",
			want: "needs id, name and label",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tc.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "got %q", err)
		})
	}
}
