package permits

import (
	"strings"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// Columns names the row cells the permit rule reads and writes.
type Columns struct {
	Country string
	Permit  string
}

// SectorColumns is the column pair used by the Flight Sectors table.
var SectorColumns = Columns{Country: schema.ColCountry, Permit: schema.ColPermitType}

// ExpandRow rewrites row into one row per permit occurrence, each carrying a canonical label.
// Rows with a blank permit cell come back unchanged apart from trimming that cell. Occurrences without a country take
// the countries listed in the row's country cell. Unmappable segments are dropped and
// reported in the returned error alongside the rows that did map.
func ExpandRow(row schema.Row, cols Columns) ([]schema.Row, error) {
	cell := strings.TrimSpace(row[cols.Permit])
	if cell == "" {
		r := row.Clone()
		if _, ok := r[cols.Permit]; ok {
			r[cols.Permit] = ""
		}
		return []schema.Row{r}, nil
	}

	occ, err := Parse(cell)
	countries := SplitCountries(row[cols.Country])
	fallback := strings.TrimSpace(row[cols.Country])

	out := make([]schema.Row, 0, len(occ))
	for _, o := range occ {
		switch {
		case o.Country != "":
			out = append(out, withPermit(row, cols, o.Country, o.Type))
		case len(countries) == 0:
			out = append(out, withPermit(row, cols, fallback, o.Type))
		default:
			for _, c := range countries {
				out = append(out, withPermit(row, cols, c, o.Type))
			}
		}
	}
	return out, err
}

func withPermit(row schema.Row, cols Columns, country string, p constants.PermitType) schema.Row {
	r := row.Clone()
	if cols.Country != "" {
		r[cols.Country] = country
	}
	r[cols.Permit] = string(p)
	return r
}
