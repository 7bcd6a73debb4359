package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// Report lists what normalization had to repair or could not keep.
type Report struct {
	// SkippedRows counts non-object table items per table.
	SkippedRows map[string]int `json:"skippedRows,omitempty"`
	// DroppedCells names nested cell values removed from rows, as "table[row].column".
	DroppedCells []string `json:"droppedCells,omitempty"`
	// DriftKeys are top-level keys whose value did not fit the schema.
	DriftKeys []string `json:"driftKeys,omitempty"`
	// Misfits holds table values that could not be read as rows, verbatim, by table name.
	Misfits map[string]json.RawMessage `json:"misfits,omitempty"`
	// CoercedKeys are values turned into strings (numbers, booleans, nested scalars).
	CoercedKeys []string `json:"coercedKeys,omitempty"`
	// Unmappable are permit segments no canonical type matched.
	Unmappable []string `json:"unmappable,omitempty"`
	// ExpandedRows is the number of extra rows created by permit splitting.
	ExpandedRows int `json:"expandedRows,omitempty"`
}

// NeedsReview reports whether anything was skipped, dropped or left unmapped.
func (r *Report) NeedsReview() bool {
	return len(r.SkippedRows) > 0 || len(r.DroppedCells) > 0 ||
		len(r.DriftKeys) > 0 || len(r.Misfits) > 0 || len(r.Unmappable) > 0
}

func (r *Report) keepMisfit(table string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprint(v))
	}
	if r.Misfits == nil {
		r.Misfits = map[string]json.RawMessage{}
	}
	r.Misfits[table] = b
	r.DriftKeys = append(r.DriftKeys, table)
}

func (r *Report) skipRow(table string) {
	if r.SkippedRows == nil {
		r.SkippedRows = map[string]int{}
	}
	r.SkippedRows[table]++
}

func (r *Report) skipped() int {
	n := 0
	for _, c := range r.SkippedRows {
		n += c
	}
	return n
}

func cellRef(table string, row int, col string) string {
	return fmt.Sprintf("%s[%d].%s", table, row, col)
}

// Result is a normalized document, its text body and the repair report.
type Result struct {
	Document *schema.Document
	Text     string
	Report   Report
}
