package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Row is one flat table row. Values are never null once normalized.
type Row map[string]string

// Clone returns an independent copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	maps.Copy(out, r)
	return out
}

// Table is an ordered collection of rows sharing one column set.
// Row order is the order of appearance in the email; duplicates are kept.
type Table struct {
	FieldType string `json:"fieldType"`
	Rows      []Row  `json:"items"`
}

// NewTable returns an empty table with the table marker set.
func NewTable() *Table {
	return &Table{FieldType: FieldTypeTable, Rows: []Row{}}
}

// MarshalJSON always emits the marker and an items array, never null.
func (t *Table) MarshalJSON() ([]byte, error) {
	rows := t.Rows
	if rows == nil {
		rows = []Row{}
	}
	return json.Marshal(struct {
		FieldType string `json:"fieldType"`
		Items     []Row  `json:"items"`
	}{FieldTypeTable, rows})
}

// Document is the structured extraction of one email.
//
// Its JSON form is a single flat object: scalars as strings, tables as
// {"fieldType":"table","items":[...]}, and undeclared nested values verbatim.
type Document struct {
	Fields map[string]string
	Tables map[string]*Table
	// Extra holds nested values that are not tables (schema drift), kept verbatim.
	Extra map[string]json.RawMessage
}

// NewDocument returns an empty document with initialized maps.
func NewDocument() *Document {
	return &Document{
		Fields: map[string]string{},
		Tables: map[string]*Table{},
		Extra:  map[string]json.RawMessage{},
	}
}

// Keys returns every top-level key, sorted.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.Fields)+len(d.Tables)+len(d.Extra))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	for k := range d.Tables {
		keys = append(keys, k)
	}
	for k := range d.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Table returns the named table or nil.
func (d *Document) Table(name string) *Table {
	return d.Tables[name]
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	out := NewDocument()
	maps.Copy(out.Fields, d.Fields)
	for k, t := range d.Tables {
		nt := NewTable()
		for _, r := range t.Rows {
			nt.Rows = append(nt.Rows, r.Clone())
		}
		out.Tables[k] = nt
	}
	for k, v := range d.Extra {
		out.Extra[k] = slices.Clone(v)
	}
	return out
}

// MarshalJSON flattens fields, tables and extras into one object.
func (d *Document) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(d.Fields)+len(d.Tables)+len(d.Extra))
	for k, v := range d.Fields {
		flat[k] = v
	}
	for k, t := range d.Tables {
		if t == nil {
			t = NewTable()
		}
		flat[k] = t
	}
	for k, v := range d.Extra {
		if _, dup := flat[k]; dup {
			return nil, fmt.Errorf("schema: key %q is both declared and extra", k)
		}
		flat[k] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON reads the flat form produced by MarshalJSON. Strings and null
// become fields (null reads as ""), tagged objects become tables whose cells must
// be strings or null, and anything else lands in Extra. Loosely typed backend
// output goes through the normalize package instead.
func (d *Document) UnmarshalJSON(b []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(b, &flat); err != nil {
		return err
	}
	if flat == nil {
		return fmt.Errorf("schema: document must be an object")
	}
	*d = *NewDocument()
	for k, raw := range flat {
		trimmed := bytes.TrimSpace(raw)
		switch {
		case bytes.Equal(trimmed, []byte("null")):
			d.Fields[k] = ""
		case len(trimmed) > 0 && trimmed[0] == '"':
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return fmt.Errorf("schema: field %q: %w", k, err)
			}
			d.Fields[k] = s
		case isTableJSON(trimmed):
			var t struct {
				Items []map[string]*string `json:"items"`
			}
			if err := json.Unmarshal(trimmed, &t); err != nil {
				return fmt.Errorf("schema: table %q: %w", k, err)
			}
			table := NewTable()
			for _, item := range t.Items {
				row := make(Row, len(item))
				for col, v := range item {
					if v != nil {
						row[col] = *v
					} else {
						row[col] = ""
					}
				}
				table.Rows = append(table.Rows, row)
			}
			d.Tables[k] = table
		default:
			d.Extra[k] = slices.Clone(trimmed)
		}
	}
	return nil
}

func isTableJSON(raw []byte) bool {
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var probe struct {
		FieldType string `json:"fieldType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.FieldType == FieldTypeTable
}
