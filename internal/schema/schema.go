// Package schema defines the versioned shape of a permit-request extraction:
// named scalar fields plus named tables of flat rows.
package schema

import (
	"errors"
	"fmt"
	"slices"
)

// FieldTypeTable tags a top-level value as a table ({"fieldType":"table","items":[...]}).
const FieldTypeTable = "table"

// Version identifies one authoritative schema revision.
type Version string

// V2 splits "Flight Schedule" from "Flight Sectors" and keeps Load verbatim.
const V2 Version = "2"

// CurrentVersion is the revision used for prompts, validation and storage.
const CurrentVersion = V2

// Scalar field names.
const (
	FieldCustomerType = "Customer Type"
	FieldCustomer     = "Customer"
	FieldOperator     = "Operator"
	FieldFlightType   = "Flight Type"
	FieldPurposes     = "Purposes"
	FieldRegNo        = "Reg No"
	FieldACFTType     = "ACFT Type"
	FieldBulkRegNo    = "Bulk Reg No"
)

// Table names.
const (
	TableFlightSchedule = "Flight Schedule"
	TableFlightSectors  = "Flight Sectors"
)

// Column names.
const (
	ColDate          = "Date"
	ColFlight        = "Flight"
	ColDepartureTime = "Departure time"
	ColOrigin        = "Origin"
	ColArrivalTime   = "Arrival time"
	ColDestination   = "Destination"
	ColLoad          = "Load"

	ColSector       = "Sector"
	ColFlightNo     = "Flight No"
	ColCountry      = "Country"
	ColPermitType   = "Permit Type"
	ColDepartureUTC = "Departure UTC Date & Time"
	ColArrivalUTC   = "Arrival UTC Date & Time"
	ColPayload      = "Payload (kg)"
	ColPax          = "Number of PAX"
	ColCrew         = "Crew Count"
)

// ErrUnknownSchemaVersion is returned by Lookup for unregistered revisions.
var ErrUnknownSchemaVersion = errors.New("unknown schema version")

// TableSpec describes one table: its columns in display order and which of them
// every row is expected to carry.
type TableSpec struct {
	Name     string
	Columns  []string
	Required []string
	// Hint is the per-column instruction rendered into the prompt.
	Hint map[string]string
}

// Schema is one revision of the extraction shape.
type Schema struct {
	Version      Version
	ScalarFields []string
	Tables       []TableSpec
	// FieldHints are per-field instructions rendered into the prompt.
	FieldHints map[string]string
}

var v2 = &Schema{
	Version: V2,
	ScalarFields: []string{
		FieldCustomerType,
		FieldCustomer,
		FieldOperator,
		FieldFlightType,
		FieldPurposes,
		FieldRegNo,
		FieldACFTType,
		FieldBulkRegNo,
	},
	FieldHints: map[string]string{
		FieldCustomerType: "null unless stated",
		FieldCustomer:     "charterer name",
		FieldOperator:     "null unless stated",
		FieldFlightType:   "flight type if any",
		FieldPurposes:     "mission purpose or mission name",
		FieldRegNo:        "primary aircraft registration",
		FieldACFTType:     "aircraft type",
		FieldBulkRegNo:    "comma separated alternate registrations",
	},
	Tables: []TableSpec{
		{
			Name: TableFlightSchedule,
			Columns: []string{
				ColDate, ColFlight, ColDepartureTime, ColOrigin,
				ColArrivalTime, ColDestination, ColLoad,
			},
			Required: []string{ColFlight},
			Hint: map[string]string{
				ColDate:          "date as written",
				ColFlight:        "flight number",
				ColDepartureTime: "departure time as written",
				ColOrigin:        "origin ICAO",
				ColArrivalTime:   "arrival time as written",
				ColDestination:   "destination ICAO",
				ColLoad:          "load text copied verbatim, not normalized",
			},
		},
		{
			Name: TableFlightSectors,
			Columns: []string{
				ColSector, ColFlightNo, ColCountry, ColPermitType,
				ColDepartureUTC, ColArrivalUTC, ColPayload, ColPax, ColCrew,
			},
			Required: []string{ColSector, ColFlightNo, ColCountry, ColPermitType},
			Hint: map[string]string{
				ColSector:       "<Origin ICAO> - <Destination ICAO>",
				ColFlightNo:     "flight number",
				ColCountry:      "permit country",
				ColPermitType:   "one canonical permit type",
				ColDepartureUTC: "optional",
				ColArrivalUTC:   "optional",
				ColPayload:      "optional",
				ColPax:          "optional",
				ColCrew:         "optional",
			},
		},
	},
}

var registry = map[Version]*Schema{
	V2: v2,
}

// Lookup returns the registered schema for v.
func Lookup(v Version) (*Schema, error) {
	s, ok := registry[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchemaVersion, v)
	}
	return s, nil
}

// Current returns the authoritative schema.
func Current() *Schema {
	return registry[CurrentVersion]
}

// IsScalar reports whether key is a declared scalar field.
func (s *Schema) IsScalar(key string) bool {
	return slices.Contains(s.ScalarFields, key)
}

// Table returns the spec of a declared table.
func (s *Schema) Table(name string) (TableSpec, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// IsDeclared reports whether key is a declared scalar or table.
func (s *Schema) IsDeclared(key string) bool {
	_, isTable := s.Table(key)
	return isTable || s.IsScalar(key)
}

// Keys returns every declared top-level key: scalars first, then tables.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.ScalarFields)+len(s.Tables))
	keys = append(keys, s.ScalarFields...)
	for _, t := range s.Tables {
		keys = append(keys, t.Name)
	}
	return keys
}

// Empty returns a document holding every declared key with its empty value.
func (s *Schema) Empty() *Document {
	d := NewDocument()
	for _, f := range s.ScalarFields {
		d.Fields[f] = ""
	}
	for _, t := range s.Tables {
		d.Tables[t.Name] = NewTable()
	}
	return d
}
