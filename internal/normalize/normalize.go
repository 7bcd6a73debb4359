// Package normalize turns untrusted backend output into a schema-conformant document.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/permits"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// Normalizer coerces backend output into one schema revision.
type Normalizer struct {
	schema    *schema.Schema
	validator *schema.Validator
	logger    *slog.Logger
}

// New returns a Normalizer for s (the current schema when nil).
func New(s *schema.Schema, logger *slog.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if s == nil {
		s = schema.Current()
	}
	v, err := schema.ValidatorFor(s.Version)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return &Normalizer{schema: s, validator: v, logger: logger}, nil
}

// Normalize parses raw (JSON text, already-decoded map, or a *schema.Document) and
// returns a document with every declared key present, string scalars, string cells
// and canonical permit rows. body is the source text; non-string bodies are rendered
// as JSON text.
//
// Text that is not JSON fails with MALFORMED_RESPONSE; JSON that is not an object
// fails with INVALID_SHAPE.
func (n *Normalizer) Normalize(raw any, body any) (*Result, error) {
	top, err := decodeTop(raw)
	if err != nil {
		return nil, err
	}

	res := &Result{Document: schema.NewDocument()}
	doc := res.Document
	rep := &res.Report

	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	// 1) every key the backend sent, in a stable order
	for _, k := range keys {
		n.normalizeKey(doc, rep, k, top[k])
	}

	// 2) declared keys the backend left out
	for _, f := range n.schema.ScalarFields {
		if _, ok := doc.Fields[f]; !ok {
			doc.Fields[f] = ""
		}
	}
	for _, t := range n.schema.Tables {
		if _, ok := doc.Tables[t.Name]; !ok {
			doc.Tables[t.Name] = schema.NewTable()
		}
	}

	// 3) permit rows
	n.revalidatePermits(doc, rep)

	if err := n.validator.Validate(doc); err != nil {
		n.logger.Error("normalize.validation_failed", "error", err)
		return nil, common.NewAppError(common.CodeInvalidShape, "normalized document does not match schema",
			errors.Join(common.ErrInvalidShape, err))
	}

	text, err := normalizeText(body)
	if err != nil {
		return nil, err
	}
	res.Text = text

	if rep.NeedsReview() {
		n.logger.Warn("normalize.needs_review",
			"skipped_rows", rep.skipped(),
			"dropped_cells", len(rep.DroppedCells),
			"drift_keys", rep.DriftKeys,
			"unmappable", len(rep.Unmappable),
		)
	}
	return res, nil
}

func decodeTop(raw any) (map[string]any, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, common.InvalidShape("backend output is null")
	case map[string]any:
		return v, nil
	case *schema.Document:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, common.InvalidShape(fmt.Sprintf("document does not serialize: %v", err))
		}
		data = b
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		return nil, common.InvalidShape(fmt.Sprintf("unsupported backend output type %T", raw))
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, common.MalformedResponse(err)
	}
	// one value only; trailing prose or a second object is malformed
	if rest := bytes.TrimSpace(data[dec.InputOffset():]); len(rest) > 0 {
		return nil, common.MalformedResponse(errors.New("trailing data after JSON value"))
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, common.InvalidShape(fmt.Sprintf("top-level value is %s, not an object", kindOf(parsed)))
	}
	return obj, nil
}

func (n *Normalizer) normalizeKey(doc *schema.Document, rep *Report, key string, v any) {
	_, declaredTable := n.schema.Table(key)

	if isTable(v) && !n.schema.IsScalar(key) {
		doc.Tables[key] = normalizeTable(key, v.(map[string]any), rep)
		if !declaredTable {
			rep.DriftKeys = append(rep.DriftKeys, key)
		}
		return
	}

	if declaredTable {
		doc.Tables[key] = normalizeUntaggedTable(key, v, rep)
		return
	}

	if s, coerced, ok := scalarString(v); ok {
		doc.Fields[key] = s
		if coerced {
			rep.CoercedKeys = append(rep.CoercedKeys, key)
		}
		return
	}

	if n.schema.IsScalar(key) {
		doc.Fields[key] = compactJSON(v)
		rep.CoercedKeys = append(rep.CoercedKeys, key)
		rep.DriftKeys = append(rep.DriftKeys, key)
		return
	}

	// undeclared nested value: keep verbatim
	doc.Extra[key] = json.RawMessage(compactJSON(v))
	rep.DriftKeys = append(rep.DriftKeys, key)
}

func isTable(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	ft, _ := m["fieldType"].(string)
	return ft == schema.FieldTypeTable
}

func normalizeTable(name string, m map[string]any, rep *Report) *schema.Table {
	t := schema.NewTable()
	items, ok := m["items"].([]any)
	if !ok {
		if m["items"] != nil {
			rep.keepMisfit(name, m["items"])
		}
		return t
	}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			rep.skipRow(name)
			continue
		}
		row := make(schema.Row, len(obj))
		for col, cell := range obj {
			s, coerced, ok := scalarString(cell)
			if !ok {
				rep.DroppedCells = append(rep.DroppedCells, cellRef(name, i, col))
				continue
			}
			if coerced {
				rep.CoercedKeys = append(rep.CoercedKeys, cellRef(name, i, col))
			}
			row[col] = s
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// normalizeUntaggedTable reads a declared table whose value lacks the table tag.
// A bare row list or an object with an items array keeps its rows; any other
// value leaves the table empty and is kept verbatim in the report.
func normalizeUntaggedTable(name string, v any, rep *Report) *schema.Table {
	switch t := v.(type) {
	case nil:
		return schema.NewTable()
	case []any:
		rep.DriftKeys = append(rep.DriftKeys, name)
		return normalizeTable(name, map[string]any{"items": t}, rep)
	case map[string]any:
		if _, ok := t["items"].([]any); ok {
			rep.DriftKeys = append(rep.DriftKeys, name)
			return normalizeTable(name, t, rep)
		}
	}
	rep.keepMisfit(name, v)
	return schema.NewTable()
}

// scalarString converts a JSON scalar to its string form. ok is false for objects and arrays.
func scalarString(v any) (s string, coerced bool, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", false, true
	case string:
		return t, false, true
	case json.Number:
		return t.String(), true, true
	case float64:
		return fmt.Sprint(t), true, true
	case bool:
		if t {
			return "true", true, true
		}
		return "false", true, true
	default:
		return "", false, false
	}
}

func (n *Normalizer) revalidatePermits(doc *schema.Document, rep *Report) {
	spec, ok := n.schema.Table(schema.TableFlightSectors)
	if !ok {
		return
	}
	t := doc.Table(spec.Name)
	if t == nil || len(t.Rows) == 0 {
		return
	}

	out := make([]schema.Row, 0, len(t.Rows))
	for i, row := range t.Rows {
		expanded, err := permits.ExpandRow(row, permits.SectorColumns)
		for _, u := range permits.Unmappable(err) {
			rep.Unmappable = append(rep.Unmappable, fmt.Sprintf("%s[%d]: %s", spec.Name, i, u.Segment))
			n.logger.Warn("normalize.permit_unmappable",
				"row", i,
				"segment", u.Segment,
				"reason", u.Reason,
			)
		}
		if len(expanded) > 1 {
			rep.ExpandedRows += len(expanded) - 1
		}
		out = append(out, expanded...)
	}
	t.Rows = out
}

func normalizeText(body any) (string, error) {
	switch v := body.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case []byte:
		return strings.TrimSpace(string(v)), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", common.InvalidShape(fmt.Sprintf("text body does not serialize: %v", err))
		}
		return string(b), nil
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func kindOf(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number, float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
