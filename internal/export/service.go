// Package export renders stored extractions as XLSX workbooks.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/permit-intake/internal/repository"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

// Source is the read side of the extraction repository.
type Source interface {
	Get(ctx context.Context, id uuid.UUID) (*repository.Extraction, error)
	List(ctx context.Context, fromDate, toDate *time.Time) ([]*repository.Extraction, error)
}

// Service is a small façade over the repository that produces XLSX bytes.
type Service struct {
	src    Source
	schema *schema.Schema
	logger *slog.Logger
	now    func() time.Time
}

func NewService(src Source, s *schema.Schema, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if s == nil {
		s = schema.Current()
	}
	return &Service{src: src, schema: s, logger: logger, now: time.Now}
}

const summarySheet = "Extractions"

// summaryHeaders precede the declared scalar fields on the summary sheet.
var summaryHeaders = []string{"Created At", "File Name", "Sender", "Subject", "Status", "Error"}

// ExtractionXLSX exports a single record.
func (s *Service) ExtractionXLSX(ctx context.Context, id uuid.UUID) ([]byte, error) {
	rec, err := s.src.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get extraction %s: %w", id, err)
	}
	return s.workbook([]*repository.Extraction{rec})
}

// RangeXLSX exports every record created in the window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all records.
func (s *Service) RangeXLSX(ctx context.Context, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var fromDate, toDate *time.Time
	if from != nil {
		f := dateOnly(*from)
		fromDate = &f
	}
	if to != nil {
		t := dateOnly(*to).Add(24*time.Hour - time.Millisecond)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := dateOnly(s.now()).Add(24*time.Hour - time.Millisecond)
		toDate = &t
	}

	recs, err := s.src.List(ctx, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}
	b, err := s.workbook(recs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok",
		"records", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return b, nil
}

// workbook writes a summary sheet with one row per record, then one sheet per
// declared table with every record's rows prefixed by its file name.
// The reviewer-edited view is exported.
func (s *Service) workbook(recs []*repository.Extraction) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	headers := append(append([]string{}, summaryHeaders...), s.schema.ScalarFields...)
	writeRow(f, summarySheet, 1, headers)

	tableRow := map[string]int{}
	for _, t := range s.schema.Tables {
		if _, err := f.NewSheet(t.Name); err != nil {
			return nil, fmt.Errorf("new sheet %q: %w", t.Name, err)
		}
		writeRow(f, t.Name, 1, append([]string{"File Name"}, t.Columns...))
		tableRow[t.Name] = 2
	}

	for i, rec := range recs {
		doc, err := reviewedView(rec)
		if err != nil {
			s.logger.Warn("export.record.undecodable", "id", rec.ID.String(), "error", err)
			doc = schema.NewDocument()
		}

		vals := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.FileName,
			rec.Sender,
			rec.Subject,
			string(rec.ProcessingStatus),
			rec.ErrorCode,
		}
		for _, k := range s.schema.ScalarFields {
			vals = append(vals, doc.Fields[k])
		}
		writeRow(f, summarySheet, i+2, vals)

		for _, t := range s.schema.Tables {
			tbl := doc.Table(t.Name)
			if tbl == nil {
				continue
			}
			for _, r := range tbl.Rows {
				cells := make([]string, 0, len(t.Columns)+1)
				cells = append(cells, rec.FileName)
				for _, c := range t.Columns {
					cells = append(cells, r[c])
				}
				writeRow(f, t.Name, tableRow[t.Name], cells)
				tableRow[t.Name]++
			}
		}
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "B", 34)
	_ = f.SetColWidth(summarySheet, "C", "D", 30)
	for _, t := range s.schema.Tables {
		_ = f.SetColWidth(t.Name, "A", "A", 34)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func reviewedView(rec *repository.Extraction) (*schema.Document, error) {
	raw := rec.UpdatedExtractedValues
	if len(raw) == 0 {
		raw = rec.ExtractedValues
	}
	d := schema.NewDocument()
	if len(raw) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, err
	}
	return d, nil
}

func writeRow(f *excelize.File, sheet string, row int, vals []string) {
	for i, v := range vals {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
