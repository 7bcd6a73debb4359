package repository

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

func openTestRepo(t *testing.T) ExtractionRepository {
	t.Helper()
	db, err := Open(context.Background(), Config{URL: "sqlite::memory:", Table: "file_details"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(db.Close)
	return NewExtractionRepository(db, nil)
}

func sampleDoc() *schema.Document {
	d := schema.Current().Empty()
	d.Fields[schema.FieldRegNo] = "A6-PMT"
	d.Tables[schema.TableFlightSectors].Rows = []schema.Row{{
		schema.ColSector:     "OMDB - OJAI",
		schema.ColFlightNo:   "PM101",
		schema.ColCountry:    "Jordan",
		schema.ColPermitType: string(constants.LandingPermit),
	}}
	return d
}

func TestNewExtraction_BothViewsEqual(t *testing.T) {
	e, err := NewExtraction(sampleDoc(), schema.V2, FileRef{FileName: "Email_1.pdf"}, "body", Meta{ClusterID: "c1", UserID: "u1"})
	if err != nil {
		t.Fatalf("NewExtraction: %v", err)
	}
	if string(e.ExtractedValues) != string(e.UpdatedExtractedValues) {
		t.Error("views differ at creation")
	}
	e.UpdatedExtractedValues[0] = ' '
	if e.ExtractedValues[0] != '{' {
		t.Error("views share backing storage")
	}
	if e.Status != constants.RecordStatusActive || e.ProcessingStatus != constants.ProcessingCompleted {
		t.Errorf("status = %q/%q", e.Status, e.ProcessingStatus)
	}
	if e.ID == uuid.Nil {
		t.Error("ID not generated")
	}
	if e.CreatedAt.Location() != time.UTC || e.CreatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Errorf("CreatedAt = %v, want UTC millisecond precision", e.CreatedAt)
	}
}

func TestExtractionRepository_InsertGet(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	e, err := NewExtraction(sampleDoc(), schema.V2,
		FileRef{FileName: "Email_20261017_101500_000001.pdf", Key: "uploads/Email_20261017_101500_000001.pdf", URL: "https://b.s3.ap-south-1.amazonaws.com/uploads/Email_20261017_101500_000001.pdf"},
		"Please arrange landing.",
		Meta{ClusterID: "c1", UserID: "u1", MessageID: "<abc@mail>", Sender: "ops@example.com", Subject: "Permit request", ReviewFlags: json.RawMessage(`{"expandedRows":1}`)},
	)
	if err != nil {
		t.Fatalf("NewExtraction: %v", err)
	}
	if err := repo.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	doc, err := got.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if diff := cmp.Diff(sampleDoc(), doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractionRepository_Ledger(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	ok, err := repo.IsProcessed(ctx, "<m1@mail>")
	if err != nil || ok {
		t.Fatalf("IsProcessed before insert = %v, %v", ok, err)
	}

	first, _ := NewExtraction(sampleDoc(), schema.V2, FileRef{}, "", Meta{MessageID: "<m1@mail>"})
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ok, err = repo.IsProcessed(ctx, "<m1@mail>")
	if err != nil || !ok {
		t.Fatalf("IsProcessed after insert = %v, %v", ok, err)
	}

	dup, _ := NewExtraction(sampleDoc(), schema.V2, FileRef{}, "", Meta{MessageID: "<m1@mail>"})
	err = repo.Insert(ctx, dup)
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Errorf("second insert error = %v, want ErrDuplicateMessage", err)
	}

	// records without a message id never collide
	for range 2 {
		e, _ := NewExtraction(sampleDoc(), schema.V2, FileRef{}, "", Meta{})
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatalf("Insert without message id: %v", err)
		}
	}
}

func TestExtractionRepository_FailedRecord(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	e := NewFailedExtraction(schema.V2, FileRef{}, "", Meta{MessageID: "<bad@mail>"}, common.CodeMalformedResponse, "not json")
	if err := repo.Insert(ctx, e); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := repo.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ProcessingStatus != constants.ProcessingFailed || got.ErrorCode != common.CodeMalformedResponse {
		t.Errorf("got %q/%q", got.ProcessingStatus, got.ErrorCode)
	}
}

func TestExtractionRepository_GetNotFound(t *testing.T) {
	repo := openTestRepo(t)
	_, err := repo.Get(context.Background(), uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestExtractionRepository_List(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i := range 3 {
		e, _ := NewExtraction(sampleDoc(), schema.V2, FileRef{}, "", Meta{})
		e.CreatedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	all, err := repo.List(ctx, nil, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("List all = %d, %v", len(all), err)
	}
	from := base.Add(12 * time.Hour)
	some, err := repo.List(ctx, &from, nil)
	if err != nil || len(some) != 2 {
		t.Fatalf("List from = %d, %v", len(some), err)
	}
	if !some[0].CreatedAt.Before(some[1].CreatedAt) {
		t.Error("List not ordered by created_at")
	}
}

func TestOpen_RejectsBadTableName(t *testing.T) {
	_, err := Open(context.Background(), Config{URL: "sqlite::memory:", Table: "file_details; DROP TABLE x"}, nil)
	if err == nil {
		t.Fatal("expected error for invalid table name")
	}
	_, err = Open(context.Background(), Config{URL: "mongodb://localhost"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
