package repository

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestAttempts(t *testing.T) AttemptRepository {
	t.Helper()
	db, err := Open(context.Background(), Config{URL: "sqlite::memory:", Table: "file_details"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(db.Close)
	return NewAttemptRepository(db, nil)
}

func TestAttempts_CountAndClear(t *testing.T) {
	ctx := context.Background()
	r := openTestAttempts(t)
	const key = "<m1@example.com>"

	a, err := r.Get(ctx, key)
	if err != nil || a != nil {
		t.Fatalf("Get before any attempt = %+v, %v", a, err)
	}
	for want := 1; want <= 3; want++ {
		n, err := r.RecordFailure(ctx, key, "backend down")
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if n != want {
			t.Errorf("attempt %d reported as %d", want, n)
		}
	}
	a, err = r.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Count != 3 || a.LastError != "backend down" || a.UpdatedAt.IsZero() {
		t.Errorf("attempt = %+v", a)
	}

	if err := r.Clear(ctx, key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if a, _ := r.Get(ctx, key); a != nil {
		t.Errorf("attempt survived Clear: %+v", a)
	}
}

func TestAttempts_ArchiveKeptAcrossFailures(t *testing.T) {
	ctx := context.Background()
	r := openTestAttempts(t)
	const key = "<m2@example.com>"
	ref := FileRef{
		FileName: "Email_20261017_101500_123456",
		Key:      "uploads/Email_20261017_101500_123456.pdf",
		URL:      "https://permit-archive.s3.ap-south-1.amazonaws.com/uploads/Email_20261017_101500_123456.pdf",
	}

	if err := r.SaveArchive(ctx, key, ref); err != nil {
		t.Fatalf("SaveArchive: %v", err)
	}
	n, err := r.RecordFailure(ctx, key, "timeout")
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if n != 1 {
		t.Errorf("first failure counted as %d", n)
	}
	a, err := r.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(ref, a.Ref); diff != "" {
		t.Errorf("archive ref mismatch (-want +got):\n%s", diff)
	}
}
