package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/llm"
	"github.com/joseph-ayodele/permit-intake/internal/mail"
	"github.com/joseph-ayodele/permit-intake/internal/metrics"
	"github.com/joseph-ayodele/permit-intake/internal/normalize"
	"github.com/joseph-ayodele/permit-intake/internal/render"
	"github.com/joseph-ayodele/permit-intake/internal/repository"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

type fakeMarker struct {
	seen []uint32
	err  error
}

func (m *fakeMarker) MarkSeen(_ context.Context, uid uint32) error {
	if m.err != nil {
		return m.err
	}
	m.seen = append(m.seen, uid)
	return nil
}

type fakeRenderer struct {
	calls int
	err   error
	paths []string
}

func (r *fakeRenderer) RenderAndUpload(_ context.Context, _ string, attachmentPaths []string) (render.Artifact, error) {
	r.calls++
	r.paths = attachmentPaths
	if r.err != nil {
		return render.Artifact{}, r.err
	}
	return render.Artifact{
		FileName:  "Email_20250101_120000_000000.pdf",
		Key:       "uploads/Email_20250101_120000_000000.pdf",
		PublicURL: "https://bucket.s3.ap-south-1.amazonaws.com/uploads/Email_20250101_120000_000000.pdf",
	}, nil
}

type harness struct {
	proc     *Processor
	repo     repository.ExtractionRepository
	attempts repository.AttemptRepository
	renderer *fakeRenderer
	reg      *prometheus.Registry
	calls    int
}

func newHarness(t *testing.T, reply func(prompt string) (string, error)) *harness {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.Config{URL: "sqlite::memory:", Table: "file_details"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(db.Close)

	n, err := normalize.New(nil, nil)
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}

	h := &harness{
		repo:     repository.NewExtractionRepository(db, nil),
		attempts: repository.NewAttemptRepository(db, nil),
		renderer: &fakeRenderer{},
		reg:      prometheus.NewRegistry(),
	}
	backend := llm.BackendFunc(func(_ context.Context, prompt string) (string, error) {
		h.calls++
		return reply(prompt)
	})
	inv := llm.NewInvoker(backend, schema.Current(), llm.InvokerConfig{}, nil)
	h.proc = NewProcessor(nil, inv, n, h.renderer, h.repo, h.attempts, metrics.NewRegistry(h.reg), Tenant{ClusterID: "c1", UserID: "u1"})
	return h
}

func permitMessage(uid uint32) mail.Message {
	return mail.Message{
		UID:       uid,
		MessageID: "<msg-" + string(rune('a'+uid)) + "@example.com>",
		Sender:    "ops@example.com",
		Subject:   "Permit request A6-PMT",
		Body:      "Please arrange permits for A6-PMT, PM101 OMDB-OJAI, Jordan landing and overflight.",
	}
}

const sectorsReply = `{
  "Reg No": "A6-PMT",
  "Flight Sectors": {"fieldType": "table", "items": [
    {"Sector": "OMDB - OJAI", "Flight No": "PM101", "Country": "Jordan", "Permit Type": "Landing and overflight"}
  ]}
}`

func TestProcess_Stored(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	marker := &fakeMarker{}
	msg := permitMessage(1)

	outcome, err := h.proc.Process(context.Background(), marker, msg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != constants.OutcomeStored {
		t.Fatalf("outcome = %q, want stored", outcome)
	}
	if diff := cmp.Diff([]uint32{1}, marker.seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}

	list, err := h.repo.List(context.Background(), nil, nil)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %d records, err %v", len(list), err)
	}
	rec := list[0]
	if rec.ProcessingStatus != constants.ProcessingCompleted || rec.ClusterID != "c1" || rec.MessageID != msg.MessageID {
		t.Errorf("record = %+v", rec)
	}
	if !strings.HasSuffix(rec.OriginalS3File, ".pdf") || rec.FileName == "" {
		t.Errorf("file ref not stored: %q %q", rec.FileName, rec.OriginalS3File)
	}
	doc, err := rec.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	var types []string
	for _, r := range doc.Table(schema.TableFlightSectors).Rows {
		types = append(types, r[schema.ColPermitType])
	}
	want := []string{string(constants.LandingPermit), string(constants.OverflightPermit)}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("permit rows mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(h.proc.Metrics.MessagesTotal.WithLabelValues("stored", "")); got != 1 {
		t.Errorf("messages_total{stored} = %v, want 1", got)
	}
}

func TestProcess_DuplicateSkipsBackend(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	msg := permitMessage(2)

	if _, err := h.proc.Process(context.Background(), &fakeMarker{err: errors.New("connection reset")}, msg); err == nil {
		t.Fatal("mark seen failure not reported")
	}
	calls := h.calls

	marker := &fakeMarker{}
	outcome, err := h.proc.Process(context.Background(), marker, msg)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if outcome != constants.OutcomeDuplicate {
		t.Errorf("outcome = %q, want duplicate", outcome)
	}
	if h.calls != calls {
		t.Error("backend called again for an already stored message")
	}
	if len(marker.seen) != 1 {
		t.Errorf("duplicate not marked seen: %v", marker.seen)
	}
	if list, _ := h.repo.List(context.Background(), nil, nil); len(list) != 1 {
		t.Errorf("records = %d, want 1", len(list))
	}
}

func TestProcess_BackendFailureLeavesUnseen(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return "", errors.New("429 too many requests") })
	marker := &fakeMarker{}

	outcome, err := h.proc.Process(context.Background(), marker, permitMessage(3))
	if outcome != constants.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", outcome)
	}
	if common.CodeOf(err) != common.CodeBackend {
		t.Errorf("code = %q, want %q", common.CodeOf(err), common.CodeBackend)
	}
	if len(marker.seen) != 0 {
		t.Errorf("message marked seen after transient failure: %v", marker.seen)
	}
	if list, _ := h.repo.List(context.Background(), nil, nil); len(list) != 0 {
		t.Errorf("records = %d, want 0", len(list))
	}
}

func TestProcess_PermanentFailuresRecorded(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		reply string
		code  string
	}{
		{"empty body", "   \n", sectorsReply, common.CodeInputEmpty},
		{"not json", "permit please", "Sure! Here is the data you asked for.", common.CodeMalformedResponse},
		{"not an object", "permit please", `["Jordan"]`, common.CodeInvalidShape},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(string) (string, error) { return tt.reply, nil })
			marker := &fakeMarker{}
			msg := permitMessage(uint32(10 + i))
			msg.Body = tt.body

			outcome, err := h.proc.Process(context.Background(), marker, msg)
			if outcome != constants.OutcomeRejected {
				t.Errorf("outcome = %q, want rejected", outcome)
			}
			if common.CodeOf(err) != tt.code {
				t.Errorf("code = %q, want %q", common.CodeOf(err), tt.code)
			}
			if len(marker.seen) != 1 {
				t.Errorf("rejected message not marked seen: %v", marker.seen)
			}
			list, _ := h.repo.List(context.Background(), nil, nil)
			if len(list) != 1 {
				t.Fatalf("records = %d, want 1", len(list))
			}
			if list[0].ProcessingStatus != constants.ProcessingFailed || list[0].ErrorCode != tt.code {
				t.Errorf("record status %q code %q", list[0].ProcessingStatus, list[0].ErrorCode)
			}
		})
	}
}

func TestProcess_EmptyBodyMakesNoBackendCall(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	msg := permitMessage(4)
	msg.Body = ""
	if _, err := h.proc.Process(context.Background(), &fakeMarker{}, msg); !errors.Is(err, common.ErrInputEmpty) {
		t.Fatalf("err = %v, want ErrInputEmpty", err)
	}
	if h.calls != 0 {
		t.Errorf("backend calls = %d, want 0", h.calls)
	}
}

func TestProcess_UploadFailureLeavesUnseen(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	h.renderer.err = common.StorageError("upload", errors.New("access denied"))
	marker := &fakeMarker{}

	outcome, err := h.proc.Process(context.Background(), marker, permitMessage(5))
	if outcome != constants.OutcomeFailed || common.CodeOf(err) != common.CodeStorage {
		t.Errorf("outcome %q code %q", outcome, common.CodeOf(err))
	}
	if h.calls != 0 || len(marker.seen) != 0 {
		t.Errorf("calls %d seen %v", h.calls, marker.seen)
	}
}

func TestProcess_ReviewFlagsStored(t *testing.T) {
	reply := `{"Flight Sectors": {"fieldType": "table", "items": [
		{"Sector": "OMDB - OJAI", "Country": "Jordan", "Permit Type": "Landing, Diplomatic clearance"}
	]}, "Crew Count": 4}`
	h := newHarness(t, func(string) (string, error) { return reply, nil })

	if _, err := h.proc.Process(context.Background(), &fakeMarker{}, permitMessage(6)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	list, _ := h.repo.List(context.Background(), nil, nil)
	if len(list) != 1 {
		t.Fatalf("records = %d", len(list))
	}
	var rep normalize.Report
	if err := json.Unmarshal(list[0].ReviewFlags, &rep); err != nil {
		t.Fatalf("review flags: %v (%s)", err, list[0].ReviewFlags)
	}
	if len(rep.Unmappable) != 1 {
		t.Errorf("unmappable = %v, want one entry", rep.Unmappable)
	}
}

func TestProcess_TimeoutIsTransient(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return "", context.DeadlineExceeded })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome, err := h.proc.Process(ctx, &fakeMarker{}, permitMessage(7))
	if outcome != constants.OutcomeFailed || common.IsPermanent(err) {
		t.Errorf("outcome %q permanent %v", outcome, common.IsPermanent(err))
	}
}

func TestProcess_RetryLimitRecordsFailure(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return "", errors.New("503 service unavailable") })
	h.proc.MaxAttempts = 3
	marker := &fakeMarker{}
	msg := permitMessage(8)
	ctx := context.Background()

	for attempt := 1; attempt < 3; attempt++ {
		outcome, err := h.proc.Process(ctx, marker, msg)
		if outcome != constants.OutcomeFailed || common.CodeOf(err) != common.CodeBackend {
			t.Fatalf("attempt %d: outcome %q code %q", attempt, outcome, common.CodeOf(err))
		}
		if len(marker.seen) != 0 {
			t.Fatalf("attempt %d marked seen", attempt)
		}
	}

	outcome, err := h.proc.Process(ctx, marker, msg)
	if outcome != constants.OutcomeRejected {
		t.Fatalf("final outcome = %q, want rejected", outcome)
	}
	if !errors.Is(err, ErrAttemptsExhausted) || !errors.Is(err, common.ErrBackend) {
		t.Errorf("err = %v, want exhausted backend failure", err)
	}
	if diff := cmp.Diff([]uint32{8}, marker.seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}
	if h.calls != 3 {
		t.Errorf("backend calls = %d, want 3", h.calls)
	}
	if h.renderer.calls != 1 {
		t.Errorf("renders = %d, want the first archive reused", h.renderer.calls)
	}

	list, _ := h.repo.List(ctx, nil, nil)
	if len(list) != 1 {
		t.Fatalf("records = %d, want 1", len(list))
	}
	rec := list[0]
	if rec.ProcessingStatus != constants.ProcessingFailed || rec.ErrorCode != common.CodeBackend {
		t.Errorf("record status %q code %q", rec.ProcessingStatus, rec.ErrorCode)
	}
	if rec.OriginalS3File != "uploads/Email_20250101_120000_000000.pdf" {
		t.Errorf("archive key = %q", rec.OriginalS3File)
	}
	if a, _ := h.attempts.Get(ctx, msg.MessageID); a != nil {
		t.Errorf("attempts not cleared: %+v", a)
	}

	// the ledger now short-circuits the message
	if outcome, _ := h.proc.Process(ctx, &fakeMarker{}, msg); outcome != constants.OutcomeDuplicate {
		t.Errorf("after give-up outcome = %q, want duplicate", outcome)
	}
}

func TestProcess_RecoveryClearsAttempts(t *testing.T) {
	fail := true
	h := newHarness(t, func(string) (string, error) {
		if fail {
			return "", errors.New("connection reset")
		}
		return sectorsReply, nil
	})
	ctx := context.Background()
	msg := permitMessage(9)

	if outcome, _ := h.proc.Process(ctx, &fakeMarker{}, msg); outcome != constants.OutcomeFailed {
		t.Fatalf("first outcome = %q", outcome)
	}
	fail = false
	if outcome, err := h.proc.Process(ctx, &fakeMarker{}, msg); outcome != constants.OutcomeStored {
		t.Fatalf("second outcome = %q, err %v", outcome, err)
	}
	if h.renderer.calls != 1 {
		t.Errorf("renders = %d, want 1", h.renderer.calls)
	}
	if a, _ := h.attempts.Get(ctx, msg.MessageID); a != nil {
		t.Errorf("attempts left after success: %+v", a)
	}
}

func TestProcess_RejectedRequestRecordedAtOnce(t *testing.T) {
	h := newHarness(t, func(string) (string, error) {
		return "", common.BackendRejected(errors.New("400 context_length_exceeded"))
	})
	marker := &fakeMarker{}

	outcome, err := h.proc.Process(context.Background(), marker, permitMessage(10))
	if outcome != constants.OutcomeRejected || common.CodeOf(err) != common.CodeBackendRejected {
		t.Errorf("outcome %q code %q", outcome, common.CodeOf(err))
	}
	if len(marker.seen) != 1 || h.calls != 1 {
		t.Errorf("seen %v calls %d", marker.seen, h.calls)
	}
}

func TestProcess_RemovesSavedAttachments(t *testing.T) {
	h := newHarness(t, func(string) (string, error) { return sectorsReply, nil })
	msg := permitMessage(11)
	msg.Attachments = []mail.Attachment{{Filename: "roster.txt", Data: []byte("crew list")}}
	if err := msg.SaveAttachments(t.TempDir()); err != nil {
		t.Fatalf("SaveAttachments: %v", err)
	}
	path := msg.Attachments[0].Path

	if _, err := h.proc.Process(context.Background(), &fakeMarker{}, msg); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if diff := cmp.Diff([]string{path}, h.renderer.paths); diff != "" {
		t.Errorf("rendered attachments mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("%s still on disk", filepath.Base(path))
	}
}
